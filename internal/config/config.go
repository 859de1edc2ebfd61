// Package config manages fixrelay daemon configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete fixrelay configuration.
type Config struct {
	Admin    AdminConfig     `koanf:"admin"`
	Metrics  MetricsConfig   `koanf:"metrics"`
	Log      LogConfig       `koanf:"log"`
	FIX      FIXConfig       `koanf:"fix"`
	Cluster  ClusterConfig   `koanf:"cluster"`
	Sessions []SessionConfig `koanf:"sessions"`
}

// AdminConfig holds the JSON admin API server configuration.
type AdminConfig struct {
	// Addr is the admin HTTP listen address (e.g., ":8443").
	Addr string `koanf:"addr"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// FIXConfig holds the default FIX session-engine parameters.
// These can be overridden per session.
type FIXConfig struct {
	// BeginString is the FIX version tag (e.g., "FIX.4.2", "FIX.4.4").
	BeginString string `koanf:"begin_string"`

	// DefaultHeartbeatInterval is the default HeartBtInt negotiated at Logon.
	DefaultHeartbeatInterval time.Duration `koanf:"default_heartbeat_interval"`

	// SendingTimeWindow bounds how far a message's SendingTime may drift
	// from local time before it is rejected.
	SendingTimeWindow time.Duration `koanf:"sending_time_window"`

	// EncoderBufferSize sizes the pre-allocated outbound encode buffer.
	EncoderBufferSize int `koanf:"encoder_buffer_size"`
}

// ClusterConfig holds the replication core's cluster-wide parameters.
type ClusterConfig struct {
	// NodeID uniquely identifies this node within the cluster.
	NodeID int `koanf:"node_id"`

	// Size is the number of nodes in the cluster. Must be odd and >= 3.
	Size int `koanf:"size"`

	// ElectionTimeout is the base election timeout; actual timeouts are
	// randomized in [ElectionTimeout, 3*ElectionTimeout) (the daemon sets
	// the replication engine's MaxToMinTimeout to 3).
	ElectionTimeout time.Duration `koanf:"timeout"`

	// AcknowledgementStrategy selects the quorum rule: "entire_cluster" or
	// "majority".
	AcknowledgementStrategy string `koanf:"acknowledgement_strategy"`
}

// SessionConfig describes a declarative FIX session from the configuration
// file. Each entry creates a session on daemon startup.
type SessionConfig struct {
	// BeginString overrides FIXConfig.BeginString for this session, if
	// nonempty.
	BeginString string `koanf:"begin_string"`

	// SenderCompID is the local CompID used when sending to this session's peer.
	SenderCompID string `koanf:"sender_comp_id"`

	// SenderSubID is the optional local SubID.
	SenderSubID string `koanf:"sender_sub_id"`

	// TargetCompID is the remote peer's CompID.
	TargetCompID string `koanf:"target_comp_id"`

	// HeartbeatInterval overrides FIXConfig.DefaultHeartbeatInterval for
	// this session, if nonzero.
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`

	// ResetOnLogon requests ResetSeqNumFlag=Y on the initiating Logon.
	ResetOnLogon bool `koanf:"reset_on_logon"`

	// Username and Password are the credentials sent on an initiating
	// Logon. On an acceptor session a nonempty Username adds the pair to
	// one node-wide credential set: once any acceptor session declares a
	// pair, an inbound Logon on every acceptor session must match one of
	// the declared pairs; with none declared, no Logon is checked.
	Username string `koanf:"username"`
	Password string `koanf:"password"`

	// Initiator is true when this side dials out and sends the first
	// Logon; false means this side accepts inbound TCP connections and
	// waits for the peer's Logon.
	Initiator bool `koanf:"initiator"`

	// Addr is the TCP endpoint for this session: the address to dial for
	// an Initiator session, or the address to listen on for an acceptor
	// session. Acceptor sessions sharing the same Addr are demultiplexed
	// by the SenderCompID/TargetCompID pair on the inbound Logon.
	Addr string `koanf:"addr"`
}

// SessionKey returns a unique identifier for the session based on
// (SenderCompID, SenderSubID, TargetCompID).
func (sc SessionConfig) SessionKey() string {
	return sc.SenderCompID + "|" + sc.SenderSubID + "|" + sc.TargetCompID
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Admin: AdminConfig{
			Addr: ":8443",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		FIX: FIXConfig{
			BeginString:              "FIX.4.2",
			DefaultHeartbeatInterval: 30 * time.Second,
			SendingTimeWindow:        2 * time.Minute,
			EncoderBufferSize:        4096,
		},
		Cluster: ClusterConfig{
			Size:                    3,
			ElectionTimeout:         150 * time.Millisecond,
			AcknowledgementStrategy: "majority",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for fixrelay configuration.
// Variables are named FIXRELAY_<section>_<key>, e.g., FIXRELAY_ADMIN_ADDR.
const envPrefix = "FIXRELAY_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (FIXRELAY_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults.
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load config from %s: %w", path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms FIXRELAY_ADMIN_ADDR -> admin.addr.
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"admin.addr":                       defaults.Admin.Addr,
		"metrics.addr":                     defaults.Metrics.Addr,
		"metrics.path":                     defaults.Metrics.Path,
		"log.level":                        defaults.Log.Level,
		"log.format":                       defaults.Log.Format,
		"fix.begin_string":                 defaults.FIX.BeginString,
		"fix.default_heartbeat_interval":   defaults.FIX.DefaultHeartbeatInterval.String(),
		"fix.sending_time_window":          defaults.FIX.SendingTimeWindow.String(),
		"fix.encoder_buffer_size":          defaults.FIX.EncoderBufferSize,
		"cluster.size":                     defaults.Cluster.Size,
		"cluster.timeout":                  defaults.Cluster.ElectionTimeout.String(),
		"cluster.acknowledgement_strategy": defaults.Cluster.AcknowledgementStrategy,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyAdminAddr indicates the admin listen address is empty.
	ErrEmptyAdminAddr = errors.New("admin.addr must not be empty")

	// ErrInvalidHeartbeatInterval indicates the default heartbeat interval is invalid.
	ErrInvalidHeartbeatInterval = errors.New("fix.default_heartbeat_interval must be > 0")

	// ErrInvalidBeginString indicates the FIX begin string is empty.
	ErrInvalidBeginString = errors.New("fix.begin_string must not be empty")

	// ErrInvalidClusterSize indicates the cluster size is not odd or < 3.
	ErrInvalidClusterSize = errors.New("cluster.size must be odd and >= 3")

	// ErrInvalidAckStrategy indicates an unrecognized acknowledgement strategy.
	ErrInvalidAckStrategy = errors.New("cluster.acknowledgement_strategy must be entire_cluster or majority")

	// ErrInvalidSessionCompID indicates a session is missing a required CompID.
	ErrInvalidSessionCompID = errors.New("session sender_comp_id and target_comp_id must not be empty")

	// ErrDuplicateSessionKey indicates two sessions share the same
	// (SenderCompID, SenderSubID, TargetCompID) key.
	ErrDuplicateSessionKey = errors.New("duplicate session key")

	// ErrMissingSessionAddr indicates a session has no TCP endpoint
	// configured (dial target for an initiator, listen address for an
	// acceptor).
	ErrMissingSessionAddr = errors.New("session addr must not be empty")
)

// ValidAckStrategies lists the recognized acknowledgement strategy strings.
var ValidAckStrategies = map[string]bool{
	"entire_cluster": true,
	"majority":       true,
}

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Admin.Addr == "" {
		return ErrEmptyAdminAddr
	}

	if cfg.FIX.BeginString == "" {
		return ErrInvalidBeginString
	}

	if cfg.FIX.DefaultHeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}

	if cfg.Cluster.Size < 3 || cfg.Cluster.Size%2 == 0 {
		return ErrInvalidClusterSize
	}

	if cfg.Cluster.AcknowledgementStrategy != "" && !ValidAckStrategies[cfg.Cluster.AcknowledgementStrategy] {
		return ErrInvalidAckStrategy
	}

	if err := validateSessions(cfg.Sessions); err != nil {
		return err
	}

	return nil
}

// validateSessions checks each declarative session entry for correctness.
func validateSessions(sessions []SessionConfig) error {
	seen := make(map[string]struct{}, len(sessions))

	for i, sc := range sessions {
		if sc.SenderCompID == "" || sc.TargetCompID == "" {
			return fmt.Errorf("sessions[%d]: %w", i, ErrInvalidSessionCompID)
		}

		if sc.Addr == "" {
			return fmt.Errorf("sessions[%d]: %w", i, ErrMissingSessionAddr)
		}

		key := sc.SessionKey()
		if _, dup := seen[key]; dup {
			return fmt.Errorf("sessions[%d] key %q: %w", i, key, ErrDuplicateSessionKey)
		}
		seen[key] = struct{}{}
	}

	return nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
