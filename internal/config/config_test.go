package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arcfix/fixrelay/internal/config"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()

	if cfg.Admin.Addr != ":8443" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":8443")
	}

	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/metrics")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}

	if cfg.Log.Format != "json" {
		t.Errorf("Log.Format = %q, want %q", cfg.Log.Format, "json")
	}

	if cfg.FIX.BeginString != "FIX.4.2" {
		t.Errorf("FIX.BeginString = %q, want %q", cfg.FIX.BeginString, "FIX.4.2")
	}

	if cfg.FIX.DefaultHeartbeatInterval != 30*time.Second {
		t.Errorf("FIX.DefaultHeartbeatInterval = %v, want %v", cfg.FIX.DefaultHeartbeatInterval, 30*time.Second)
	}

	if cfg.Cluster.Size != 3 {
		t.Errorf("Cluster.Size = %d, want %d", cfg.Cluster.Size, 3)
	}

	// Defaults must pass validation.
	if err := config.Validate(cfg); err != nil {
		t.Errorf("DefaultConfig() failed validation: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	t.Parallel()

	yamlContent := `
admin:
  addr: ":9443"
metrics:
  addr: ":9200"
  path: "/custom-metrics"
log:
  level: "debug"
  format: "text"
fix:
  begin_string: "FIX.4.4"
  default_heartbeat_interval: "15s"
  sending_time_window: "1m"
  encoder_buffer_size: 8192
cluster:
  node_id: 1
  size: 5
  timeout: "200ms"
  acknowledgement_strategy: "entire_cluster"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":9443" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":9443")
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom-metrics" {
		t.Errorf("Metrics.Path = %q, want %q", cfg.Metrics.Path, "/custom-metrics")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "debug")
	}

	if cfg.FIX.BeginString != "FIX.4.4" {
		t.Errorf("FIX.BeginString = %q, want %q", cfg.FIX.BeginString, "FIX.4.4")
	}

	if cfg.FIX.DefaultHeartbeatInterval != 15*time.Second {
		t.Errorf("FIX.DefaultHeartbeatInterval = %v, want %v", cfg.FIX.DefaultHeartbeatInterval, 15*time.Second)
	}

	if cfg.Cluster.Size != 5 {
		t.Errorf("Cluster.Size = %d, want %d", cfg.Cluster.Size, 5)
	}

	if cfg.Cluster.AcknowledgementStrategy != "entire_cluster" {
		t.Errorf("Cluster.AcknowledgementStrategy = %q, want %q", cfg.Cluster.AcknowledgementStrategy, "entire_cluster")
	}
}

func TestLoadMergesDefaults(t *testing.T) {
	t.Parallel()

	// Partial YAML: only override admin.addr and log.level.
	// Everything else should inherit from defaults.
	yamlContent := `
admin:
  addr: ":7000"
log:
  level: "warn"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	// Overridden values.
	if cfg.Admin.Addr != ":7000" {
		t.Errorf("Admin.Addr = %q, want %q", cfg.Admin.Addr, ":7000")
	}

	if cfg.Log.Level != "warn" {
		t.Errorf("Log.Level = %q, want %q", cfg.Log.Level, "warn")
	}

	// Default values should be preserved.
	if cfg.Metrics.Addr != ":9100" {
		t.Errorf("Metrics.Addr = %q, want default %q", cfg.Metrics.Addr, ":9100")
	}

	if cfg.FIX.BeginString != "FIX.4.2" {
		t.Errorf("FIX.BeginString = %q, want default %q", cfg.FIX.BeginString, "FIX.4.2")
	}

	if cfg.Cluster.Size != 3 {
		t.Errorf("Cluster.Size = %d, want default %d", cfg.Cluster.Size, 3)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty admin addr",
			modify: func(cfg *config.Config) {
				cfg.Admin.Addr = ""
			},
			wantErr: config.ErrEmptyAdminAddr,
		},
		{
			name: "empty begin string",
			modify: func(cfg *config.Config) {
				cfg.FIX.BeginString = ""
			},
			wantErr: config.ErrInvalidBeginString,
		},
		{
			name: "zero heartbeat interval",
			modify: func(cfg *config.Config) {
				cfg.FIX.DefaultHeartbeatInterval = 0
			},
			wantErr: config.ErrInvalidHeartbeatInterval,
		},
		{
			name: "negative heartbeat interval",
			modify: func(cfg *config.Config) {
				cfg.FIX.DefaultHeartbeatInterval = -1 * time.Second
			},
			wantErr: config.ErrInvalidHeartbeatInterval,
		},
		{
			name: "even cluster size",
			modify: func(cfg *config.Config) {
				cfg.Cluster.Size = 4
			},
			wantErr: config.ErrInvalidClusterSize,
		},
		{
			name: "cluster size below 3",
			modify: func(cfg *config.Config) {
				cfg.Cluster.Size = 1
			},
			wantErr: config.ErrInvalidClusterSize,
		},
		{
			name: "invalid ack strategy",
			modify: func(cfg *config.Config) {
				cfg.Cluster.AcknowledgementStrategy = "bogus"
			},
			wantErr: config.ErrInvalidAckStrategy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  slog.Level
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "DEBUG", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "INFO", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "WARN", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "Error", want: slog.LevelError},
		{input: "unknown", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "trace", want: slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			t.Parallel()

			got := config.ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestLoadNonexistentFile(t *testing.T) {
	t.Parallel()

	_, err := config.Load("/nonexistent/path/config.yml")
	if err == nil {
		t.Fatal("Load() returned nil error for nonexistent file")
	}
}

// -------------------------------------------------------------------------
// Session Config Tests
// -------------------------------------------------------------------------

func TestLoadWithSessions(t *testing.T) {
	t.Parallel()

	yamlContent := `
admin:
  addr: ":8443"
sessions:
  - sender_comp_id: "RELAY"
    sender_sub_id: "PRIMARY"
    target_comp_id: "BROKER1"
    heartbeat_interval: "10s"
    reset_on_logon: true
    initiator: true
    addr: "127.0.0.1:5001"
  - sender_comp_id: "RELAY"
    target_comp_id: "BROKER2"
    heartbeat_interval: "30s"
    addr: ":5002"
`

	path := writeTemp(t, yamlContent)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if len(cfg.Sessions) != 2 {
		t.Fatalf("Sessions count = %d, want 2", len(cfg.Sessions))
	}

	s1 := cfg.Sessions[0]
	if s1.SenderCompID != "RELAY" {
		t.Errorf("Sessions[0].SenderCompID = %q, want %q", s1.SenderCompID, "RELAY")
	}
	if s1.SenderSubID != "PRIMARY" {
		t.Errorf("Sessions[0].SenderSubID = %q, want %q", s1.SenderSubID, "PRIMARY")
	}
	if s1.TargetCompID != "BROKER1" {
		t.Errorf("Sessions[0].TargetCompID = %q, want %q", s1.TargetCompID, "BROKER1")
	}
	if s1.HeartbeatInterval != 10*time.Second {
		t.Errorf("Sessions[0].HeartbeatInterval = %v, want %v", s1.HeartbeatInterval, 10*time.Second)
	}
	if !s1.ResetOnLogon {
		t.Error("Sessions[0].ResetOnLogon = false, want true")
	}
	if !s1.Initiator {
		t.Error("Sessions[0].Initiator = false, want true")
	}
	if s1.Addr != "127.0.0.1:5001" {
		t.Errorf("Sessions[0].Addr = %q, want %q", s1.Addr, "127.0.0.1:5001")
	}

	s2 := cfg.Sessions[1]
	if s2.TargetCompID != "BROKER2" {
		t.Errorf("Sessions[1].TargetCompID = %q, want %q", s2.TargetCompID, "BROKER2")
	}

	if s1.SessionKey() == s2.SessionKey() {
		t.Error("Sessions[0] and Sessions[1] have the same key, expected different")
	}
}

func TestValidateSessionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		modify  func(*config.Config)
		wantErr error
	}{
		{
			name: "empty sender comp id",
			modify: func(cfg *config.Config) {
				cfg.Sessions = []config.SessionConfig{
					{SenderCompID: "", TargetCompID: "BROKER1"},
				}
			},
			wantErr: config.ErrInvalidSessionCompID,
		},
		{
			name: "empty target comp id",
			modify: func(cfg *config.Config) {
				cfg.Sessions = []config.SessionConfig{
					{SenderCompID: "RELAY", TargetCompID: ""},
				}
			},
			wantErr: config.ErrInvalidSessionCompID,
		},
		{
			name: "duplicate session keys",
			modify: func(cfg *config.Config) {
				cfg.Sessions = []config.SessionConfig{
					{SenderCompID: "RELAY", TargetCompID: "BROKER1", Addr: "127.0.0.1:5001"},
					{SenderCompID: "RELAY", TargetCompID: "BROKER1", Addr: "127.0.0.1:5001"},
				}
			},
			wantErr: config.ErrDuplicateSessionKey,
		},
		{
			name: "missing addr",
			modify: func(cfg *config.Config) {
				cfg.Sessions = []config.SessionConfig{
					{SenderCompID: "RELAY", TargetCompID: "BROKER1"},
				}
			},
			wantErr: config.ErrMissingSessionAddr,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.DefaultConfig()
			tt.modify(cfg)

			err := config.Validate(cfg)
			if err == nil {
				t.Fatal("Validate() returned nil, want error")
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionConfigKey(t *testing.T) {
	t.Parallel()

	sc := config.SessionConfig{
		SenderCompID: "RELAY",
		SenderSubID:  "PRIMARY",
		TargetCompID: "BROKER1",
	}

	want := "RELAY|PRIMARY|BROKER1"
	if got := sc.SessionKey(); got != want {
		t.Errorf("SessionKey() = %q, want %q", got, want)
	}
}

// -------------------------------------------------------------------------
// Environment Variable Override Tests
// -------------------------------------------------------------------------

func TestLoadEnvOverrides(t *testing.T) {
	// Environment variable tests cannot be parallel because they modify
	// process-wide state (os.Setenv).

	yamlContent := `
admin:
  addr: ":8443"
log:
  level: "info"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("FIXRELAY_ADMIN_ADDR", ":7777")
	t.Setenv("FIXRELAY_LOG_LEVEL", "debug")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Admin.Addr != ":7777" {
		t.Errorf("Admin.Addr = %q, want %q (from env)", cfg.Admin.Addr, ":7777")
	}

	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level = %q, want %q (from env)", cfg.Log.Level, "debug")
	}
}

func TestLoadEnvOverridesMetrics(t *testing.T) {
	yamlContent := `
admin:
  addr: ":8443"
metrics:
  addr: ":9100"
  path: "/metrics"
`
	path := writeTemp(t, yamlContent)

	t.Setenv("FIXRELAY_METRICS_ADDR", ":9200")
	t.Setenv("FIXRELAY_METRICS_PATH", "/custom")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}

	if cfg.Metrics.Addr != ":9200" {
		t.Errorf("Metrics.Addr = %q, want %q (from env)", cfg.Metrics.Addr, ":9200")
	}

	if cfg.Metrics.Path != "/custom" {
		t.Errorf("Metrics.Path = %q, want %q (from env)", cfg.Metrics.Path, "/custom")
	}
}

// writeTemp creates a temporary YAML file and returns its path.
// The file is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "fixrelay.yml")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	return path
}
