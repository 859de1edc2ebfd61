// fixrelay daemon -- FIX gateway with Raft-style cluster replication.
package main

import (
	"context"
	"crypto/subtle"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/arcfix/fixrelay/internal/agent"
	"github.com/arcfix/fixrelay/internal/archive"
	"github.com/arcfix/fixrelay/internal/cluster"
	"github.com/arcfix/fixrelay/internal/config"
	"github.com/arcfix/fixrelay/internal/fix"
	"github.com/arcfix/fixrelay/internal/fixnet"
	fixmetrics "github.com/arcfix/fixrelay/internal/metrics"
	"github.com/arcfix/fixrelay/internal/replication"
	"github.com/arcfix/fixrelay/internal/server"
	"github.com/arcfix/fixrelay/internal/session"
	"github.com/arcfix/fixrelay/internal/transport"
	appversion "github.com/arcfix/fixrelay/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge and flightRecorderMaxBytes bound the Go 1.26
// FlightRecorder's rolling trace window, kept for post-mortem debugging of
// session and replication failures.
const (
	flightRecorderMinAge   = 500 * time.Millisecond
	flightRecorderMaxBytes = 2 * 1024 * 1024
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	archiveDir := flag.String("archive-dir", "./data/archive", "directory for durable archive segment files")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("fixrelay starting",
		slog.String("version", appversion.Version),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.Int("node_id", cfg.Cluster.NodeID),
	)

	fr := startFlightRecorder(logger)

	reg := prometheus.NewRegistry()
	collector := fixmetrics.NewCollector(reg)

	archiver, err := archive.New(*archiveDir, logger, archive.WithMetrics(collector))
	if err != nil {
		logger.Error("failed to open archive", slog.String("error", err.Error()))
		return 1
	}
	defer func() { _ = archiver.Close() }()

	if err := runServers(cfg, archiver, collector, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("fixrelay exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("fixrelay stopped")
	return 0
}

// runServers wires the replication core, the FIX transport layer, and the
// admin/metrics HTTP servers together and runs them under an errgroup with
// a signal-aware context.
func runServers(
	cfg *config.Config,
	archiver *archive.Archiver,
	collector *fixmetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	nodeID := int64(cfg.Cluster.NodeID)

	dataLogs := newLocalDataLogs(nodeID)
	engine := newReplicationEngine(cfg, dataLogs, archiver, collector, logger)

	clusterPub := cluster.NewPublication(dataLogs.ownLog.Publication(), engine.TermState())
	clusterSub := cluster.NewSubscription(engine.TermState(), dataLogs, archiver.Reader(),
		logger.With(slog.String("component", "cluster_subscription")))
	bridge := newApplicationBridge(clusterPub, clusterSub, logger.With(slog.String("component", "application_bridge")))

	sessions := session.NewManager(logger, collector,
		session.WithManagerApplicationHandler(bridge),
		session.WithManagerAuthenticator(newConfigAuthenticator(cfg.Sessions)))
	defer sessions.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	factory := newSessionFactory(sessions, cfg)

	acceptors, dialers, err := buildFixTransport(cfg, factory, logger)
	if err != nil {
		return fmt.Errorf("build fix transport: %w", err)
	}
	defer closeAcceptors(acceptors, logger)

	for _, acc := range acceptors {
		acc := acc
		g.Go(func() error { return acc.Serve(gCtx) })
	}
	for _, d := range dialers {
		d := d
		g.Go(func() error { return d.Run(gCtx) })
	}

	runner := agent.NewRunner([]agent.Agent{
		agent.Func(func(now time.Time) int { return engine.Poll(now) }),
		agent.Func(func(now time.Time) int { return sessions.PollAll(gCtx, now) }),
		agent.Func(func(now time.Time) int { return bridge.Poll(now) }),
	}, agent.WithLogger(logger.With(slog.String("component", "agent_runner"))))
	g.Go(func() error { return runner.Run(gCtx) })

	adminSrv := newAdminServer(cfg.Admin, sessions, engine, logger)
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	startHTTPServers(gCtx, g, cfg, adminSrv, metricsSrv, logger)
	startDaemonGoroutines(gCtx, g, configPath, logLevel, logger)

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, logger, fr, adminSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// newReplicationEngine builds the Engine for this node, wiring its
// control/acknowledgement streams as process-local transport.Log values.
// These stand in for a real networked transport shared across the
// cluster's processes, exactly as internal/transport's package doc
// describes; a multi-process deployment would terminate Control, Ack and
// DataLogs against that real transport instead.
func newReplicationEngine(
	cfg *config.Config,
	dataLogs *localDataLogs,
	archiver *archive.Archiver,
	collector *fixmetrics.Collector,
	logger *slog.Logger,
) *replication.Engine {
	controlLog := transport.NewLog(0, 0)
	ackLog := transport.NewLog(0, 0)

	heartbeatInterval := cfg.Cluster.ElectionTimeout / 3
	if heartbeatInterval <= 0 {
		heartbeatInterval = 50 * time.Millisecond
	}

	return replication.NewEngine(replication.Config{
		NodeID:            int64(cfg.Cluster.NodeID),
		ClusterSize:       cfg.Cluster.Size,
		Term:              &replication.TermState{},
		AckStrategy:       replication.StrategyByName(cfg.Cluster.AcknowledgementStrategy),
		Control:           controlLog.Publication(),
		ControlSub:        controlLog.Subscription(0),
		Ack:               ackLog.Publication(),
		AckSub:            ackLog.Subscription(0),
		Data:              dataLogs.ownLog.Publication(),
		DataSelfSub:       dataLogs.ownLog.Subscription(0),
		DataLogs:          dataLogs,
		Archiver:          archiver,
		Timeout:           cfg.Cluster.ElectionTimeout,
		MaxToMinTimeout:   3,
		HeartbeatInterval: heartbeatInterval,
		Logger:            logger.With(slog.String("component", "replication")),
		Metrics:           collector,
	})
}

// localDataLogs resolves only this node's own data-stream Log. A genuine
// multi-node deployment needs every other node's data stream reachable
// over a real network transport to let a Follower resync after a leader
// change; this single-process build has no such channel, so
// localDataLogs.Subscription returns nil for any session id but its own.
// Documented as an explicit limitation rather than a silent gap.
type localDataLogs struct {
	nodeID int64
	ownLog *transport.Log
}

func newLocalDataLogs(nodeID int64) *localDataLogs {
	return &localDataLogs{nodeID: nodeID, ownLog: transport.NewLog(nodeID, 0)}
}

func (l *localDataLogs) Subscription(sessionID int64, from transport.Position) transport.Subscription {
	if sessionID != l.nodeID {
		return nil
	}
	return l.ownLog.Subscription(from)
}

// -------------------------------------------------------------------------
// Application bridge
// -------------------------------------------------------------------------

// applicationBridge sits between the session layer and the replication
// core: inbound application-layer FIX messages are
// offered to the cluster publication for replication, and committed
// fragments delivered back out are logged. A concrete trading application
// would replace the logging with its own business logic.
type applicationBridge struct {
	pub    *cluster.ClusterPublication
	sub    *cluster.ClusterSubscription
	logger *slog.Logger
}

func newApplicationBridge(pub *cluster.ClusterPublication, sub *cluster.ClusterSubscription, logger *slog.Logger) *applicationBridge {
	return &applicationBridge{pub: pub, sub: sub, logger: logger}
}

func (b *applicationBridge) HandleApplicationMessage(_ context.Context, hdr fix.Header, raw []byte) error {
	if _, err := b.pub.Offer(raw); err != nil {
		b.logger.Warn("dropping application message, not leader",
			slog.String("msg_type", hdr.MsgType),
			slog.Any("error", err))
		return nil
	}
	return nil
}

// Poll drains committed replicated fragments, satisfying the agent.Agent
// interface so the runner can drive it round-robin with everything else.
func (b *applicationBridge) Poll(now time.Time) int {
	_ = now
	return b.sub.Poll(func(f transport.Fragment) {
		b.logger.Info("delivering committed application fragment",
			slog.Int64("position", int64(f.Position)), slog.Int("bytes", len(f.Data)))
	}, archive.FragmentLimit)
}

// configAuthenticator validates inbound Logon credentials against the
// acceptor sessions declared in configuration. With no credentialed
// acceptor sessions declared, every Logon is accepted.
type configAuthenticator struct {
	creds map[string]string
}

func newConfigAuthenticator(sessions []config.SessionConfig) *configAuthenticator {
	creds := make(map[string]string)
	for _, sc := range sessions {
		if !sc.Initiator && sc.Username != "" {
			creds[sc.Username] = sc.Password
		}
	}
	return &configAuthenticator{creds: creds}
}

func (a *configAuthenticator) Authenticate(username, password string) bool {
	if len(a.creds) == 0 {
		return true
	}
	want, ok := a.creds[username]
	return ok && subtle.ConstantTimeCompare([]byte(want), []byte(password)) == 1
}

// -------------------------------------------------------------------------
// FIX transport wiring
// -------------------------------------------------------------------------

// newSessionFactory builds the fixnet.SessionFactory shared by every
// Acceptor and Dialer: it upserts the session (destroying any stale
// registration left behind by a dropped connection) before creating a
// fresh one.
func newSessionFactory(sessions *session.Manager, cfg *config.Config) fixnet.SessionFactory {
	return func(ctx context.Context, sc session.Config, proxy session.SessionProxy, now time.Time) (*session.Session, error) {
		if _, ok := sessions.Lookup(sc.Key()); ok {
			_ = sessions.DestroySession(ctx, sc.Key(), now)
		}
		_ = cfg
		return sessions.CreateSession(ctx, sc, proxy, now)
	}
}

// buildFixTransport groups the declarative sessions into acceptors (by
// shared listen Addr) and dialers (one per initiator); sessions that share
// a listen Addr are demultiplexed by CompID pair on the same acceptor.
func buildFixTransport(cfg *config.Config, factory fixnet.SessionFactory, logger *slog.Logger) ([]*fixnet.Acceptor, []*fixnet.Dialer, error) {
	acceptorGroups := make(map[string][]session.Config)
	var acceptorAddrOrder []string
	var dialers []*fixnet.Dialer

	for _, sc := range cfg.Sessions {
		sessCfg := configSessionToFIX(sc, cfg.FIX)

		if sc.Initiator {
			dialers = append(dialers, fixnet.NewDialer(sc.Addr, sessCfg, factory, logger))
			continue
		}

		if _, seen := acceptorGroups[sc.Addr]; !seen {
			acceptorAddrOrder = append(acceptorAddrOrder, sc.Addr)
		}
		acceptorGroups[sc.Addr] = append(acceptorGroups[sc.Addr], sessCfg)
	}

	acceptors := make([]*fixnet.Acceptor, 0, len(acceptorAddrOrder))
	for _, addr := range acceptorAddrOrder {
		acc, err := fixnet.NewAcceptor(addr, acceptorGroups[addr], factory, logger)
		if err != nil {
			closeAcceptors(acceptors, logger)
			return nil, nil, fmt.Errorf("listen on %s: %w", addr, err)
		}
		acceptors = append(acceptors, acc)
		logger.Info("fix acceptor listening", slog.String("addr", addr), slog.Int("sessions", len(acceptorGroups[addr])))
	}

	return acceptors, dialers, nil
}

func closeAcceptors(acceptors []*fixnet.Acceptor, logger *slog.Logger) {
	for _, acc := range acceptors {
		if err := acc.Close(); err != nil {
			logger.Warn("failed to close fix acceptor", slog.String("error", err.Error()))
		}
	}
}

// configSessionToFIX converts a config.SessionConfig to a session.Config,
// applying FIXConfig defaults where the per-session override is zero.
func configSessionToFIX(sc config.SessionConfig, defaults config.FIXConfig) session.Config {
	beginString := sc.BeginString
	if beginString == "" {
		beginString = defaults.BeginString
	}

	heartbeat := sc.HeartbeatInterval
	if heartbeat == 0 {
		heartbeat = defaults.DefaultHeartbeatInterval
	}

	return session.Config{
		BeginString:       beginString,
		SenderCompID:      sc.SenderCompID,
		SenderSubID:       sc.SenderSubID,
		TargetCompID:      sc.TargetCompID,
		HeartbeatInterval: heartbeat,
		SendingTimeWindow: defaults.SendingTimeWindow,
		Initiator:         sc.Initiator,
		ResetOnLogon:      sc.ResetOnLogon,
		Username:          sc.Username,
		Password:          sc.Password,
	}
}

// -------------------------------------------------------------------------
// HTTP servers
// -------------------------------------------------------------------------

func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	adminSrv *http.Server,
	metricsSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return listenAndServe(ctx, &lc, adminSrv, cfg.Admin.Addr)
	})

	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newAdminServer wraps the admin handler in h2c so ConnectRPC's health
// endpoint is reachable over plaintext HTTP/2.
func newAdminServer(cfg config.AdminConfig, sessions *session.Manager, engine *replication.Engine, logger *slog.Logger) *http.Server {
	handler := server.New(sessions, engine, logger)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// -------------------------------------------------------------------------
// Daemon goroutines -- systemd watchdog + SIGHUP reload
// -------------------------------------------------------------------------

func startDaemonGoroutines(ctx context.Context, g *errgroup.Group, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	g.Go(func() error {
		return runWatchdog(ctx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, logger)
		return nil
	})
}

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval), slog.Duration("keepalive_interval", tickInterval))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", err.Error()))
			}
		}
	}
}

func handleSIGHUP(ctx context.Context, sigHUP <-chan os.Signal, configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")
			reloadConfig(configPath, logLevel, logger)
		}
	}
}

// reloadConfig reloads the dynamic log level from a fresh read of the
// configuration file. Session and cluster topology changes (new/removed
// declarative sessions, cluster size) require a restart in this build: a
// FIX session carries sequence-number state that reconciling in place
// would need to either discard or persist across the swap.
func reloadConfig(configPath string, logLevel *slog.LevelVar, logger *slog.Logger) {
	newCfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)

	logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()), slog.String("new_log_level", newLevel.String()))
}

// -------------------------------------------------------------------------
// Graceful shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, logger *slog.Logger, fr *trace.FlightRecorder, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight recorder
// -------------------------------------------------------------------------

func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder", slog.String("error", err.Error()))
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge), slog.Uint64("max_bytes", flightRecorderMaxBytes))

	return fr
}

// -------------------------------------------------------------------------
// Config + logging helpers
// -------------------------------------------------------------------------

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
