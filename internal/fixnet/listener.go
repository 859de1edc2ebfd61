package fixnet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/arcfix/fixrelay/internal/fix"
	"github.com/arcfix/fixrelay/internal/session"
)

// Acceptor listens on one TCP address and demultiplexes inbound connections
// across the acceptor-mode sessions configured to share it, matching each
// new connection to a session by the (SenderCompID, TargetCompID) pair
// carried on the peer's first message, which per the FIX session layer must
// be a Logon.
type Acceptor struct {
	ln      net.Listener
	configs []session.Config
	factory SessionFactory
	logger  *slog.Logger
}

// NewAcceptor binds addr and prepares to demultiplex inbound connections
// across configs. Every entry in configs must share TCP address addr; it is
// the caller's responsibility to group sessions by Addr before constructing
// one Acceptor per address.
func NewAcceptor(addr string, configs []session.Config, factory SessionFactory, logger *slog.Logger) (*Acceptor, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("fixnet: listen %s: %w", addr, err)
	}

	return &Acceptor{
		ln:      ln,
		configs: configs,
		factory: factory,
		logger:  logger.With(slog.String("component", "fixnet.acceptor"), slog.String("addr", addr)),
	}, nil
}

// Addr returns the listener's bound network address.
func (a *Acceptor) Addr() net.Addr { return a.ln.Addr() }

// Close stops accepting new connections. It does not affect connections
// already handed off to a session.
func (a *Acceptor) Close() error { return a.ln.Close() }

// Serve accepts connections until ctx is cancelled, handling each on its own
// goroutine. Serve returns once the listener has been closed.
func (a *Acceptor) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = a.ln.Close()
	}()

	for {
		nc, err := a.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			a.logger.Warn("accept failed", slog.Any("error", err))
			continue
		}
		go a.handleConn(ctx, nc)
	}
}

// handleConn reads the peer's first message to learn its identity, matches
// it to a configured session, hands the connection to that session as its
// proxy, and then runs the ordinary connection loop.
func (a *Acceptor) handleConn(ctx context.Context, nc net.Conn) {
	conn := NewConn(nc)

	raw, err := conn.ReadMessage()
	if err != nil {
		a.logger.Warn("read first message failed",
			slog.String("remote", nc.RemoteAddr().String()), slog.Any("error", err))
		_ = conn.Close()
		return
	}

	hdr, _, err := fix.Decode(raw)
	if err != nil {
		a.logger.Warn("decode first message failed",
			slog.String("remote", nc.RemoteAddr().String()), slog.Any("error", err))
		_ = conn.Close()
		return
	}

	cfg, ok := matchConfig(a.configs, hdr)
	if !ok {
		a.logger.Warn("no session configured for inbound connection",
			slog.String("sender_comp_id", hdr.SenderCompID), slog.String("target_comp_id", hdr.TargetCompID))
		_ = conn.Close()
		return
	}

	now := time.Now()
	sess, err := a.factory(ctx, cfg, conn, now)
	if err != nil {
		a.logger.Error("create session failed", slog.String("session", cfg.Key()), slog.Any("error", err))
		_ = conn.Close()
		return
	}

	if err := sess.HandleInbound(ctx, raw, now); err != nil {
		a.logger.Warn("handle first message failed", slog.String("session", cfg.Key()), slog.Any("error", err))
	}

	if sess.State() == session.StateDisconnected {
		a.logger.Info("session disconnected on first message, closing transport",
			slog.String("session", cfg.Key()))
		_ = conn.Close()
		return
	}

	runConnLoop(ctx, sess, conn, a.logger)
}

// matchConfig finds the acceptor session whose identity matches an inbound
// header: the peer's SenderCompID is our TargetCompID and the peer's
// TargetCompID is our SenderCompID.
func matchConfig(configs []session.Config, hdr fix.Header) (session.Config, bool) {
	for _, cfg := range configs {
		if cfg.SenderCompID == hdr.TargetCompID && cfg.TargetCompID == hdr.SenderCompID {
			return cfg, true
		}
	}
	return session.Config{}, false
}
