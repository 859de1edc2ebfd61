package fixnet

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/arcfix/fixrelay/internal/session"
)

// DialTimeout bounds how long one connection attempt waits before giving up.
const DialTimeout = 10 * time.Second

const (
	minReconnectBackoff = time.Second
	maxReconnectBackoff = 30 * time.Second
)

// Dialer owns one initiator-mode session's TCP connection: it dials, drives
// the connection loop, and reconnects with exponential backoff if the peer
// is unreachable or the connection drops, until its context is cancelled.
type Dialer struct {
	addr    string
	cfg     session.Config
	factory SessionFactory
	logger  *slog.Logger
}

// NewDialer prepares a Dialer for one initiator session.
func NewDialer(addr string, cfg session.Config, factory SessionFactory, logger *slog.Logger) *Dialer {
	return &Dialer{
		addr:    addr,
		cfg:     cfg,
		factory: factory,
		logger:  logger.With(slog.String("component", "fixnet.dialer"), slog.String("session", cfg.Key())),
	}
}

// Run dials, drives, and reconnects the session until ctx is cancelled.
func (d *Dialer) Run(ctx context.Context) error {
	backoff := minReconnectBackoff

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := d.runOnce(ctx); err != nil {
			d.logger.Warn("session connection ended", slog.Any("error", err))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}

		backoff *= 2
		if backoff > maxReconnectBackoff {
			backoff = maxReconnectBackoff
		}
	}
}

func (d *Dialer) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, DialTimeout)
	defer cancel()

	nc, err := (&net.Dialer{}).DialContext(dialCtx, "tcp", d.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", d.addr, err)
	}
	conn := NewConn(nc)
	defer conn.Close()

	now := time.Now()
	sess, err := d.factory(ctx, d.cfg, conn, now)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	runConnLoop(ctx, sess, conn, d.logger)
	return nil
}
