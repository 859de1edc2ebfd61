package fixnet

import (
	"context"
	"log/slog"
	"time"

	"github.com/arcfix/fixrelay/internal/session"
)

// SessionFactory creates (or reconnects) the Session for cfg, bound to proxy
// as its output sink, and returns it already started. Callers typically
// close over a *session.Manager, tearing down any existing registration for
// cfg.Key() before creating the new one so a dropped-and-reconnected
// initiator session does not trip Manager's duplicate-key guard.
type SessionFactory func(ctx context.Context, cfg session.Config, proxy session.SessionProxy, now time.Time) (*session.Session, error)

// runConnLoop reads frames off conn and drives sess.HandleInbound until the
// connection fails, ctx is cancelled, or the session's own FSM reaches
// StateDisconnected (e.g. a begin-string mismatch or a low sequence
// number forcing a logout): in every case the loop closes conn itself,
// since the session has no transport handle of its own to act on.
func runConnLoop(ctx context.Context, sess *session.Session, conn *Conn, logger *slog.Logger) {
	for {
		if ctx.Err() != nil {
			_ = sess.Stop(context.Background(), time.Now(), "shutting down")
			_ = conn.Close()
			return
		}

		raw, err := conn.ReadMessage()
		if err != nil {
			logger.Info("fix connection closed",
				slog.String("session", sess.Key()), slog.Any("error", err))
			_ = sess.Stop(context.Background(), time.Now(), "transport closed")
			_ = conn.Close()
			return
		}

		if err := sess.HandleInbound(ctx, raw, time.Now()); err != nil {
			logger.Warn("handle inbound failed",
				slog.String("session", sess.Key()), slog.Any("error", err))
		}

		if sess.State() == session.StateDisconnected {
			logger.Info("session disconnected, closing transport",
				slog.String("session", sess.Key()))
			_ = conn.Close()
			return
		}
	}
}
