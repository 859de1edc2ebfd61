package replication

import (
	"log/slog"
	"time"

	"github.com/arcfix/fixrelay/internal/transport"
)

// leader is the Leader role: accepts application fragments
// via its own data publication (gated externally by cluster.ClusterPublication
// checking TermState), tracks its own position by reading its publication
// back, aggregates follower Acknowledge messages through the configured
// AcknowledgementStrategy, and advances the commit position monotonically.
// It emits ConsensusHeartbeat only when no data has been written since the
// previous heartbeat slot, since data implicitly carries the same
// assurance a heartbeat would.
type leader struct {
	core      *core
	term      int64
	sessionID int64

	positions map[int64]transport.Position

	nextHeartbeat  time.Time
	lastHBPosition transport.Position
}

// newLeader installs this node as leader for term, announcing itself
// immediately with a heartbeat.
func newLeader(c *core, term int64, now time.Time) *leader {
	sessionID := int64(0)
	if c.cfg.Data != nil {
		sessionID = c.cfg.Data.SessionID()
	}

	c.cfg.Term.SetLeader(sessionID, term)

	l := &leader{
		core:      c,
		term:      term,
		sessionID: sessionID,
		positions: map[int64]transport.Position{c.cfg.NodeID: c.cfg.Term.Position()},
	}

	c.sendHeartbeat(term, sessionID)
	l.lastHBPosition = c.cfg.Term.Position()
	l.nextHeartbeat = now.Add(c.cfg.HeartbeatInterval)

	return l
}

func (l *leader) Kind() RoleKind { return RoleLeader }

func (l *leader) Poll(now time.Time) (Role, int) {
	work := 0

	if l.core.cfg.DataSelfSub != nil && l.core.cfg.Archiver != nil {
		n, err := l.core.cfg.Archiver.Poll(l.core.cfg.DataSelfSub)
		if err != nil {
			l.core.cfg.Logger.Error("leader archive poll failed", slog.Any("error", err))
		}
		if n > 0 {
			l.core.cfg.Term.SetPosition(l.core.cfg.DataSelfSub.Position())
			work += n
		}
	}
	l.positions[l.core.cfg.NodeID] = l.core.cfg.Term.Position()

	if l.core.cfg.AckSub != nil {
		work += l.core.cfg.AckSub.Poll(func(frag transport.Fragment) {
			ack, err := DecodeAcknowledge(frag.Data)
			if err != nil || ack.Term < l.term {
				return
			}
			l.positions[ack.NodeID] = transport.Position(ack.Position)
			l.core.cfg.Metrics.IncAcknowledgements()
		}, ackPollLimit)
	}

	steppedDown := false
	if l.core.cfg.ControlSub != nil {
		work += l.core.cfg.ControlSub.Poll(func(frag transport.Fragment) {
			msg, err := DecodeControl(frag.Data)
			if err != nil || msg.Heartbeat == nil {
				return
			}
			hb := msg.Heartbeat
			if hb.Term <= l.term {
				return
			}
			l.core.cfg.Term.AdvanceTerm(hb.Term)
			l.core.cfg.Term.SetLeader(hb.LeaderSessionID, hb.Term)
			l.core.cfg.Term.SetCommitPosition(transport.Position(hb.CommitPosition))
			steppedDown = true
		}, controlPollLimit)
	}

	if steppedDown {
		l.core.cfg.Logger.Info("observed higher term, stepping down", slog.Int64("term", l.core.cfg.Term.Term()))
		return newFollowerAt(l.core, now), work
	}

	consensus := l.core.cfg.AckStrategy.Compute(l.positions)
	if consensus > l.core.cfg.Term.Position() {
		consensus = l.core.cfg.Term.Position()
	}
	l.core.cfg.Term.SetCommitPosition(consensus)

	if !now.Before(l.nextHeartbeat) {
		if l.core.cfg.Term.Position() == l.lastHBPosition {
			l.core.sendHeartbeat(l.term, l.sessionID)
			work++
		}
		l.lastHBPosition = l.core.cfg.Term.Position()
		l.nextHeartbeat = now.Add(l.core.cfg.HeartbeatInterval)
	}

	return l, work
}
