package replication

import (
	"log/slog"
	"time"

	"github.com/arcfix/fixrelay/internal/transport"
)

// follower is the Follower role: reads data fragments from
// the leader's publication into the local archive, periodically publishes
// Acknowledge, and becomes a Candidate if no heartbeat or data arrives
// before its randomized timeout elapses.
type follower struct {
	core *core

	deadline      time.Time
	dataSub       transport.Subscription
	leaderSession int64
	lastAckAt     time.Time
}

// newFollower creates a Follower with no known leader; its timeout arms on
// the first Poll.
func newFollower(c *core) *follower {
	return &follower{core: c}
}

// newFollowerAt creates a Follower and, if the TermState already names a
// leader (the common case immediately after a Candidate or Leader steps
// down having just observed that leader's heartbeat), resubscribes to its
// data stream right away rather than waiting for the next heartbeat.
func newFollowerAt(c *core, now time.Time) *follower {
	f := &follower{core: c, deadline: now.Add(c.randomTimeout())}
	if snap := c.cfg.Term.Snapshot(); snap.HasLeader() {
		f.adoptLeader(snap.LeaderSessionID)
	}
	return f
}

func (f *follower) Kind() RoleKind { return RoleFollower }

func (f *follower) adoptLeader(sessionID int64) {
	if f.leaderSession == sessionID && f.dataSub != nil {
		return
	}
	f.leaderSession = sessionID
	if f.core.cfg.DataLogs == nil {
		return
	}
	sub := f.core.cfg.DataLogs.Subscription(sessionID, f.core.cfg.Term.Position())
	if sub == nil {
		f.core.cfg.Logger.Error("resync failed, leader data stream unresolved",
			slog.Int64("leader_session_id", sessionID), slog.Any("error", ErrResyncFailed))
		f.dataSub = nil
		return
	}
	f.dataSub = sub
}

func (f *follower) Poll(now time.Time) (Role, int) {
	work := 0

	if f.deadline.IsZero() {
		f.deadline = now.Add(f.core.randomTimeout())
	}

	heardFromLeader := f.pollControl()
	if heardFromLeader {
		f.deadline = now.Add(f.core.randomTimeout())
	}

	if f.dataSub != nil && f.core.cfg.Archiver != nil {
		n, err := f.core.cfg.Archiver.Poll(f.dataSub)
		if err != nil {
			f.core.cfg.Logger.Error("follower archive poll failed", slog.Any("error", err))
		}
		if n > 0 {
			f.core.cfg.Term.SetPosition(f.dataSub.Position())
			f.deadline = now.Add(f.core.randomTimeout())
			work += n
		}
	}

	if f.core.cfg.HeartbeatInterval > 0 && now.Sub(f.lastAckAt) >= f.core.cfg.HeartbeatInterval {
		f.publishAck()
		f.lastAckAt = now
		work++
	}

	if now.Before(f.deadline) {
		return f, work
	}

	f.core.cfg.Metrics.IncElectionTimeouts()
	nextTerm := f.core.cfg.Term.Term() + 1
	f.core.cfg.Term.AdvanceTerm(nextTerm)
	f.core.cfg.Term.ClearLeader()
	f.core.cfg.Logger.Info("election timeout, becoming candidate",
		slog.Int64("term", nextTerm))
	return newCandidate(f.core, nextTerm), work + 1
}

// pollControl drains the control stream, granting votes and adopting
// leaders as appropriate. Returns true if a heartbeat for a term at least
// as current as ours was observed (resets the election timeout); a vote
// request does not reset it.
func (f *follower) pollControl() bool {
	if f.core.cfg.ControlSub == nil {
		return false
	}

	heard := false
	f.core.cfg.ControlSub.Poll(func(frag transport.Fragment) {
		msg, err := DecodeControl(frag.Data)
		if err != nil {
			return
		}

		switch {
		case msg.Heartbeat != nil:
			hb := msg.Heartbeat
			if hb.Term < f.core.cfg.Term.Term() {
				return
			}
			f.core.cfg.Term.AdvanceTerm(hb.Term)
			f.core.cfg.Term.SetLeader(hb.LeaderSessionID, hb.Term)
			f.core.cfg.Term.SetCommitPosition(transport.Position(hb.CommitPosition))
			f.adoptLeader(hb.LeaderSessionID)
			heard = true

		case msg.RequestVote != nil:
			rv := *msg.RequestVote
			granted := f.core.maybeGrantVote(rv)
			_, _ = f.core.cfg.Control.Offer(EncodeReplyVote(ReplyVote{
				Term:    rv.Term,
				VoterID: f.core.cfg.NodeID,
				Granted: granted,
			}))
		}
	}, controlPollLimit)

	return heard
}

func (f *follower) publishAck() {
	if f.core.cfg.Ack == nil {
		return
	}
	ack := Acknowledge{
		Term:     f.core.cfg.Term.Term(),
		NodeID:   f.core.cfg.NodeID,
		Position: int64(f.core.cfg.Term.Position()),
	}
	_, _ = f.core.cfg.Ack.Offer(EncodeAcknowledge(ack))
}
