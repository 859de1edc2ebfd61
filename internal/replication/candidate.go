package replication

import (
	"log/slog"
	"time"

	"github.com/arcfix/fixrelay/internal/transport"
)

// candidate is the Candidate role: broadcasts RequestVote
// for its term, collects ReplyVote, and becomes Leader once a majority of
// the cluster (including itself) has granted. Reverts to Follower on
// observing a heartbeat for a term at least as current as its own.
type candidate struct {
	core *core
	term int64

	deadline    time.Time
	votes       map[int64]bool
	steppedDown bool
}

// newCandidate starts an election for term: casts its own vote, broadcasts
// RequestVote, and arms a fresh randomized election timeout on the first
// Poll.
func newCandidate(c *core, term int64) *candidate {
	c.votedTerm = term
	c.votedFor = c.cfg.NodeID

	cand := &candidate{
		core:  c,
		term:  term,
		votes: map[int64]bool{c.cfg.NodeID: true},
	}

	if c.cfg.Control != nil {
		rv := RequestVote{Term: term, CandidateID: c.cfg.NodeID, LastPosition: int64(c.cfg.Term.Position())}
		_, _ = c.cfg.Control.Offer(EncodeRequestVote(rv))
	}

	return cand
}

func (c *candidate) Kind() RoleKind { return RoleCandidate }

func (c *candidate) Poll(now time.Time) (Role, int) {
	if c.deadline.IsZero() {
		c.deadline = now.Add(c.core.randomTimeout())
	}

	work := 0
	if c.core.cfg.ControlSub != nil {
		work += c.core.cfg.ControlSub.Poll(func(frag transport.Fragment) {
			msg, err := DecodeControl(frag.Data)
			if err != nil {
				return
			}

			switch {
			case msg.Heartbeat != nil:
				hb := msg.Heartbeat
				if hb.Term < c.term {
					return
				}
				c.core.cfg.Term.AdvanceTerm(hb.Term)
				c.core.cfg.Term.SetLeader(hb.LeaderSessionID, hb.Term)
				c.core.cfg.Term.SetCommitPosition(transport.Position(hb.CommitPosition))
				c.steppedDown = true

			case msg.ReplyVote != nil:
				rv := msg.ReplyVote
				if rv.Term == c.term && rv.Granted {
					c.votes[rv.VoterID] = true
				}
			}
		}, controlPollLimit)
	}

	if c.steppedDown {
		c.core.cfg.Logger.Info("observed current leader, reverting to follower",
			slog.Int64("term", c.core.cfg.Term.Term()))
		return newFollowerAt(c.core, now), work
	}

	if len(c.votes) > c.core.cfg.ClusterSize/2 {
		c.core.cfg.Logger.Info("won election", slog.Int64("term", c.term), slog.Int("votes", len(c.votes)))
		return newLeader(c.core, c.term, now), work + 1
	}

	if !now.Before(c.deadline) {
		nextTerm := c.term + 1
		c.core.cfg.Term.AdvanceTerm(nextTerm)
		c.core.cfg.Logger.Info("election timed out without quorum, restarting", slog.Int64("term", nextTerm))
		return newCandidate(c.core, nextTerm), work + 1
	}

	return c, work
}
