package replication

import (
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"github.com/arcfix/fixrelay/internal/archive"
	"github.com/arcfix/fixrelay/internal/transport"
)

// ErrNotLeader indicates an operation that requires leadership was
// attempted on a node not currently holding it.
var ErrNotLeader = errors.New("replication: not leader")

// controlPollLimit and ackPollLimit bound how many fragments a single Poll
// drains from the control and acknowledgement streams, keeping every Poll
// non-blocking and bounded.
const (
	controlPollLimit = 64
	ackPollLimit     = 256
)

// RoleKind identifies which of the three roles a node currently
// occupies.
type RoleKind uint8

const (
	RoleFollower RoleKind = iota
	RoleCandidate
	RoleLeader
)

// String returns the human-readable name of the role.
func (k RoleKind) String() string {
	switch k {
	case RoleFollower:
		return "Follower"
	case RoleCandidate:
		return "Candidate"
	case RoleLeader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// Role is one variant of the Follower/Candidate/Leader tagged union.
// Poll advances the role's own state and returns
// either itself (unchanged) or a freshly constructed Role of a different
// kind; the Engine swaps in whichever value is returned.
type Role interface {
	Kind() RoleKind
	Poll(now time.Time) (Role, int)
}

// DataLogProvider resolves the data-stream Subscription for an arbitrary
// leader session id, letting a Follower resync after a leader change.
type DataLogProvider interface {
	Subscription(sessionID int64, from transport.Position) transport.Subscription
}

// MetricsReporter receives replication role-engine events for
// observability.
type MetricsReporter interface {
	SetTerm(term int64)
	SetCommitPosition(position int64)
	RecordRoleTransition(from, to string)
	IncElectionTimeouts()
	IncAcknowledgements()
}

type noopMetrics struct{}

func (noopMetrics) SetTerm(int64)                    {}
func (noopMetrics) SetCommitPosition(int64)          {}
func (noopMetrics) RecordRoleTransition(_, _ string) {}
func (noopMetrics) IncElectionTimeouts()             {}
func (noopMetrics) IncAcknowledgements()             {}

// Config wires one node's Role Engine to its TermState, its transport
// streams, and its archive.
type Config struct {
	NodeID      int64
	ClusterSize int

	Term        *TermState
	AckStrategy AcknowledgementStrategy

	Control    transport.Publication
	ControlSub transport.Subscription

	Ack    transport.Publication
	AckSub transport.Subscription

	// Data is this node's own data-stream publication, used only while it
	// holds leadership.
	Data transport.Publication

	// DataSelfSub reads this node's own Data publication back, letting it
	// track its own contiguous position and archive its own writes the
	// same way a Follower archives the leader's.
	DataSelfSub transport.Subscription

	// DataLogs resolves a remote leader's data subscription for a
	// Follower to read from.
	DataLogs DataLogProvider

	Archiver *archive.Archiver

	// Timeout is the base election timeout; actual follower timeouts are
	// randomized uniformly in [Timeout, MaxToMinTimeout*Timeout).
	Timeout         time.Duration
	MaxToMinTimeout float64

	// HeartbeatInterval is how often a Leader emits ConsensusHeartbeat
	// (absent intervening data) and a Follower publishes Acknowledge.
	HeartbeatInterval time.Duration

	Logger  *slog.Logger
	Metrics MetricsReporter
}

// core holds the dependencies shared by every Role value for one Engine.
// It is held by reference across role transitions: only the active Role's
// own fields change on a swap, never core's wiring.
type core struct {
	cfg Config
	rng *rand.Rand

	// votedTerm and votedFor track the one vote this node may cast per
	// term, independent of which Role is currently active (a Follower
	// always grants or refuses; Candidates and Leaders do not solicit
	// votes from rivals in this implementation).
	votedTerm int64
	votedFor  int64
}

// randomTimeout returns a timeout uniformly distributed in
// [Timeout, MaxToMinTimeout*Timeout), biased per node by a PRNG seeded on
// NodeID so the cluster's followers do not time out in lockstep.
func (c *core) randomTimeout() time.Duration {
	lo := c.cfg.Timeout
	ratio := c.cfg.MaxToMinTimeout
	if ratio <= 1 {
		ratio = 2
	}
	hi := time.Duration(float64(lo) * ratio)
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(c.rng.Int63n(int64(hi-lo)))
}

// maybeGrantVote applies the one-vote-per-term rule and returns whether a
// vote was granted to rv.CandidateID.
func (c *core) maybeGrantVote(rv RequestVote) bool {
	if rv.Term < c.cfg.Term.Term() {
		return false
	}
	if rv.Term > c.cfg.Term.Term() {
		c.cfg.Term.AdvanceTerm(rv.Term)
		c.votedTerm = 0
	}
	if c.votedTerm == rv.Term {
		return c.votedFor == rv.CandidateID
	}
	if int64(c.cfg.Term.Position()) > rv.LastPosition {
		return false
	}
	c.votedTerm = rv.Term
	c.votedFor = rv.CandidateID
	return true
}

// sendHeartbeat broadcasts a ConsensusHeartbeat on the control stream.
func (c *core) sendHeartbeat(term, leaderSessionID int64) {
	hb := ConsensusHeartbeat{
		Term:            term,
		LeaderID:        c.cfg.NodeID,
		LeaderSessionID: leaderSessionID,
		Position:        int64(c.cfg.Term.Position()),
		CommitPosition:  int64(c.cfg.Term.CommitPosition()),
	}
	_, _ = c.cfg.Control.Offer(EncodeConsensusHeartbeat(hb))
}

// Engine drives one node's replication role through Follower, Candidate
// and Leader transitions.
type Engine struct {
	core *core
	role Role
}

// NewEngine creates an Engine starting as a Follower.
func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.AckStrategy == nil {
		cfg.AckStrategy = EntireClusterAcknowledgementStrategy{}
	}

	c := &core{
		cfg: cfg,
		// Seeded per node id (rather than per process/time) to bias
		// against synchronized, and therefore split, follower
		// timeouts across the cluster.
		rng: rand.New(rand.NewSource(cfg.NodeID)), //nolint:gosec // biasing only, not security sensitive.
	}

	return &Engine{core: c, role: newFollower(c)}
}

// Poll advances the currently active role and returns the amount of work
// performed. Never blocks.
func (e *Engine) Poll(now time.Time) int {
	next, work := e.role.Poll(now)

	if next.Kind() != e.role.Kind() {
		e.core.cfg.Metrics.RecordRoleTransition(e.role.Kind().String(), next.Kind().String())
		e.core.cfg.Logger.Info("replication role transition",
			slog.String("from", e.role.Kind().String()),
			slog.String("to", next.Kind().String()),
			slog.Int64("term", e.core.cfg.Term.Term()),
		)
	}
	e.role = next

	e.core.cfg.Metrics.SetTerm(e.core.cfg.Term.Term())
	e.core.cfg.Metrics.SetCommitPosition(int64(e.core.cfg.Term.CommitPosition()))

	return work
}

// Role reports the kind of role this node currently occupies.
func (e *Engine) Role() RoleKind {
	return e.role.Kind()
}

// TermState returns the Engine's shared TermState for read-only
// inspection (admin surface, tests, metrics).
func (e *Engine) TermState() *TermState {
	return e.core.cfg.Term
}

// StepDown forces a Leader back to Follower immediately, clearing the
// known leader so the cluster re-elects. No-op for a node that is not
// currently Leader. Intended for administrative use (operator-initiated
// failover), not part of the normal election protocol.
func (e *Engine) StepDown(now time.Time) bool {
	if e.role.Kind() != RoleLeader {
		return false
	}
	e.core.cfg.Term.ClearLeader()
	e.core.cfg.Logger.Info("leader stepping down by admin request",
		slog.Int64("term", e.core.cfg.Term.Term()))
	e.core.cfg.Metrics.RecordRoleTransition(e.role.Kind().String(), RoleFollower.String())
	e.role = newFollowerAt(e.core, now)
	return true
}

// IsLeader reports whether this node's own data-publication session id is
// the term state's currently recognized leader, the same gate
// ClusterPublication.TryClaim applies.
func (e *Engine) IsLeader() bool {
	snap := e.core.cfg.Term.Snapshot()
	return snap.HasLeader() && snap.LeaderSessionID == e.core.cfg.Data.SessionID()
}
