package replication

import (
	"sync"

	"github.com/arcfix/fixrelay/internal/transport"
)

// noLeader is the sentinel LeaderSessionID value meaning no leader is
// currently known.
const noLeader int64 = 0

// TermState is the per-node replication state shared across Follower,
// Candidate and Leader role transitions. It is logically
// owned by whichever role is currently active -- role transitions hand off
// ownership atomically at the end of a Poll -- but Snapshot is safe to call
// from any goroutine (the admin surface, tests) concurrently with the
// owning role's mutation.
type TermState struct {
	mu sync.RWMutex

	leaderSessionID  int64
	leadershipTermID int64
	position         transport.Position
	commitPosition   transport.Position
}

// TermStateSnapshot is a read-only point-in-time view of a TermState.
type TermStateSnapshot struct {
	LeaderSessionID  int64
	LeadershipTermID int64
	Position         transport.Position
	CommitPosition   transport.Position
}

// HasLeader reports whether a leader is currently known.
func (s TermStateSnapshot) HasLeader() bool {
	return s.LeaderSessionID != noLeader
}

// Snapshot returns the current state.
func (t *TermState) Snapshot() TermStateSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return TermStateSnapshot{
		LeaderSessionID:  t.leaderSessionID,
		LeadershipTermID: t.leadershipTermID,
		Position:         t.position,
		CommitPosition:   t.commitPosition,
	}
}

// Term returns the current leadership term id.
func (t *TermState) Term() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.leadershipTermID
}

// AdvanceTerm sets leadershipTermID to term if term is greater than the
// current value; leadershipTermID never decreases.
// Returns true if the term advanced.
func (t *TermState) AdvanceTerm(term int64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if term <= t.leadershipTermID {
		return false
	}
	t.leadershipTermID = term
	return true
}

// SetLeader records the current leader's data-publication session id for
// leadershipTermID == term. Called by a Follower adopting a heartbeat, or
// by a freshly-elected Leader adopting itself.
func (t *TermState) SetLeader(sessionID, term int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if term < t.leadershipTermID {
		return
	}
	t.leadershipTermID = term
	t.leaderSessionID = sessionID
}

// ClearLeader forgets the current leader, used when starting an election.
func (t *TermState) ClearLeader() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.leaderSessionID = noLeader
}

// Position returns the highest contiguous log position known locally.
func (t *TermState) Position() transport.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.position
}

// SetPosition advances position monotonically to p.
func (t *TermState) SetPosition(p transport.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p > t.position {
		t.position = p
	}
}

// CommitPosition returns the highest position known to be committed.
func (t *TermState) CommitPosition() transport.Position {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.commitPosition
}

// SetCommitPosition advances commitPosition monotonically to p, clamped to
// never exceed position.
func (t *TermState) SetCommitPosition(p transport.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p > t.position {
		p = t.position
	}
	if p > t.commitPosition {
		t.commitPosition = p
	}
}
