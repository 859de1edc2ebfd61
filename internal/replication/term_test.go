package replication_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/arcfix/fixrelay/internal/replication"
	"github.com/arcfix/fixrelay/internal/transport"
)

func TestTermStateAdvanceTermNeverDecreases(t *testing.T) {
	var ts replication.TermState
	assert.True(t, ts.AdvanceTerm(5))
	assert.False(t, ts.AdvanceTerm(3))
	assert.Equal(t, int64(5), ts.Term())
}

func TestTermStateCommitPositionClampedToPosition(t *testing.T) {
	var ts replication.TermState
	ts.SetPosition(10)
	ts.SetCommitPosition(100)
	assert.Equal(t, transport.Position(10), ts.CommitPosition())
}

func TestTermStateCommitPositionMonotonic(t *testing.T) {
	var ts replication.TermState
	ts.SetPosition(100)
	ts.SetCommitPosition(50)
	ts.SetCommitPosition(20)
	assert.Equal(t, transport.Position(50), ts.CommitPosition())
}

func TestTermStateSetLeaderIgnoresStaleTerm(t *testing.T) {
	var ts replication.TermState
	ts.AdvanceTerm(5)
	ts.SetLeader(42, 5)
	ts.SetLeader(99, 3)
	snap := ts.Snapshot()
	assert.Equal(t, int64(42), snap.LeaderSessionID)
	assert.True(t, snap.HasLeader())
}

func TestTermStateClearLeader(t *testing.T) {
	var ts replication.TermState
	ts.SetLeader(7, 1)
	ts.ClearLeader()
	assert.False(t, ts.Snapshot().HasLeader())
}

// TestTermStateSnapshotAcrossRoleTransition diffs the snapshots a node would
// hand off across a Candidate-to-Leader transition: only LeaderSessionID and
// LeadershipTermID may change when a node wins its own election, Position
// and CommitPosition must carry over untouched.
func TestTermStateSnapshotAcrossRoleTransition(t *testing.T) {
	var ts replication.TermState
	ts.SetPosition(320)
	ts.SetCommitPosition(320)
	ts.AdvanceTerm(4)

	candidate := ts.Snapshot()

	ts.AdvanceTerm(5)
	ts.SetLeader(1, 5)

	leader := ts.Snapshot()

	if diff := cmp.Diff(candidate.Position, leader.Position); diff != "" {
		t.Errorf("position changed across role transition (-candidate +leader):\n%s", diff)
	}
	if diff := cmp.Diff(candidate.CommitPosition, leader.CommitPosition); diff != "" {
		t.Errorf("commit position changed across role transition (-candidate +leader):\n%s", diff)
	}

	want := replication.TermStateSnapshot{
		LeaderSessionID:  1,
		LeadershipTermID: 5,
		Position:         320,
		CommitPosition:   320,
	}
	if diff := cmp.Diff(want, leader); diff != "" {
		t.Errorf("leader snapshot mismatch (-want +got):\n%s", diff)
	}
}
