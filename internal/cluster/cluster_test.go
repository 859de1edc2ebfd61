package cluster_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcfix/fixrelay/internal/archive"
	"github.com/arcfix/fixrelay/internal/cluster"
	"github.com/arcfix/fixrelay/internal/replication"
	"github.com/arcfix/fixrelay/internal/transport"
)

type fakeLogs struct {
	log *transport.Log
}

func (f fakeLogs) Subscription(sessionID int64, from transport.Position) transport.Subscription {
	if sessionID != f.log.SessionID() {
		return nil
	}
	return f.log.Subscription(from)
}

func TestClusterPublicationRejectsWritesWithoutLeadership(t *testing.T) {
	log := transport.NewLog(5, 0)
	term := &replication.TermState{}
	pub := cluster.NewPublication(log.Publication(), term)

	_, err := pub.Offer([]byte("order"))
	require.ErrorIs(t, err, replication.ErrNotLeader)

	term.SetLeader(5, 1)
	_, err = pub.Offer([]byte("order"))
	require.NoError(t, err)
}

func TestClusterPublicationRejectsWhenAnotherNodeLeads(t *testing.T) {
	log := transport.NewLog(5, 0)
	term := &replication.TermState{}
	term.SetLeader(99, 1)
	pub := cluster.NewPublication(log.Publication(), term)

	_, err := pub.Offer([]byte("order"))
	require.ErrorIs(t, err, replication.ErrNotLeader)
}

func TestClusterSubscriptionWithholdsUncommittedFragments(t *testing.T) {
	log := transport.NewLog(5, 0)
	term := &replication.TermState{}
	term.SetLeader(5, 1)

	pub := log.Publication()
	pos1, err := pub.Offer([]byte("alpha"))
	require.NoError(t, err)
	_, err = pub.Offer([]byte("beta"))
	require.NoError(t, err)

	sub := cluster.NewSubscription(term, fakeLogs{log: log}, nil, slog.New(slog.DiscardHandler))

	n := sub.Poll(func(transport.Fragment) { t.Fatal("must not deliver before commit") }, 10)
	assert.Equal(t, 0, n)

	term.SetPosition(pos1 + 32)
	term.SetCommitPosition(pos1 + 32)

	var got []string
	n = sub.Poll(func(f transport.Fragment) { got = append(got, string(f.Data)) }, 10)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"alpha"}, got)

	// second fragment remains withheld
	n = sub.Poll(func(transport.Fragment) { t.Fatal("must not deliver beyond commit position") }, 10)
	assert.Equal(t, 0, n)
}

func TestClusterSubscriptionResyncsOnLeaderChange(t *testing.T) {
	logA := transport.NewLog(1, 0)
	logB := transport.NewLog(2, 0)
	term := &replication.TermState{}
	term.SetLeader(1, 1)

	pubA := logA.Publication()
	_, err := pubA.Offer([]byte("from-a"))
	require.NoError(t, err)
	term.SetPosition(32)
	term.SetCommitPosition(32)

	multi := multiLogs{logs: map[int64]*transport.Log{1: logA, 2: logB}}
	sub := cluster.NewSubscription(term, multi, nil, slog.New(slog.DiscardHandler))

	var got []string
	sub.Poll(func(f transport.Fragment) { got = append(got, string(f.Data)) }, 10)
	assert.Equal(t, []string{"from-a"}, got)

	// Leader changes to node 2 with nothing left undelivered from node 1,
	// so the subscription switches straight to the new log; only the
	// per-session read position starts over.
	term.SetLeader(2, 2)
	pubB := logB.Publication()
	_, err = pubB.Offer([]byte("from-b"))
	require.NoError(t, err)
	term.SetPosition(32)
	term.SetCommitPosition(32)

	got = nil
	sub.Poll(func(f transport.Fragment) { got = append(got, string(f.Data)) }, 10)
	assert.Equal(t, []string{"from-b"}, got)
}

type multiLogs struct {
	logs map[int64]*transport.Log
}

func (m multiLogs) Subscription(sessionID int64, from transport.Position) transport.Subscription {
	log, ok := m.logs[sessionID]
	if !ok {
		return nil
	}
	return log.Subscription(from)
}

// A fragment committed under the old leader but not yet handed to the
// application must be served out of the archive on failover, ahead of
// anything from the new leader's stream.
func TestClusterSubscriptionDrainsUndeliveredCommitsOnFailover(t *testing.T) {
	logA := transport.NewLog(1, 0)
	logB := transport.NewLog(2, 0)
	term := &replication.TermState{}
	term.SetLeader(1, 1)

	pubA := logA.Publication()
	_, err := pubA.Offer([]byte("a1"))
	require.NoError(t, err)
	_, err = pubA.Offer([]byte("a2"))
	require.NoError(t, err)
	term.SetPosition(64)
	term.SetCommitPosition(64)

	arch, err := archive.New(t.TempDir(), slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	t.Cleanup(func() { _ = arch.Close() })
	_, err = arch.Poll(logA.Subscription(0))
	require.NoError(t, err)

	multi := multiLogs{logs: map[int64]*transport.Log{1: logA, 2: logB}}
	sub := cluster.NewSubscription(term, multi, arch.Reader(), slog.New(slog.DiscardHandler))

	// Deliver only the first committed fragment before the failover.
	var got []string
	n := sub.Poll(func(f transport.Fragment) { got = append(got, string(f.Data)) }, 1)
	require.Equal(t, 1, n)
	require.Equal(t, []string{"a1"}, got)

	// The leader changes while "a2" is committed but undelivered.
	term.SetLeader(2, 2)
	_, err = logB.Publication().Offer([]byte("b1"))
	require.NoError(t, err)

	got = nil
	n = sub.Poll(func(f transport.Fragment) { got = append(got, string(f.Data)) }, 10)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a2", "b1"}, got)
}
