// Package cluster implements the application-facing publication and
// subscription used by the FIX gateway's cluster replication layer: a
// ClusterPublication that only accepts writes while its
// node holds leadership, and a ClusterSubscription that only delivers
// fragments once the replication core has marked them committed.
package cluster

import (
	"github.com/google/uuid"

	"github.com/arcfix/fixrelay/internal/replication"
	"github.com/arcfix/fixrelay/internal/transport"
)

// ClusterPublication wraps a node's own data-stream Publication, gating
// every write behind the replication TermState's notion of current
// leadership: TryClaim and Offer succeed only while
// termState.leader_session_id == own publication's session id.
type ClusterPublication struct {
	pub  transport.Publication
	term *replication.TermState
}

// NewPublication wraps pub, gated by term.
func NewPublication(pub transport.Publication, term *replication.TermState) *ClusterPublication {
	return &ClusterPublication{pub: pub, term: term}
}

// SessionID returns the underlying publication's session id.
func (p *ClusterPublication) SessionID() int64 {
	return p.pub.SessionID()
}

// ConnectionID returns the underlying publication's connection id.
func (p *ClusterPublication) ConnectionID() uuid.UUID {
	return p.pub.ConnectionID()
}

func (p *ClusterPublication) isLeader() bool {
	snap := p.term.Snapshot()
	return snap.HasLeader() && snap.LeaderSessionID == p.pub.SessionID()
}

// TryClaim reserves length bytes on the underlying publication, but only
// while this node holds leadership. Returns replication.ErrNotLeader
// otherwise.
func (p *ClusterPublication) TryClaim(length int) (*transport.Claim, transport.Position, error) {
	if !p.isLeader() {
		return nil, 0, replication.ErrNotLeader
	}
	return p.pub.TryClaim(length)
}

// Offer writes data as a single fragment, but only while this node holds
// leadership. Returns replication.ErrNotLeader otherwise.
func (p *ClusterPublication) Offer(data []byte) (transport.Position, error) {
	if !p.isLeader() {
		return 0, replication.ErrNotLeader
	}
	return p.pub.Offer(data)
}
