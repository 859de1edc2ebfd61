package replication

import (
	"sort"

	"github.com/arcfix/fixrelay/internal/transport"
)

// AcknowledgementStrategy maps the set of positions reported by (or known
// about) every node in the cluster to the position that is now safe to
// deliver to applications.
type AcknowledgementStrategy interface {
	// Compute returns the committed position given every known node's
	// reported position, including the leader's own. Pure function: same
	// input always yields the same output.
	Compute(positions map[int64]transport.Position) transport.Position
}

// quorumStrategy computes the position acknowledged by at least quorumSize
// nodes: the position at rank (n - quorumSize) when positions are sorted
// ascending, i.e. the largest value at least quorumSize nodes have reached.
type quorumStrategy struct {
	quorumSize func(clusterSize int) int
}

func (s quorumStrategy) Compute(positions map[int64]transport.Position) transport.Position {
	if len(positions) == 0 {
		return 0
	}

	sorted := make([]transport.Position, 0, len(positions))
	for _, p := range positions {
		sorted = append(sorted, p)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	n := len(sorted)
	q := s.quorumSize(n)
	if q <= 0 {
		q = 1
	}
	if q > n {
		q = n
	}

	return sorted[n-q]
}

// EntireClusterAcknowledgementStrategy commits a position only once every
// known node has reached it: the default, requiring the full cluster as
// quorum.
type EntireClusterAcknowledgementStrategy struct{}

// Compute returns min(positions).
func (EntireClusterAcknowledgementStrategy) Compute(positions map[int64]transport.Position) transport.Position {
	return quorumStrategy{quorumSize: func(n int) int { return n }}.Compute(positions)
}

// MajorityAcknowledgementStrategy commits a position once a majority
// (n/2+1) of nodes have reached it.
type MajorityAcknowledgementStrategy struct{}

// Compute returns the median of positions for an odd-sized cluster.
func (MajorityAcknowledgementStrategy) Compute(positions map[int64]transport.Position) transport.Position {
	return quorumStrategy{quorumSize: func(n int) int { return n/2 + 1 }}.Compute(positions)
}

// StrategyByName resolves the config.ClusterConfig.AcknowledgementStrategy
// string to a concrete AcknowledgementStrategy. Unrecognized names fall
// back to EntireClusterAcknowledgementStrategy, the conservative default.
func StrategyByName(name string) AcknowledgementStrategy {
	switch name {
	case "majority":
		return MajorityAcknowledgementStrategy{}
	default:
		return EntireClusterAcknowledgementStrategy{}
	}
}
