package cluster

import (
	"log/slog"

	"github.com/arcfix/fixrelay/internal/archive"
	"github.com/arcfix/fixrelay/internal/replication"
	"github.com/arcfix/fixrelay/internal/transport"
)

// ArchiveSource serves committed fragments that are no longer reachable
// through a live subscription, keyed by (session id, position). Satisfied
// by *archive.ArchiveReader.
type ArchiveSource interface {
	Read(sessionID int64, position transport.Position, handler archive.FragmentReadHandler) (bool, error)
}

// ClusterSubscription delivers application fragments only once the
// replication core has marked them committed, in strict commit order.
//
// On a leader change the subscription first drains, from the archive, any
// fragment committed under the previous leader's session but not yet
// delivered to the handler -- the drain runs up to the commit position
// known at the term boundary -- and only then resumes against the new
// leader's live stream. The two leaders' data streams are independent
// logs, so the per-session read position restarts at zero, but committed
// data is never skipped.
type ClusterSubscription struct {
	term   *replication.TermState
	logs   replication.DataLogProvider
	reader ArchiveSource
	logger *slog.Logger

	sessionID int64
	pos       transport.Position

	// lastCommit is the commit position observed on the most recent Poll
	// against the current session; it becomes the drain boundary when the
	// leader changes.
	lastCommit transport.Position

	draining     bool
	drainSession int64
	drainPos     transport.Position
	drainLimit   transport.Position
}

// NewSubscription creates a ClusterSubscription with no session adopted
// yet; it adopts the current leader on its first Poll. reader serves the
// leader-change drain, typically an archive.ArchiveReader; nil disables
// the drain.
func NewSubscription(term *replication.TermState, logs replication.DataLogProvider, reader ArchiveSource, logger *slog.Logger) *ClusterSubscription {
	return &ClusterSubscription{term: term, logs: logs, reader: reader, logger: logger}
}

// Poll delivers up to limit fragments at or below the current commit
// position, in order, never blocking. Returns the number delivered.
func (s *ClusterSubscription) Poll(handler transport.FragmentHandler, limit int) int {
	snap := s.term.Snapshot()
	if !snap.HasLeader() && !s.draining {
		return 0
	}

	if snap.HasLeader() && snap.LeaderSessionID != s.sessionID {
		if s.sessionID != 0 && s.reader != nil && s.pos < s.lastCommit {
			s.draining = true
			s.drainSession = s.sessionID
			s.drainPos = s.pos
			s.drainLimit = s.lastCommit
		}
		s.logger.Info("cluster subscription following new leader",
			slog.Int64("leader_session_id", snap.LeaderSessionID))
		s.sessionID = snap.LeaderSessionID
		s.pos = 0
		s.lastCommit = 0
	}

	delivered := 0

	if s.draining {
		delivered += s.drainArchive(handler, limit-delivered)
		if s.draining {
			// Old-session fragments are still outstanding; never
			// interleave them with the new leader's stream.
			return delivered
		}
	}

	for delivered < limit {
		sub := s.logs.Subscription(s.sessionID, s.pos)
		if sub == nil {
			break
		}

		var frag transport.Fragment
		seen := false
		n := sub.Poll(func(f transport.Fragment) {
			if !seen {
				frag = f
				seen = true
			}
		}, 1)
		if n == 0 || !seen {
			break
		}
		// Positions are end offsets: a fragment starting at the commit
		// boundary is not yet covered by it.
		if frag.Position >= snap.CommitPosition {
			break
		}

		handler(frag)
		s.pos = sub.Position()
		delivered++
	}

	s.lastCommit = snap.CommitPosition
	return delivered
}

// drainArchive replays committed-but-undelivered fragments of the previous
// leader's session out of the archive, in position order. A read error
// leaves the drain armed so the next Poll retries; a fragment genuinely
// absent from the archive ends the drain.
func (s *ClusterSubscription) drainArchive(handler transport.FragmentHandler, limit int) int {
	delivered := 0
	for delivered < limit && s.drainPos < s.drainLimit {
		var data []byte
		found, err := s.reader.Read(s.drainSession, s.drainPos, func(b []byte) {
			data = append([]byte(nil), b...)
		})
		if err != nil {
			s.logger.Error("archive drain read failed",
				slog.Int64("session_id", s.drainSession),
				slog.Int64("position", int64(s.drainPos)),
				slog.Any("error", err))
			return delivered
		}
		if !found {
			s.logger.Warn("archive drain ended before commit boundary",
				slog.Int64("session_id", s.drainSession),
				slog.Int64("position", int64(s.drainPos)),
				slog.Int64("commit", int64(s.drainLimit)))
			s.draining = false
			return delivered
		}

		handler(transport.Fragment{SessionID: s.drainSession, Position: s.drainPos, Data: data})
		s.drainPos += alignedLength(len(data))
		delivered++
	}

	if s.drainPos >= s.drainLimit {
		s.draining = false
	}
	return delivered
}

// alignedLength rounds a fragment length up to the transport frame
// alignment, mirroring how log positions advance per fragment.
func alignedLength(n int) transport.Position {
	if rem := n % transport.FrameAlignment; rem != 0 {
		n += transport.FrameAlignment - rem
	}
	return transport.Position(n)
}

// Position reports the next position this subscription will resume from.
func (s *ClusterSubscription) Position() transport.Position {
	return s.pos
}
