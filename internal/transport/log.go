package transport

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// alignUp rounds length up to the next FrameAlignment boundary, matching
// the framing real Aeron-style term buffers impose on every fragment.
func alignUp(length int) int {
	rem := length % FrameAlignment
	if rem == 0 {
		return length
	}
	return length + (FrameAlignment - rem)
}

// entry is one committed (or pending) fragment in a Log.
type entry struct {
	position  Position
	data      []byte
	committed bool
	aborted   bool
}

// Log is a single-writer, multi-reader append-only byte log: the in-process
// stand-in for one Aeron-style stream (one session id). A Log backs exactly
// one Publication; any number of Subscriptions may be created against it,
// each with its own independent read cursor.
//
// Concurrency model: the Publication side is written by
// exactly one agent; Subscriptions only ever advance their own cursor, so
// no subscriber synchronizes with another.
type Log struct {
	mu        sync.Mutex
	sessionID int64
	connID    uuid.UUID
	entries   []entry
	nextPos   Position
	closed    bool

	// capacity bounds the number of uncommitted-or-committed entries kept
	// resident; 0 means unbounded. Used to model back pressure on a raw
	// Log when nothing is consuming it.
	capacity int
}

// NewLog creates an empty Log identified by sessionID, stamped with a fresh
// connection id. capacity, if nonzero, is the maximum number of resident
// entries before Offer/TryClaim return ErrBackPressured.
func NewLog(sessionID int64, capacity int) *Log {
	return &Log{sessionID: sessionID, connID: uuid.New(), capacity: capacity}
}

// SessionID returns the transport-local identifier for this log's stream.
func (l *Log) SessionID() int64 {
	return l.sessionID
}

// ConnectionID returns the connection id stamped on this log at creation.
func (l *Log) ConnectionID() uuid.UUID {
	return l.connID
}

// Publication returns a Publication writing to this Log.
func (l *Log) Publication() Publication {
	return &logPublication{log: l}
}

// Subscription returns a new Subscription reading this Log from the
// beginning. from, if nonzero, seeks the cursor to that position instead
// (used when resyncing after a leader change).
func (l *Log) Subscription(from Position) Subscription {
	return &logSubscription{log: l, pos: from}
}

// Close marks the log closed; further publication calls return ErrClosed.
func (l *Log) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
}

func (l *Log) tryClaim(length int) (*Claim, Position, error) {
	if length > MaxFragmentLength {
		return nil, 0, fmt.Errorf("length %d: %w", length, ErrClaimTooLarge)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil, 0, ErrClosed
	}
	if l.capacity > 0 && len(l.entries) >= l.capacity {
		return nil, 0, ErrBackPressured
	}

	pos := l.nextPos
	buf := make([]byte, length)
	l.entries = append(l.entries, entry{position: pos, data: buf})
	l.nextPos += Position(alignUp(length))

	return &Claim{Buffer: buf, log: l, position: pos}, pos, nil
}

func (l *Log) commit(pos Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.entries {
		if l.entries[i].position == pos {
			l.entries[i].committed = true
			return
		}
	}
}

func (l *Log) abort(pos Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// An aborted claim becomes padding: its reserved range is skipped by
	// subscribers but still consumes log positions, keeping them append-only.
	for i := range l.entries {
		if l.entries[i].position == pos {
			l.entries[i].aborted = true
			return
		}
	}
}

// pollFrom returns committed fragments whose position is >= from, up to
// limit entries, plus the position to resume polling from next.
func (l *Log) pollFrom(from Position, limit int) ([]Fragment, Position) {
	l.mu.Lock()
	defer l.mu.Unlock()

	frags := make([]Fragment, 0, limit)
	next := from
	for _, e := range l.entries {
		if len(frags) >= limit {
			break
		}
		if e.position < from {
			continue
		}
		if e.aborted {
			next = e.position + Position(alignUp(len(e.data)))
			continue
		}
		if !e.committed {
			// Committed-or-not is determined in position order; a gap at
			// the head means nothing after it is deliverable yet.
			break
		}
		frags = append(frags, Fragment{SessionID: l.sessionID, Position: e.position, Data: e.data})
		next = e.position + Position(alignUp(len(e.data)))
	}
	return frags, next
}

// logPublication is the Publication facade over a Log.
type logPublication struct {
	log *Log
}

func (p *logPublication) SessionID() int64 { return p.log.SessionID() }

func (p *logPublication) ConnectionID() uuid.UUID { return p.log.ConnectionID() }

func (p *logPublication) TryClaim(length int) (*Claim, Position, error) {
	return p.log.tryClaim(length)
}

func (p *logPublication) Offer(data []byte) (Position, error) {
	claim, pos, err := p.log.tryClaim(len(data))
	if err != nil {
		return 0, err
	}
	copy(claim.Buffer, data)
	claim.Commit()
	return pos, nil
}

// logSubscription is the Subscription facade over a Log.
type logSubscription struct {
	log *Log
	pos Position
}

func (s *logSubscription) Poll(handler FragmentHandler, limit int) int {
	frags, next := s.log.pollFrom(s.pos, limit)
	s.pos = next
	for _, f := range frags {
		handler(f)
	}
	return len(frags)
}

func (s *logSubscription) Position() Position {
	return s.pos
}
