// Package archive provides the durable sink and source for one node's
// replicated data stream, keyed by (session id, position). The Archiver
// agent drains a transport.Subscription and persists
// each fragment to an append-only segment file before it is considered
// durable; the ArchiveReader serves position-addressed reads back out. Its
// index lookups share a per-session mutex with appends, so they are not
// lock-free against the writer.
package archive

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/arcfix/fixrelay/internal/transport"
)

// Sentinel errors.
var (
	// ErrNotFound indicates no fragment is archived at the requested
	// (session id, position).
	ErrNotFound = errors.New("archive: fragment not found")

	// ErrSessionLocked indicates another process already holds the
	// exclusive write lock for a session's archive directory.
	ErrSessionLocked = errors.New("archive: session directory locked by another writer")
)

// recordHeaderSize is the on-disk header preceding every fragment: an
// 8-byte position followed by a 4-byte length.
const recordHeaderSize = 8 + 4

// defaultMaxSegmentBytes bounds a single segment file before rollover.
const defaultMaxSegmentBytes int64 = 64 << 20

// FragmentLimit bounds how many fragments a single Archiver.Poll call
// drains, keeping each poll bounded.
const FragmentLimit = 256

// MetricsReporter receives archive throughput events for observability.
type MetricsReporter interface {
	RecordArchiveWrite(n int)
	IncArchiveFragmentsRead()
}

type noopMetrics struct{}

func (noopMetrics) RecordArchiveWrite(int)   {}
func (noopMetrics) IncArchiveFragmentsRead() {}

// record locates one archived fragment within a segment file.
type record struct {
	path   string
	offset int64
	length uint32
}

// sessionStore is the archive state for one session id: an open segment
// file for appends and an in-memory position index built as fragments are
// written.
type sessionStore struct {
	mu sync.Mutex

	dir    string
	index  map[transport.Position]record
	cur    *os.File
	curLen int64
	segNum int
}

// Archiver drains a transport.Subscription and durably persists every
// fragment it delivers, keyed by (session id, position). One Archiver
// instance owns one node's archive directory; it is driven cooperatively
// via Poll.
type Archiver struct {
	baseDir         string
	maxSegmentBytes int64
	logger          *slog.Logger
	metrics         MetricsReporter

	mu       sync.Mutex
	sessions map[int64]*sessionStore
}

// Option configures an Archiver at construction time.
type Option func(*Archiver)

// WithMetrics installs a MetricsReporter. The default is a no-op reporter.
func WithMetrics(m MetricsReporter) Option {
	return func(a *Archiver) { a.metrics = m }
}

// WithMaxSegmentBytes overrides the default segment rollover threshold.
func WithMaxSegmentBytes(n int64) Option {
	return func(a *Archiver) { a.maxSegmentBytes = n }
}

// New creates an Archiver rooted at baseDir. baseDir is created if it does
// not already exist.
func New(baseDir string, logger *slog.Logger, opts ...Option) (*Archiver, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir %s: %w", baseDir, err)
	}

	a := &Archiver{
		baseDir:         baseDir,
		maxSegmentBytes: defaultMaxSegmentBytes,
		logger:          logger.With(slog.String("component", "archiver")),
		metrics:         noopMetrics{},
		sessions:        make(map[int64]*sessionStore),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Poll drains up to FragmentLimit fragments from sub and archives each one,
// returning the number of fragments written. Never blocks.
func (a *Archiver) Poll(sub transport.Subscription) (int, error) {
	var firstErr error
	n := sub.Poll(func(f transport.Fragment) {
		if firstErr != nil {
			return
		}
		if err := a.append(f.SessionID, f.Position, f.Data); err != nil {
			firstErr = fmt.Errorf("archive session %d position %d: %w", f.SessionID, f.Position, err)
		}
	}, FragmentLimit)
	return n, firstErr
}

// append persists one fragment, fsyncing before returning so the caller
// can safely acknowledge it.
func (a *Archiver) append(sessionID int64, position transport.Position, data []byte) error {
	store, err := a.sessionStore(sessionID)
	if err != nil {
		return err
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	need := int64(recordHeaderSize + len(data))
	if store.cur == nil || store.curLen+need > a.maxSegmentBytes {
		if err := store.rollSegment(); err != nil {
			return err
		}
	}

	hdr := make([]byte, recordHeaderSize)
	binary.BigEndian.PutUint64(hdr[0:8], uint64(position))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(data)))

	offset := store.curLen
	if _, err := store.cur.Write(hdr); err != nil {
		return fmt.Errorf("write record header: %w", err)
	}
	if _, err := store.cur.Write(data); err != nil {
		return fmt.Errorf("write record payload: %w", err)
	}
	if err := store.cur.Sync(); err != nil {
		return fmt.Errorf("fsync segment: %w", err)
	}

	store.index[position] = record{path: store.cur.Name(), offset: offset + recordHeaderSize, length: uint32(len(data))}
	store.curLen += need

	a.metrics.RecordArchiveWrite(len(data))
	return nil
}

// sessionStore returns (creating if necessary) the store for sessionID.
func (a *Archiver) sessionStore(sessionID int64) (*sessionStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if s, ok := a.sessions[sessionID]; ok {
		return s, nil
	}

	dir := filepath.Join(a.baseDir, fmt.Sprintf("session-%d", sessionID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir %s: %w", dir, err)
	}

	s := &sessionStore{dir: dir, index: make(map[transport.Position]record)}
	a.sessions[sessionID] = s
	return s, nil
}

// rollSegment closes the current segment (if any) and opens a fresh one,
// taking an advisory exclusive lock so a second writer process against the
// same directory fails fast instead of corrupting the log.
func (s *sessionStore) rollSegment() error {
	if s.cur != nil {
		_ = s.cur.Close()
	}

	s.segNum++
	path := filepath.Join(s.dir, fmt.Sprintf("segment-%06d.log", s.segNum))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open segment %s: %w", path, err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		return fmt.Errorf("lock segment %s: %w", path, errors.Join(err, ErrSessionLocked))
	}

	s.cur = f
	s.curLen = 0
	return nil
}

// Close releases every open segment file and its advisory lock.
func (a *Archiver) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var errs error
	for _, s := range a.sessions {
		s.mu.Lock()
		if s.cur != nil {
			if err := s.cur.Close(); err != nil {
				errs = errors.Join(errs, err)
			}
		}
		s.mu.Unlock()
	}
	return errs
}

// Reader returns an ArchiveReader serving reads against this Archiver's
// in-memory index. Its lookups wait while an append to the same session
// is writing and fsyncing (see ArchiveReader).
func (a *Archiver) Reader() *ArchiveReader {
	return &ArchiveReader{archiver: a}
}
