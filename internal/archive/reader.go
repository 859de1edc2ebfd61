package archive

import (
	"fmt"
	"os"

	"github.com/arcfix/fixrelay/internal/transport"
)

// FragmentReadHandler receives the bytes of one archived fragment.
// Implementations must not retain the slice beyond the call.
type FragmentReadHandler func(data []byte)

// ArchiveReader serves position-addressed reads against an Archiver's
// durable store. A Read takes the Archiver's mutex and the session's mutex
// to look up the index entry; an append holds the session's mutex through
// its write and fsync, so a Read of that session waits for an append in
// progress. The file read itself runs with no lock held, on its own file
// handle, and depends only on the record's (path, offset, length), which
// the writer never changes once it is in the index.
type ArchiveReader struct {
	archiver *Archiver
}

// Read locates the fragment at (sessionID, position) and passes its bytes
// to handler. Returns false, nil if no such fragment is archived.
// Idempotent: reading the same (sessionID, position) any number of times
// returns identical bytes.
func (r *ArchiveReader) Read(sessionID int64, position transport.Position, handler FragmentReadHandler) (bool, error) {
	r.archiver.mu.Lock()
	store, ok := r.archiver.sessions[sessionID]
	r.archiver.mu.Unlock()
	if !ok {
		return false, nil
	}

	store.mu.Lock()
	rec, ok := store.index[position]
	store.mu.Unlock()
	if !ok {
		return false, nil
	}

	f, err := os.Open(rec.path)
	if err != nil {
		return false, fmt.Errorf("open segment %s: %w", rec.path, err)
	}
	defer f.Close()

	buf := make([]byte, rec.length)
	if _, err := f.ReadAt(buf, rec.offset); err != nil {
		return false, fmt.Errorf("read fragment at %s:%d: %w", rec.path, rec.offset, err)
	}

	r.archiver.metrics.IncArchiveFragmentsRead()
	handler(buf)
	return true, nil
}
