package archive_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcfix/fixrelay/internal/archive"
	"github.com/arcfix/fixrelay/internal/transport"
)

func newArchiver(t *testing.T, opts ...archive.Option) *archive.Archiver {
	t.Helper()
	a, err := archive.New(t.TempDir(), slog.New(slog.DiscardHandler), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestArchiverPersistsAndReadsFragments(t *testing.T) {
	a := newArchiver(t)

	log := transport.NewLog(7, 0)
	pub := log.Publication()
	_, err := pub.Offer([]byte("alpha"))
	require.NoError(t, err)
	_, err = pub.Offer([]byte("beta"))
	require.NoError(t, err)

	sub := log.Subscription(0)
	n, err := a.Poll(sub)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	reader := a.Reader()

	var got []byte
	found, err := reader.Read(7, 0, func(data []byte) { got = append([]byte(nil), data...) })
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "alpha", string(got))

	found, err = reader.Read(7, 9999, func([]byte) {})
	require.NoError(t, err)
	assert.False(t, found, "unknown position must report not-found, not an error")
}

func TestArchiveReadIsIdempotent(t *testing.T) {
	a := newArchiver(t)

	log := transport.NewLog(1, 0)
	pub := log.Publication()
	pos, err := pub.Offer([]byte("payload"))
	require.NoError(t, err)

	sub := log.Subscription(0)
	_, err = a.Poll(sub)
	require.NoError(t, err)

	reader := a.Reader()
	for i := 0; i < 3; i++ {
		var got string
		found, err := reader.Read(1, pos, func(data []byte) { got = string(data) })
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "payload", got)
	}
}

func TestArchiverSegmentRollover(t *testing.T) {
	a := newArchiver(t, archive.WithMaxSegmentBytes(16))

	log := transport.NewLog(3, 0)
	pub := log.Publication()
	for i := 0; i < 5; i++ {
		_, err := pub.Offer([]byte("0123456789"))
		require.NoError(t, err)
	}

	sub := log.Subscription(0)
	n, err := a.Poll(sub)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	reader := a.Reader()
	readPos := transport.Position(0)
	for i := 0; i < 5; i++ {
		var got string
		found, err := reader.Read(3, readPos, func(data []byte) { got = string(data) })
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "0123456789", got)
		readPos += 32
	}
}
