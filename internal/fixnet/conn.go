package fixnet

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"
)

// Conn frames FIX messages over a net.Conn: each message is a sequence of
// SOH-delimited tag=value fields terminated by the checksum field (tag 10),
// per internal/fix's wire contract. Conn implements session.SessionProxy so
// a Session can write directly to it.
type Conn struct {
	nc      net.Conn
	r       *bufio.Reader
	writeMu sync.Mutex
}

// NewConn wraps an established net.Conn for FIX framing.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReaderSize(nc, readBufferSize)}
}

// Send implements session.SessionProxy: it writes one already-encoded
// message verbatim. Concurrent sends are serialized so a resend burst from
// handleResendRequest never interleaves with a Poll-driven heartbeat.
func (c *Conn) Send(ctx context.Context, raw []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		_ = c.nc.SetWriteDeadline(dl)
	} else {
		_ = c.nc.SetWriteDeadline(time.Time{})
	}

	if _, err := c.nc.Write(raw); err != nil {
		return fmt.Errorf("fixnet: write: %w", err)
	}
	return nil
}

// ReadMessage blocks until one complete FIX message has been read, scanning
// for the tag-10 checksum field that terminates every message.
func (c *Conn) ReadMessage() ([]byte, error) {
	var buf bytes.Buffer

	for {
		field, err := c.r.ReadBytes(soh)
		if err != nil {
			return nil, fmt.Errorf("fixnet: read message: %w", err)
		}

		buf.Write(field)
		if buf.Len() > maxMessageSize {
			return nil, ErrMessageTooLarge
		}

		if bytes.HasPrefix(field, checksumPrefix) {
			return buf.Bytes(), nil
		}
	}
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close closes the underlying connection.
func (c *Conn) Close() error { return c.nc.Close() }

const soh = 0x01

var checksumPrefix = []byte("10=")
