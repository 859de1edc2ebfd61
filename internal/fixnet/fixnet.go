// Package fixnet is the FIX-over-TCP transport adapter: SOH-delimited
// message framing over a net.Conn, an acceptor that demultiplexes inbound
// connections to one of several configured sessions by the CompID pair
// carried on the peer's first Logon, and a dialer for initiator sessions.
//
// Nothing in internal/session or internal/fix knows about TCP; this package
// is the only place that does.
package fixnet

import "errors"

// ErrMessageTooLarge indicates a connection sent more than maxMessageSize
// bytes without a checksum field terminator, most likely a non-FIX peer or a
// corrupted stream.
var ErrMessageTooLarge = errors.New("fixnet: message exceeds maximum size")

// ErrNoMatchingSession indicates an inbound connection's first message did
// not match the CompID pair of any session configured on this listener's
// address.
var ErrNoMatchingSession = errors.New("fixnet: no session configured for inbound CompIDs")

const (
	// readBufferSize sizes the bufio.Reader wrapping each connection.
	readBufferSize = 64 * 1024

	// maxMessageSize bounds a single FIX message read from the wire.
	maxMessageSize = 8 << 20
)
