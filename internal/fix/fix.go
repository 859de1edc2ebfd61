// Package fix implements the FIX 4.x session-layer wire format: the
// administrative message header, the seven session-level message bodies, and
// the tag=value codec used to move them across a byte stream.
//
// This package concerns itself only with the session layer (Logon, Logout,
// Heartbeat, TestRequest, ResendRequest, Reject, SequenceReset). Application-layer message
// types are opaque to it and pass through as raw Body bytes.
package fix

import (
	"errors"
	"fmt"
)

// SOH is the FIX field delimiter (Start of Header, 0x01).
const SOH = byte(0x01)

// Session-level MsgType values (FIX tag 35).
const (
	MsgTypeHeartbeat      = "0"
	MsgTypeLogon          = "A"
	MsgTypeTestRequest    = "1"
	MsgTypeResendRequest  = "2"
	MsgTypeReject         = "3"
	MsgTypeSequenceReset  = "4"
	MsgTypeLogout         = "5"
)

// Administrative header field tags.
const (
	TagBeginString    = 8
	TagBodyLength     = 9
	TagMsgType        = 35
	TagSenderCompID   = 49
	TagTargetCompID   = 56
	TagMsgSeqNum      = 34
	TagSenderSubID    = 50
	TagSendingTime    = 52
	TagPossDupFlag    = 43
	TagPossResend     = 97
	TagOrigSendingTime = 122
	TagNewSeqNo       = 36
	TagCheckSum       = 10
)

// Sentinel errors. Wrapped with context via fmt.Errorf("...: %w", ...).
var (
	// ErrTruncated indicates the raw buffer ended before a complete message
	// was decoded.
	ErrTruncated = errors.New("fix: truncated message")

	// ErrMalformedField indicates a tag=value pair could not be parsed.
	ErrMalformedField = errors.New("fix: malformed field")

	// ErrMissingBeginString indicates tag 8 was absent or not first.
	ErrMissingBeginString = errors.New("fix: missing or misplaced BeginString")

	// ErrMissingMsgType indicates tag 35 was absent.
	ErrMissingMsgType = errors.New("fix: missing MsgType")

	// ErrMissingMsgSeqNum indicates tag 34 was absent.
	ErrMissingMsgSeqNum = errors.New("fix: missing MsgSeqNum")

	// ErrChecksumMismatch indicates the trailing checksum did not match the
	// computed value.
	ErrChecksumMismatch = errors.New("fix: checksum mismatch")

	// ErrUnknownMsgType indicates Decode was asked to parse a body for a
	// MsgType it does not recognize as a session-level message.
	ErrUnknownMsgType = errors.New("fix: unknown session message type")
)

// noSeqNum is the sentinel MsgSeqNum value for a Header that failed to parse
// a sequence number, distinguishing "absent" from the valid value zero.
const noSeqNum int64 = -1

// field is a single decoded tag=value pair in wire order.
type field struct {
	tag   int
	value string
}

func fieldError(tag int, raw string, err error) error {
	return fmt.Errorf("tag %d value %q: %w: %v", tag, raw, ErrMalformedField, err)
}
