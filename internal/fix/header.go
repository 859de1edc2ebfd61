package fix

import "time"

// Header carries the administrative fields common to every FIX message,
// decoded ahead of the message-specific body.
type Header struct {
	BeginString  string
	MsgType      string
	MsgSeqNum    int64
	SenderCompID string
	SenderSubID  string
	TargetCompID string

	PossDupFlag bool
	PossResend  bool

	SendingTime     time.Time
	OrigSendingTime time.Time
}

// OutboundHeader carries the fields the caller supplies when encoding a new
// message; BodyLength and CheckSum are computed by Encode.
type OutboundHeader struct {
	BeginString  string
	MsgSeqNum    int64
	SenderCompID string
	SenderSubID  string
	TargetCompID string

	PossDupFlag bool
	PossResend  bool

	SendingTime     time.Time
	OrigSendingTime time.Time
}

// SessionKey identifies a session by its composite key, per the session
// identification rule: (SenderCompID, SenderSubID, TargetCompID).
func (h Header) SessionKey() string {
	return h.SenderCompID + "|" + h.SenderSubID + "|" + h.TargetCompID
}

// IsPossDup reports whether the message may be a retransmission: true
// whenever either PossDupFlag or PossResend is set, since both mark a
// message as a possible retransmission for the purposes of sequence-number
// and SequenceReset processing.
func (h Header) IsPossDup() bool {
	return h.PossDupFlag || h.PossResend
}

// IsSessionLevel reports whether MsgType names one of the seven session-layer
// administrative messages this package decodes bodies for.
func (h Header) IsSessionLevel() bool {
	switch h.MsgType {
	case MsgTypeHeartbeat, MsgTypeLogon, MsgTypeTestRequest,
		MsgTypeResendRequest, MsgTypeReject, MsgTypeSequenceReset, MsgTypeLogout:
		return true
	default:
		return false
	}
}
