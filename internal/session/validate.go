package session

import (
	"fmt"
	"time"

	"github.com/arcfix/fixrelay/internal/fix"
)

// validateHeader checks BeginString and the CompID pair before any
// sequence-number or SendingTime processing. Per convention, a BeginString
// or CompID mismatch is fatal: the caller disconnects rather than sending a
// Reject, since the counterparty cannot be trusted to be this session at
// all.
func (s *Session) validateHeader(hdr fix.Header) error {
	if hdr.BeginString != s.cfg.BeginString {
		return fmt.Errorf("got %q want %q: %w", hdr.BeginString, s.cfg.BeginString, ErrWrongBeginString)
	}
	if hdr.SenderCompID != s.cfg.TargetCompID || hdr.TargetCompID != s.cfg.SenderCompID {
		return fmt.Errorf("sender=%q target=%q: %w", hdr.SenderCompID, hdr.TargetCompID, ErrWrongCompIDs)
	}
	return nil
}

// validateSendingTime enforces the configured SendingTimeWindow.
func (s *Session) validateSendingTime(hdr fix.Header, now time.Time) error {
	if hdr.SendingTime.IsZero() || s.cfg.SendingTimeWindow <= 0 {
		return nil
	}
	drift := now.Sub(hdr.SendingTime)
	if drift < 0 {
		drift = -drift
	}
	if drift > s.cfg.SendingTimeWindow {
		return fmt.Errorf("drift %s exceeds window %s: %w", drift, s.cfg.SendingTimeWindow, ErrSendingTimeOutOfWindow)
	}
	return nil
}

// validatePossDup enforces the two PossDup-related checks the FIX session
// layer requires before sequence-number processing: OrigSendingTime must be
// present on any PossDup/PossResend message, and it must not postdate
// SendingTime. tagID and reason describe the Reject to emit; both are zero
// when the message passes (err is nil).
func (s *Session) validatePossDup(hdr fix.Header) (tagID, reason int, err error) {
	if !hdr.IsPossDup() {
		return 0, 0, nil
	}
	if hdr.OrigSendingTime.IsZero() {
		return fix.TagOrigSendingTime, fix.RejectReasonRequiredTagMissing,
			fmt.Errorf("poss dup without orig sending time: %w", ErrRequiredTagMissing)
	}
	if hdr.OrigSendingTime.After(hdr.SendingTime) {
		return fix.TagOrigSendingTime, fix.RejectReasonSendingTimeAccuracy,
			fmt.Errorf("orig sending time %s after sending time %s: %w", hdr.OrigSendingTime, hdr.SendingTime, ErrSendingTimeOutOfWindow)
	}
	return 0, 0, nil
}

// seqNumOutcome classifies an inbound MsgSeqNum relative to the session's
// expected value.
type seqNumOutcome int

const (
	// seqInOrder is the expected value; processing continues normally and
	// expectedInSeqNum advances by one.
	seqInOrder seqNumOutcome = iota

	// seqTooHigh indicates a gap: one or more messages were missed. The
	// caller must request a resend.
	seqTooHigh

	// seqTooLowFatal indicates a duplicate-looking message without
	// PossDupFlag, which is never valid and ends the session.
	seqTooLowFatal

	// seqTooLowIgnorable indicates a message the peer is legitimately
	// replaying (is_poss_dup=Y); a SequenceReset is still applied, any
	// other message is ignored, and the sequence counter does not advance.
	seqTooLowIgnorable
)

// classifySeqNum compares hdr.MsgSeqNum to the session's expected inbound
// sequence number. IsPossDup (PossDupFlag or PossResend) governs whether a
// low sequence number is a legitimate replay or a fatal gap.
func (s *Session) classifySeqNum(hdr fix.Header) seqNumOutcome {
	expected := s.expectedInSeqNum.Load()

	switch {
	case hdr.MsgSeqNum == expected:
		return seqInOrder
	case hdr.MsgSeqNum > expected:
		return seqTooHigh
	case hdr.IsPossDup():
		return seqTooLowIgnorable
	default:
		return seqTooLowFatal
	}
}
