package session

import "errors"

// Sentinel errors for the session package. Wrapped with context via
// fmt.Errorf("...: %w", ...) at the call site.
var (
	// ErrWrongBeginString indicates a message's BeginString does not match
	// the session's configured FIX version.
	ErrWrongBeginString = errors.New("session: begin string mismatch")

	// ErrWrongCompIDs indicates a message's SenderCompID/TargetCompID pair
	// does not match this session's composite key.
	ErrWrongCompIDs = errors.New("session: comp id mismatch")

	// ErrSendingTimeOutOfWindow indicates a message's SendingTime drifted
	// further from local time than the configured window allows.
	ErrSendingTimeOutOfWindow = errors.New("session: sending time outside window")

	// ErrSeqNumTooLow indicates a message arrived with a MsgSeqNum lower
	// than expected and without PossDupFlag set.
	ErrSeqNumTooLow = errors.New("session: sequence number too low")

	// ErrLogonBeforeLoggedOn indicates an application-level message arrived
	// before the session reached LoggedOn.
	ErrLogonBeforeLoggedOn = errors.New("session: message received before logon")

	// ErrAlreadyLoggedOn indicates a second Logon arrived while the session
	// was already LoggedOn without ResetSeqNumFlag.
	ErrAlreadyLoggedOn = errors.New("session: unexpected logon while already logged on")

	// ErrNotFound indicates no session exists for the requested key.
	ErrNotFound = errors.New("session: not found")

	// ErrDuplicateSession indicates a session already exists for the given
	// composite key.
	ErrDuplicateSession = errors.New("session: duplicate session key")

	// ErrSessionClosed indicates an operation was attempted on a session
	// that has already transitioned to Disconnected.
	ErrSessionClosed = errors.New("session: closed")

	// ErrRequiredTagMissing indicates a PossDup message arrived without an
	// OrigSendingTime, which FIX requires whenever PossDupFlag is set.
	ErrRequiredTagMissing = errors.New("session: required tag missing")

	// ErrInvalidSequenceReset indicates a SequenceReset in reset mode named a
	// NewSeqNo the session cannot accept (a PossDup replay of a value lower
	// than already processed).
	ErrInvalidSequenceReset = errors.New("session: invalid sequence reset")

	// ErrAuthenticationFailed indicates an inbound Logon's credentials were
	// refused by the installed Authenticator. The session disconnects
	// silently: no Logout or Reject is sent to an unauthenticated peer.
	ErrAuthenticationFailed = errors.New("session: authentication failed")

	// ErrNegativeHeartbeat indicates an inbound Logon named a negative
	// HeartBtInt, which is never valid; the session rejects it with a
	// Logout and disconnects rather than adopting it.
	ErrNegativeHeartbeat = errors.New("session: negative heartbeat interval")
)
