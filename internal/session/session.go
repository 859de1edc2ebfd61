package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arcfix/fixrelay/internal/fix"
)

// -------------------------------------------------------------------------
// Configuration
// -------------------------------------------------------------------------

// Config describes the static parameters of one FIX session instance.
type Config struct {
	BeginString  string
	SenderCompID string
	SenderSubID  string
	TargetCompID string

	HeartbeatInterval time.Duration
	SendingTimeWindow time.Duration

	// Initiator is true when this side sends the first Logon on connect.
	Initiator bool

	// ResetOnLogon requests ResetSeqNumFlag=Y on an initiating Logon.
	ResetOnLogon bool

	// Username and Password are carried on an initiating Logon, if set.
	Username string
	Password string
}

// Key returns the session's composite identity.
func (c Config) Key() string {
	return c.SenderCompID + "|" + c.SenderSubID + "|" + c.TargetCompID
}

// -------------------------------------------------------------------------
// Metrics
// -------------------------------------------------------------------------

// MetricsReporter receives session lifecycle events for observability. A
// noopMetrics is used when no collector is configured, so Session never
// nil-checks its metrics field.
type MetricsReporter interface {
	RegisterSession(sessionKey string)
	UnregisterSession(sessionKey string)
	IncMessagesSent(sessionKey string)
	IncMessagesReceived(sessionKey string)
	RecordStateTransition(sessionKey, from, to string)
	IncResendRequests(sessionKey string)
	IncRejects(sessionKey string)
}

type noopMetrics struct{}

func (noopMetrics) RegisterSession(string)                       {}
func (noopMetrics) UnregisterSession(string)                     {}
func (noopMetrics) IncMessagesSent(string)                       {}
func (noopMetrics) IncMessagesReceived(string)                   {}
func (noopMetrics) RecordStateTransition(string, string, string) {}
func (noopMetrics) IncResendRequests(string)                     {}
func (noopMetrics) IncRejects(string)                            {}

// -------------------------------------------------------------------------
// Session
// -------------------------------------------------------------------------

// resendBound caps how many out-of-order inbound messages a session will
// buffer while waiting for a gap to be filled. Once that many are
// buffered, further out-of-order messages are dropped, and no new
// ResendRequest is sent for them.
const resendBound = 4096

// Session drives one FIX counterparty connection's session-layer protocol:
// Logon/Logout/Heartbeat/TestRequest/Reject/SequenceReset, sequence-number
// and SendingTime validation, and resend/gap-fill.
//
// A Session holds no goroutine of its own. It is driven cooperatively: the
// transport layer calls HandleInbound as bytes arrive, and an external
// runner calls Poll(now) on a schedule to drive heartbeats and timeouts
// (see the agent package).
type Session struct {
	cfg    Config
	proxy  SessionProxy
	logger *slog.Logger
	metric MetricsReporter

	state atomic.Uint32 // State

	nextOutSeqNum    atomic.Int64
	expectedInSeqNum atomic.Int64

	mu sync.Mutex

	lastSentAt time.Time
	lastRecvAt time.Time

	logonDeadline time.Time

	testReqPending bool
	testReqID      string
	testReqSentAt  time.Time

	logoutDeadline time.Time

	// outboundLog stores sent messages, keyed by MsgSeqNum, that a
	// ResendRequest from the peer replays verbatim. Session-level messages
	// (Logon/Logout/Heartbeat/TestRequest/ResendRequest/Reject/
	// SequenceReset) are not stored; a resend covers their sequence
	// numbers with a gap-fill SequenceReset instead, per convention.
	outboundLog map[int64][]byte

	// pendingInbound buffers out-of-order inbound messages received
	// while MsgSeqNum is ahead of expectedInSeqNum and a ResendRequest is
	// outstanding.
	pendingInbound map[int64][]byte
	resendPending  bool

	appHandler ApplicationHandler
	auth       Authenticator

	notify func(StateChange)
}

// withStateNotifier installs a callback invoked on every connection-
// lifecycle state transition. Used by Manager to fan state changes out to
// StateChanges().
func withStateNotifier(f func(StateChange)) Option {
	return func(s *Session) { s.notify = f }
}

// Option configures a Session at construction time.
type Option func(*Session)

// WithMetrics installs a MetricsReporter. The default is a no-op reporter.
func WithMetrics(m MetricsReporter) Option {
	return func(s *Session) { s.metric = m }
}

// Authenticator decides whether an inbound Logon's credentials are
// acceptable. Implementations must be safe for concurrent use; one
// Authenticator typically serves every acceptor session on a node.
type Authenticator interface {
	Authenticate(username, password string) bool
}

// WithAuthenticator installs the credential check applied to inbound
// Logons. Without one, every Logon's credentials are accepted.
func WithAuthenticator(a Authenticator) Option {
	return func(s *Session) { s.auth = a }
}

// New creates a Session in StateNotLoggedOn with outbound/inbound sequence
// numbers starting at 1.
func New(cfg Config, proxy SessionProxy, logger *slog.Logger, opts ...Option) *Session {
	s := &Session{
		cfg:            cfg,
		proxy:          proxy,
		logger:         logger.With(slog.String("session", cfg.Key())),
		metric:         noopMetrics{},
		outboundLog:    make(map[int64][]byte),
		pendingInbound: make(map[int64][]byte),
	}
	s.nextOutSeqNum.Store(1)
	s.expectedInSeqNum.Store(1)

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// State returns the current connection-lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Key returns the session's composite identity.
func (s *Session) Key() string {
	return s.cfg.Key()
}

// -------------------------------------------------------------------------
// Lifecycle
// -------------------------------------------------------------------------

// Start arms the logon timeout and, if this side is the Initiator, sends
// the first Logon.
func (s *Session) Start(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	s.logonDeadline = now.Add(s.cfg.HeartbeatInterval)
	s.mu.Unlock()

	s.metric.RegisterSession(s.Key())

	if s.cfg.Initiator {
		return s.sendLogon(ctx, now, s.cfg.ResetOnLogon)
	}
	return nil
}

// Stop sends a Logout (if currently LoggedOn) and transitions the session
// toward Disconnected.
func (s *Session) Stop(ctx context.Context, now time.Time, reason string) error {
	if s.State() == StateLoggedOn {
		if err := s.sendLogout(ctx, now, reason); err != nil {
			return err
		}
	}
	s.applyEvent(now, EventTransportClosed)
	return nil
}

// applyEvent runs the connection-lifecycle FSM and executes the returned
// actions.
func (s *Session) applyEvent(now time.Time, ev Event) FSMResult {
	old := s.State()
	res := ApplyEvent(old, ev)
	if !res.Changed {
		return res
	}

	s.state.Store(uint32(res.NewState))
	s.metric.RecordStateTransition(s.Key(), old.String(), res.NewState.String())
	s.logger.Info("session state transition",
		slog.String("from", old.String()), slog.String("to", res.NewState.String()), slog.String("event", ev.String()))

	if s.notify != nil {
		s.notify(StateChange{SessionKey: s.Key(), OldState: old, NewState: res.NewState, Timestamp: now})
	}

	for _, a := range res.Actions {
		switch a {
		case ActionStartHeartbeatTimer:
			s.mu.Lock()
			s.lastRecvAt = now
			s.lastSentAt = now
			s.mu.Unlock()
		case ActionStopHeartbeatTimer:
			s.mu.Lock()
			s.logoutDeadline = now.Add(s.cfg.HeartbeatInterval)
			s.mu.Unlock()
		case ActionNotifyDisconnected:
			s.metric.UnregisterSession(s.Key())
		case ActionNotifyLoggedOn, ActionCloseTransport:
			// Observable via State(); no further bookkeeping needed here.
		}
	}

	return res
}

// -------------------------------------------------------------------------
// Poll — timer-driven work, called cooperatively by the agent runner.
// -------------------------------------------------------------------------

// Poll advances timers and returns the number of actions taken (messages
// sent, timeouts fired). A runner calls Poll(now) repeatedly; Poll never
// blocks.
func (s *Session) Poll(ctx context.Context, now time.Time) int {
	work := 0

	switch s.State() {
	case StateNotLoggedOn:
		s.mu.Lock()
		deadline := s.logonDeadline
		s.mu.Unlock()
		if !deadline.IsZero() && now.After(deadline) {
			s.applyEvent(now, EventLogonTimeout)
			work++
		}

	case StateLoggedOn:
		work += s.pollHeartbeat(ctx, now)

	case StateLogoutInProgress:
		s.mu.Lock()
		deadline := s.logoutDeadline
		s.mu.Unlock()
		if !deadline.IsZero() && now.After(deadline) {
			s.applyEvent(now, EventLogoutTimeout)
			work++
		}
	}

	return work
}

// pollHeartbeat implements the classic heartbeat/test-request timer pair:
// send an unsolicited Heartbeat after HeartbeatInterval of outbound
// silence; send a TestRequest after HeartbeatInterval of inbound silence;
// disconnect if the TestRequest itself goes unanswered for another
// HeartbeatInterval.
func (s *Session) pollHeartbeat(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	sinceSent := now.Sub(s.lastSentAt)
	sinceRecv := now.Sub(s.lastRecvAt)
	testPending := s.testReqPending
	testSentAt := s.testReqSentAt
	s.mu.Unlock()

	work := 0

	if testPending {
		if now.Sub(testSentAt) > s.cfg.HeartbeatInterval {
			s.logger.Warn("test request timed out, disconnecting")
			_ = s.Stop(ctx, now, "test request timeout")
			return work + 1
		}
		return work
	}

	if sinceRecv >= s.cfg.HeartbeatInterval {
		reqID := fmt.Sprintf("TR-%d", now.UnixNano())
		if err := s.send(ctx, now, fix.MsgTypeTestRequest, &fix.TestRequestBody{TestReqID: reqID}); err != nil {
			s.logger.Error("send test request failed", slog.Any("error", err))
		} else {
			s.mu.Lock()
			s.testReqPending = true
			s.testReqID = reqID
			s.testReqSentAt = now
			s.mu.Unlock()
			work++
		}
		return work
	}

	if sinceSent >= s.cfg.HeartbeatInterval {
		if err := s.send(ctx, now, fix.MsgTypeHeartbeat, &fix.HeartbeatBody{}); err != nil {
			s.logger.Error("send heartbeat failed", slog.Any("error", err))
		} else {
			work++
		}
	}

	return work
}

// -------------------------------------------------------------------------
// Outbound
// -------------------------------------------------------------------------

func (s *Session) sendLogon(ctx context.Context, now time.Time, reset bool) error {
	if reset {
		s.nextOutSeqNum.Store(1)
		s.expectedInSeqNum.Store(1)
	}
	return s.send(ctx, now, fix.MsgTypeLogon, &fix.LogonBody{
		HeartBtInt:      int(s.cfg.HeartbeatInterval / time.Second),
		ResetSeqNumFlag: reset,
		Username:        s.cfg.Username,
		Password:        s.cfg.Password,
	})
}

func (s *Session) sendLogout(ctx context.Context, now time.Time, reason string) error {
	if err := s.send(ctx, now, fix.MsgTypeLogout, &fix.LogoutBody{Text: reason}); err != nil {
		return err
	}
	s.applyEvent(now, EventSendLogout)
	return nil
}

// send encodes and transmits one session-level message, advancing and
// recording the outbound sequence number.
func (s *Session) send(ctx context.Context, now time.Time, msgType string, body any) error {
	seq := s.nextOutSeqNum.Add(1) - 1

	raw, err := fix.Encode(msgType, body, fix.OutboundHeader{
		BeginString:  s.cfg.BeginString,
		SenderCompID: s.cfg.SenderCompID,
		SenderSubID:  s.cfg.SenderSubID,
		TargetCompID: s.cfg.TargetCompID,
		MsgSeqNum:    seq,
		SendingTime:  now,
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", msgType, err)
	}

	if err := s.proxy.Send(ctx, raw); err != nil {
		return fmt.Errorf("proxy send %s: %w", msgType, err)
	}

	s.mu.Lock()
	if !(fix.Header{MsgType: msgType}).IsSessionLevel() {
		s.outboundLog[seq] = raw
	}
	s.lastSentAt = now
	s.mu.Unlock()

	s.metric.IncMessagesSent(s.Key())
	return nil
}
