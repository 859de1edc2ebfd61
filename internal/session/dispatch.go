package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcfix/fixrelay/internal/fix"
)

// ApplicationHandler receives application-layer (non-session) messages once
// a Session has accepted them in sequence. It is optional; a Session with
// no handler installed simply advances past application messages.
type ApplicationHandler interface {
	HandleApplicationMessage(ctx context.Context, hdr fix.Header, raw []byte) error
}

// WithApplicationHandler installs the application-layer message handler.
func WithApplicationHandler(h ApplicationHandler) Option {
	return func(s *Session) { s.appHandler = h }
}

// HandleInbound decodes one complete raw FIX message and routes it through
// header validation, sequence-number classification, and the appropriate
// session-level handler (or the installed ApplicationHandler).
func (s *Session) HandleInbound(ctx context.Context, raw []byte, now time.Time) error {
	if s.State() == StateDisconnected {
		return ErrSessionClosed
	}

	hdr, body, err := fix.Decode(raw)
	if err != nil {
		// An undecodable frame (one missing its MsgSeqNum included) leaves
		// no sequence number to reject against and no way to resynchronize
		// the stream; the only safe response is to tear the transport down.
		s.logger.Warn("decode failed, disconnecting", slog.Any("error", err))
		s.applyEvent(now, EventTransportClosed)
		return err
	}

	s.mu.Lock()
	s.lastRecvAt = now
	s.mu.Unlock()
	s.metric.IncMessagesReceived(s.Key())

	if s.testReqAcknowledges(hdr) {
		s.mu.Lock()
		s.testReqPending = false
		s.testReqID = ""
		s.mu.Unlock()
	}

	if err := s.validateHeader(hdr); err != nil {
		s.logger.Error("header validation failed, disconnecting", slog.Any("error", err))
		_ = s.Stop(ctx, now, "header validation failed")
		return err
	}

	if err := s.validateSendingTime(hdr, now); err != nil {
		s.metric.IncRejects(s.Key())
		_ = s.send(ctx, now, fix.MsgTypeReject, &fix.RejectBody{
			RefSeqNum:           hdr.MsgSeqNum,
			RefTagID:            fix.TagSendingTime,
			RefMsgType:          hdr.MsgType,
			SessionRejectReason: fix.RejectReasonSendingTimeAccuracy,
			Text:                err.Error(),
		})
		_ = s.Stop(ctx, now, "sending time accuracy problem")
		return err
	}

	if tagID, reason, err := s.validatePossDup(hdr); err != nil {
		s.metric.IncRejects(s.Key())
		_ = s.send(ctx, now, fix.MsgTypeReject, &fix.RejectBody{
			RefSeqNum:           hdr.MsgSeqNum,
			RefTagID:            tagID,
			RefMsgType:          hdr.MsgType,
			SessionRejectReason: reason,
			Text:                err.Error(),
		})
		return err
	}

	switch s.classifySeqNum(hdr) {
	case seqTooHigh:
		return s.handleGap(ctx, hdr, raw, now)
	case seqTooLowFatal:
		_ = s.Stop(ctx, now, "sequence number too low")
		return fmt.Errorf("seq %d: %w", hdr.MsgSeqNum, ErrSeqNumTooLow)
	case seqTooLowIgnorable:
		if hdr.MsgType == fix.MsgTypeSequenceReset {
			return s.handleSequenceReset(ctx, hdr, body, now)
		}
		s.logger.Debug("ignoring possibly-duplicate message", slog.Int64("seq", hdr.MsgSeqNum))
		return nil
	}

	// seqInOrder.
	s.expectedInSeqNum.Add(1)
	if err := s.dispatchBody(ctx, hdr, body, raw, now); err != nil {
		return err
	}
	return s.drainPending(ctx, now)
}

// testReqAcknowledges reports whether hdr is a Heartbeat echoing the
// currently pending TestRequest.
func (s *Session) testReqAcknowledges(hdr fix.Header) bool {
	if hdr.MsgType != fix.MsgTypeHeartbeat {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.testReqPending
}

// dispatchBody routes a message whose sequence number has already been
// accepted in order.
func (s *Session) dispatchBody(ctx context.Context, hdr fix.Header, body any, raw []byte, now time.Time) error {
	switch hdr.MsgType {
	case fix.MsgTypeLogon:
		return s.handleLogon(ctx, hdr, body.(*fix.LogonBody), now)
	case fix.MsgTypeLogout:
		return s.handleLogout(ctx, hdr, body.(*fix.LogoutBody), now)
	case fix.MsgTypeHeartbeat:
		return nil
	case fix.MsgTypeTestRequest:
		return s.handleTestRequest(ctx, body.(*fix.TestRequestBody), now)
	case fix.MsgTypeReject:
		return s.handleReject(ctx, hdr, body.(*fix.RejectBody))
	case fix.MsgTypeSequenceReset:
		return s.handleSequenceReset(ctx, hdr, body, now)
	case fix.MsgTypeResendRequest:
		return s.handleResendRequest(ctx, body.(*fix.ResendRequestBody), now)
	default:
		if s.appHandler == nil {
			return nil
		}
		return s.appHandler.HandleApplicationMessage(ctx, hdr, raw)
	}
}

// -------------------------------------------------------------------------
// Session-level message handlers
// -------------------------------------------------------------------------

func (s *Session) handleLogon(ctx context.Context, hdr fix.Header, body *fix.LogonBody, now time.Time) error {
	if body.HeartBtInt < 0 {
		s.logger.Warn("logon named negative heartbeat interval, rejecting",
			slog.Int("heart_bt_int", body.HeartBtInt))
		s.metric.IncRejects(s.Key())
		_ = s.send(ctx, now, fix.MsgTypeLogout, &fix.LogoutBody{
			Text: fmt.Sprintf("HeartBtInt %d must not be negative", body.HeartBtInt),
		})
		s.applyEvent(now, EventTransportClosed)
		return fmt.Errorf("heart bt int %d: %w", body.HeartBtInt, ErrNegativeHeartbeat)
	}

	switch s.State() {
	case StateNotLoggedOn:
		if !s.cfg.Initiator && s.auth != nil && !s.auth.Authenticate(body.Username, body.Password) {
			// Silent disconnect: an unauthenticated peer learns nothing
			// about why the connection dropped.
			s.logger.Warn("logon authentication failed", slog.String("username", body.Username))
			s.applyEvent(now, EventTransportClosed)
			return fmt.Errorf("username %q: %w", body.Username, ErrAuthenticationFailed)
		}
		if body.ResetSeqNumFlag {
			s.expectedInSeqNum.Store(hdr.MsgSeqNum + 1)
		}
		s.applyEvent(now, EventRecvLogon)
		if !s.cfg.Initiator {
			return s.sendLogon(ctx, now, body.ResetSeqNumFlag)
		}
		return nil
	case StateLoggedOn:
		if body.ResetSeqNumFlag {
			s.expectedInSeqNum.Store(hdr.MsgSeqNum + 1)
			s.nextOutSeqNum.Store(1)
			return nil
		}
		return ErrAlreadyLoggedOn
	default:
		return ErrAlreadyLoggedOn
	}
}

func (s *Session) handleLogout(ctx context.Context, _ fix.Header, _ *fix.LogoutBody, now time.Time) error {
	if s.State() == StateLoggedOn {
		_ = s.sendLogout(ctx, now, "responding to logout")
	}
	s.applyEvent(now, EventRecvLogout)
	return nil
}

func (s *Session) handleTestRequest(ctx context.Context, body *fix.TestRequestBody, now time.Time) error {
	return s.send(ctx, now, fix.MsgTypeHeartbeat, &fix.HeartbeatBody{TestReqID: body.TestReqID})
}

func (s *Session) handleReject(_ context.Context, hdr fix.Header, body *fix.RejectBody) error {
	s.logger.Warn("received reject",
		slog.Int64("ref_seq_num", body.RefSeqNum),
		slog.Int("reason", body.SessionRejectReason),
		slog.String("text", body.Text),
	)
	s.metric.IncRejects(s.Key())
	_ = hdr
	return nil
}

// handleSequenceReset applies a SequenceReset message. In gap-fill mode the
// new sequence number must exceed the currently expected one: a lower or
// equal NewSeqNo is ignored when the message is a PossDup replay (a stale
// retransmission of an earlier gap fill) and is otherwise a fatal
// low-sequence condition. In reset mode a lower NewSeqNo is accepted as
// "unnecessary but legal" unless the message is itself a PossDup replay, in
// which case it is rejected with VALUE_IS_INCORRECT referencing NewSeqNo.
func (s *Session) handleSequenceReset(ctx context.Context, hdr fix.Header, body any, now time.Time) error {
	sr, ok := body.(*fix.SequenceResetBody)
	if !ok {
		return fmt.Errorf("sequence reset: %w", ErrSessionClosed)
	}

	current := s.expectedInSeqNum.Load()

	if sr.GapFillFlag {
		if sr.NewSeqNo <= current {
			if hdr.IsPossDup() {
				s.logger.Debug("ignoring replayed gap fill",
					slog.Int64("new_seq_no", sr.NewSeqNo), slog.Int64("current", current))
				return nil
			}
			_ = s.Stop(ctx, now, fmt.Sprintf("gap fill NewSeqNo %d not above expected %d", sr.NewSeqNo, current))
			return fmt.Errorf("gap fill new seq no %d <= expected %d: %w", sr.NewSeqNo, current, ErrSeqNumTooLow)
		}
		s.expectedInSeqNum.Store(sr.NewSeqNo)
		return nil
	}

	if sr.NewSeqNo < current && hdr.IsPossDup() {
		s.metric.IncRejects(s.Key())
		_ = s.send(ctx, now, fix.MsgTypeReject, &fix.RejectBody{
			RefSeqNum:           hdr.MsgSeqNum,
			RefTagID:            fix.TagNewSeqNo,
			RefMsgType:          hdr.MsgType,
			SessionRejectReason: fix.RejectReasonValueIncorrect,
			Text:                "NewSeqNo lower than current sequence",
		})
		return fmt.Errorf("new seq no %d < current %d: %w", sr.NewSeqNo, current, ErrInvalidSequenceReset)
	}

	s.expectedInSeqNum.Store(sr.NewSeqNo)
	return nil
}

func (s *Session) handleResendRequest(ctx context.Context, body *fix.ResendRequestBody, now time.Time) error {
	s.mu.Lock()
	msgs := make(map[int64][]byte, len(s.outboundLog))
	for seq, raw := range s.outboundLog {
		msgs[seq] = raw
	}
	s.mu.Unlock()

	end := body.EndSeqNo
	if end == 0 {
		end = s.nextOutSeqNum.Load() - 1
	}

	for seq := body.BeginSeqNo; seq <= end; seq++ {
		if raw, ok := msgs[seq]; ok {
			if err := s.proxy.Send(ctx, raw); err != nil {
				return fmt.Errorf("resend seq %d: %w", seq, err)
			}
			continue
		}
		// No record of this seq (a session-level message, which send does
		// not store): fill the hole with a gap-fill SequenceReset.
		if err := s.send(ctx, now, fix.MsgTypeSequenceReset, &fix.SequenceResetBody{
			GapFillFlag: true,
			NewSeqNo:    seq + 1,
		}); err != nil {
			return fmt.Errorf("gap fill seq %d: %w", seq, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Gap handling
// -------------------------------------------------------------------------

// handleGap buffers an out-of-order message and, if a ResendRequest is not
// already outstanding, requests the missing range.
func (s *Session) handleGap(ctx context.Context, hdr fix.Header, raw []byte, now time.Time) error {
	s.mu.Lock()
	if len(s.pendingInbound) < resendBound {
		s.pendingInbound[hdr.MsgSeqNum] = raw
	}
	alreadyPending := s.resendPending
	s.resendPending = true
	expected := s.expectedInSeqNum.Load()
	s.mu.Unlock()

	if alreadyPending {
		return nil
	}

	s.metric.IncResendRequests(s.Key())
	return s.send(ctx, now, fix.MsgTypeResendRequest, &fix.ResendRequestBody{
		BeginSeqNo: expected,
		EndSeqNo:   0,
	})
}

// drainPending replays any buffered messages that are now in order after a
// gap was filled by a SequenceReset or a resend.
func (s *Session) drainPending(ctx context.Context, now time.Time) error {
	for {
		if s.State() == StateDisconnected {
			return nil
		}

		expected := s.expectedInSeqNum.Load()

		s.mu.Lock()
		// Entries below expected were superseded by a gap fill or reset
		// and will never be drained; drop them so they cannot hold the
		// resend latch open.
		for seq := range s.pendingInbound {
			if seq < expected {
				delete(s.pendingInbound, seq)
			}
		}
		raw, ok := s.pendingInbound[expected]
		if ok {
			delete(s.pendingInbound, expected)
		}
		if len(s.pendingInbound) == 0 {
			s.resendPending = false
		}
		s.mu.Unlock()

		if !ok {
			return nil
		}

		hdr, body, err := fix.Decode(raw)
		if err != nil {
			return err
		}
		s.expectedInSeqNum.Add(1)
		if err := s.dispatchBody(ctx, hdr, body, raw, now); err != nil {
			return err
		}
	}
}
