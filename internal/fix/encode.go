package fix

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupportedBody indicates Encode was given a body value that does not
// match msgType.
var ErrUnsupportedBody = errors.New("fix: body does not match msg type")

// Encode serializes a session-level message into wire bytes: BeginString
// and BodyLength first, the body fields (header fields plus msgType-
// specific fields) in between, and a trailing checksum field.
//
// body must be one of *LogonBody, *LogoutBody, *HeartbeatBody,
// *TestRequestBody, *ResendRequestBody, *RejectBody, *SequenceResetBody matching msgType, or nil
// for message types with no additional fields.
func Encode(msgType string, body any, header OutboundHeader) ([]byte, error) {
	var b strings.Builder

	writeField(&b, TagMsgType, msgType)
	writeField(&b, TagSenderCompID, header.SenderCompID)
	if header.SenderSubID != "" {
		writeField(&b, TagSenderSubID, header.SenderSubID)
	}
	writeField(&b, TagTargetCompID, header.TargetCompID)
	writeField(&b, TagMsgSeqNum, strconv.FormatInt(header.MsgSeqNum, 10))
	if header.PossDupFlag {
		writeField(&b, TagPossDupFlag, "Y")
	}
	if header.PossResend {
		writeField(&b, TagPossResend, "Y")
	}
	if !header.SendingTime.IsZero() {
		writeField(&b, TagSendingTime, header.SendingTime.UTC().Format(sendingTimeLayoutMillis))
	}
	if !header.OrigSendingTime.IsZero() {
		writeField(&b, TagOrigSendingTime, header.OrigSendingTime.UTC().Format(sendingTimeLayoutMillis))
	}

	if err := writeBody(&b, msgType, body); err != nil {
		return nil, err
	}

	bodyStr := b.String()

	var full strings.Builder
	writeField(&full, TagBeginString, header.BeginString)
	writeField(&full, TagBodyLength, strconv.Itoa(len(bodyStr)))
	full.WriteString(bodyStr)

	out := []byte(full.String())

	var sum byte
	for _, c := range out {
		sum += c
	}
	out = append(out, []byte(fmt.Sprintf("10=%03d%c", sum, SOH))...)

	return out, nil
}

func writeBody(b *strings.Builder, msgType string, body any) error {
	switch msgType {
	case MsgTypeLogon:
		v, ok := body.(*LogonBody)
		if !ok {
			return fmt.Errorf("logon: %w", ErrUnsupportedBody)
		}
		writeField(b, tagEncryptMethod, strconv.Itoa(v.EncryptMethod))
		writeField(b, tagHeartBtInt, strconv.Itoa(v.HeartBtInt))
		if v.ResetSeqNumFlag {
			writeField(b, tagResetSeqNumFlag, "Y")
		}
		if v.Username != "" {
			writeField(b, tagUsername, v.Username)
		}
		if v.Password != "" {
			writeField(b, tagPassword, v.Password)
		}

	case MsgTypeLogout:
		v, ok := body.(*LogoutBody)
		if !ok {
			return fmt.Errorf("logout: %w", ErrUnsupportedBody)
		}
		if v.Text != "" {
			writeField(b, tagText, v.Text)
		}

	case MsgTypeResendRequest:
		v, ok := body.(*ResendRequestBody)
		if !ok {
			return fmt.Errorf("resend request: %w", ErrUnsupportedBody)
		}
		writeField(b, tagBeginSeqNo, strconv.FormatInt(v.BeginSeqNo, 10))
		writeField(b, tagEndSeqNo, strconv.FormatInt(v.EndSeqNo, 10))

	case MsgTypeHeartbeat:
		v, ok := body.(*HeartbeatBody)
		if !ok {
			return fmt.Errorf("heartbeat: %w", ErrUnsupportedBody)
		}
		if v.TestReqID != "" {
			writeField(b, tagTestReqID, v.TestReqID)
		}

	case MsgTypeTestRequest:
		v, ok := body.(*TestRequestBody)
		if !ok {
			return fmt.Errorf("test request: %w", ErrUnsupportedBody)
		}
		writeField(b, tagTestReqID, v.TestReqID)

	case MsgTypeReject:
		v, ok := body.(*RejectBody)
		if !ok {
			return fmt.Errorf("reject: %w", ErrUnsupportedBody)
		}
		writeField(b, tagRefSeqNum, strconv.FormatInt(v.RefSeqNum, 10))
		if v.RefTagID != 0 {
			writeField(b, tagRefTagID, strconv.Itoa(v.RefTagID))
		}
		if v.RefMsgType != "" {
			writeField(b, tagRefMsgType, v.RefMsgType)
		}
		writeField(b, tagSessionRejectReason, strconv.Itoa(v.SessionRejectReason))
		if v.Text != "" {
			writeField(b, tagText, v.Text)
		}

	case MsgTypeSequenceReset:
		v, ok := body.(*SequenceResetBody)
		if !ok {
			return fmt.Errorf("sequence reset: %w", ErrUnsupportedBody)
		}
		if v.GapFillFlag {
			writeField(b, tagGapFillFlag, "Y")
		}
		writeField(b, tagNewSeqNo, strconv.FormatInt(v.NewSeqNo, 10))

	default:
		return fmt.Errorf("%s: %w", msgType, ErrUnknownMsgType)
	}

	return nil
}

func writeField(b *strings.Builder, tag int, value string) {
	b.WriteString(strconv.Itoa(tag))
	b.WriteByte('=')
	b.WriteString(value)
	b.WriteByte(SOH)
}
