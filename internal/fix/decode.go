package fix

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// sendingTimeLayout is the FIX UTCTimestamp format (tag 52 / 122), with or
// without millisecond precision.
const sendingTimeLayout = "20060102-15:04:05"
const sendingTimeLayoutMillis = "20060102-15:04:05.000"

// Decode parses one complete FIX message out of raw, returning its Header
// and, when the MsgType is one of the seven session-level messages, the
// corresponding typed body (one of *LogonBody, *LogoutBody, *HeartbeatBody,
// *TestRequestBody, *ResendRequestBody, *RejectBody, *SequenceResetBody). For any other
// MsgType, body is nil and the caller is expected to route the raw bytes
// onward unexamined.
//
// raw must contain exactly one message: tag 8 first, tag 10 last, SOH
// delimited. Decode validates the trailing checksum.
func Decode(raw []byte) (Header, any, error) {
	fields, err := splitFields(raw)
	if err != nil {
		return Header{}, nil, err
	}
	if len(fields) == 0 {
		return Header{}, nil, ErrTruncated
	}

	if err := verifyChecksum(raw, fields); err != nil {
		return Header{}, nil, err
	}

	hdr := Header{MsgSeqNum: noSeqNum}
	var body any

	for i, f := range fields {
		switch f.tag {
		case TagBeginString:
			if i != 0 {
				return Header{}, nil, ErrMissingBeginString
			}
			hdr.BeginString = f.value
		case TagMsgType:
			hdr.MsgType = f.value
		case TagMsgSeqNum:
			n, err := strconv.ParseInt(f.value, 10, 64)
			if err != nil {
				return Header{}, nil, fieldError(f.tag, f.value, err)
			}
			hdr.MsgSeqNum = n
		case TagSenderCompID:
			hdr.SenderCompID = f.value
		case TagSenderSubID:
			hdr.SenderSubID = f.value
		case TagTargetCompID:
			hdr.TargetCompID = f.value
		case TagPossDupFlag:
			hdr.PossDupFlag = f.value == "Y"
		case TagPossResend:
			hdr.PossResend = f.value == "Y"
		case TagSendingTime:
			t, err := parseFixTime(f.value)
			if err != nil {
				return Header{}, nil, fieldError(f.tag, f.value, err)
			}
			hdr.SendingTime = t
		case TagOrigSendingTime:
			t, err := parseFixTime(f.value)
			if err != nil {
				return Header{}, nil, fieldError(f.tag, f.value, err)
			}
			hdr.OrigSendingTime = t
		}
	}

	if hdr.BeginString == "" {
		return Header{}, nil, ErrMissingBeginString
	}
	if hdr.MsgType == "" {
		return Header{}, nil, ErrMissingMsgType
	}
	if hdr.MsgSeqNum == noSeqNum {
		return Header{}, nil, ErrMissingMsgSeqNum
	}

	if hdr.IsSessionLevel() {
		b, err := decodeBody(hdr.MsgType, fields)
		if err != nil {
			return Header{}, nil, err
		}
		body = b
	}

	return hdr, body, nil
}

// decodeBody dispatches to the message-specific field extraction for a
// known session-level MsgType.
func decodeBody(msgType string, fields []field) (any, error) {
	switch msgType {
	case MsgTypeLogon:
		b := &LogonBody{}
		for _, f := range fields {
			switch f.tag {
			case tagEncryptMethod:
				n, err := strconv.Atoi(f.value)
				if err != nil {
					return nil, fieldError(f.tag, f.value, err)
				}
				b.EncryptMethod = n
			case tagHeartBtInt:
				n, err := strconv.Atoi(f.value)
				if err != nil {
					return nil, fieldError(f.tag, f.value, err)
				}
				b.HeartBtInt = n
			case tagResetSeqNumFlag:
				b.ResetSeqNumFlag = f.value == "Y"
			case tagUsername:
				b.Username = f.value
			case tagPassword:
				b.Password = f.value
			}
		}
		return b, nil

	case MsgTypeLogout:
		b := &LogoutBody{}
		for _, f := range fields {
			if f.tag == tagText {
				b.Text = f.value
			}
		}
		return b, nil

	case MsgTypeResendRequest:
		b := &ResendRequestBody{}
		for _, f := range fields {
			switch f.tag {
			case tagBeginSeqNo:
				n, err := strconv.ParseInt(f.value, 10, 64)
				if err != nil {
					return nil, fieldError(f.tag, f.value, err)
				}
				b.BeginSeqNo = n
			case tagEndSeqNo:
				n, err := strconv.ParseInt(f.value, 10, 64)
				if err != nil {
					return nil, fieldError(f.tag, f.value, err)
				}
				b.EndSeqNo = n
			}
		}
		return b, nil

	case MsgTypeHeartbeat:
		b := &HeartbeatBody{}
		for _, f := range fields {
			if f.tag == tagTestReqID {
				b.TestReqID = f.value
			}
		}
		return b, nil

	case MsgTypeTestRequest:
		b := &TestRequestBody{}
		for _, f := range fields {
			if f.tag == tagTestReqID {
				b.TestReqID = f.value
			}
		}
		return b, nil

	case MsgTypeReject:
		b := &RejectBody{}
		for _, f := range fields {
			switch f.tag {
			case tagRefSeqNum:
				n, err := strconv.ParseInt(f.value, 10, 64)
				if err != nil {
					return nil, fieldError(f.tag, f.value, err)
				}
				b.RefSeqNum = n
			case tagRefTagID:
				n, err := strconv.Atoi(f.value)
				if err != nil {
					return nil, fieldError(f.tag, f.value, err)
				}
				b.RefTagID = n
			case tagRefMsgType:
				b.RefMsgType = f.value
			case tagSessionRejectReason:
				n, err := strconv.Atoi(f.value)
				if err != nil {
					return nil, fieldError(f.tag, f.value, err)
				}
				b.SessionRejectReason = n
			case tagText:
				b.Text = f.value
			}
		}
		return b, nil

	case MsgTypeSequenceReset:
		b := &SequenceResetBody{}
		for _, f := range fields {
			switch f.tag {
			case tagGapFillFlag:
				b.GapFillFlag = f.value == "Y"
			case tagNewSeqNo:
				n, err := strconv.ParseInt(f.value, 10, 64)
				if err != nil {
					return nil, fieldError(f.tag, f.value, err)
				}
				b.NewSeqNo = n
			}
		}
		return b, nil

	default:
		return nil, fmt.Errorf("%s: %w", msgType, ErrUnknownMsgType)
	}
}

// splitFields parses raw into an ordered slice of tag=value pairs,
// delimited by SOH, excluding the trailing checksum field.
func splitFields(raw []byte) ([]field, error) {
	raw = bytes.TrimSuffix(raw, []byte{SOH})
	if len(raw) == 0 {
		return nil, ErrTruncated
	}

	parts := bytes.Split(raw, []byte{SOH})
	fields := make([]field, 0, len(parts))

	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		eq := bytes.IndexByte(p, '=')
		if eq < 1 {
			return nil, fmt.Errorf("%q: %w", p, ErrMalformedField)
		}
		tag, err := strconv.Atoi(string(p[:eq]))
		if err != nil {
			return nil, fmt.Errorf("%q: %w: %v", p, ErrMalformedField, err)
		}
		if tag == TagCheckSum {
			continue
		}
		fields = append(fields, field{tag: tag, value: string(p[eq+1:])})
	}

	return fields, nil
}

// verifyChecksum recomputes the FIX checksum over raw (mod 256 sum of all
// bytes up to and excluding the checksum field) and compares it against the
// trailing 10= field.
func verifyChecksum(raw []byte, fields []field) error {
	idx := bytes.LastIndex(raw, []byte("10="))
	if idx < 0 || idx == 0 || raw[idx-1] != SOH {
		return fmt.Errorf("10=: %w", ErrMalformedField)
	}

	var sum byte
	for _, b := range raw[:idx] {
		sum += b
	}

	end := bytes.IndexByte(raw[idx:], SOH)
	var wantStr string
	if end < 0 {
		wantStr = string(raw[idx+3:])
	} else {
		wantStr = string(raw[idx+3 : idx+end])
	}

	want, err := strconv.Atoi(wantStr)
	if err != nil {
		return fmt.Errorf("10=%s: %w: %v", wantStr, ErrMalformedField, err)
	}

	if int(sum) != want {
		return fmt.Errorf("computed %d, wire %d: %w", sum, want, ErrChecksumMismatch)
	}

	return nil
}

// parseFixTime parses a FIX UTCTimestamp (tag 52/122), accepting both
// second and millisecond precision.
func parseFixTime(s string) (time.Time, error) {
	if t, err := time.Parse(sendingTimeLayoutMillis, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(sendingTimeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
