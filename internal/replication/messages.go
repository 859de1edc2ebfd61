package replication

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// msgKind tags which control-stream message a frame carries, so Follower,
// Candidate and Leader can share one control Subscription.
type msgKind uint8

const (
	msgRequestVote msgKind = iota + 1
	msgReplyVote
	msgConsensusHeartbeat
)

// ErrShortMessage indicates a control or acknowledgement frame was too
// short to decode.
var ErrShortMessage = errors.New("replication: short message")

// ErrUnknownMessage indicates a control frame's kind tag was not
// recognized.
var ErrUnknownMessage = errors.New("replication: unknown message kind")

// RequestVote is broadcast by a Candidate on the control stream to solicit
// votes for a new term.
type RequestVote struct {
	Term         int64
	CandidateID  int64
	LastPosition int64
}

// ReplyVote answers a RequestVote, broadcast on the control stream so every
// node (not just the candidate) can observe the outcome.
type ReplyVote struct {
	Term    int64
	VoterID int64
	Granted bool
}

// ConsensusHeartbeat is broadcast by the Leader to assert its term and
// advertise its commit progress.
type ConsensusHeartbeat struct {
	Term            int64
	LeaderID        int64
	LeaderSessionID int64
	Position        int64
	CommitPosition  int64
}

// Acknowledge is published by a Follower on the acknowledgement stream to
// report its replication progress to the Leader.
type Acknowledge struct {
	Term     int64
	NodeID   int64
	Position int64
}

// EncodeRequestVote serializes m for publication on the control stream.
func EncodeRequestVote(m RequestVote) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(msgRequestVote))
	_ = binary.Write(buf, binary.BigEndian, m)
	return buf.Bytes()
}

// EncodeReplyVote serializes m for publication on the control stream.
func EncodeReplyVote(m ReplyVote) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(msgReplyVote))
	_ = binary.Write(buf, binary.BigEndian, m.Term)
	_ = binary.Write(buf, binary.BigEndian, m.VoterID)
	_ = binary.Write(buf, binary.BigEndian, m.Granted)
	return buf.Bytes()
}

// EncodeConsensusHeartbeat serializes m for publication on the control
// stream.
func EncodeConsensusHeartbeat(m ConsensusHeartbeat) []byte {
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(msgConsensusHeartbeat))
	_ = binary.Write(buf, binary.BigEndian, m)
	return buf.Bytes()
}

// EncodeAcknowledge serializes m for publication on the acknowledgement
// stream.
func EncodeAcknowledge(m Acknowledge) []byte {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.BigEndian, m)
	return buf.Bytes()
}

// DecodeAcknowledge parses a frame from the acknowledgement stream.
func DecodeAcknowledge(raw []byte) (Acknowledge, error) {
	var m Acknowledge
	if err := binary.Read(bytes.NewReader(raw), binary.BigEndian, &m); err != nil {
		return Acknowledge{}, fmt.Errorf("decode acknowledge: %w", ErrShortMessage)
	}
	return m, nil
}

// ControlMessage is the decoded result of DecodeControl: exactly one of
// RequestVote, ReplyVote or Heartbeat is non-nil, matching the frame's tag.
type ControlMessage struct {
	RequestVote *RequestVote
	ReplyVote   *ReplyVote
	Heartbeat   *ConsensusHeartbeat
}

// DecodeControl parses one frame from the control stream, dispatching on
// its leading kind tag.
func DecodeControl(raw []byte) (ControlMessage, error) {
	if len(raw) < 1 {
		return ControlMessage{}, ErrShortMessage
	}
	r := bytes.NewReader(raw[1:])

	switch msgKind(raw[0]) {
	case msgRequestVote:
		var m RequestVote
		if err := binary.Read(r, binary.BigEndian, &m); err != nil {
			return ControlMessage{}, fmt.Errorf("decode request vote: %w", ErrShortMessage)
		}
		return ControlMessage{RequestVote: &m}, nil

	case msgReplyVote:
		var m ReplyVote
		if err := binary.Read(r, binary.BigEndian, &m.Term); err != nil {
			return ControlMessage{}, fmt.Errorf("decode reply vote: %w", ErrShortMessage)
		}
		if err := binary.Read(r, binary.BigEndian, &m.VoterID); err != nil {
			return ControlMessage{}, fmt.Errorf("decode reply vote: %w", ErrShortMessage)
		}
		if err := binary.Read(r, binary.BigEndian, &m.Granted); err != nil {
			return ControlMessage{}, fmt.Errorf("decode reply vote: %w", ErrShortMessage)
		}
		return ControlMessage{ReplyVote: &m}, nil

	case msgConsensusHeartbeat:
		var m ConsensusHeartbeat
		if err := binary.Read(r, binary.BigEndian, &m); err != nil {
			return ControlMessage{}, fmt.Errorf("decode heartbeat: %w", ErrShortMessage)
		}
		return ControlMessage{Heartbeat: &m}, nil

	default:
		return ControlMessage{}, fmt.Errorf("kind %d: %w", raw[0], ErrUnknownMessage)
	}
}
