// Package quictransport implements the QUIC-based stream transport:
// connection lifecycle over quic-go, stream multiplexing, a server-side
// session table with an idle sweeper, and a client-side connection pool
// with LRU eviction.
//
// The pool is a mutex-guarded cache of quic.Connection values keyed by
// "host:port", using hashicorp/golang-lru/v2 for its eviction policy; it
// runs no background reaper goroutine. The server exposes a Stats snapshot.
package quictransport

import (
	"encoding/binary"
	"errors"
)

// MessageType enumerates the cluster wire-frame message kinds.
type MessageType byte

const (
	MsgHandshake MessageType = iota
	MsgPing
	MsgPong
	MsgBlockAnnouncement
	MsgTransactionForward
	MsgClusterInfo
	MsgVote
	MsgShredData
)

func (m MessageType) String() string {
	switch m {
	case MsgHandshake:
		return "handshake"
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	case MsgBlockAnnouncement:
		return "block_announcement"
	case MsgTransactionForward:
		return "transaction_forward"
	case MsgClusterInfo:
		return "cluster_info"
	case MsgVote:
		return "vote"
	case MsgShredData:
		return "shred_data"
	default:
		return "unknown"
	}
}

// minFrameSize is the smallest well-formed frame: 1-byte type + 8-byte
// timestamp + 1-byte sender-id length.
const minFrameSize = 10

// ErrFrameTooShort is returned by Decode for any input shorter than the
// minimum frame size or one truncated mid sender-id/payload.
var ErrFrameTooShort = errors.New("quictransport: frame shorter than minimum size")

// Frame is the decoded form of a cluster wire frame.
type Frame struct {
	Type      MessageType
	Timestamp uint64 // ms since epoch
	SenderID  string
	Payload   []byte
}

// Encode serializes f into the wire format: 1-byte type, 8-byte
// little-endian timestamp, 1-byte sender-id length, sender-id bytes,
// payload.
func Encode(f Frame) []byte {
	senderBytes := []byte(f.SenderID)
	buf := make([]byte, minFrameSize+len(senderBytes)+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.LittleEndian.PutUint64(buf[1:9], f.Timestamp)
	buf[9] = byte(len(senderBytes))
	n := copy(buf[10:], senderBytes)
	copy(buf[10+n:], f.Payload)
	return buf
}

// Decode parses a wire frame. Frames shorter than minFrameSize, or whose
// declared sender-id length overruns the buffer, are rejected with
// ErrFrameTooShort.
func Decode(b []byte) (Frame, error) {
	if len(b) < minFrameSize {
		return Frame{}, ErrFrameTooShort
	}
	msgType := MessageType(b[0])
	ts := binary.LittleEndian.Uint64(b[1:9])
	senderLen := int(b[9])
	if 10+senderLen > len(b) {
		return Frame{}, ErrFrameTooShort
	}
	sender := string(b[10 : 10+senderLen])
	payload := append([]byte(nil), b[10+senderLen:]...)
	return Frame{Type: msgType, Timestamp: ts, SenderID: sender, Payload: payload}, nil
}
