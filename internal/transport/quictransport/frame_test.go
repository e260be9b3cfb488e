package quictransport_test

import (
	"bytes"
	"testing"

	"slonana-validator-core/internal/transport/quictransport"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := quictransport.Frame{
		Type:      quictransport.MsgBlockAnnouncement,
		Timestamp: 1_700_000_000_000,
		SenderID:  "node_0123456789abcdef",
		Payload:   []byte(`{"slot":10}`),
	}
	wire := quictransport.Encode(f)
	got, err := quictransport.Decode(wire)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != f.Type || got.Timestamp != f.Timestamp || got.SenderID != f.SenderID {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, f)
	}
	if !bytes.Equal(got.Payload, f.Payload) {
		t.Fatalf("payload mismatch: got %q, want %q", got.Payload, f.Payload)
	}
}

func TestDecodeRejectsShortFrames(t *testing.T) {
	for _, n := range []int{0, 1, 9} {
		if _, err := quictransport.Decode(make([]byte, n)); err != quictransport.ErrFrameTooShort {
			t.Fatalf("len=%d: expected ErrFrameTooShort, got %v", n, err)
		}
	}
}

func TestDecodeRejectsTruncatedSenderID(t *testing.T) {
	buf := make([]byte, minFrameSizeForTest())
	buf[9] = 200 // claims 200-byte sender id in a 10-byte buffer
	if _, err := quictransport.Decode(buf); err != quictransport.ErrFrameTooShort {
		t.Fatalf("expected ErrFrameTooShort, got %v", err)
	}
}

func minFrameSizeForTest() int { return 10 }
