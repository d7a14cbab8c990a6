package transport

import (
	"errors"
	"testing"
)

func TestNextSeqWrapsBeforeReaching255(t *testing.T) {
	if got := nextSeq(254); got != 0 {
		t.Errorf("nextSeq(254) = %d, want 0", got)
	}
	if got := nextSeq(0); got != 1 {
		t.Errorf("nextSeq(0) = %d, want 1", got)
	}
}

func TestSplitHeaderLengths(t *testing.T) {
	cases := []struct {
		name       string
		pkt        []byte
		wantHeader int
	}{
		{"init", []byte{byte(PacketInit), 1, 2, 3, 4}, 1},
		{"reliable", []byte{byte(PacketReliable), 7, 0xAA}, 2},
		{"multi", []byte{byte(PacketMulti), 2, 1, 0xAA}, 3},
		{"ping", []byte{byte(PacketPing)}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			header, payload, err := splitHeader(tc.pkt)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(header) != tc.wantHeader {
				t.Errorf("header length = %d, want %d", len(header), tc.wantHeader)
			}
			if len(header)+len(payload) != len(tc.pkt) {
				t.Errorf("header+payload length mismatch: %d + %d != %d", len(header), len(payload), len(tc.pkt))
			}
		})
	}
}

func TestSplitHeaderRejectsUnknownType(t *testing.T) {
	_, _, err := splitHeader([]byte{99, 1, 2})
	if !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("expected ErrMalformedPacket, got %v", err)
	}
}

func TestSplitHeaderRejectsShortPacket(t *testing.T) {
	_, _, err := splitHeader([]byte{byte(PacketReliable)})
	if !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("expected ErrMalformedPacket, got %v", err)
	}
}

func TestSplitHeaderRejectsEmptyPacket(t *testing.T) {
	_, _, err := splitHeader(nil)
	if !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("expected ErrMalformedPacket, got %v", err)
	}
}

func TestEncodeDecodeNonceRoundTrip(t *testing.T) {
	frame := encodeNonce(PacketInit, 123456789)
	_, payload, err := splitHeader(frame)
	if err != nil {
		t.Fatalf("splitHeader: %v", err)
	}
	got, err := decodeNonce(payload)
	if err != nil {
		t.Fatalf("decodeNonce: %v", err)
	}
	if got != 123456789 {
		t.Errorf("decodeNonce = %d, want 123456789", got)
	}
}

func TestEncodeDecodeTwoNoncesRoundTrip(t *testing.T) {
	frame := encodeInitAck(111, 222)
	_, payload, err := splitHeader(frame)
	if err != nil {
		t.Fatalf("splitHeader: %v", err)
	}
	a, b, err := decodeTwoNonces(payload)
	if err != nil {
		t.Fatalf("decodeTwoNonces: %v", err)
	}
	if a != 111 || b != 222 {
		t.Errorf("decodeTwoNonces = (%d, %d), want (111, 222)", a, b)
	}
}

func TestDecodeNonceRejectsShortPayload(t *testing.T) {
	_, err := decodeNonce([]byte{1, 2, 3})
	if !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("expected ErrMalformedPacket, got %v", err)
	}
}
