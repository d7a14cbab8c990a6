package transport

import (
	"bytes"
	"errors"
	"testing"
)

func TestFragmentPacketSingleFrameWhenSmall(t *testing.T) {
	header := encodeSeq(PacketReliable, 5)
	payload := []byte("hello")
	frames := fragmentPacket(header, payload)
	if len(frames) != 1 {
		t.Fatalf("expected 1 fragment, got %d", len(frames))
	}
	if frames[0][0] != byte(PacketMulti) || frames[0][1] != 1 || frames[0][2] != 1 {
		t.Errorf("unexpected multi header: %v", frames[0][:3])
	}
}

func TestFragmentPacketSplitsLargePayload(t *testing.T) {
	header := encodeSeq(PacketReliable, 9)
	payload := bytes.Repeat([]byte{0xAB}, MaxPayload*2+37)
	frames := fragmentPacket(header, payload)
	if len(frames) != 3 {
		t.Fatalf("expected 3 fragments, got %d", len(frames))
	}
	for i, f := range frames {
		if f[0] != byte(PacketMulti) {
			t.Fatalf("fragment %d: not a MULTI packet", i)
		}
		if int(f[1]) != len(frames) {
			t.Errorf("fragment %d: total = %d, want %d", i, f[1], len(frames))
		}
		if int(f[2]) != i+1 {
			t.Errorf("fragment %d: index = %d, want %d", i, f[2], i+1)
		}
	}
}

func TestFragmentPacketExactMultipleOfMaxPayload(t *testing.T) {
	header := encodeSeq(PacketReliable, 1)
	payload := bytes.Repeat([]byte{0x01}, MaxPayload*2)
	frames := fragmentPacket(header, payload)
	if len(frames) != 2 {
		t.Fatalf("expected 2 fragments for an exact multiple of MaxPayload, got %d", len(frames))
	}
}

func TestFragmentPacketNonReliableTenThousandBytesProducesEightFragments(t *testing.T) {
	header := encodeSimple(PacketNonReliable)
	payload := bytes.Repeat([]byte{0x02}, 10000)
	frames := fragmentPacket(header, payload)
	if len(frames) != 8 {
		t.Fatalf("expected 8 fragments for a 10000-byte payload, got %d", len(frames))
	}
	for i, f := range frames {
		if f[0] != byte(PacketMulti) || int(f[1]) != 8 || int(f[2]) != i+1 {
			t.Fatalf("fragment %d: unexpected multi header %v", i, f[:3])
		}
		if f[3] != byte(PacketNonReliable) {
			t.Errorf("fragment %d: missing inner NON_RELIABLE type byte, got %v", i, f[3])
		}
	}
}

func TestMultiAssemblyReassemblesInOrder(t *testing.T) {
	header := encodeSeq(PacketReliable, 9)
	payload := bytes.Repeat([]byte{0xCD}, MaxPayload*2+10)
	frames := fragmentPacket(header, payload)

	var m multiAssembly
	var out []byte
	var complete bool
	var err error
	for _, f := range frames {
		total, idx, body := int(f[1]), int(f[2]), f[3:]
		out, complete, err = m.reassembleFragment(total, idx, body)
		if err != nil {
			t.Fatalf("reassembleFragment: %v", err)
		}
	}
	if !complete {
		t.Fatal("expected reassembly to complete after the last fragment")
	}
	want := append(append([]byte{}, header...), payload...)
	if !bytes.Equal(out, want) {
		t.Errorf("reassembled bytes mismatch: got %d bytes, want %d", len(out), len(want))
	}
}

func TestMultiAssemblyReassemblesOutOfOrder(t *testing.T) {
	header := encodeSeq(PacketReliable, 1)
	payload := bytes.Repeat([]byte{0x11}, MaxPayload+5)
	frames := fragmentPacket(header, payload)
	if len(frames) != 2 {
		t.Fatalf("expected 2 fragments, got %d", len(frames))
	}

	var m multiAssembly
	total1, idx1, body1 := int(frames[1][1]), int(frames[1][2]), frames[1][3:]
	_, complete, err := m.reassembleFragment(total1, idx1, body1)
	if err != nil {
		t.Fatalf("reassembleFragment (second fragment first): %v", err)
	}
	if complete {
		t.Fatal("should not be complete after only one of two fragments")
	}

	total0, idx0, body0 := int(frames[0][1]), int(frames[0][2]), frames[0][3:]
	out, complete, err := m.reassembleFragment(total0, idx0, body0)
	if err != nil {
		t.Fatalf("reassembleFragment (first fragment second): %v", err)
	}
	if !complete {
		t.Fatal("expected completion once both fragments arrived")
	}
	want := append(append([]byte{}, header...), payload...)
	if !bytes.Equal(out, want) {
		t.Error("reassembled bytes mismatch for out-of-order fragments")
	}
}

func rawFragment(body string) []byte {
	return append(encodeSimple(PacketPing), []byte(body)...)
}

func TestMultiAssemblyRejectsConflictingTotal(t *testing.T) {
	var m multiAssembly
	if _, _, err := m.reassembleFragment(3, 1, rawFragment("a")); err != nil {
		t.Fatalf("first fragment: %v", err)
	}
	_, _, err := m.reassembleFragment(4, 2, rawFragment("b"))
	if !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("expected ErrMalformedPacket for conflicting total, got %v", err)
	}
}

func TestMultiAssemblyRejectsIndexOutOfRange(t *testing.T) {
	var m multiAssembly
	_, _, err := m.reassembleFragment(2, 3, rawFragment("a"))
	if !errors.Is(err, ErrMalformedPacket) {
		t.Errorf("expected ErrMalformedPacket for out-of-range index, got %v", err)
	}
}
