package transport

import (
	"encoding/binary"
	"fmt"
)

// PacketType is the first byte of every packet on the wire.
type PacketType byte

const (
	PacketInit         PacketType = 1
	PacketInitAck      PacketType = 2
	PacketInitFin      PacketType = 3
	PacketNonReliable  PacketType = 10
	PacketReliable     PacketType = 11
	PacketMulti        PacketType = 12
	PacketAck          PacketType = 20
	PacketPing         PacketType = 25
	PacketPingAck      PacketType = 26
	PacketDisconnect   PacketType = 30
)

const (
	// MaxPayload is the largest payload carried by a single fragment.
	MaxPayload = 1400
	// MaxDatagram is the largest wire datagram the sender will emit
	// without fragmenting first.
	MaxDatagram = 1450
)

// SeqId is the 8-bit sequence number carried by RELIABLE and ACK packets.
// It increments modulo 255, never taking the value 255 — a latent
// off-by-one carried over intentionally.
type SeqId uint8

const seqModulus = 255

func nextSeq(s SeqId) SeqId {
	return SeqId((int(s) + 1) % seqModulus)
}

// headerLength returns the number of header bytes (including the type
// byte) for a given packet type, and false if the type is unrecognized.
func headerLength(t PacketType) (int, bool) {
	switch t {
	case PacketInit, PacketInitAck, PacketInitFin, PacketNonReliable,
		PacketPing, PacketPingAck, PacketDisconnect:
		return 1, true
	case PacketReliable, PacketAck:
		return 2, true
	case PacketMulti:
		return 3, true
	}
	return 0, false
}

// splitHeader derives the header length from pkt[0] and splits pkt into
// its header and payload. Any type byte outside the ten known packet
// types is rejected as malformed, which subsumes the "outside
// [INIT..DISCONNECT]" numeric-range rule: every unassigned value in that
// range is equally undecodable since its header length is unknown.
func splitHeader(pkt []byte) (header, payload []byte, err error) {
	if len(pkt) == 0 {
		return nil, nil, fmt.Errorf("empty packet: %w", ErrMalformedPacket)
	}
	t := PacketType(pkt[0])
	n, ok := headerLength(t)
	if !ok {
		return nil, nil, fmt.Errorf("unknown packet type %d: %w", pkt[0], ErrMalformedPacket)
	}
	if len(pkt) < n {
		return nil, nil, fmt.Errorf("packet shorter than its header (%d < %d): %w", len(pkt), n, ErrMalformedPacket)
	}
	return pkt[:n], pkt[n:], nil
}

func encodeSimple(t PacketType) []byte {
	return []byte{byte(t)}
}

func encodeSeq(t PacketType, seq SeqId) []byte {
	return []byte{byte(t), byte(seq)}
}

func encodeNonce(t PacketType, nonce int32) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(t)
	binary.LittleEndian.PutUint32(buf[1:], uint32(nonce))
	return buf
}

func encodeInitAck(a, b int32) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(PacketInitAck)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(a))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(b))
	return buf
}

func encodeInitFin(a, b int32) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(PacketInitFin)
	binary.LittleEndian.PutUint32(buf[1:5], uint32(a))
	binary.LittleEndian.PutUint32(buf[5:9], uint32(b))
	return buf
}

func decodeNonce(payload []byte) (int32, error) {
	if len(payload) < 4 {
		return 0, fmt.Errorf("nonce payload too short (%d bytes): %w", len(payload), ErrMalformedPacket)
	}
	return int32(binary.LittleEndian.Uint32(payload)), nil
}

func decodeTwoNonces(payload []byte) (int32, int32, error) {
	if len(payload) < 8 {
		return 0, 0, fmt.Errorf("dual-nonce payload too short (%d bytes): %w", len(payload), ErrMalformedPacket)
	}
	a := int32(binary.LittleEndian.Uint32(payload[0:4]))
	b := int32(binary.LittleEndian.Uint32(payload[4:8]))
	return a, b, nil
}
