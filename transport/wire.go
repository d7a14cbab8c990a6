package transport

import "fmt"

// fragmentPacket splits payload into N MULTI-wrapped wire packets,
// N = ceil(len(payload)/MaxPayload), guaranteed >= 1 even for an empty
// payload. Fragment i (0-indexed) carries header
// [MULTI, N, i+1]++innerHeader and body payload[i*MaxPayload:...], so
// every fragment — not just the reassembled stream — carries the inner
// type byte.
func fragmentPacket(innerHeader, payload []byte) [][]byte {
	n := (len(payload) + MaxPayload - 1) / MaxPayload
	if n == 0 {
		n = 1
	}

	fragments := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		start := i * MaxPayload
		end := start + MaxPayload
		if end > len(payload) {
			end = len(payload)
		}
		body := payload[start:end]

		frag := make([]byte, 0, 3+len(innerHeader)+len(body))
		frag = append(frag, byte(PacketMulti), byte(n), byte(i+1))
		frag = append(frag, innerHeader...)
		frag = append(frag, body...)
		fragments = append(fragments, frag)
	}
	return fragments
}

// multiAssembly holds the single in-flight reassembly slot for a
// connection. There is no stream-id field on the wire (see DESIGN.md), so
// only one MULTI stream from a peer can be assembled at a time; a second,
// interleaved stream with a different total-part-count is rejected rather
// than silently discarding the first, but a second stream that happens to
// share the same total-part-count will still corrupt the first — a
// carried-over limitation of the RakNet split-packet design this is
// grounded on.
type multiAssembly struct {
	active      bool
	total       int
	innerHeader []byte
	slots       [][]byte
	filled      int
}

// reassembleFragment folds one MULTI fragment's (total, index, raw) into
// the connection's assembly slot, where raw is everything that followed
// the fragment's [MULTI,N,i+1] header on the wire: innerHeader++bodyChunk,
// repeated on every fragment per the wire layout. It returns the
// concatenated inner packet (innerHeader++payload) once every slot is
// filled, resetting the slot for the next stream.
func (m *multiAssembly) reassembleFragment(total, index int, raw []byte) ([]byte, bool, error) {
	if total <= 0 {
		return nil, false, fmt.Errorf("multi-part total must be positive, got %d: %w", total, ErrMalformedPacket)
	}

	innerHeader, bodyChunk, err := splitHeader(raw)
	if err != nil {
		return nil, false, err
	}

	if !m.active {
		m.active = true
		m.total = total
		m.innerHeader = append([]byte{}, innerHeader...)
		m.slots = make([][]byte, total)
		m.filled = 0
	} else if m.total != total {
		return nil, false, fmt.Errorf("conflicting multi-part total (have %d, got %d): %w", m.total, total, ErrMalformedPacket)
	}

	if index < 1 || index > m.total {
		return nil, false, fmt.Errorf("fragment index %d out of range [1,%d]: %w", index, m.total, ErrMalformedPacket)
	}

	slot := index - 1
	if m.slots[slot] == nil {
		m.filled++
	}
	m.slots[slot] = bodyChunk

	if m.filled < m.total {
		return nil, false, nil
	}

	size := len(m.innerHeader)
	for _, s := range m.slots {
		size += len(s)
	}
	out := make([]byte, 0, size)
	out = append(out, m.innerHeader...)
	for _, s := range m.slots {
		out = append(out, s...)
	}

	*m = multiAssembly{}
	return out, true, nil
}
