package transport

import "errors"

// Error kinds surfaced or used internally by the protocol engine. Connect
// returns ErrInvalidAddress, ErrInvalidPort or ErrTransportClosed. The
// per-connection calls (Send, SendReliable, Disconnect and the handler
// registration methods) return ErrUnknownConnection for an id the
// Transport does not know. ErrMalformedPacket is only logged: transient
// network and wire errors never reach the caller. A handshake nonce
// mismatch closes the connection with ReasonDisconnect; no code path
// returns or logs ErrHandshakeMismatch.
var (
	ErrInvalidAddress    = errors.New("rudp: invalid address")
	ErrInvalidPort       = errors.New("rudp: port out of range")
	ErrMalformedPacket   = errors.New("rudp: malformed packet")
	ErrHandshakeMismatch = errors.New("rudp: handshake nonce mismatch")
	ErrUnknownConnection = errors.New("rudp: unknown connection")
	ErrTransportClosed   = errors.New("rudp: transport is closed")
)

// DisconnectReason is delivered to an on-disconnect handler as a single
// byte, exactly as it appears on the wire in diagnostic logging.
type DisconnectReason byte

const (
	ReasonDisconnect DisconnectReason = 1
	ReasonTimeout    DisconnectReason = 2
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonDisconnect:
		return "disconnect"
	case ReasonTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}
