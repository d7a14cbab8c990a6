package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
)

// connState is the handshake/lifecycle state of a Connection.
type connState int

const (
	stateIdle connState = iota
	stateHandshakingA
	stateHandshakingB
	stateConnected
	stateClosed
)

// outboundReliable tracks one in-flight reliable send awaiting ACK.
type outboundReliable struct {
	seq    SeqId
	frames [][]byte // wire-ready datagrams; >1 when the payload was fragmented
	tries  uint32   // sends performed so far, including the initial one
	timer  *repeatingTimer
}

// Connection owns all per-peer protocol state: handshake, the outbound
// retransmit table, the inbound reorder buffer, the multi-part
// reassembly slot, and the connection's timers and callback slots.
type Connection struct {
	mu sync.Mutex

	id        ConnID
	peer      *net.UDPAddr
	transport *Transport
	opts      Options
	log       Logger

	state     connState
	genNonce  int32
	recvNonce int32

	outbound   map[SeqId]*outboundReliable
	nextSendID SeqId

	reorder        map[SeqId][]byte
	nextExpectedID SeqId
	firstPacket    bool

	multiBuf multiAssembly

	handshakeRetry   *repeatingTimer
	handshakeTimeout *oneShotTimer
	keepAlive        *repeatingTimer
	inactivity       *oneShotTimer

	receiveHandlers    *handlerRegistry[ReceiveHandler]
	disconnectHandlers *handlerRegistry[DisconnectHandler]

	closed bool
}

func newConnection(t *Transport, peer *net.UDPAddr, id ConnID, opts Options) *Connection {
	c := &Connection{
		id:                 id,
		peer:               peer,
		transport:          t,
		opts:               opts,
		log:                opts.Logger,
		state:              stateIdle,
		outbound:           make(map[SeqId]*outboundReliable),
		nextSendID:         1,
		reorder:            make(map[SeqId][]byte),
		firstPacket:        true,
		receiveHandlers:    newHandlerRegistry[ReceiveHandler](),
		disconnectHandlers: newHandlerRegistry[DisconnectHandler](),
	}
	// Started immediately, not just once Connected: a peer that never
	// completes the handshake (or never starts one) is still reaped once
	// connection_timeout elapses, per the inactivity-timeout guarantee.
	// enterConnectedLocked only resets this deadline, it never creates a
	// second one.
	c.inactivity = startOneShot(opts.ConnectionTimeout, c.onInactivityTimeout)
	return c
}

func (c *Connection) transmit(frame []byte) {
	if err := c.transport.sendTo(c.peer, frame); err != nil {
		c.log.Warnf("conn %d: send to %s failed: %v", c.id, c.peer, err)
	}
}

// initiateHandshake transitions Idle -> HandshakingA: choose nonce A,
// send INIT++A, start the retry interval and the handshake deadline.
func (c *Connection) initiateHandshake() {
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		return
	}
	c.genNonce = rand.Int31()
	c.state = stateHandshakingA
	nonce := c.genNonce
	c.mu.Unlock()

	c.transmit(encodeNonce(PacketInit, nonce))

	c.mu.Lock()
	c.handshakeRetry = startRepeating(c.opts.ConnectInterval, c.onHandshakeRetryTick)
	c.handshakeTimeout = startOneShot(c.opts.ConnectTimeout, c.onHandshakeTimeout)
	c.mu.Unlock()
}

func (c *Connection) onHandshakeRetryTick() {
	c.mu.Lock()
	if c.state != stateHandshakingA {
		c.mu.Unlock()
		return
	}
	nonce := c.genNonce
	c.mu.Unlock()
	c.transmit(encodeNonce(PacketInit, nonce))
}

func (c *Connection) onHandshakeTimeout() {
	c.mu.Lock()
	if c.state != stateHandshakingA && c.state != stateHandshakingB {
		c.mu.Unlock()
		return
	}
	retry, timeout := c.handshakeRetry, c.handshakeTimeout
	c.handshakeRetry, c.handshakeTimeout = nil, nil
	c.mu.Unlock()
	retry.stop()
	timeout.stop()
}

func (c *Connection) stopHandshakeTimersLocked() {
	if c.handshakeRetry != nil {
		c.handshakeRetry.stop()
		c.handshakeRetry = nil
	}
	if c.handshakeTimeout != nil {
		c.handshakeTimeout.stop()
		c.handshakeTimeout = nil
	}
}

// enterConnected must be called with c.mu held; it stops handshake timers,
// starts the keep-alive ticker and resets the inactivity deadline that has
// been running since the connection was created.
func (c *Connection) enterConnectedLocked() {
	c.stopHandshakeTimersLocked()
	c.state = stateConnected
	c.keepAlive = startRepeating(c.opts.KeepAlivePingTime, c.onKeepAliveTick)
	c.restartInactivityLocked()
}

func (c *Connection) onKeepAliveTick() {
	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.transmit(encodeSimple(PacketPing))
}

func (c *Connection) restartInactivityLocked() {
	if c.inactivity != nil {
		c.inactivity.reset(c.opts.ConnectionTimeout)
	}
}

func (c *Connection) onInactivityTimeout() {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	closed := c.closeLocked()
	c.mu.Unlock()
	if closed {
		c.invokeDisconnect(ReasonTimeout)
		c.transport.removeConnection(c.id)
	}
}

// closeLocked transitions to Closed, stops every timer and drops pending
// state. It is idempotent and returns whether this call performed the
// transition (so the caller invokes the disconnect handler exactly once).
func (c *Connection) closeLocked() bool {
	if c.closed {
		return false
	}
	c.closed = true
	c.state = stateClosed
	c.stopHandshakeTimersLocked()
	if c.keepAlive != nil {
		c.keepAlive.stop()
		c.keepAlive = nil
	}
	if c.inactivity != nil {
		c.inactivity.stop()
		c.inactivity = nil
	}
	c.clearOutboundLocked()
	c.reorder = make(map[SeqId][]byte)
	return true
}

func (c *Connection) clearOutboundLocked() {
	for seq, ob := range c.outbound {
		ob.timer.stop()
		delete(c.outbound, seq)
	}
}

// clearAll stops every timer and drops pending outbound sends without
// closing the connection outright. Idempotent.
func (c *Connection) clearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopHandshakeTimersLocked()
	if c.keepAlive != nil {
		c.keepAlive.stop()
		c.keepAlive = nil
	}
	if c.inactivity != nil {
		c.inactivity.stop()
		c.inactivity = nil
	}
	c.clearOutboundLocked()
}

// disconnectLocal sends DISCONNECT to the peer and closes the connection
// from the local side, returning the send error (if any) so a caller
// tearing down many connections at once can aggregate failures instead
// of only logging them.
func (c *Connection) disconnectLocal() error {
	sendErr := c.transport.sendTo(c.peer, encodeSimple(PacketDisconnect))
	if sendErr != nil {
		c.log.Warnf("conn %d: send disconnect to %s failed: %v", c.id, c.peer, sendErr)
	}
	c.mu.Lock()
	closed := c.closeLocked()
	c.mu.Unlock()
	if closed {
		c.invokeDisconnect(ReasonDisconnect)
	}
	return sendErr
}

// sendReliable allocates the next sequence id, builds the outbound
// tracking entry, sends it once immediately and starts its retry timer.
func (c *Connection) sendReliable(payload []byte) error {
	c.mu.Lock()
	if c.state != stateConnected {
		c.mu.Unlock()
		return fmt.Errorf("conn %d: not connected", c.id)
	}
	seq := c.nextSendID
	c.nextSendID = nextSeq(c.nextSendID)

	innerHeader := encodeSeq(PacketReliable, seq)
	var frames [][]byte
	if len(innerHeader)+len(payload) <= MaxDatagram {
		frame := make([]byte, 0, len(innerHeader)+len(payload))
		frame = append(frame, innerHeader...)
		frame = append(frame, payload...)
		frames = [][]byte{frame}
	} else {
		frames = fragmentPacket(innerHeader, payload)
	}

	ob := &outboundReliable{seq: seq, frames: frames, tries: 1}
	c.outbound[seq] = ob
	ob.timer = startRepeating(c.opts.RetryInterval, func() { c.onRetryTick(seq) })
	c.mu.Unlock()

	for _, f := range frames {
		c.transmit(f)
	}
	return nil
}

func (c *Connection) onRetryTick(seq SeqId) {
	c.mu.Lock()
	ob, ok := c.outbound[seq]
	if !ok {
		c.mu.Unlock()
		return
	}
	if ob.tries >= c.opts.MaxRetries {
		ob.timer.stop()
		delete(c.outbound, seq)
		c.mu.Unlock()
		return
	}
	ob.tries++
	frames := ob.frames
	c.mu.Unlock()

	for _, f := range frames {
		c.transmit(f)
	}
}

// processInbound dispatches one datagram already addressed to this
// connection, running the protocol state machine under the connection's
// lock and invoking user callbacks only after releasing it (a callback
// that turns around and calls back into this connection must not
// deadlock against the lock it was delivered under).
func (c *Connection) processInbound(raw []byte) {
	c.mu.Lock()
	deliveries, closedReason, didClose := c.handleBytesLocked(raw)
	c.mu.Unlock()

	for _, p := range deliveries {
		c.invokeReceive(p)
	}
	if didClose {
		c.invokeDisconnect(closedReason)
		c.transport.removeConnection(c.id)
	}
}

func (c *Connection) handleBytesLocked(raw []byte) (deliveries [][]byte, reason DisconnectReason, didClose bool) {
	header, payload, err := splitHeader(raw)
	if err != nil {
		c.log.Warnf("conn %d: %v", c.id, err)
		return nil, 0, false
	}

	t := PacketType(header[0])
	if t == PacketMulti {
		if len(header) < 3 {
			c.log.Warnf("conn %d: short MULTI header: %v", c.id, ErrMalformedPacket)
			return nil, 0, false
		}
		total := int(header[1])
		idx := int(header[2])
		inner, complete, err := c.multiBuf.reassembleFragment(total, idx, payload)
		if err != nil {
			c.log.Warnf("conn %d: %v", c.id, err)
			return nil, 0, false
		}
		if !complete {
			return nil, 0, false
		}
		return c.handleBytesLocked(inner)
	}

	return c.dispatchLocked(t, header, payload)
}

func (c *Connection) dispatchLocked(t PacketType, header, payload []byte) (deliveries [][]byte, reason DisconnectReason, didClose bool) {
	switch t {
	case PacketInit:
		c.handleInitLocked(payload)

	case PacketInitAck:
		return c.handleInitAckLocked(payload)

	case PacketInitFin:
		return c.handleInitFinLocked(payload)

	case PacketNonReliable:
		if c.state != stateConnected {
			return nil, 0, false
		}
		c.restartInactivityLocked()
		deliveries = append(deliveries, payload)

	case PacketPing:
		if c.state != stateConnected {
			return nil, 0, false
		}
		c.restartInactivityLocked()
		c.deferTransmit(encodeSimple(PacketPingAck))

	case PacketPingAck:
		if c.state != stateConnected {
			return nil, 0, false
		}
		c.restartInactivityLocked()

	case PacketReliable:
		if c.state != stateConnected {
			return nil, 0, false
		}
		if len(header) < 2 {
			c.log.Warnf("conn %d: short RELIABLE header: %v", c.id, ErrMalformedPacket)
			return nil, 0, false
		}
		seq := SeqId(header[1])
		c.restartInactivityLocked()
		c.deferTransmit(encodeSeq(PacketAck, seq))
		deliveries = c.applyOrderingLocked(seq, payload)

	case PacketAck:
		if len(header) < 2 {
			c.log.Warnf("conn %d: short ACK header: %v", c.id, ErrMalformedPacket)
			return nil, 0, false
		}
		seq := SeqId(header[1])
		if ob, ok := c.outbound[seq]; ok {
			ob.timer.stop()
			delete(c.outbound, seq)
		} else {
			c.log.Warnf("conn %d: ACK for unknown seq %d", c.id, seq)
		}

	case PacketDisconnect:
		didClose = c.closeLocked()
		reason = ReasonDisconnect

	default:
		c.log.Warnf("conn %d: unhandled packet type %d", c.id, t)
	}
	return deliveries, reason, didClose
}

// deferTransmit sends frame right away, even while c.mu is held; nothing
// is queued for after the lock is released. This is safe because transmit
// only touches the transport's socket, not c.mu.
func (c *Connection) deferTransmit(frame []byte) {
	c.transmit(frame)
}

func (c *Connection) handleInitLocked(payload []byte) {
	a, err := decodeNonce(payload)
	if err != nil {
		c.log.Warnf("conn %d: %v", c.id, err)
		return
	}

	switch c.state {
	case stateIdle:
		c.recvNonce = a + 1
		c.genNonce = rand.Int31()
		c.state = stateHandshakingB
		ackA, ackB := c.recvNonce, c.genNonce
		c.handshakeTimeout = startOneShot(c.opts.ConnectTimeout, c.onHandshakeTimeout)
		c.deferTransmit(encodeInitAck(ackA, ackB))
	case stateHandshakingB:
		// Duplicate INIT from a peer whose INIT_ACK was lost; resend
		// idempotently without disturbing the chosen nonces.
		c.deferTransmit(encodeInitAck(c.recvNonce, c.genNonce))
	default:
		// Stale or out-of-order INIT once already connected; ignore.
	}
}

func (c *Connection) handleInitAckLocked(payload []byte) (deliveries [][]byte, reason DisconnectReason, didClose bool) {
	if c.state != stateHandshakingA {
		return nil, 0, false
	}
	aPrime, b, err := decodeTwoNonces(payload)
	if err != nil {
		c.log.Warnf("conn %d: %v", c.id, err)
		return nil, 0, false
	}
	if aPrime != c.genNonce+1 {
		didClose = c.closeLocked()
		reason = ReasonDisconnect
		return nil, reason, didClose
	}
	c.recvNonce = b
	c.deferTransmit(encodeInitFin(aPrime, b+1))
	c.enterConnectedLocked()
	return nil, 0, false
}

func (c *Connection) handleInitFinLocked(payload []byte) (deliveries [][]byte, reason DisconnectReason, didClose bool) {
	if c.state != stateHandshakingB {
		return nil, 0, false
	}
	a, bPrime, err := decodeTwoNonces(payload)
	if err != nil {
		c.log.Warnf("conn %d: %v", c.id, err)
		return nil, 0, false
	}
	if a != c.recvNonce || bPrime != c.genNonce+1 {
		didClose = c.closeLocked()
		reason = ReasonDisconnect
		return nil, reason, didClose
	}
	c.enterConnectedLocked()
	return nil, 0, false
}

// applyOrderingLocked implements the ordered-delivery rule. It returns
// the payloads (in order) now ready for delivery: zero, one, or several
// if draining the reorder buffer chains forward.
func (c *Connection) applyOrderingLocked(seq SeqId, payload []byte) [][]byte {
	if !c.opts.UseOrdering {
		return [][]byte{payload}
	}

	if c.firstPacket {
		c.nextExpectedID = seq
		c.firstPacket = false
	}

	e := c.nextExpectedID
	if seq < e {
		// Duplicate or late packet. The raw unsigned `<` comparison also
		// drops a packet that arrives ahead of a sequence wrap (seq 0
		// while 253 is expected), since it compares as smaller.
		return nil
	}
	if seq > e {
		c.reorder[seq] = payload
		return nil
	}

	out := [][]byte{payload}
	c.nextExpectedID = nextSeq(e)
	for {
		next := c.nextExpectedID
		body, ok := c.reorder[next]
		if !ok {
			break
		}
		delete(c.reorder, next)
		out = append(out, body)
		c.nextExpectedID = nextSeq(next)
	}
	return out
}

func (c *Connection) invokeReceive(payload []byte) {
	handlers := c.receiveHandlers.snapshot()
	if len(handlers) == 0 {
		if def := c.transport.defaultOnReceive(); def != nil {
			def(c.id, payload)
		}
		return
	}
	for _, h := range handlers {
		h(c.id, payload)
	}
}

func (c *Connection) invokeDisconnect(reason DisconnectReason) {
	handlers := c.disconnectHandlers.snapshot()
	if len(handlers) == 0 {
		if def := c.transport.defaultOnDisconnect(); def != nil {
			def(c.id, reason)
		}
		return
	}
	for _, h := range handlers {
		h(c.id, reason)
	}
}
