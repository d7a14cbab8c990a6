package transport

import (
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-multierror"
)

// ConnID identifies one Connection for the lifetime of a Transport. IDs
// are never reused while the Transport is alive.
type ConnID uint64

// role distinguishes a Transport that dials out (Client) from one that
// accepts unsolicited peers (Server); see server.go.
type role int

const (
	roleClient role = iota
	roleServer
)

// Transport multiplexes every Connection sharing one UDP socket. Its own
// mutex ("the transport-maps mutex") only ever guards the id/addr
// lookup tables and is never acquired while a Connection's own mutex is
// held: processInbound and the inactivity timer callback release the
// connection's mutex first and then call removeConnection, which takes
// the transport-maps mutex directly. A Connection can therefore call
// back into the Transport without risking lock inversion.
type Transport struct {
	conn net.PacketConn
	opts Options
	log  Logger
	role role

	mapsMu  sync.Mutex
	byID    map[ConnID]*Connection
	byAddr  map[string]*Connection
	nextID  uint64
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup

	defaultReceive    atomic.Pointer[ReceiveHandler]
	defaultDisconnect atomic.Pointer[DisconnectHandler]
}

func newTransport(conn net.PacketConn, r role, opts Options) *Transport {
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	t := &Transport{
		conn:    conn,
		opts:    opts,
		log:     opts.Logger,
		role:    r,
		byID:    make(map[ConnID]*Connection),
		byAddr:  make(map[string]*Connection),
		closeCh: make(chan struct{}),
	}
	t.wg.Add(1)
	go t.receiveLoop()
	return t
}

// NewClient opens a UDP socket bound to localAddr (use ":0" for an
// ephemeral port) for a Transport that only ever talks to peers it
// explicitly Connects to.
func NewClient(localAddr string, opts ...Option) (*Transport, error) {
	o := DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	conn, err := listenUDP(localAddr)
	if err != nil {
		return nil, fmt.Errorf("rudp: listen %s: %w", localAddr, err)
	}
	return newTransport(conn, roleClient, o), nil
}

// Connect starts a handshake with remoteAddr and returns the id of the
// new Connection immediately; the connection is usable for Send once
// its on-connect visible effect (the caller's first successful
// ReceiveHandler or Send call returning nil) confirms the handshake
// completed. Send/SendReliable before that point fail with
// ErrUnknownConnection's sibling "not connected" error.
func (t *Transport) Connect(remoteAddr string) (ConnID, error) {
	addr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if addr.Port <= 0 || addr.Port > 65535 {
		return 0, ErrInvalidPort
	}

	t.mapsMu.Lock()
	if t.closed {
		t.mapsMu.Unlock()
		return 0, ErrTransportClosed
	}
	t.nextID++
	id := ConnID(t.nextID)
	c := newConnection(t, addr, id, t.opts)
	t.byID[id] = c
	t.byAddr[addr.String()] = c
	t.mapsMu.Unlock()

	c.initiateHandshake()
	return id, nil
}

// Send transmits an unreliable, unordered payload to conn. Payloads that
// fit in one datagram go out as a single NON_RELIABLE packet; larger
// ones are fragmented via the wire codec and sent as a MULTI stream.
func (t *Transport) Send(id ConnID, payload []byte) error {
	c, ok := t.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	c.mu.Lock()
	connected := c.state == stateConnected
	c.mu.Unlock()
	if !connected {
		return fmt.Errorf("conn %d: not connected", id)
	}

	innerHeader := []byte{byte(PacketNonReliable)}
	if len(innerHeader)+len(payload) <= MaxDatagram {
		frame := make([]byte, 0, len(innerHeader)+len(payload))
		frame = append(frame, innerHeader...)
		frame = append(frame, payload...)
		c.transmit(frame)
		return nil
	}

	for _, f := range fragmentPacket(innerHeader, payload) {
		c.transmit(f)
	}
	return nil
}

// SendReliable queues payload for at-least-once, retried delivery to
// conn, fragmenting internally if payload exceeds the single-datagram
// limit.
func (t *Transport) SendReliable(id ConnID, payload []byte) error {
	c, ok := t.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	return c.sendReliable(payload)
}

// Disconnect tears down one connection from the local side.
func (t *Transport) Disconnect(id ConnID) error {
	c, ok := t.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	err := c.disconnectLocal()
	t.removeConnection(id)
	return err
}

// DisconnectAll tears down every live connection and closes the
// underlying socket, aggregating every connection's teardown failure
// plus the socket close failure into one error rather than reporting
// only the last one. It closes the socket for a server too;
// DisconnectClients (server.go) is the teardown that keeps it open.
func (t *Transport) DisconnectAll() error {
	t.mapsMu.Lock()
	conns := make([]*Connection, 0, len(t.byID))
	for _, c := range t.byID {
		conns = append(conns, c)
	}
	t.closed = true
	t.byID = make(map[ConnID]*Connection)
	t.byAddr = make(map[string]*Connection)
	t.mapsMu.Unlock()

	var result *multierror.Error
	for _, c := range conns {
		if err := c.disconnectLocal(); err != nil {
			result = multierror.Append(result, fmt.Errorf("conn %d: %w", c.id, err))
		}
	}

	close(t.closeCh)
	if err := t.conn.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close socket: %w", err))
	}
	t.wg.Wait()
	return result.ErrorOrNil()
}

// OnReceive installs the fallback receive handler used by connections
// that have no per-connection handler registered.
func (t *Transport) OnReceive(h ReceiveHandler) {
	t.defaultReceive.Store(&h)
}

// OnDisconnect installs the fallback disconnect handler.
func (t *Transport) OnDisconnect(h DisconnectHandler) {
	t.defaultDisconnect.Store(&h)
}

// AddReceiveHandler registers an additional per-connection receive
// handler and returns a token usable with RemoveReceiveHandler.
func (t *Transport) AddReceiveHandler(id ConnID, h ReceiveHandler) (HandlerToken, error) {
	c, ok := t.lookup(id)
	if !ok {
		return 0, ErrUnknownConnection
	}
	return c.receiveHandlers.add(h), nil
}

func (t *Transport) RemoveReceiveHandler(id ConnID, tok HandlerToken) error {
	c, ok := t.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	c.receiveHandlers.remove(tok)
	return nil
}

func (t *Transport) AddDisconnectHandler(id ConnID, h DisconnectHandler) (HandlerToken, error) {
	c, ok := t.lookup(id)
	if !ok {
		return 0, ErrUnknownConnection
	}
	return c.disconnectHandlers.add(h), nil
}

func (t *Transport) RemoveDisconnectHandler(id ConnID, tok HandlerToken) error {
	c, ok := t.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	c.disconnectHandlers.remove(tok)
	return nil
}

// ClearReceiveHandlers drops every per-connection receive handler
// registered on conn; the transport-level default installed by OnReceive
// is unaffected.
func (t *Transport) ClearReceiveHandlers(id ConnID) error {
	c, ok := t.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	c.receiveHandlers.clear()
	return nil
}

// ClearDisconnectHandlers drops every per-connection disconnect handler
// registered on conn; the transport-level default installed by
// OnDisconnect is unaffected.
func (t *Transport) ClearDisconnectHandlers(id ConnID) error {
	c, ok := t.lookup(id)
	if !ok {
		return ErrUnknownConnection
	}
	c.disconnectHandlers.clear()
	return nil
}

func (t *Transport) defaultOnReceive() ReceiveHandler {
	p := t.defaultReceive.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (t *Transport) defaultOnDisconnect() DisconnectHandler {
	p := t.defaultDisconnect.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (t *Transport) lookup(id ConnID) (*Connection, bool) {
	t.mapsMu.Lock()
	defer t.mapsMu.Unlock()
	c, ok := t.byID[id]
	return c, ok
}

func (t *Transport) lookupByAddr(addr *net.UDPAddr) (*Connection, bool) {
	t.mapsMu.Lock()
	defer t.mapsMu.Unlock()
	c, ok := t.byAddr[addr.String()]
	return c, ok
}

func (t *Transport) removeConnection(id ConnID) {
	t.mapsMu.Lock()
	c, ok := t.byID[id]
	if !ok {
		t.mapsMu.Unlock()
		return
	}
	delete(t.byID, id)
	delete(t.byAddr, c.peer.String())
	t.mapsMu.Unlock()
}

func (t *Transport) sendTo(addr *net.UDPAddr, frame []byte) error {
	_, err := t.conn.WriteTo(frame, addr)
	return err
}

// receiveLoop is the single reader goroutine for the shared socket. It
// demultiplexes by source address and either forwards to an existing
// Connection or, for a server, spawns one for a first-contact peer.
func (t *Transport) receiveLoop() {
	defer t.wg.Done()
	buf := make([]byte, MaxDatagram+64)
	for {
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
				t.log.Errorf("rudp: read error: %v", err)
				if t.opts.ExitOnReceiveException {
					os.Exit(1)
				}
				return
			}
		}
		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		t.handleDatagram(udpAddr, pkt)
	}
}

func (t *Transport) handleDatagram(addr *net.UDPAddr, pkt []byte) {
	if c, ok := t.lookupByAddr(addr); ok {
		c.processInbound(pkt)
		return
	}
	if t.role != roleServer {
		t.log.Debugf("rudp: dropping datagram from unknown peer %s", addr)
		return
	}
	t.acceptInbound(addr, pkt)
}
