package transport

import (
	"fmt"
	"net"

	"github.com/hashicorp/go-multierror"
)

// NewServer opens a UDP socket bound to localAddr and starts accepting
// connections from any peer that sends it an INIT, with no prior Connect
// call required. The receive loop is already running by the time
// NewServer returns.
func NewServer(localAddr string, opts ...Option) (*Transport, error) {
	o := DefaultOptions()
	for _, fn := range opts {
		fn(&o)
	}
	conn, err := listenUDP(localAddr)
	if err != nil {
		return nil, fmt.Errorf("rudp: listen %s: %w", localAddr, err)
	}
	return newTransport(conn, roleServer, o), nil
}

// acceptInbound spawns a Connection for a peer the server has not seen
// before, in Idle state, and feeds it the datagram that triggered the
// spawn. A peer that turns out not to be sending INIT never advances out
// of Idle; its inactivity deadline (started by newConnection, independent
// of the handshake timers) still fires and reaps it, so no Idle
// connection outlives connection_timeout regardless of what the peer
// sends.
func (t *Transport) acceptInbound(addr *net.UDPAddr, pkt []byte) {
	t.mapsMu.Lock()
	if t.closed {
		t.mapsMu.Unlock()
		return
	}
	t.nextID++
	id := ConnID(t.nextID)
	c := newConnection(t, addr, id, t.opts)
	t.byID[id] = c
	t.byAddr[addr.String()] = c
	t.mapsMu.Unlock()

	c.processInbound(pkt)
}

// DisconnectClients tears down every connection currently accepted by a
// server without closing its listening socket, so new peers can keep
// connecting afterward. Transport.DisconnectAll is the client-oriented
// teardown that also closes the socket; a server that wants to stop
// entirely should call DisconnectClients followed by DisconnectAll. The
// returned error aggregates every connection's teardown failure, same as
// DisconnectAll.
func (t *Transport) DisconnectClients() error {
	t.mapsMu.Lock()
	conns := make([]*Connection, 0, len(t.byID))
	for _, c := range t.byID {
		conns = append(conns, c)
	}
	t.byID = make(map[ConnID]*Connection)
	t.byAddr = make(map[string]*Connection)
	t.mapsMu.Unlock()

	var result *multierror.Error
	for _, c := range conns {
		if err := c.disconnectLocal(); err != nil {
			result = multierror.Append(result, fmt.Errorf("conn %d: %w", c.id, err))
		}
	}
	return result.ErrorOrNil()
}
