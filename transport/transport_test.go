package transport

import (
	"sync"
	"testing"
	"time"
)

func startTestPair(t *testing.T, opts ...Option) (*Transport, *Transport) {
	t.Helper()
	base := []Option{
		WithConnectInterval(20 * time.Millisecond),
		WithConnectTimeout(2 * time.Second),
		WithConnectionTimeout(2 * time.Second),
		WithKeepAlivePingTime(200 * time.Millisecond),
		WithRetryInterval(20 * time.Millisecond),
		WithMaxRetries(20),
	}
	srvOpts := append(append([]Option{}, base...), opts...)
	cliOpts := append(append([]Option{}, base...), opts...)

	srv, err := NewServer("127.0.0.1:0", srvOpts...)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.DisconnectAll() })

	cli, err := NewClient("127.0.0.1:0", cliOpts...)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = cli.DisconnectAll() })

	return srv, cli
}

func TestHandshakeCompletesAndDeliversReliablePayload(t *testing.T) {
	srv, cli := startTestPair(t)

	var mu sync.Mutex
	var serverGotID ConnID
	received := make(chan []byte, 1)
	srv.OnReceive(func(id ConnID, payload []byte) {
		mu.Lock()
		serverGotID = id
		mu.Unlock()
		received <- payload
	})

	localAddr := srv.conn.LocalAddr().String()
	id, err := cli.Connect(localAddr)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}

	// Give the three-way handshake time to complete before sending.
	time.Sleep(100 * time.Millisecond)

	if err := cli.SendReliable(id, []byte("hello world")); err != nil {
		t.Fatalf("SendReliable: %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != "hello world" {
			t.Errorf("received payload = %q, want %q", payload, "hello world")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive the reliable payload")
	}

	mu.Lock()
	defer mu.Unlock()
	if serverGotID == 0 {
		t.Error("server never recorded a connection id for the inbound payload")
	}
}

func TestOrderedDeliveryAcrossReorderedSends(t *testing.T) {
	srv, cli := startTestPair(t)

	order := make(chan string, 3)
	srv.OnReceive(func(id ConnID, payload []byte) {
		order <- string(payload)
	})

	id, err := cli.Connect(srv.conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	for _, msg := range []string{"one", "two", "three"} {
		if err := cli.SendReliable(id, []byte(msg)); err != nil {
			t.Fatalf("SendReliable(%q): %v", msg, err)
		}
	}

	want := []string{"one", "two", "three"}
	for i, w := range want {
		select {
		case got := <-order:
			if got != w {
				t.Errorf("delivery %d = %q, want %q", i, got, w)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d", i)
		}
	}
}

func TestFragmentedReliableSendReassembles(t *testing.T) {
	srv, cli := startTestPair(t)

	received := make(chan []byte, 1)
	srv.OnReceive(func(id ConnID, payload []byte) {
		received <- payload
	})

	id, err := cli.Connect(srv.conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	big := make([]byte, MaxPayload*2+123)
	for i := range big {
		big[i] = byte(i % 251)
	}
	if err := cli.SendReliable(id, big); err != nil {
		t.Fatalf("SendReliable: %v", err)
	}

	select {
	case payload := <-received:
		if len(payload) != len(big) {
			t.Fatalf("received %d bytes, want %d", len(payload), len(big))
		}
		for i := range payload {
			if payload[i] != big[i] {
				t.Fatalf("payload mismatch at byte %d", i)
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the fragmented payload")
	}
}

func TestDisconnectNotifiesPeer(t *testing.T) {
	srv, cli := startTestPair(t)

	disconnected := make(chan DisconnectReason, 1)
	srv.OnDisconnect(func(id ConnID, reason DisconnectReason) {
		disconnected <- reason
	})

	id, err := cli.Connect(srv.conn.LocalAddr().String())
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := cli.Disconnect(id); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}

	select {
	case reason := <-disconnected:
		if reason != ReasonDisconnect {
			t.Errorf("disconnect reason = %v, want %v", reason, ReasonDisconnect)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for the server to observe the disconnect")
	}
}
