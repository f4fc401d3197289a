package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/parley/chat-client/internal/protocol"
)

// wsBroker is a minimal loopback gateway: it upgrades incoming connections
// and exposes the client frames it reads.
type wsBroker struct {
	ln     net.Listener
	conns  chan net.Conn
	frames chan protocol.Frame
}

func startWSBroker(t *testing.T) *wsBroker {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	b := &wsBroker{
		ln:     ln,
		conns:  make(chan net.Conn, 4),
		frames: make(chan protocol.Frame, 16),
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			if _, err := ws.Upgrade(conn); err != nil {
				conn.Close()
				continue
			}
			b.conns <- conn
			go b.readFrames(conn)
		}
	}()
	return b
}

func (b *wsBroker) readFrames(conn net.Conn) {
	for {
		data, err := wsutil.ReadClientText(conn)
		if err != nil {
			return
		}
		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err == nil {
			b.frames <- frame
		}
	}
}

func (b *wsBroker) url() string { return "ws://" + b.ln.Addr().String() }

func (b *wsBroker) waitConn(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-b.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("broker never saw a connection")
		return nil
	}
}

func (b *wsBroker) waitFrame(t *testing.T) protocol.Frame {
	t.Helper()
	select {
	case frame := <-b.frames:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatal("no frame reached the broker")
		return protocol.Frame{}
	}
}

func waitState(t *testing.T, states <-chan State, want State) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("never reached state %s", want)
		}
	}
}

func TestWSChannelResubscribesAfterBrokerDrop(t *testing.T) {
	b := startWSBroker(t)

	c := NewWSChannel(WSConfig{URL: b.url(), WriteTimeout: time.Second})
	states := make(chan State, 8)
	c.OnStateChange(func(s State) { states <- s })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	conn1 := b.waitConn(t)

	if err := c.Subscribe(ctx, "chat.room.42"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	frame := b.waitFrame(t)
	if frame.Type != protocol.FrameSubscribe || frame.Topic != "chat.room.42" {
		t.Fatalf("unexpected frame: %+v", frame)
	}

	// Broker-side drop, not a local Disconnect.
	conn1.Close()
	waitState(t, states, StateDisconnected)

	// Sends against the dead socket must fail as disconnected.
	if err := c.Send(ctx, protocol.SubjectSend, []byte("{}")); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after drop, got %v", err)
	}

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	b.waitConn(t)

	// Subscribing the same topic on the new connection must produce a real
	// frame; the old binding died with the old connection.
	if err := c.Subscribe(ctx, "chat.room.42"); err != nil {
		t.Fatalf("resubscribe: %v", err)
	}
	frame = b.waitFrame(t)
	if frame.Type != protocol.FrameSubscribe || frame.Topic != "chat.room.42" {
		t.Fatalf("resubscription never reached the new connection: %+v", frame)
	}
}
