package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/parley/chat-client/internal/protocol"
)

// WSConfig holds WebSocket channel settings.
type WSConfig struct {
	URL          string        // ws://host:port/ws
	WriteTimeout time.Duration // per-frame write deadline
}

// DefaultWSConfig returns sensible defaults.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		URL:          "ws://localhost:8080/ws",
		WriteTimeout: 10 * time.Second,
	}
}

// WSChannel implements Channel over a raw WebSocket to a broker gateway.
// Subscriptions and publishes are JSON control frames; inbound events carry
// their originating topic in the frame envelope.
type WSChannel struct {
	cfg WSConfig

	mu      sync.Mutex
	conn    net.Conn
	topics  map[string]struct{}
	state   State
	onEvent EventHandler
	onState StateHandler
	done    chan struct{}
}

// NewWSChannel creates a disconnected channel with the given config.
func NewWSChannel(cfg WSConfig) *WSChannel {
	return &WSChannel{
		cfg:    cfg,
		topics: make(map[string]struct{}),
		state:  StateDisconnected,
	}
}

// OnEvent registers the inbound event handler.
func (c *WSChannel) OnEvent(fn EventHandler) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

// OnStateChange registers the state transition observer.
func (c *WSChannel) OnStateChange(fn StateHandler) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *WSChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the gateway and starts a background read loop. A handshake
// failure returns *ConnError without scheduling a retry.
func (c *WSChannel) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	conn, _, _, err := ws.Dial(ctx, c.cfg.URL)
	if err != nil {
		c.setState(StateDisconnected)
		return &ConnError{URL: c.cfg.URL, Err: err}
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.done = done
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.readLoop(conn, done)
	return nil
}

// Disconnect closes the connection and stops the read loop. Topic names
// stay with the caller's registry for a later resubscribe.
func (c *WSChannel) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	done := c.done
	c.conn = nil
	c.done = nil
	c.topics = make(map[string]struct{})
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	close(done)
	err := conn.Close()
	c.setState(StateDisconnected)
	return err
}

// Send publishes a payload to a topic via a publish frame.
func (c *WSChannel) Send(_ context.Context, topic string, payload []byte) error {
	return c.writeFrame(protocol.Frame{
		Type:  protocol.FramePublish,
		Topic: topic,
		Data:  payload,
	})
}

// Subscribe binds a topic via a subscribe frame. Already-bound topics are a
// no-op.
func (c *WSChannel) Subscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	if _, ok := c.topics[topic]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.writeFrame(protocol.Frame{Type: protocol.FrameSubscribe, Topic: topic}); err != nil {
		return err
	}

	c.mu.Lock()
	c.topics[topic] = struct{}{}
	c.mu.Unlock()
	return nil
}

// Unsubscribe releases the topic binding.
func (c *WSChannel) Unsubscribe(topic string) error {
	c.mu.Lock()
	_, ok := c.topics[topic]
	delete(c.topics, topic)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.writeFrame(protocol.Frame{Type: protocol.FrameUnsubscribe, Topic: topic})
}

// writeFrame marshals and writes a single client frame. It is
// goroutine-safe.
func (c *WSChannel) writeFrame(frame protocol.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("transport: marshal frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}
	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// readLoop continuously reads frames from the gateway and forwards event
// frames to the handler with their originating topic. It runs until the
// connection is closed.
func (c *WSChannel) readLoop(conn net.Conn, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(conn)
		if err != nil {
			select {
			case <-done:
				// Connection was intentionally closed.
				return
			default:
			}
			log.Printf("[ws] read loop exit: %v", err)
			c.teardown(conn)
			c.setState(StateDisconnected)
			return
		}

		var frame protocol.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("[ws] bad frame: %v", err)
			continue
		}

		switch frame.Type {
		case protocol.FrameEvent:
			c.mu.Lock()
			handler := c.onEvent
			c.mu.Unlock()
			if handler != nil {
				handler(frame.Topic, frame.Data)
			}
		case protocol.FrameError:
			log.Printf("[ws] broker error: %v", frame.Error)
		}
	}
}

// teardown clears connection state after an unexpected drop. Sends fail
// with ErrNotConnected again and a later reconnect starts with an empty
// topic set, so the registry's resubscription writes real subscribe frames
// instead of hitting stale no-op entries.
func (c *WSChannel) teardown(conn net.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.done = nil
		c.topics = make(map[string]struct{})
	}
	c.mu.Unlock()
	conn.Close()
}

func (c *WSChannel) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
