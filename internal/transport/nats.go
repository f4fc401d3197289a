package transport

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string        // nats://localhost:4222
	Name          string        // client name for identification
	ReconnectWait time.Duration // time between reconnect attempts
	MaxReconnects int           // max reconnect attempts (-1 for infinite)
}

// DefaultNATSConfig returns sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		Name:          "chat-client",
		ReconnectWait: 2 * time.Second,
		MaxReconnects: -1, // infinite reconnects
	}
}

// NATSChannel implements Channel over a NATS connection. Broker topics map
// directly to NATS subjects. Once connected, transport-level failures are
// retried by the NATS client itself; the initial connect is not.
type NATSChannel struct {
	cfg NATSConfig

	mu      sync.Mutex
	conn    *nats.Conn
	subs    map[string]*nats.Subscription
	state   State
	onEvent EventHandler
	onState StateHandler
}

// NewNATSChannel creates a disconnected channel with the given config.
func NewNATSChannel(cfg NATSConfig) *NATSChannel {
	return &NATSChannel{
		cfg:   cfg,
		subs:  make(map[string]*nats.Subscription),
		state: StateDisconnected,
	}
}

// OnEvent registers the inbound event handler.
func (c *NATSChannel) OnEvent(fn EventHandler) {
	c.mu.Lock()
	c.onEvent = fn
	c.mu.Unlock()
}

// OnStateChange registers the state transition observer.
func (c *NATSChannel) OnStateChange(fn StateHandler) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// State returns the current connection state.
func (c *NATSChannel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect dials the broker. A handshake failure returns *ConnError without
// scheduling a retry.
func (c *NATSChannel) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	opts := []nats.Option{
		nats.Name(c.cfg.Name),
		nats.ReconnectWait(c.cfg.ReconnectWait),
		nats.MaxReconnects(c.cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Printf("[nats] disconnected: %v", err)
			} else {
				log.Printf("[nats] disconnected")
			}
			c.setState(StateDisconnected)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[nats] reconnected to %s", nc.ConnectedUrl())
			c.setState(StateConnected)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			log.Printf("[nats] connection closed")
		}),
	}
	if deadline, ok := ctx.Deadline(); ok {
		opts = append(opts, nats.Timeout(time.Until(deadline)))
	}

	nc, err := nats.Connect(c.cfg.URL, opts...)
	if err != nil {
		c.setState(StateDisconnected)
		return &ConnError{URL: c.cfg.URL, Err: err}
	}

	log.Printf("[nats] connected to %s", nc.ConnectedUrl())

	c.mu.Lock()
	c.conn = nc
	c.mu.Unlock()
	c.setState(StateConnected)
	return nil
}

// Disconnect drains active subscriptions and closes the connection. Topic
// names stay with the caller's registry for a later resubscribe.
func (c *NATSChannel) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	subs := c.subs
	c.conn = nil
	c.subs = make(map[string]*nats.Subscription)
	c.mu.Unlock()

	if conn == nil {
		return nil
	}

	for topic, sub := range subs {
		if err := sub.Drain(); err != nil {
			log.Printf("[nats] drain %s: %v", topic, err)
		}
	}
	if err := conn.Drain(); err != nil {
		log.Printf("[nats] connection drain: %v", err)
	}
	c.setState(StateDisconnected)
	return nil
}

// Send publishes data to the given subject.
func (c *NATSChannel) Send(_ context.Context, topic string, payload []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	return conn.Publish(topic, payload)
}

// Subscribe binds a subject to the event handler. The NATS client restores
// subscriptions across its own reconnects, so resubscribing an
// already-bound topic is a no-op here.
func (c *NATSChannel) Subscribe(_ context.Context, topic string) error {
	c.mu.Lock()
	conn := c.conn
	handler := c.onEvent
	if _, ok := c.subs[topic]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	sub, err := conn.Subscribe(topic, func(msg *nats.Msg) {
		if handler != nil {
			handler(msg.Subject, msg.Data)
		}
	})
	if err != nil {
		return &ConnError{URL: c.cfg.URL, Err: err}
	}

	c.mu.Lock()
	c.subs[topic] = sub
	c.mu.Unlock()
	return nil
}

// Unsubscribe releases the subject binding.
func (c *NATSChannel) Unsubscribe(topic string) error {
	c.mu.Lock()
	sub, ok := c.subs[topic]
	delete(c.subs, topic)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	if err := sub.Unsubscribe(); err != nil {
		log.Printf("[nats] unsubscribe %s: %v", topic, err)
		return err
	}
	return nil
}

func (c *NATSChannel) setState(s State) {
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
