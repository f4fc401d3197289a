// Package transport maintains the logical connection to the push broker. It
// exposes connect/disconnect, raw topic-scoped send/receive of JSON events,
// and observable connection state. Two implementations are provided: a NATS
// channel (subject == topic) and a WebSocket channel for brokers fronted by
// a WS gateway. Retry policy for failed connects belongs to the caller; the
// channel itself never schedules a connect retry.
package transport

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotConnected is returned by Send and Subscribe while the channel is
// disconnected. The caller keeps the affected message in its pending/failed
// state; nothing is lost.
var ErrNotConnected = errors.New("transport: not connected")

// ConnError reports a failed connection handshake. It is recoverable;
// retry with backoff is left to the caller.
type ConnError struct {
	URL string
	Err error
}

func (e *ConnError) Error() string {
	return fmt.Sprintf("transport: connect %s: %v", e.URL, e.Err)
}

func (e *ConnError) Unwrap() error { return e.Err }

// State is the observable connection state of a channel.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

// String returns the string representation of a State.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// EventHandler receives raw inbound events with their originating topic.
// Delivery order per topic is FIFO as received from the broker; no ordering
// is guaranteed across topics.
type EventHandler func(topic string, payload []byte)

// StateHandler observes connection state transitions.
type StateHandler func(State)

// Channel is one logical connection to the push broker.
type Channel interface {
	// Connect establishes the underlying connection. It fails with a
	// *ConnError on handshake failure and schedules no retry by itself.
	Connect(ctx context.Context) error

	// Disconnect tears down the connection. Topic subscriptions become
	// inactive but the caller's registry keeps them for resubscription.
	Disconnect() error

	// Send publishes a payload to a topic. Fails with ErrNotConnected
	// while disconnected.
	Send(ctx context.Context, topic string, payload []byte) error

	// Subscribe binds a topic so its events are delivered to the event
	// handler. Subscribing a topic twice is a no-op.
	Subscribe(ctx context.Context, topic string) error

	// Unsubscribe releases a topic binding. Events already in flight may
	// still be delivered.
	Unsubscribe(topic string) error

	// OnEvent registers the inbound event handler. Must be set before
	// Connect.
	OnEvent(fn EventHandler)

	// OnStateChange registers the state transition observer. Must be set
	// before Connect.
	OnStateChange(fn StateHandler)

	// State returns the current connection state.
	State() State
}
