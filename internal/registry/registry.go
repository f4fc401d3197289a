// Package registry tracks which rooms are subscribed on the transport
// channel. It multiplexes broker topics to room identifiers, guarantees at
// most one active subscription per room per session, and restores every
// subscribed room after a transport reconnect.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/parley/chat-client/internal/chat"
	"github.com/parley/chat-client/internal/metrics"
	"github.com/parley/chat-client/internal/protocol"
	"github.com/parley/chat-client/internal/transport"
)

// SubState is the per-room subscription state machine:
// unsubscribed → subscribing → subscribed → unsubscribed.
type SubState int

const (
	StateUnsubscribed SubState = iota
	StateSubscribing
	StateSubscribed
)

// String returns the string representation of a SubState.
func (s SubState) String() string {
	switch s {
	case StateUnsubscribed:
		return "unsubscribed"
	case StateSubscribing:
		return "subscribing"
	case StateSubscribed:
		return "subscribed"
	default:
		return "unknown"
	}
}

// SubscriptionError reports a subscribe attempt that timed out or was
// rejected by the broker. The room is back in the unsubscribed state and
// the caller may retry.
type SubscriptionError struct {
	RoomID int64
	Err    error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("registry: subscribe room %d: %v", e.RoomID, e.Err)
}

func (e *SubscriptionError) Unwrap() error { return e.Err }

// Subscription is one room's topic binding: the room message topic plus its
// parallel typing topic. ready closes when the initial bind settles; err
// holds its failure, if any, for concurrent callers sharing the outcome.
type Subscription struct {
	RoomID      int64
	Topic       string
	TypingTopic string
	state       SubState
	ready       chan struct{}
	err         error
}

// State returns the subscription's current state.
func (s *Subscription) State() SubState { return s.state }

// Config holds registry tuning parameters.
type Config struct {
	SubscribeTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{SubscribeTimeout: 5 * time.Second}
}

// MessageHandler receives decoded room events (protocol.MessageEvent or
// protocol.EditEvent) routed by room.
type MessageHandler func(roomID int64, event interface{})

// TypingHandler receives decoded typing signals.
type TypingHandler func(sig chat.TypingSignal)

// Registry owns the room → topic subscription table.
type Registry struct {
	cfg     Config
	channel transport.Channel

	mu   sync.Mutex
	subs map[int64]*Subscription

	onMessage MessageHandler
	onTyping  TypingHandler
}

// New creates a registry bound to the channel. The registry installs itself
// as the channel's event handler; inbound events are demultiplexed by topic
// and forwarded to the routed handlers.
func New(channel transport.Channel, cfg Config) *Registry {
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = DefaultConfig().SubscribeTimeout
	}
	r := &Registry{
		cfg:     cfg,
		channel: channel,
		subs:    make(map[int64]*Subscription),
	}
	channel.OnEvent(r.route)
	return r
}

// OnMessage registers the handler for routed room events.
func (r *Registry) OnMessage(fn MessageHandler) {
	r.mu.Lock()
	r.onMessage = fn
	r.mu.Unlock()
}

// OnTyping registers the handler for routed typing signals.
func (r *Registry) OnTyping(fn TypingHandler) {
	r.mu.Lock()
	r.onTyping = fn
	r.mu.Unlock()
}

// Subscribe binds the room's message and typing topics. It is idempotent:
// a room already subscribed returns its existing subscription without a
// duplicate broker request, and a caller racing an in-flight bind waits for
// and shares its outcome. A timed-out attempt transitions back to
// unsubscribed and returns *SubscriptionError.
func (r *Registry) Subscribe(ctx context.Context, roomID int64) (*Subscription, error) {
	r.mu.Lock()
	if sub, ok := r.subs[roomID]; ok && sub.state != StateUnsubscribed {
		if sub.state == StateSubscribed {
			r.mu.Unlock()
			return sub, nil
		}
		ready := sub.ready
		r.mu.Unlock()
		select {
		case <-ready:
		case <-ctx.Done():
			return nil, &SubscriptionError{RoomID: roomID, Err: ctx.Err()}
		}
		r.mu.Lock()
		defer r.mu.Unlock()
		if sub.state != StateSubscribed {
			return nil, &SubscriptionError{RoomID: roomID, Err: sub.err}
		}
		return sub, nil
	}
	sub := &Subscription{
		RoomID:      roomID,
		Topic:       protocol.RoomTopic(roomID),
		TypingTopic: protocol.RoomTypingTopic(roomID),
		state:       StateSubscribing,
		ready:       make(chan struct{}),
	}
	r.subs[roomID] = sub
	r.mu.Unlock()

	err := r.bind(ctx, sub)
	r.mu.Lock()
	if err != nil {
		sub.state = StateUnsubscribed
		sub.err = err
		delete(r.subs, roomID)
	} else {
		sub.state = StateSubscribed
	}
	close(sub.ready)
	r.mu.Unlock()

	if err != nil {
		return nil, &SubscriptionError{RoomID: roomID, Err: err}
	}
	metrics.SubscribedRooms.Inc()
	return sub, nil
}

// Unsubscribe releases the room's topic bindings. Inbound events already in
// flight are delivered by the transport and then dropped by the router.
func (r *Registry) Unsubscribe(roomID int64) {
	r.mu.Lock()
	sub, ok := r.subs[roomID]
	if ok {
		delete(r.subs, roomID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}

	if err := r.channel.Unsubscribe(sub.Topic); err != nil {
		log.Printf("[registry] unsubscribe room=%d: %v", roomID, err)
	}
	if err := r.channel.Unsubscribe(sub.TypingTopic); err != nil {
		log.Printf("[registry] unsubscribe typing room=%d: %v", roomID, err)
	}
	sub.state = StateUnsubscribed
	metrics.SubscribedRooms.Dec()
}

// Resubscribe re-binds every room currently in the subscribed state, in
// unspecified order. Called by the sync coordinator after a transport
// reconnect; callers never replay Subscribe themselves.
func (r *Registry) Resubscribe(ctx context.Context) {
	r.mu.Lock()
	subs := make([]*Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		if sub.state == StateSubscribed {
			subs = append(subs, sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range subs {
		if err := r.bind(ctx, sub); err != nil {
			log.Printf("[registry] resubscribe room=%d: %v", sub.RoomID, err)
			continue
		}
		metrics.Resubscriptions.Inc()
	}
	if len(subs) > 0 {
		log.Printf("[registry] resubscribed %d rooms after reconnect", len(subs))
	}
}

// Subscribed reports whether the room currently has an active subscription.
func (r *Registry) Subscribed(roomID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[roomID]
	return ok && sub.state == StateSubscribed
}

// bind subscribes both of the room's topics on the channel, bounded by the
// configured subscribe timeout.
func (r *Registry) bind(ctx context.Context, sub *Subscription) error {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.SubscribeTimeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		if err := r.channel.Subscribe(ctx, sub.Topic); err != nil {
			errCh <- err
			return
		}
		errCh <- r.channel.Subscribe(ctx, sub.TypingTopic)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// route is the transport event handler. It parses the topic into a room ID,
// decodes the payload, and forwards it to the routed handler. Events for
// rooms no longer subscribed are dropped.
func (r *Registry) route(topic string, payload []byte) {
	roomID, typing, err := protocol.ParseRoomTopic(topic)
	if err != nil {
		log.Printf("[registry] unroutable topic %q: %v", topic, err)
		return
	}

	r.mu.Lock()
	sub, ok := r.subs[roomID]
	active := ok && sub.state != StateUnsubscribed
	onMessage := r.onMessage
	onTyping := r.onTyping
	r.mu.Unlock()

	if !active {
		log.Printf("[registry] dropping event for unsubscribed room=%d", roomID)
		return
	}

	if typing {
		if onTyping == nil {
			return
		}
		var sig chat.TypingSignal
		if err := json.Unmarshal(payload, &sig); err != nil {
			log.Printf("[registry] bad typing payload room=%d: %v", roomID, err)
			return
		}
		sig.RoomID = roomID
		onTyping(sig)
		return
	}

	if onMessage == nil {
		return
	}
	_, ev, err := protocol.ParseRoomEvent(payload)
	if err != nil {
		log.Printf("[registry] bad event payload room=%d: %v", roomID, err)
		return
	}
	onMessage(roomID, ev)
}
