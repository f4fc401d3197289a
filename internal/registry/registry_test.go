package registry

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parley/chat-client/internal/chat"
	"github.com/parley/chat-client/internal/protocol"
	"github.com/parley/chat-client/internal/transport"
)

// fakeChannel is an in-memory transport.Channel for registry tests.
type fakeChannel struct {
	mu             sync.Mutex
	subscribeCalls int
	topics         map[string]bool
	hang           bool          // Subscribe blocks until ctx is done
	gate           chan struct{} // if set, Subscribe waits for it
	onEvent        transport.EventHandler
	onState        transport.StateHandler
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{topics: make(map[string]bool)}
}

func (f *fakeChannel) Connect(context.Context) error { return nil }
func (f *fakeChannel) Disconnect() error             { return nil }

func (f *fakeChannel) Send(_ context.Context, topic string, payload []byte) error { return nil }

func (f *fakeChannel) Subscribe(ctx context.Context, topic string) error {
	f.mu.Lock()
	hang := f.hang
	gate := f.gate
	f.subscribeCalls++
	f.mu.Unlock()
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	f.topics[topic] = true
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Unsubscribe(topic string) error {
	f.mu.Lock()
	delete(f.topics, topic)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) OnEvent(fn transport.EventHandler)       { f.onEvent = fn }
func (f *fakeChannel) OnStateChange(fn transport.StateHandler) { f.onState = fn }
func (f *fakeChannel) State() transport.State                  { return transport.StateConnected }

// push injects an inbound event as if the broker delivered it.
func (f *fakeChannel) push(topic string, payload []byte) {
	f.onEvent(topic, payload)
}

func (f *fakeChannel) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subscribeCalls
}

func TestSubscribeIsIdempotent(t *testing.T) {
	ch := newFakeChannel()
	r := New(ch, DefaultConfig())

	sub1, err := r.Subscribe(context.Background(), 42)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	sub2, err := r.Subscribe(context.Background(), 42)
	if err != nil {
		t.Fatalf("second subscribe: %v", err)
	}

	if sub1 != sub2 {
		t.Error("expected the existing subscription to be returned")
	}
	// One room binds exactly two topics; the second call must not issue
	// duplicate broker requests.
	if got := ch.calls(); got != 2 {
		t.Errorf("expected 2 channel subscribes, got %d", got)
	}
	if !r.Subscribed(42) {
		t.Error("room should be in the subscribed state")
	}
}

func TestSubscribeTimeoutReturnsSubscriptionError(t *testing.T) {
	ch := newFakeChannel()
	ch.hang = true
	r := New(ch, Config{SubscribeTimeout: 20 * time.Millisecond})

	_, err := r.Subscribe(context.Background(), 42)
	if err == nil {
		t.Fatal("expected subscribe to fail")
	}
	var subErr *SubscriptionError
	if !errors.As(err, &subErr) {
		t.Fatalf("expected *SubscriptionError, got %T: %v", err, err)
	}
	if subErr.RoomID != 42 {
		t.Errorf("expected room 42 in error, got %d", subErr.RoomID)
	}
	if r.Subscribed(42) {
		t.Error("room must be back in unsubscribed state after timeout")
	}

	// The caller may retry once the broker recovers.
	ch.mu.Lock()
	ch.hang = false
	ch.mu.Unlock()
	if _, err := r.Subscribe(context.Background(), 42); err != nil {
		t.Fatalf("retry should succeed: %v", err)
	}
}

func TestConcurrentSubscribeSharesBindOutcome(t *testing.T) {
	ch := newFakeChannel()
	gate := make(chan struct{})
	ch.gate = gate
	r := New(ch, DefaultConfig())

	var wg sync.WaitGroup
	subs := make([]*Subscription, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subs[i], errs[i] = r.Subscribe(context.Background(), 42)
		}(i)
	}

	// Let both callers reach the in-flight bind before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	for i := 0; i < 2; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if subs[i].State() != StateSubscribed {
			t.Errorf("caller %d holds a %s subscription", i, subs[i].State())
		}
	}
	// One bind, two topics: the waiter must not issue its own requests.
	if got := ch.calls(); got != 2 {
		t.Errorf("expected 2 channel subscribes, got %d", got)
	}
}

func TestConcurrentSubscribeSharesBindFailure(t *testing.T) {
	ch := newFakeChannel()
	ch.hang = true
	r := New(ch, Config{SubscribeTimeout: 20 * time.Millisecond})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Subscribe(context.Background(), 42)
		}(i)
	}
	wg.Wait()

	// Neither caller may be handed a subscription the failed bind already
	// removed; both see the failure.
	for i, err := range errs {
		var subErr *SubscriptionError
		if !errors.As(err, &subErr) {
			t.Errorf("caller %d: expected *SubscriptionError, got %v", i, err)
		}
	}
	if r.Subscribed(42) {
		t.Error("room must be unsubscribed after a failed bind")
	}
}

func TestRouteMessageEvent(t *testing.T) {
	ch := newFakeChannel()
	r := New(ch, DefaultConfig())

	var got struct {
		roomID int64
		event  interface{}
	}
	done := make(chan struct{})
	r.OnMessage(func(roomID int64, event interface{}) {
		got.roomID = roomID
		got.event = event
		close(done)
	})

	if _, err := r.Subscribe(context.Background(), 42); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	payload, _ := protocol.NewEvent(protocol.EventMessage, protocol.MessageEvent{
		Message: chat.Message{ID: 5, RoomID: 42, Content: "hi", Timestamp: time.Unix(10, 0)},
	})
	ch.push(protocol.RoomTopic(42), payload)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("event was not routed")
	}

	if got.roomID != 42 {
		t.Errorf("expected room 42, got %d", got.roomID)
	}
	me, ok := got.event.(protocol.MessageEvent)
	if !ok {
		t.Fatalf("expected MessageEvent, got %T", got.event)
	}
	if me.Message.ID != 5 {
		t.Errorf("unexpected message: %+v", me.Message)
	}
}

func TestRouteTypingSignal(t *testing.T) {
	ch := newFakeChannel()
	r := New(ch, DefaultConfig())

	sigCh := make(chan chat.TypingSignal, 1)
	r.OnTyping(func(sig chat.TypingSignal) { sigCh <- sig })

	if _, err := r.Subscribe(context.Background(), 42); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	payload, _ := json.Marshal(chat.TypingSignal{Username: "alice", Typing: true})
	ch.push(protocol.RoomTypingTopic(42), payload)

	select {
	case sig := <-sigCh:
		if sig.RoomID != 42 || sig.Username != "alice" || !sig.Typing {
			t.Errorf("unexpected signal: %+v", sig)
		}
	case <-time.After(time.Second):
		t.Fatal("typing signal was not routed")
	}
}

func TestEventsForUnsubscribedRoomAreDropped(t *testing.T) {
	ch := newFakeChannel()
	r := New(ch, DefaultConfig())

	var delivered int
	var mu sync.Mutex
	r.OnMessage(func(int64, interface{}) {
		mu.Lock()
		delivered++
		mu.Unlock()
	})

	if _, err := r.Subscribe(context.Background(), 42); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	r.Unsubscribe(42)

	payload, _ := protocol.NewEvent(protocol.EventMessage, protocol.MessageEvent{
		Message: chat.Message{ID: 1, RoomID: 42, Timestamp: time.Unix(10, 0)},
	})
	ch.push(protocol.RoomTopic(42), payload)

	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Errorf("expected in-flight events for released rooms to be dropped, got %d", delivered)
	}
}

func TestResubscribeRestoresSubscribedRooms(t *testing.T) {
	ch := newFakeChannel()
	r := New(ch, DefaultConfig())

	for _, room := range []int64{1, 2, 3} {
		if _, err := r.Subscribe(context.Background(), room); err != nil {
			t.Fatalf("subscribe room %d: %v", room, err)
		}
	}
	r.Unsubscribe(2)
	before := ch.calls()

	r.Resubscribe(context.Background())

	// Two rooms remain subscribed, two topics each.
	if got := ch.calls() - before; got != 4 {
		t.Errorf("expected 4 channel subscribes on resubscribe, got %d", got)
	}
	if r.Subscribed(2) {
		t.Error("unsubscribed room must not be restored")
	}
}
