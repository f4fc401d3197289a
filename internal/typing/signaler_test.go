package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/parley/chat-client/internal/chat"
)

// recorder collects emitted signals.
type recorder struct {
	mu   sync.Mutex
	sigs []chat.TypingSignal
}

func (r *recorder) emit(sig chat.TypingSignal) error {
	r.mu.Lock()
	r.sigs = append(r.sigs, sig)
	r.mu.Unlock()
	return nil
}

func (r *recorder) snapshot() []chat.TypingSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chat.TypingSignal, len(r.sigs))
	copy(out, r.sigs)
	return out
}

func TestStartedTypingIsThrottled(t *testing.T) {
	rec := &recorder{}
	s := NewSignaler(rec.emit, time.Second)
	defer s.Close()

	for i := 0; i < 10; i++ {
		s.Notify(1, 7, "alice", true)
	}

	got := rec.snapshot()
	if len(got) != 1 {
		t.Fatalf("expected 1 emitted signal inside the window, got %d", len(got))
	}
	if !got[0].Typing || got[0].RoomID != 1 || got[0].Username != "alice" {
		t.Errorf("unexpected signal: %+v", got[0])
	}
}

func TestTrailingSignalFlushesWhenWindowCloses(t *testing.T) {
	rec := &recorder{}
	s := NewSignaler(rec.emit, 30*time.Millisecond)
	defer s.Close()

	s.Notify(1, 7, "alice", true)
	// Suppressed inside the window; must fire at the boundary.
	s.Notify(1, 7, "alice", true)

	deadline := time.After(time.Second)
	for {
		if len(rec.snapshot()) == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("trailing signal never flushed, got %d emissions", len(rec.snapshot()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStopTypingBypassesThrottle(t *testing.T) {
	rec := &recorder{}
	s := NewSignaler(rec.emit, time.Hour)
	defer s.Close()

	s.Notify(1, 7, "alice", true)
	s.Notify(1, 7, "alice", true) // suppressed, arms trailing timer
	s.Notify(1, 7, "alice", false)

	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected start then stop, got %d signals", len(got))
	}
	if !got[0].Typing {
		t.Error("first signal should be started-typing")
	}
	if got[1].Typing {
		t.Error("stop signal must be emitted immediately, even mid-interval")
	}

	// The stop cancelled the trailing emission; nothing else may arrive.
	time.Sleep(50 * time.Millisecond)
	if n := len(rec.snapshot()); n != 2 {
		t.Errorf("trailing signal should have been cancelled, got %d signals", n)
	}
}

func TestRoomsAreThrottledIndependently(t *testing.T) {
	rec := &recorder{}
	s := NewSignaler(rec.emit, time.Hour)
	defer s.Close()

	s.Notify(1, 7, "alice", true)
	s.Notify(2, 7, "alice", true)

	got := rec.snapshot()
	if len(got) != 2 {
		t.Fatalf("expected one emission per room, got %d", len(got))
	}
	if got[0].RoomID == got[1].RoomID {
		t.Errorf("expected distinct rooms, got %d and %d", got[0].RoomID, got[1].RoomID)
	}
}

func TestCloseDropsPendingSignals(t *testing.T) {
	rec := &recorder{}
	s := NewSignaler(rec.emit, 20*time.Millisecond)

	s.Notify(1, 7, "alice", true)
	s.Notify(1, 7, "alice", true) // pending
	s.Close()

	time.Sleep(60 * time.Millisecond)
	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("expected pending signal to be dropped on close, got %d", n)
	}

	// Notifications after close are ignored.
	s.Notify(1, 7, "alice", false)
	if n := len(rec.snapshot()); n != 1 {
		t.Errorf("expected notify after close to be a no-op, got %d", n)
	}
}
