// Package typing emits throttled typing indicators. Outbound signals are
// collapsed to one emission per interval per room so a fast typist does not
// flood the broker; a stop-typing signal always goes out immediately, even
// mid-interval. Signals are fire-and-observe: nothing is ever stored.
package typing

import (
	"log"
	"sync"
	"time"

	"github.com/parley/chat-client/internal/chat"
	"github.com/parley/chat-client/internal/metrics"
)

// DefaultInterval is the minimum spacing between emitted typing-started
// signals for a single room.
const DefaultInterval = 2 * time.Second

// Emitter publishes a typing signal to the broker's typing destination.
type Emitter func(sig chat.TypingSignal) error

// roomThrottle tracks one room's emission window. A trailing signal
// suppressed inside the window is re-emitted when the window closes.
type roomThrottle struct {
	lastEmit time.Time
	pending  *chat.TypingSignal
	timer    *time.Timer
}

// Signaler throttles outbound typing indicators per room.
type Signaler struct {
	interval time.Duration
	emit     Emitter

	mu     sync.Mutex
	rooms  map[int64]*roomThrottle
	closed bool
}

// NewSignaler creates a signaler that publishes through emit. A
// non-positive interval falls back to DefaultInterval.
func NewSignaler(emit Emitter, interval time.Duration) *Signaler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Signaler{
		interval: interval,
		emit:     emit,
		rooms:    make(map[int64]*roomThrottle),
	}
}

// Notify records a typing state change. Started-typing signals are emitted
// at most once per interval per room, with trailing-edge delivery for
// signals suppressed inside the window. Stopped-typing signals bypass the
// throttle and cancel any trailing emission.
func (s *Signaler) Notify(roomID, userID int64, username string, isTyping bool) {
	sig := chat.TypingSignal{
		RoomID:   roomID,
		UserID:   userID,
		Username: username,
		Typing:   isTyping,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	rt, ok := s.rooms[roomID]
	if !ok {
		rt = &roomThrottle{}
		s.rooms[roomID] = rt
	}

	if !isTyping {
		// A stop always flushes, even mid-interval.
		if rt.timer != nil {
			rt.timer.Stop()
			rt.timer = nil
		}
		rt.pending = nil
		rt.lastEmit = time.Now()
		s.mu.Unlock()
		s.send(sig)
		return
	}

	if time.Since(rt.lastEmit) >= s.interval {
		rt.lastEmit = time.Now()
		s.mu.Unlock()
		s.send(sig)
		return
	}

	// Inside the window: keep only the latest signal and arm a trailing
	// emission at the window boundary.
	rt.pending = &sig
	metrics.TypingEvents.WithLabelValues("throttled").Inc()
	if rt.timer == nil {
		wait := s.interval - time.Since(rt.lastEmit)
		rt.timer = time.AfterFunc(wait, func() { s.flush(roomID) })
	}
	s.mu.Unlock()
}

// Close cancels all trailing timers. Pending signals are dropped; the
// caller is expected to have sent its final stop-typing signal already.
func (s *Signaler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, rt := range s.rooms {
		if rt.timer != nil {
			rt.timer.Stop()
			rt.timer = nil
		}
		rt.pending = nil
	}
}

// flush emits a room's trailing signal when its throttle window closes.
func (s *Signaler) flush(roomID int64) {
	s.mu.Lock()
	rt, ok := s.rooms[roomID]
	if !ok || s.closed {
		s.mu.Unlock()
		return
	}
	rt.timer = nil
	sig := rt.pending
	rt.pending = nil
	if sig == nil {
		s.mu.Unlock()
		return
	}
	rt.lastEmit = time.Now()
	s.mu.Unlock()
	s.send(*sig)
}

func (s *Signaler) send(sig chat.TypingSignal) {
	if err := s.emit(sig); err != nil {
		log.Printf("[typing] emit room=%d: %v", sig.RoomID, err)
		return
	}
	metrics.TypingEvents.WithLabelValues("emitted").Inc()
}
