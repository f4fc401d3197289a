package chat

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/parley/chat-client/internal/metrics"
)

const (
	// DefaultMaxRooms is the number of room timelines retained in memory
	// before the least recently touched one is evicted.
	DefaultMaxRooms = 16

	// DefaultEditRetention is how long an edit referencing a not-yet-seen
	// message is held before being discarded.
	DefaultEditRetention = 30 * time.Second
)

// TimelineConfig holds Timeline store tuning parameters.
type TimelineConfig struct {
	MaxRooms      int           // retained-room bound (LRU eviction)
	EditRetention time.Duration // edit-pending buffer window
}

// DefaultTimelineConfig returns sensible defaults.
func DefaultTimelineConfig() TimelineConfig {
	return TimelineConfig{
		MaxRooms:      DefaultMaxRooms,
		EditRetention: DefaultEditRetention,
	}
}

// pendingEdit is an edit that arrived before the message it refers to.
// Ordering across the REST and broker channels makes this legitimate: the
// edit is applied automatically once the message shows up, or discarded
// after the retention window.
type pendingEdit struct {
	content  string
	editedAt time.Time
	storedAt time.Time
}

// roomTimeline is the ordered message log for a single room. Each room has
// its own mutex so mutations for different rooms never block each other.
type roomTimeline struct {
	mu            sync.Mutex
	messages      []Message // sorted per Message.Before
	loading       bool
	loadBuf       []Message // live events buffered during a history load
	pendingEdits  map[int64]pendingEdit
	editRetention time.Duration
	touched       time.Time
}

// TimelineStore owns every room timeline. All timeline mutation goes through
// it: bulk history merge on activation, single append on live push, and
// in-place edits by message ID.
type TimelineStore struct {
	cfg TimelineConfig

	mu    sync.RWMutex
	rooms map[int64]*roomTimeline
}

// NewTimelineStore creates an empty store with the given config.
func NewTimelineStore(cfg TimelineConfig) *TimelineStore {
	if cfg.MaxRooms <= 0 {
		cfg.MaxRooms = DefaultMaxRooms
	}
	if cfg.EditRetention <= 0 {
		cfg.EditRetention = DefaultEditRetention
	}
	return &TimelineStore{
		cfg:   cfg,
		rooms: make(map[int64]*roomTimeline),
	}
}

// BeginLoad marks a history load as in progress for the room. Live events
// appended while the load is in progress are buffered and merged by
// LoadHistory, so nothing pushed between subscription activation and the
// history response is lost.
func (s *TimelineStore) BeginLoad(roomID int64) {
	rt := s.room(roomID)
	rt.mu.Lock()
	// A re-activation while a load is already in progress keeps the buffer:
	// events captured so far still belong to the room.
	rt.loading = true
	rt.mu.Unlock()
}

// AbortLoad closes the load gate without replacing the timeline, merging any
// buffered live events into the existing log. Used when a history fetch
// fails or a room is deactivated mid-load: the timeline keeps its last known
// state and live events are not lost.
func (s *TimelineStore) AbortLoad(roomID int64) {
	rt := s.room(roomID)
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if !rt.loading {
		return
	}
	buffered := rt.loadBuf
	rt.loadBuf = nil
	rt.loading = false
	for i := range buffered {
		rt.insertLocked(&buffered[i])
	}
}

// LoadHistory replaces the room's timeline with the given message set,
// deduplicated by identity and sorted by (timestamp, ID). Any live events
// buffered since BeginLoad are merged in afterwards, preserving overall
// order.
func (s *TimelineStore) LoadHistory(roomID int64, msgs []Message) {
	rt := s.room(roomID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.messages = rt.messages[:0]
	for i := range msgs {
		m := msgs[i]
		if m.State == "" {
			m.State = DeliveryConfirmed
		}
		rt.insertLocked(&m)
	}

	buffered := rt.loadBuf
	rt.loadBuf = nil
	rt.loading = false
	for i := range buffered {
		rt.insertLocked(&buffered[i])
	}
	if len(buffered) > 0 {
		log.Printf("[timeline] room=%d merged %d buffered live events after history load", roomID, len(buffered))
	}
	rt.touched = time.Now()
}

// Append inserts a live message in timeline order. Duplicate identities are
// a no-op unless the incoming copy carries a newer edit timestamp, in which
// case it replaces the existing entry. A server echo carrying the local ID
// of a pending message confirms it. If a history load is in progress the
// message is buffered instead and merged by LoadHistory.
func (s *TimelineStore) Append(roomID int64, msg Message) {
	if msg.State == "" {
		msg.State = DeliveryConfirmed
	}
	rt := s.room(roomID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.loading {
		rt.loadBuf = append(rt.loadBuf, msg)
		return
	}
	rt.insertLocked(&msg)
	rt.touched = time.Now()
	metrics.MessagesAppended.Inc()
}

// ApplyEdit updates a message's content in place. An edit can legitimately
// arrive before its message when ordering across the two channels
// interleaves, so a miss is not an error: the edit is buffered by message ID
// and applied automatically when the message appears.
func (s *TimelineStore) ApplyEdit(roomID, messageID int64, newContent string, editedAt time.Time) {
	rt := s.room(roomID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for i := range rt.messages {
		if rt.messages[i].ID == messageID {
			if rt.messages[i].Edited && !editedAt.After(rt.messages[i].EditedAt) {
				return
			}
			rt.messages[i].Content = newContent
			rt.messages[i].Edited = true
			rt.messages[i].EditedAt = editedAt
			return
		}
	}

	log.Printf("[timeline] room=%d edit for unseen message=%d buffered", roomID, messageID)
	if rt.pendingEdits == nil {
		rt.pendingEdits = make(map[int64]pendingEdit)
	}
	for id, pe := range rt.pendingEdits {
		if time.Since(pe.storedAt) > rt.retention() {
			delete(rt.pendingEdits, id)
		}
	}
	rt.pendingEdits[messageID] = pendingEdit{
		content:  newContent,
		editedAt: editedAt,
		storedAt: time.Now(),
	}
	metrics.EditsBuffered.Inc()
}

// Timeline returns a snapshot copy of the room's ordered message log, not a
// live view. Callers re-query after a change notification.
func (s *TimelineStore) Timeline(roomID int64) []Message {
	s.mu.RLock()
	rt, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if !ok {
		return []Message{}
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]Message, len(rt.messages))
	copy(out, rt.messages)
	return out
}

// MarkFailed transitions a pending local message to the failed state. The
// message stays in the timeline so the caller can surface a retry; it is
// never silently dropped. Returns false if no pending message with that
// local ID exists.
func (s *TimelineStore) MarkFailed(roomID int64, localID string) bool {
	rt := s.room(roomID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for i := range rt.messages {
		if rt.messages[i].LocalID == localID && rt.messages[i].State == DeliveryPending {
			rt.messages[i].State = DeliveryFailed
			return true
		}
	}
	for i := range rt.loadBuf {
		if rt.loadBuf[i].LocalID == localID && rt.loadBuf[i].State == DeliveryPending {
			rt.loadBuf[i].State = DeliveryFailed
			return true
		}
	}
	return false
}

// MarkPending transitions a failed local message back to pending, for the
// retry path. Returns false if no failed message with that local ID exists.
func (s *TimelineStore) MarkPending(roomID int64, localID string) bool {
	rt := s.room(roomID)
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for i := range rt.messages {
		if rt.messages[i].LocalID == localID && rt.messages[i].State == DeliveryFailed {
			rt.messages[i].State = DeliveryPending
			return true
		}
	}
	return false
}

// Touch refreshes the room's LRU position. The coordinator touches the
// active room on every activation so it is never the eviction victim.
func (s *TimelineStore) Touch(roomID int64) {
	rt := s.room(roomID)
	rt.mu.Lock()
	rt.touched = time.Now()
	rt.mu.Unlock()
}

// Remove drops a room's timeline entirely.
func (s *TimelineStore) Remove(roomID int64) {
	s.mu.Lock()
	delete(s.rooms, roomID)
	s.mu.Unlock()
}

// room returns the room's timeline, creating it if needed and evicting the
// least recently touched room when the retained-room bound is exceeded.
func (s *TimelineStore) room(roomID int64) *roomTimeline {
	s.mu.RLock()
	rt, ok := s.rooms[roomID]
	s.mu.RUnlock()
	if ok {
		return rt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if rt, ok = s.rooms[roomID]; ok {
		return rt
	}

	if len(s.rooms) >= s.cfg.MaxRooms {
		s.evictOldestLocked(roomID)
	}

	rt = &roomTimeline{editRetention: s.cfg.EditRetention, touched: time.Now()}
	s.rooms[roomID] = rt
	return rt
}

// evictOldestLocked removes the least recently touched room. Caller holds
// the store lock.
func (s *TimelineStore) evictOldestLocked(skip int64) {
	var (
		victim int64
		oldest time.Time
		found  bool
	)
	for id, rt := range s.rooms {
		if id == skip {
			continue
		}
		rt.mu.Lock()
		touched := rt.touched
		rt.mu.Unlock()
		if !found || touched.Before(oldest) {
			victim, oldest, found = id, touched, true
		}
	}
	if found {
		delete(s.rooms, victim)
		metrics.RoomsEvicted.Inc()
		log.Printf("[timeline] evicted room=%d (retained-room bound %d)", victim, s.cfg.MaxRooms)
	}
}

// insertLocked places msg into the sorted log, handling dedup, edit-wins
// replacement, pending-message confirmation, and buffered edits. Caller
// holds the room lock.
func (rt *roomTimeline) insertLocked(msg *Message) {
	for i := range rt.messages {
		if !rt.messages[i].SameIdentity(msg) {
			continue
		}
		existing := &rt.messages[i]

		// Server echo of an optimistic local send: adopt the server copy
		// but keep the local ID for the caller's bookkeeping.
		if existing.State == DeliveryPending || existing.State == DeliveryFailed {
			localID := existing.LocalID
			*existing = *msg
			existing.LocalID = localID
			existing.State = DeliveryConfirmed
			rt.resortLocked()
			return
		}

		// REST+push double delivery: no-op unless the incoming copy is a
		// newer edit.
		if msg.Edited && msg.EditedAt.After(existing.EditedAt) {
			state := existing.State
			*existing = *msg
			existing.State = state
			rt.resortLocked()
			return
		}
		metrics.MessagesDeduplicated.Inc()
		return
	}

	rt.applyPendingEditLocked(msg)

	idx := sort.Search(len(rt.messages), func(i int) bool {
		return msg.Before(&rt.messages[i])
	})
	rt.messages = append(rt.messages, Message{})
	copy(rt.messages[idx+1:], rt.messages[idx:])
	rt.messages[idx] = *msg
}

// applyPendingEditLocked applies a buffered edit to a newly arriving
// message, or discards it if the retention window has passed. Caller holds
// the room lock.
func (rt *roomTimeline) applyPendingEditLocked(msg *Message) {
	if msg.ID == 0 || rt.pendingEdits == nil {
		return
	}
	pe, ok := rt.pendingEdits[msg.ID]
	if !ok {
		return
	}
	delete(rt.pendingEdits, msg.ID)
	if time.Since(pe.storedAt) > rt.retention() {
		log.Printf("[timeline] discarding expired buffered edit for message=%d", msg.ID)
		return
	}
	msg.Content = pe.content
	msg.Edited = true
	msg.EditedAt = pe.editedAt
	metrics.EditsApplied.Inc()
}

func (rt *roomTimeline) retention() time.Duration {
	if rt.editRetention > 0 {
		return rt.editRetention
	}
	return DefaultEditRetention
}

func (rt *roomTimeline) resortLocked() {
	sort.SliceStable(rt.messages, func(i, j int) bool {
		return rt.messages[i].Before(&rt.messages[j])
	})
}
