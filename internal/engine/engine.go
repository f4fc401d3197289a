// Package engine is the sync coordinator: it orchestrates the
// room-activation protocol (history fetch plus subscription activation),
// routes incoming broker events into the right room timeline, performs
// optimistic sends, and fans notifications out to observers. It is the only
// component allowed to drive transport disconnects and reconnect-triggered
// resubscription, which keeps manual and automatic reconnection from racing.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/parley/chat-client/internal/chat"
	"github.com/parley/chat-client/internal/metrics"
	"github.com/parley/chat-client/internal/protocol"
	"github.com/parley/chat-client/internal/registry"
	"github.com/parley/chat-client/internal/rest"
	"github.com/parley/chat-client/internal/roomcache"
	"github.com/parley/chat-client/internal/transport"
	"github.com/parley/chat-client/internal/typing"
)

// Config holds coordinator tuning parameters.
type Config struct {
	HistoryLimit   int           // most-recent-N bound on history fetches
	FetchTimeout   time.Duration // history fetch deadline
	TypingInterval time.Duration // outbound typing throttle window
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		HistoryLimit:   50,
		FetchTimeout:   10 * time.Second,
		TypingInterval: typing.DefaultInterval,
	}
}

// Engine coordinates the transport channel, subscription registry, timeline
// store, and REST client into a single session-scoped sync surface.
type Engine struct {
	cfg      Config
	channel  transport.Channel
	registry *registry.Registry
	store    *chat.TimelineStore
	api      *rest.Client
	rooms    roomcache.Cache
	signaler *typing.Signaler

	self chat.User

	activation atomic.Int64 // monotonic activation token

	mu         sync.Mutex
	activeRoom int64
	connected  bool
	presence   map[int64]chat.UserStatus // last seen status per user

	onTimeline func(roomID int64)
	onTyping   func(chat.TypingSignal)
	onPresence func(chat.User)
	onError    func(error)
}

// New wires an engine from its collaborators. The channel is injected so
// tests can substitute a fake; the engine owns its lifecycle from here on.
func New(channel transport.Channel, api *rest.Client, store *chat.TimelineStore, reg *registry.Registry, rooms roomcache.Cache, self chat.User, cfg Config) *Engine {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultConfig().HistoryLimit
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultConfig().FetchTimeout
	}

	e := &Engine{
		cfg:      cfg,
		channel:  channel,
		registry: reg,
		store:    store,
		api:      api,
		rooms:    rooms,
		self:     self,
		presence: make(map[int64]chat.UserStatus),
	}
	e.signaler = typing.NewSignaler(e.emitTyping, cfg.TypingInterval)

	reg.OnMessage(e.handleRoomEvent)
	reg.OnTyping(e.handleTyping)
	channel.OnStateChange(e.handleState)
	return e
}

// Observer registration. Callbacks are invoked from transport goroutines
// and must not block.

func (e *Engine) OnTimelineChanged(fn func(roomID int64)) { e.mu.Lock(); e.onTimeline = fn; e.mu.Unlock() }
func (e *Engine) OnTyping(fn func(chat.TypingSignal))     { e.mu.Lock(); e.onTyping = fn; e.mu.Unlock() }
func (e *Engine) OnPresence(fn func(chat.User))           { e.mu.Lock(); e.onPresence = fn; e.mu.Unlock() }
func (e *Engine) OnError(fn func(error))                  { e.mu.Lock(); e.onError = fn; e.mu.Unlock() }

// Connect establishes the broker connection. Retry with backoff on a
// *transport.ConnError is the caller's decision.
func (e *Engine) Connect(ctx context.Context) error {
	if err := e.channel.Connect(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.connected = true
	e.mu.Unlock()
	return nil
}

// Close flushes the typing signaler and tears down the connection.
func (e *Engine) Close() error {
	e.signaler.Close()
	e.mu.Lock()
	e.connected = false
	e.mu.Unlock()
	return e.channel.Disconnect()
}

// ActivateRoom makes roomID the active room: the previous room is
// deactivated (unsubscribed, timeline retained per the eviction policy),
// the room's live topic is subscribed, and bounded recent history is
// fetched and merged. Live events that arrive before the fetch resolves are
// buffered and replayed, so none are lost. Re-activating while a fetch is
// still in flight supersedes it: the stale response is discarded, never
// merged (last activation wins).
func (e *Engine) ActivateRoom(ctx context.Context, roomID int64) error {
	token := e.activation.Add(1)

	e.mu.Lock()
	prev := e.activeRoom
	e.activeRoom = roomID
	e.mu.Unlock()

	if prev != 0 && prev != roomID {
		e.registry.Unsubscribe(prev)
		e.store.AbortLoad(prev)
	}

	e.store.Touch(roomID)
	e.store.BeginLoad(roomID)

	// Subscribe before the history fetch resolves: the load gate buffers
	// anything pushed in the gap and LoadHistory replays it.
	if _, err := e.registry.Subscribe(ctx, roomID); err != nil {
		e.store.AbortLoad(roomID)
		return err
	}

	fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	start := time.Now()
	msgs, err := e.api.RecentMessages(fctx, roomID, e.cfg.HistoryLimit)
	metrics.HistoryFetchLatency.Observe(time.Since(start).Seconds())

	if e.activation.Load() != token {
		// A newer activation owns the load gate now; this response is
		// stale and must not overwrite fresher state.
		metrics.HistoryFetches.WithLabelValues("stale").Inc()
		log.Printf("[engine] discarding stale history response room=%d token=%d", roomID, token)
		return nil
	}

	if err != nil {
		metrics.HistoryFetches.WithLabelValues("error").Inc()
		e.store.AbortLoad(roomID)
		e.fireError(err)
		return err
	}

	metrics.HistoryFetches.WithLabelValues("ok").Inc()
	e.store.LoadHistory(roomID, msgs)
	e.notifyTimeline(roomID)
	return nil
}

// ActiveRoom returns the currently active room ID, or zero.
func (e *Engine) ActiveRoom() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeRoom
}

// Timeline returns a snapshot of a room's ordered message log.
func (e *Engine) Timeline(roomID int64) []chat.Message {
	return e.store.Timeline(roomID)
}

// SendMessage optimistically appends a pending message to the active room's
// timeline and publishes it to the broker's send destination. On transport
// failure the message transitions to failed and stays visible so the caller
// can offer a retry; it is never silently dropped.
func (e *Engine) SendMessage(ctx context.Context, content string, msgType chat.MessageType) (*chat.Message, error) {
	if err := chat.ValidateContent(content); err != nil {
		return nil, err
	}

	e.mu.Lock()
	roomID := e.activeRoom
	e.mu.Unlock()
	if roomID == 0 {
		return nil, fmt.Errorf("engine: no active room")
	}
	if msgType == "" {
		msgType = chat.TypeText
	}

	msg := chat.Message{
		LocalID:           uuid.NewString(),
		Content:           content,
		Type:              msgType,
		SenderID:          e.self.ID,
		SenderUsername:    e.self.Username,
		SenderDisplayName: e.self.DisplayName,
		RoomID:            roomID,
		Timestamp:         time.Now(),
		State:             chat.DeliveryPending,
	}

	e.store.Append(roomID, msg)
	e.notifyTimeline(roomID)

	payload, err := json.Marshal(protocol.SendRequest{
		LocalID:           msg.LocalID,
		RoomID:            roomID,
		SenderID:          msg.SenderID,
		SenderUsername:    msg.SenderUsername,
		SenderDisplayName: msg.SenderDisplayName,
		Content:           content,
		MsgType:           msgType,
		Timestamp:         msg.Timestamp,
	})
	if err != nil {
		return nil, fmt.Errorf("engine: marshal send request: %w", err)
	}

	if err := e.channel.Send(ctx, protocol.SubjectSend, payload); err != nil {
		e.store.MarkFailed(roomID, msg.LocalID)
		msg.State = chat.DeliveryFailed
		metrics.MessagesSent.WithLabelValues("failed").Inc()
		e.notifyTimeline(roomID)
		return &msg, err
	}

	metrics.MessagesSent.WithLabelValues("ok").Inc()
	return &msg, nil
}

// RetrySend republishes a failed message as a fresh pending send. The old
// entry is reused: same local ID, state back to pending.
func (e *Engine) RetrySend(ctx context.Context, roomID int64, localID string) error {
	for _, msg := range e.store.Timeline(roomID) {
		if msg.LocalID != localID || msg.State != chat.DeliveryFailed {
			continue
		}
		payload, err := json.Marshal(protocol.SendRequest{
			LocalID:           msg.LocalID,
			RoomID:            roomID,
			SenderID:          msg.SenderID,
			SenderUsername:    msg.SenderUsername,
			SenderDisplayName: msg.SenderDisplayName,
			Content:           msg.Content,
			MsgType:           msg.Type,
			Timestamp:         msg.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("engine: marshal send request: %w", err)
		}
		if err := e.channel.Send(ctx, protocol.SubjectSend, payload); err != nil {
			metrics.MessagesSent.WithLabelValues("failed").Inc()
			return err
		}
		e.store.MarkPending(roomID, localID)
		metrics.MessagesSent.WithLabelValues("ok").Inc()
		e.notifyTimeline(roomID)
		return nil
	}
	return fmt.Errorf("engine: no failed message %s in room %d", localID, roomID)
}

// EditMessage edits a message through the REST service and mirrors the edit
// into the local timeline.
func (e *Engine) EditMessage(ctx context.Context, roomID, messageID int64, content string) error {
	if err := chat.ValidateContent(content); err != nil {
		return err
	}
	edited, err := e.api.EditMessage(ctx, messageID, content)
	if err != nil {
		return err
	}
	editedAt := edited.EditedAt
	if editedAt.IsZero() {
		editedAt = time.Now()
	}
	e.store.ApplyEdit(roomID, messageID, edited.Content, editedAt)
	e.notifyTimeline(roomID)
	return nil
}

// NotifyTyping reports the local user's typing state for a room. Emission
// is throttled per room; a stop signal always goes out. A zero room ID is
// ignored so callers without an active room never publish.
func (e *Engine) NotifyTyping(roomID int64, isTyping bool) {
	if roomID == 0 {
		return
	}
	e.signaler.Notify(roomID, e.self.ID, e.self.Username, isTyping)
}

// Rooms lists the local user's rooms, cache-aside against the room service.
func (e *Engine) Rooms(ctx context.Context) ([]chat.Room, error) {
	if rooms, ok := e.rooms.RoomsForUser(ctx, e.self.ID); ok {
		return rooms, nil
	}
	rooms, err := e.api.RoomsForUser(ctx, e.self.ID)
	if err != nil {
		return nil, err
	}
	e.rooms.PutRoomsForUser(ctx, e.self.ID, rooms)
	return rooms, nil
}

// Room fetches one room's metadata, cache-aside against the room service.
func (e *Engine) Room(ctx context.Context, roomID int64) (*chat.Room, error) {
	if room, ok := e.rooms.Room(ctx, roomID); ok {
		return room, nil
	}
	room, err := e.api.RoomByID(ctx, roomID)
	if err != nil {
		return nil, err
	}
	e.rooms.PutRoom(ctx, *room)
	return room, nil
}

// SetStatus reports the local user's presence to the directory service and
// notifies observers.
func (e *Engine) SetStatus(ctx context.Context, status chat.UserStatus) error {
	if err := e.api.UpdateUserStatus(ctx, e.self.ID, status); err != nil {
		return err
	}
	e.self.Status = status
	e.firePresence(e.self)
	return nil
}

// RefreshPresence fetches the online-user set and notifies observers about
// every user whose status changed since the last refresh.
func (e *Engine) RefreshPresence(ctx context.Context) error {
	online, err := e.api.OnlineUsers(ctx)
	if err != nil {
		return err
	}

	seen := make(map[int64]struct{}, len(online))
	var changed []chat.User
	e.mu.Lock()
	for _, u := range online {
		seen[u.ID] = struct{}{}
		if e.presence[u.ID] != u.Status {
			e.presence[u.ID] = u.Status
			changed = append(changed, u)
		}
	}
	for id, status := range e.presence {
		if _, ok := seen[id]; !ok && status != chat.StatusOffline {
			e.presence[id] = chat.StatusOffline
			changed = append(changed, chat.User{ID: id, Status: chat.StatusOffline})
		}
	}
	e.mu.Unlock()

	for _, u := range changed {
		e.firePresence(u)
	}
	return nil
}

// handleRoomEvent merges routed broker events into the room's timeline.
func (e *Engine) handleRoomEvent(roomID int64, event interface{}) {
	switch ev := event.(type) {
	case protocol.MessageEvent:
		e.store.Append(roomID, ev.Message)
	case protocol.EditEvent:
		e.store.ApplyEdit(roomID, ev.MessageID, ev.Content, ev.EditedAt)
	default:
		log.Printf("[engine] unhandled event %T room=%d", event, roomID)
		return
	}
	e.notifyTimeline(roomID)
}

// handleTyping forwards inbound typing signals to observers unmodified.
// They are never stored.
func (e *Engine) handleTyping(sig chat.TypingSignal) {
	e.mu.Lock()
	fn := e.onTyping
	e.mu.Unlock()
	if fn != nil {
		fn(sig)
	}
}

// handleState reacts to transport state transitions. On reconnect the
// registry resubscribes every room that was subscribed and the active
// room's history is re-synced so nothing dropped during the outage is
// missed. Only the coordinator drives this path.
func (e *Engine) handleState(s transport.State) {
	e.mu.Lock()
	wasConnected := e.connected
	e.connected = s == transport.StateConnected
	active := e.activeRoom
	e.mu.Unlock()

	if s != transport.StateConnected || wasConnected {
		return
	}

	log.Printf("[engine] transport reconnected, restoring subscriptions")
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.cfg.FetchTimeout)
		defer cancel()
		e.registry.Resubscribe(ctx)
		if active != 0 {
			if err := e.ActivateRoom(ctx, active); err != nil {
				e.fireError(err)
			}
		}
	}()
}

// emitTyping publishes a typing signal to the broker's typing destination.
func (e *Engine) emitTyping(sig chat.TypingSignal) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("engine: marshal typing signal: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return e.channel.Send(ctx, protocol.SubjectTyping, payload)
}

func (e *Engine) notifyTimeline(roomID int64) {
	e.mu.Lock()
	fn := e.onTimeline
	e.mu.Unlock()
	if fn != nil {
		fn(roomID)
	}
}

func (e *Engine) firePresence(u chat.User) {
	e.mu.Lock()
	fn := e.onPresence
	e.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}

func (e *Engine) fireError(err error) {
	e.mu.Lock()
	fn := e.onError
	e.mu.Unlock()
	if fn != nil && err != nil {
		fn(err)
	}
}
