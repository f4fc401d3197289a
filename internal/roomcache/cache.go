// Package roomcache caches room metadata fetched from the external room
// service so repeated lookups do not round-trip to the server. It follows a
// cache-aside pattern: callers consult the cache, fall through to the REST
// client on a miss, and write the result back. Two backends are provided:
// an in-process map and a Redis store for sessions that share a cache.
package roomcache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/parley/chat-client/internal/chat"
)

// DefaultTTL is how long cached room metadata stays fresh.
const DefaultTTL = 5 * time.Minute

// Cache stores room metadata by room ID and room lists by user ID.
type Cache interface {
	Room(ctx context.Context, id int64) (*chat.Room, bool)
	PutRoom(ctx context.Context, room chat.Room)
	RoomsForUser(ctx context.Context, userID int64) ([]chat.Room, bool)
	PutRoomsForUser(ctx context.Context, userID int64, rooms []chat.Room)
	InvalidateUser(ctx context.Context, userID int64)
}

func roomKey(id int64) string      { return "room:" + strconv.FormatInt(id, 10) }
func userRoomsKey(id int64) string { return "userrooms:" + strconv.FormatInt(id, 10) }

// entry is one in-memory cached value with its expiry.
type entry struct {
	room    *chat.Room
	rooms   []chat.Room
	expires time.Time
}

// Memory is the in-process Cache backend.
type Memory struct {
	ttl time.Duration

	mu      sync.RWMutex
	entries map[string]entry
}

// NewMemory creates an in-memory cache. A non-positive TTL falls back to
// DefaultTTL.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		entries: make(map[string]entry),
	}
}

// Room returns the cached room, if present and fresh.
func (m *Memory) Room(_ context.Context, id int64) (*chat.Room, bool) {
	m.mu.RLock()
	e, ok := m.entries[roomKey(id)]
	m.mu.RUnlock()
	if !ok || time.Now().After(e.expires) || e.room == nil {
		return nil, false
	}
	cp := *e.room
	return &cp, true
}

// PutRoom stores a room with the configured TTL.
func (m *Memory) PutRoom(_ context.Context, room chat.Room) {
	m.mu.Lock()
	m.entries[roomKey(room.ID)] = entry{room: &room, expires: time.Now().Add(m.ttl)}
	m.mu.Unlock()
}

// RoomsForUser returns the cached room list, if present and fresh.
func (m *Memory) RoomsForUser(_ context.Context, userID int64) ([]chat.Room, bool) {
	m.mu.RLock()
	e, ok := m.entries[userRoomsKey(userID)]
	m.mu.RUnlock()
	if !ok || time.Now().After(e.expires) || e.rooms == nil {
		return nil, false
	}
	out := make([]chat.Room, len(e.rooms))
	copy(out, e.rooms)
	return out, true
}

// PutRoomsForUser stores a user's room list with the configured TTL.
func (m *Memory) PutRoomsForUser(_ context.Context, userID int64, rooms []chat.Room) {
	cp := make([]chat.Room, len(rooms))
	copy(cp, rooms)
	m.mu.Lock()
	m.entries[userRoomsKey(userID)] = entry{rooms: cp, expires: time.Now().Add(m.ttl)}
	m.mu.Unlock()
}

// InvalidateUser drops a user's cached room list, e.g. after the user
// creates or joins a room.
func (m *Memory) InvalidateUser(_ context.Context, userID int64) {
	m.mu.Lock()
	delete(m.entries, userRoomsKey(userID))
	m.mu.Unlock()
}
