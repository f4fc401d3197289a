package roomcache

import (
	"context"
	"testing"
	"time"

	"github.com/parley/chat-client/internal/chat"
)

func TestMemoryRoomRoundTrip(t *testing.T) {
	c := NewMemory(time.Minute)
	ctx := context.Background()

	if _, ok := c.Room(ctx, 42); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.PutRoom(ctx, chat.Room{ID: 42, Name: "general", Kind: chat.RoomGroup})
	got, ok := c.Room(ctx, 42)
	if !ok {
		t.Fatal("expected hit after put")
	}
	if got.Name != "general" || got.Kind != chat.RoomGroup {
		t.Errorf("unexpected room: %+v", got)
	}

	// The cache must hand back a copy.
	got.Name = "mutated"
	again, _ := c.Room(ctx, 42)
	if again.Name != "general" {
		t.Error("cached room was mutated through a returned pointer")
	}
}

func TestMemoryEntriesExpire(t *testing.T) {
	c := NewMemory(10 * time.Millisecond)
	ctx := context.Background()

	c.PutRoom(ctx, chat.Room{ID: 1})
	c.PutRoomsForUser(ctx, 7, []chat.Room{{ID: 1}})

	time.Sleep(30 * time.Millisecond)

	if _, ok := c.Room(ctx, 1); ok {
		t.Error("expected expired room entry to miss")
	}
	if _, ok := c.RoomsForUser(ctx, 7); ok {
		t.Error("expected expired room list entry to miss")
	}
}

func TestMemoryRoomsForUser(t *testing.T) {
	c := NewMemory(time.Minute)
	ctx := context.Background()

	rooms := []chat.Room{{ID: 1, Name: "a"}, {ID: 2, Name: "b"}}
	c.PutRoomsForUser(ctx, 7, rooms)

	got, ok := c.RoomsForUser(ctx, 7)
	if !ok || len(got) != 2 {
		t.Fatalf("expected 2 cached rooms, got %v (hit=%v)", got, ok)
	}

	// A put-then-mutate of the source slice must not leak into the cache.
	rooms[0].Name = "mutated"
	again, _ := c.RoomsForUser(ctx, 7)
	if again[0].Name != "a" {
		t.Error("cached list shares backing array with caller")
	}
}

func TestMemoryInvalidateUser(t *testing.T) {
	c := NewMemory(time.Minute)
	ctx := context.Background()

	c.PutRoomsForUser(ctx, 7, []chat.Room{{ID: 1}})
	c.PutRoom(ctx, chat.Room{ID: 1})

	c.InvalidateUser(ctx, 7)

	if _, ok := c.RoomsForUser(ctx, 7); ok {
		t.Error("expected user's room list to be invalidated")
	}
	if _, ok := c.Room(ctx, 1); !ok {
		t.Error("room entries must survive a user invalidation")
	}
}
