package roomcache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/parley/chat-client/internal/chat"
)

// KeyPrefix namespaces all cache keys in Redis.
const KeyPrefix = "chatclient:"

// Redis is the Redis-backed Cache backend. Read errors are treated as cache
// misses and write errors are logged, so a Redis outage degrades to
// uncached REST lookups instead of failing them.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis connects to Redis and verifies the connection. A non-positive
// TTL falls back to DefaultTTL.
func NewRedis(addr string, ttl time.Duration) (*Redis, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("roomcache: redis connection failed: %w", err)
	}
	return &Redis{client: client, ttl: ttl}, nil
}

// Room returns the cached room, if present.
func (r *Redis) Room(ctx context.Context, id int64) (*chat.Room, bool) {
	var room chat.Room
	if !r.get(ctx, roomKey(id), &room) {
		return nil, false
	}
	return &room, true
}

// PutRoom stores a room with the configured TTL.
func (r *Redis) PutRoom(ctx context.Context, room chat.Room) {
	r.set(ctx, roomKey(room.ID), room)
}

// RoomsForUser returns the cached room list, if present.
func (r *Redis) RoomsForUser(ctx context.Context, userID int64) ([]chat.Room, bool) {
	var rooms []chat.Room
	if !r.get(ctx, userRoomsKey(userID), &rooms) {
		return nil, false
	}
	return rooms, true
}

// PutRoomsForUser stores a user's room list with the configured TTL.
func (r *Redis) PutRoomsForUser(ctx context.Context, userID int64, rooms []chat.Room) {
	r.set(ctx, userRoomsKey(userID), rooms)
}

// InvalidateUser drops a user's cached room list.
func (r *Redis) InvalidateUser(ctx context.Context, userID int64) {
	if err := r.client.Del(ctx, KeyPrefix+userRoomsKey(userID)).Err(); err != nil {
		log.Printf("[roomcache] redis DEL error: %v", err)
	}
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) get(ctx context.Context, key string, dest any) bool {
	data, err := r.client.Get(ctx, KeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Printf("[roomcache] redis GET error key=%s: %v (treating as miss)", key, err)
		}
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		log.Printf("[roomcache] unmarshal key=%s: %v", key, err)
		return false
	}
	return true
}

func (r *Redis) set(ctx context.Context, key string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		log.Printf("[roomcache] marshal key=%s: %v", key, err)
		return
	}
	if err := r.client.Set(ctx, KeyPrefix+key, data, r.ttl).Err(); err != nil {
		log.Printf("[roomcache] redis SET error key=%s: %v", key, err)
	}
}
