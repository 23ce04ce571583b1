package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/jamiemulcahy/yart/domain"
)

// generationTTL bounds how long an idle room's eviction counter is kept.
const generationTTL = 24 * time.Hour

var errStaleFill = errors.New("room changed during load")

// Cache wraps a Store with a Redis-backed read-through cache of LoadRoom.
// Every Commit bumps a per-room generation; a load only fills the cache if the
// generation it saw before reading the base store is still current.
type Cache struct {
	base  Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store wrapper using the provided Redis client and TTL.
func NewCache(base Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base store is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) LoadRoom(ctx context.Context, roomID string) (domain.RoomState, error) {
	if state, ok := c.loadFromCache(ctx, roomID); ok {
		return state, nil
	}

	gen, genOK := c.generation(ctx, roomID)
	state, err := c.base.LoadRoom(ctx, roomID)
	if err != nil {
		return domain.RoomState{}, err
	}

	// Unknown rooms are not cached so a later create is seen immediately.
	if state.Meta != nil && genOK {
		c.store(ctx, roomID, gen, state)
	}
	return state, nil
}

func (c *Cache) Commit(ctx context.Context, roomID string, changes []domain.Change) error {
	if err := c.base.Commit(ctx, roomID, changes); err != nil {
		return err
	}

	c.evict(ctx, roomID)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, roomID string) (domain.RoomState, bool) {
	if c.redis == nil {
		return domain.RoomState{}, false
	}
	data, err := c.redis.Get(ctx, cacheKey(roomID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing store without failing.
			_ = c.redis.Del(ctx, cacheKey(roomID)).Err()
		}
		return domain.RoomState{}, false
	}
	var state domain.RoomState
	if err := sonic.Unmarshal(data, &state); err != nil {
		_ = c.redis.Del(ctx, cacheKey(roomID)).Err()
		return domain.RoomState{}, false
	}
	return state, true
}

// generation reads the room's eviction counter. A missing counter is zero.
func (c *Cache) generation(ctx context.Context, roomID string) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, generationKey(roomID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	return gen, err == nil
}

// store writes state unless a commit evicted the room after gen was read. The
// counter is watched so an eviction racing the write aborts it.
func (c *Cache) store(ctx context.Context, roomID string, gen int64, state domain.RoomState) {
	if c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(state)
	if err != nil {
		return
	}
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, generationKey(roomID)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, cacheKey(roomID), data, c.ttl)
			return nil
		})
		return err
	}, generationKey(roomID))
}

func (c *Cache) evict(ctx context.Context, roomID string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(roomID))
		pipe.Expire(ctx, generationKey(roomID), generationTTL)
		pipe.Del(ctx, cacheKey(roomID))
		return nil
	})
}

func cacheKey(roomID string) string {
	return "room-state:" + roomID
}

func generationKey(roomID string) string {
	return "room-state-gen:" + roomID
}
