package storage

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/jamiemulcahy/yart/domain"
)

// Redis stores each room as one hash. Commits run inside MULTI/EXEC.
type Redis struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *Redis {
	if client == nil {
		panic("storage.NewRedis: client is nil")
	}
	return &Redis{client: client}
}

func (r *Redis) LoadRoom(ctx context.Context, roomID string) (domain.RoomState, error) {
	rows, err := r.client.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return domain.RoomState{}, fmt.Errorf("load room %s: %w", roomID, err)
	}
	var state domain.RoomState
	for key, value := range rows {
		if err := decodeRow(&state, key, []byte(value)); err != nil {
			return domain.RoomState{}, err
		}
	}
	state.Normalize()
	return state, nil
}

func (r *Redis) Commit(ctx context.Context, roomID string, changes []domain.Change) error {
	if len(changes) == 0 {
		return nil
	}
	puts := make(map[string]any)
	var dels []string
	for _, ch := range changes {
		key := rowKey(ch)
		if isDelete(ch.Op) {
			delete(puts, key)
			dels = append(dels, key)
			continue
		}
		data, err := rowValue(ch)
		if err != nil {
			return err
		}
		puts[key] = data
	}

	key := roomKey(roomID)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(dels) > 0 {
			pipe.HDel(ctx, key, dels...)
		}
		if len(puts) > 0 {
			pipe.HSet(ctx, key, puts)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit room %s: %w", roomID, err)
	}
	return nil
}

func roomKey(roomID string) string {
	return "room:" + roomID
}
