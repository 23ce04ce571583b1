package storage

import (
	"context"
	"sync"

	"github.com/jamiemulcahy/yart/domain"
)

// Memory keeps rooms in process memory. Nothing survives a restart.
type Memory struct {
	mu    sync.RWMutex
	rooms map[string]domain.RoomState
}

func NewMemory() *Memory {
	return &Memory{rooms: make(map[string]domain.RoomState)}
}

func (m *Memory) LoadRoom(ctx context.Context, roomID string) (domain.RoomState, error) {
	if err := ctx.Err(); err != nil {
		return domain.RoomState{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID].Clone(), nil
}

func (m *Memory) Commit(ctx context.Context, roomID string, changes []domain.Change) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.rooms[roomID].Clone()
	state.Apply(changes)
	m.rooms[roomID] = state
	return nil
}
