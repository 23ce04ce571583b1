package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/jamiemulcahy/yart/domain"
)

// Store persists room rows. Commit applies every change or none of them.
type Store interface {
	// LoadRoom returns the persisted state of a room. An unknown room yields a
	// zero state with nil Meta.
	LoadRoom(ctx context.Context, roomID string) (domain.RoomState, error)
	Commit(ctx context.Context, roomID string, changes []domain.Change) error
}

const (
	metaKey      = "meta"
	columnPrefix = "col:"
	cardPrefix   = "card:"
)

// rowKey is the row identifier a change writes to inside its room.
func rowKey(ch domain.Change) string {
	switch ch.Op {
	case domain.OpPutMeta:
		return metaKey
	case domain.OpPutColumn, domain.OpDeleteColumn:
		return columnPrefix + ch.ID
	default:
		return cardPrefix + ch.ID
	}
}

// rowValue encodes the payload of a put change.
func rowValue(ch domain.Change) ([]byte, error) {
	switch ch.Op {
	case domain.OpPutMeta:
		return sonic.Marshal(ch.Meta)
	case domain.OpPutColumn:
		return sonic.Marshal(ch.Column)
	case domain.OpPutCard:
		return sonic.Marshal(ch.Card)
	default:
		return nil, fmt.Errorf("%s has no value", ch.Op)
	}
}

func isDelete(op domain.Op) bool {
	return op == domain.OpDeleteColumn || op == domain.OpDeleteCard
}

// decodeRow adds one stored row to state.
func decodeRow(state *domain.RoomState, key string, value []byte) error {
	switch {
	case key == metaKey:
		var meta domain.RoomMeta
		if err := sonic.Unmarshal(value, &meta); err != nil {
			return fmt.Errorf("decode meta: %w", err)
		}
		state.Meta = &meta
	case strings.HasPrefix(key, columnPrefix):
		var col domain.Column
		if err := sonic.Unmarshal(value, &col); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		state.Columns = append(state.Columns, col)
	case strings.HasPrefix(key, cardPrefix):
		var card domain.Card
		if err := sonic.Unmarshal(value, &card); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		state.Cards = append(state.Cards, card)
	}
	return nil
}
