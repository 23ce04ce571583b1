package domain

import (
	"sort"
	"time"
)

// TimeLayout is the wire format used for every createdAt field.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// RoomMeta is the room row. AdminToken never leaves the server.
type RoomMeta struct {
	ID         string `json:"id"`
	Template   string `json:"template"`
	AdminToken string `json:"adminToken"`
	CreatedAt  string `json:"createdAt"`
}

// PublicMeta is the client-facing room metadata.
type PublicMeta struct {
	ID        string `json:"id"`
	Template  string `json:"template"`
	CreatedAt string `json:"createdAt"`
}

// Public strips the admin secret.
func (m RoomMeta) Public() PublicMeta {
	return PublicMeta{ID: m.ID, Template: m.Template, CreatedAt: m.CreatedAt}
}

// Column is a named bucket of cards with a dense position.
type Column struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Position    int    `json:"position"`
}

// Card is a piece of text submitted into a column.
type Card struct {
	ID          string `json:"id"`
	ColumnID    string `json:"columnId"`
	Text        string `json:"text"`
	AuthorID    string `json:"authorId"`
	IsPublished bool   `json:"isPublished"`
	CreatedAt   string `json:"createdAt"`
}

// RoomState is the canonical state of one room.
type RoomState struct {
	Meta    *RoomMeta `json:"meta"`
	Columns []Column  `json:"columns"`
	Cards   []Card    `json:"cards"`
}

// View is a role-filtered projection of a room, sent as the data of a sync frame.
type View struct {
	Meta    *PublicMeta `json:"meta"`
	Columns []Column    `json:"columns"`
	Cards   []Card      `json:"cards"`
	IsAdmin bool        `json:"isAdmin"`
}

// Timestamp formats t for the wire.
func Timestamp(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Column returns the column with the given id.
func (s *RoomState) Column(id string) (Column, bool) {
	for _, c := range s.Columns {
		if c.ID == id {
			return c, true
		}
	}
	return Column{}, false
}

// Card returns the card with the given id.
func (s *RoomState) Card(id string) (Card, bool) {
	for _, c := range s.Cards {
		if c.ID == id {
			return c, true
		}
	}
	return Card{}, false
}

// Clone returns a deep copy of the state.
func (s RoomState) Clone() RoomState {
	out := RoomState{
		Columns: append([]Column(nil), s.Columns...),
		Cards:   append([]Card(nil), s.Cards...),
	}
	if s.Meta != nil {
		meta := *s.Meta
		out.Meta = &meta
	}
	return out
}

// Apply replays committed changes onto the in-memory state.
func (s *RoomState) Apply(changes []Change) {
	for _, ch := range changes {
		switch ch.Op {
		case OpPutMeta:
			meta := *ch.Meta
			s.Meta = &meta
		case OpPutColumn:
			s.putColumn(*ch.Column)
		case OpDeleteColumn:
			s.deleteColumn(ch.ID)
		case OpPutCard:
			s.putCard(*ch.Card)
		case OpDeleteCard:
			s.deleteCard(ch.ID)
		}
	}
	s.Normalize()
}

// Normalize orders columns by position and cards by creation time.
func (s *RoomState) Normalize() {
	sort.SliceStable(s.Columns, func(i, j int) bool {
		return s.Columns[i].Position < s.Columns[j].Position
	})
	sort.SliceStable(s.Cards, func(i, j int) bool {
		return s.Cards[i].CreatedAt < s.Cards[j].CreatedAt
	})
}

func (s *RoomState) putColumn(col Column) {
	for i := range s.Columns {
		if s.Columns[i].ID == col.ID {
			s.Columns[i] = col
			return
		}
	}
	s.Columns = append(s.Columns, col)
}

func (s *RoomState) deleteColumn(id string) {
	for i := range s.Columns {
		if s.Columns[i].ID == id {
			s.Columns = append(s.Columns[:i], s.Columns[i+1:]...)
			return
		}
	}
}

func (s *RoomState) putCard(card Card) {
	for i := range s.Cards {
		if s.Cards[i].ID == card.ID {
			s.Cards[i] = card
			return
		}
	}
	s.Cards = append(s.Cards, card)
}

func (s *RoomState) deleteCard(id string) {
	for i := range s.Cards {
		if s.Cards[i].ID == id {
			s.Cards = append(s.Cards[:i], s.Cards[i+1:]...)
			return
		}
	}
}
