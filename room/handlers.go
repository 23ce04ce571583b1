package room

import (
	"time"

	"github.com/jamiemulcahy/yart/domain"
)

// mutation is the context a handler runs with.
type mutation struct {
	authorID string
	now      time.Time
	newID    func() string
}

// changesFor computes the row writes cmd makes against state. References to
// missing columns or cards produce no changes.
func changesFor(state *domain.RoomState, cmd domain.Command, m mutation) []domain.Change {
	switch c := cmd.(type) {
	case domain.AddCard:
		return addCard(state, c, m)
	case domain.UpdateCard:
		return updateCard(state, c)
	case domain.DeleteCard:
		if _, ok := state.Card(c.ID); !ok {
			return nil
		}
		return []domain.Change{domain.RemoveCard(c.ID)}
	case domain.PublishCard:
		return publishCard(state, c)
	case domain.PublishAllCards:
		return publishAll(state, c)
	case domain.AddColumn:
		return []domain.Change{domain.PutColumn(domain.Column{
			ID:          m.newID(),
			Name:        c.Name,
			Description: c.Description,
			Position:    domain.NextPosition(state.Columns),
		})}
	case domain.UpdateColumn:
		return updateColumn(state, c)
	case domain.DeleteColumn:
		return deleteColumn(state, c)
	case domain.ReorderColumn:
		moved := domain.Reorder(state.Columns, c.ID, c.NewPosition)
		changes := make([]domain.Change, 0, len(moved))
		for _, col := range moved {
			changes = append(changes, domain.PutColumn(col))
		}
		return changes
	default:
		return nil
	}
}

func addCard(state *domain.RoomState, c domain.AddCard, m mutation) []domain.Change {
	if _, ok := state.Column(c.ColumnID); !ok {
		return nil
	}
	return []domain.Change{domain.PutCard(domain.Card{
		ID:        m.newID(),
		ColumnID:  c.ColumnID,
		Text:      c.Text,
		AuthorID:  m.authorID,
		CreatedAt: domain.Timestamp(m.now),
	})}
}

func updateCard(state *domain.RoomState, c domain.UpdateCard) []domain.Change {
	card, ok := state.Card(c.ID)
	if !ok || card.Text == c.Text {
		return nil
	}
	card.Text = c.Text
	return []domain.Change{domain.PutCard(card)}
}

func publishCard(state *domain.RoomState, c domain.PublishCard) []domain.Change {
	card, ok := state.Card(c.ID)
	if !ok || card.IsPublished {
		return nil
	}
	card.IsPublished = true
	return []domain.Change{domain.PutCard(card)}
}

func publishAll(state *domain.RoomState, c domain.PublishAllCards) []domain.Change {
	var changes []domain.Change
	for _, card := range state.Cards {
		if card.ColumnID != c.ColumnID || card.IsPublished {
			continue
		}
		card.IsPublished = true
		changes = append(changes, domain.PutCard(card))
	}
	return changes
}

func updateColumn(state *domain.RoomState, c domain.UpdateColumn) []domain.Change {
	col, ok := state.Column(c.ID)
	if !ok || (col.Name == c.Name && col.Description == c.Description) {
		return nil
	}
	col.Name = c.Name
	col.Description = c.Description
	return []domain.Change{domain.PutColumn(col)}
}

// deleteColumn removes the column with its cards and closes the position gap.
func deleteColumn(state *domain.RoomState, c domain.DeleteColumn) []domain.Change {
	col, ok := state.Column(c.ID)
	if !ok {
		return nil
	}
	// Cards go first so a store that stops part way never orphans a card.
	var changes []domain.Change
	for _, card := range state.Cards {
		if card.ColumnID == col.ID {
			changes = append(changes, domain.RemoveCard(card.ID))
		}
	}
	changes = append(changes, domain.RemoveColumn(col.ID))
	remaining := make([]domain.Column, 0, len(state.Columns)-1)
	for _, other := range state.Columns {
		if other.ID != col.ID {
			remaining = append(remaining, other)
		}
	}
	for _, moved := range domain.Compact(remaining, col.Position) {
		changes = append(changes, domain.PutColumn(moved))
	}
	return changes
}

// initialize builds the rows of a new room from its template.
func initialize(roomID, template, adminToken string, columns []domain.TemplateColumn, m mutation) []domain.Change {
	changes := []domain.Change{domain.PutMeta(domain.RoomMeta{
		ID:         roomID,
		Template:   template,
		AdminToken: adminToken,
		CreatedAt:  domain.Timestamp(m.now),
	})}
	for i, tc := range columns {
		changes = append(changes, domain.PutColumn(domain.Column{
			ID:          m.newID(),
			Name:        tc.Name,
			Description: tc.Description,
			Position:    i,
		}))
	}
	return changes
}
