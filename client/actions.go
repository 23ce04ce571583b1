package client

import "github.com/jamiemulcahy/yart/domain"

func (c *Controller) AddCard(columnID, text string) error {
	return c.Send(domain.AddCard{ColumnID: columnID, Text: text})
}

func (c *Controller) UpdateCard(id, text string) error {
	return c.Send(domain.UpdateCard{ID: id, Text: text})
}

func (c *Controller) DeleteCard(id string) error {
	return c.Send(domain.DeleteCard{ID: id})
}

func (c *Controller) PublishCard(id string) error {
	return c.Send(domain.PublishCard{ID: id})
}

// PublishAll publishes every card in the column.
func (c *Controller) PublishAll(columnID string) error {
	return c.Send(domain.PublishAllCards{ColumnID: columnID})
}

func (c *Controller) AddColumn(name, description string) error {
	return c.Send(domain.AddColumn{Name: name, Description: description})
}

func (c *Controller) UpdateColumn(id, name, description string) error {
	return c.Send(domain.UpdateColumn{ID: id, Name: name, Description: description})
}

func (c *Controller) DeleteColumn(id string) error {
	return c.Send(domain.DeleteColumn{ID: id})
}

// ReorderColumn moves a column to position, counted from zero.
func (c *Controller) ReorderColumn(id string, position int) error {
	return c.Send(domain.ReorderColumn{ID: id, NewPosition: position})
}
