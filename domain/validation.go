package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	MaxIDLength          = 100
	MaxTextLength        = 5000
	MaxNameLength        = 100
	MaxDescriptionLength = 5000
)

func validID(field, v string) error {
	if v == "" || len(v) > MaxIDLength {
		return fmt.Errorf("%w: %s must be 1-%d characters", ErrInvalidCommand, field, MaxIDLength)
	}
	return nil
}

func validText(field, v string, max int) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is blank", ErrInvalidCommand, field)
	}
	if utf8.RuneCountInString(v) > max {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrInvalidCommand, field, max)
	}
	return nil
}

func validDescription(v string) error {
	if utf8.RuneCountInString(v) > MaxDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrInvalidCommand, MaxDescriptionLength)
	}
	return nil
}

func (c AddCard) Validate() error {
	if err := validID("columnId", c.ColumnID); err != nil {
		return err
	}
	return validText("text", c.Text, MaxTextLength)
}

func (c UpdateCard) Validate() error {
	if err := validID("id", c.ID); err != nil {
		return err
	}
	return validText("text", c.Text, MaxTextLength)
}

func (c DeleteCard) Validate() error  { return validID("id", c.ID) }
func (c PublishCard) Validate() error { return validID("id", c.ID) }

func (c PublishAllCards) Validate() error { return validID("columnId", c.ColumnID) }

func (c AddColumn) Validate() error {
	if err := validText("name", c.Name, MaxNameLength); err != nil {
		return err
	}
	return validDescription(c.Description)
}

func (c UpdateColumn) Validate() error {
	if err := validID("id", c.ID); err != nil {
		return err
	}
	if err := validText("name", c.Name, MaxNameLength); err != nil {
		return err
	}
	return validDescription(c.Description)
}

func (c DeleteColumn) Validate() error { return validID("id", c.ID) }

func (c ReorderColumn) Validate() error {
	if err := validID("id", c.ID); err != nil {
		return err
	}
	if c.NewPosition < 0 {
		return fmt.Errorf("%w: newPosition must be non-negative", ErrInvalidCommand)
	}
	return nil
}
