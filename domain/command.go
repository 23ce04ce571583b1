package domain

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// Command kinds as they appear in the type field of a client frame.
const (
	KindAddCard         = "card:add"
	KindUpdateCard      = "card:update"
	KindDeleteCard      = "card:delete"
	KindPublishCard     = "card:publish"
	KindPublishAllCards = "card:publish-all"
	KindAddColumn       = "column:add"
	KindUpdateColumn    = "column:update"
	KindDeleteColumn    = "column:delete"
	KindReorderColumn   = "column:reorder"
)

// Command is a closed set of client commands. Only this package implements it;
// consumers type-switch over the concrete payloads below.
type Command interface {
	Kind() string
	AdminOnly() bool
	Validate() error
	command()
}

type AddCard struct {
	ColumnID string `json:"columnId"`
	Text     string `json:"text"`
}

type UpdateCard struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type DeleteCard struct {
	ID string `json:"id"`
}

type PublishCard struct {
	ID string `json:"id"`
}

type PublishAllCards struct {
	ColumnID string `json:"columnId"`
}

type AddColumn struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type UpdateColumn struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type DeleteColumn struct {
	ID string `json:"id"`
}

type ReorderColumn struct {
	ID          string `json:"id"`
	NewPosition int    `json:"newPosition"`
}

func (AddCard) Kind() string         { return KindAddCard }
func (UpdateCard) Kind() string      { return KindUpdateCard }
func (DeleteCard) Kind() string      { return KindDeleteCard }
func (PublishCard) Kind() string     { return KindPublishCard }
func (PublishAllCards) Kind() string { return KindPublishAllCards }
func (AddColumn) Kind() string       { return KindAddColumn }
func (UpdateColumn) Kind() string    { return KindUpdateColumn }
func (DeleteColumn) Kind() string    { return KindDeleteColumn }
func (ReorderColumn) Kind() string   { return KindReorderColumn }

// Anyone connected may add a card; everything else needs the admin token.
func (AddCard) AdminOnly() bool         { return false }
func (UpdateCard) AdminOnly() bool      { return true }
func (DeleteCard) AdminOnly() bool      { return true }
func (PublishCard) AdminOnly() bool     { return true }
func (PublishAllCards) AdminOnly() bool { return true }
func (AddColumn) AdminOnly() bool       { return true }
func (UpdateColumn) AdminOnly() bool    { return true }
func (DeleteColumn) AdminOnly() bool    { return true }
func (ReorderColumn) AdminOnly() bool   { return true }

func (AddCard) command()         {}
func (UpdateCard) command()      {}
func (DeleteCard) command()      {}
func (PublishCard) command()     {}
func (PublishAllCards) command() {}
func (AddColumn) command()       {}
func (UpdateColumn) command()    {}
func (DeleteColumn) command()    {}
func (ReorderColumn) command()   {}

// Envelope is the frame shape shared by both directions.
type Envelope struct {
	Type string                 `json:"type"`
	Data sonic.NoCopyRawMessage `json:"data,omitempty"`
}

// DecodeCommand parses a client frame into its typed command.
func DecodeCommand(raw []byte) (Command, error) {
	var env Envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	var cmd Command
	var err error
	switch env.Type {
	case KindAddCard:
		cmd, err = decodeData[AddCard](env.Data)
	case KindUpdateCard:
		cmd, err = decodeData[UpdateCard](env.Data)
	case KindDeleteCard:
		cmd, err = decodeData[DeleteCard](env.Data)
	case KindPublishCard:
		cmd, err = decodeData[PublishCard](env.Data)
	case KindPublishAllCards:
		cmd, err = decodeData[PublishAllCards](env.Data)
	case KindAddColumn:
		cmd, err = decodeData[AddColumn](env.Data)
	case KindUpdateColumn:
		cmd, err = decodeData[UpdateColumn](env.Data)
	case KindDeleteColumn:
		cmd, err = decodeData[DeleteColumn](env.Data)
	case KindReorderColumn:
		cmd, err = decodeData[ReorderColumn](env.Data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Type)
	}
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func decodeData[T any](data []byte) (T, error) {
	var v T
	if len(data) == 0 {
		return v, fmt.Errorf("%w: missing data", ErrInvalidCommand)
	}
	if err := sonic.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}
	return v, nil
}

// EncodeCommand builds the wire frame for cmd.
func EncodeCommand(cmd Command) ([]byte, error) {
	data, err := sonic.Marshal(cmd)
	if err != nil {
		return nil, err
	}
	return sonic.Marshal(Envelope{Type: cmd.Kind(), Data: data})
}
