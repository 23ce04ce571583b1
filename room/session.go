package room

import (
	"github.com/google/uuid"
)

// Conn is the outbound side of a viewer connection. Send must not block; a
// connection that cannot take a frame right now returns an error.
type Conn interface {
	Send(frame []byte) error
	Close() error
}

// Session is one connected viewer. Role and identity are fixed at connect time.
type Session struct {
	ID       string
	IsAdmin  bool
	AuthorID string
	conn     Conn
}

func NewSession(conn Conn, isAdmin bool, authorID string) *Session {
	return &Session{
		ID:       uuid.NewString(),
		IsAdmin:  isAdmin,
		AuthorID: authorID,
		conn:     conn,
	}
}

func (s *Session) Send(frame []byte) error {
	return s.conn.Send(frame)
}

func (s *Session) Close() error {
	return s.conn.Close()
}
