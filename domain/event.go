package domain

// KindCreateRoom marks the event emitted when a room is initialized.
const KindCreateRoom = "room:create"

// Event records one committed mutation for downstream consumers.
type Event struct {
	RoomID   string `json:"roomId"`
	Kind     string `json:"kind"`
	AuthorID string `json:"authorId,omitempty"`
	IsAdmin  bool   `json:"isAdmin"`
	Rows     int    `json:"rows"`
	At       string `json:"at"`
}
