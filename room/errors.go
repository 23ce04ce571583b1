package room

import "errors"

var (
	// ErrEngineStopped is returned by requests sent to an engine that has shut down.
	ErrEngineStopped = errors.New("room engine stopped")
	// ErrInvalidRoomID is returned for an empty or oversized room id.
	ErrInvalidRoomID = errors.New("invalid room id")
	// ErrRoomExists is returned when initializing a room that already has meta.
	ErrRoomExists = errors.New("room already initialized")
)
