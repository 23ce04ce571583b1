package domain

import "github.com/bytedance/sonic"

// Server frame types.
const (
	FrameSync     = "sync"
	FrameIdentity = "identity"
)

// Identity is the data of an identity frame.
type Identity struct {
	Token string `json:"token"`
}

type outFrame struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EncodeSync builds the sync frame carrying a full view.
func EncodeSync(view View) ([]byte, error) {
	return sonic.Marshal(outFrame{Type: FrameSync, Data: view})
}

// EncodeIdentity builds the identity frame carrying a reconnect token.
func EncodeIdentity(token string) ([]byte, error) {
	return sonic.Marshal(outFrame{Type: FrameIdentity, Data: Identity{Token: token}})
}
