package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var (
	errWrongRoom      = errors.New("identity token issued for another room")
	errMissingSubject = errors.New("identity token has no subject")
)

// Identity signs and verifies reconnect tokens that let a viewer keep its
// author id across connections to the same room.
type Identity struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

type identityClaims struct {
	Room string `json:"room"`
	jwt.RegisteredClaims
}

// NewIdentity returns nil when secret is empty, which disables reconnect identity.
func NewIdentity(secret string, ttl time.Duration) *Identity {
	if secret == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Identity{
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{"HS256"})),
	}
}

// Issue signs a token binding authorID to roomID.
func (i *Identity) Issue(roomID, authorID string) (string, error) {
	now := i.now()
	claims := identityClaims{
		Room: roomID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   authorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
}

// Resolve returns the author id carried by token if it is valid for roomID.
func (i *Identity) Resolve(token, roomID string) (string, error) {
	var claims identityClaims
	_, err := i.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil {
		return "", err
	}
	if claims.Room != roomID {
		return "", errWrongRoom
	}
	if claims.Subject == "" {
		return "", errMissingSubject
	}
	return claims.Subject, nil
}
