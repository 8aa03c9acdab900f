package core

import (
	"errors"

	"github.com/google/uuid"
)

// ErrNoPrincipal indicates the request carries no authenticated identity.
var ErrNoPrincipal = errors.New("no authenticated principal")

// Principal is the authenticated identity a request acts on behalf of.
// Handlers receive it from an injected resolver instead of reading an
// ambient session, so the auth mechanism stays swappable.
type Principal struct {
	UserID     uuid.UUID
	CustomerID string // billing-provider customer reference
	Email      string
}

// Valid reports whether the principal identifies a real user.
func (p Principal) Valid() bool {
	return p.UserID != uuid.Nil
}
