package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrInvalidCredential is returned for any credential that fails
// verification. Callers map it to 401 without leaking which check failed.
var ErrInvalidCredential = errors.New("invalid credential")

// Verifier resolves a raw bearer credential to the owning user ID.
// Exactly one implementation is selected at startup; the choice is a
// deployment decision, never made per-request.
type Verifier interface {
	Verify(ctx context.Context, credential string) (uuid.UUID, error)
}
