package sandbox

import "errors"

// Sentinel errors for typed checks at the API boundary.
var (
	ErrNotFound      = errors.New("sandbox not found")
	ErrForbidden     = errors.New("sandbox not owned by caller")
	ErrInvalidInput  = errors.New("invalid input")
	ErrQuotaExceeded = errors.New("sandbox quota exceeded")
)
