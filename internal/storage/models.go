package storage

import (
	"time"

	"github.com/google/uuid"
)

// SandboxStatus is the lifecycle state of a sandbox record.
type SandboxStatus string

const (
	StatusStopped SandboxStatus = "stopped"
	StatusActive  SandboxStatus = "active"
)

// Sandbox is one user-owned execution session record.
type Sandbox struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	OwnerID   uuid.UUID     `json:"owner_id" db:"owner_id"`
	Status    SandboxStatus `json:"status" db:"status"`
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// APIKey is a long-lived opaque credential. Only the SHA-256 hash of the
// raw secret is stored; the secret itself is shown once at creation.
type APIKey struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	OwnerID    uuid.UUID  `json:"owner_id" db:"owner_id"`
	Name       string     `json:"name" db:"name"`
	KeyHash    string     `json:"-" db:"key_hash"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
}
