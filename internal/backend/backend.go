package backend

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps every failed call to the execution backend.
var ErrUnavailable = errors.New("execution backend unavailable")

// Backend is the remote session-oriented execution engine. Every call is
// addressed by the sandbox's session key and is synchronous from the
// gateway's perspective.
type Backend interface {
	// EnsureSession makes a session exist for the key. A session that is
	// already running is success, not an error.
	EnsureSession(ctx context.Context, sessionKey string) error

	// TeardownSession destroys the session for the key, if any.
	TeardownSession(ctx context.Context, sessionKey string) error

	Execute(ctx context.Context, sessionKey, code string, timeout time.Duration, env map[string]string) (*ExecutionResult, error)
	Install(ctx context.Context, sessionKey, pkg string) (*InstallResult, error)
	Upload(ctx context.Context, sessionKey, path string, content []byte) (*UploadResult, error)
	Stats(ctx context.Context, sessionKey string) (*SessionStats, error)

	Close() error
}

// ExecutionResult is the backend's verbatim answer to an execute call.
type ExecutionResult struct {
	Status      string `json:"status"` // success or error
	Stdout      string `json:"stdout"`
	Stderr      string `json:"stderr"`
	ExitCode    *int   `json:"exit_code,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`
	ErrorType   string `json:"error_type,omitempty"`
}

// InstallResult reports a package installation.
type InstallResult struct {
	Status  string `json:"status"`
	Package string `json:"package"`
	Message string `json:"message"`
}

// UploadResult reports a file upload.
type UploadResult struct {
	Status    string `json:"status"`
	Path      string `json:"path"`
	Message   string `json:"message"`
	SizeBytes *int64 `json:"size_bytes,omitempty"`
}

// SessionStats describes a live backend session.
type SessionStats struct {
	SessionID       string    `json:"session_id"`
	ExecutionCount  int       `json:"execution_count"`
	CreatedAt       time.Time `json:"created_at"`
	Uptime          float64   `json:"uptime"`
	ContainerStatus string    `json:"container_status"`
}
