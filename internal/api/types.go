package api

// Machine-readable error categories carried on every error response.
// The HTTP status code is the primary signal; the code disambiguates
// within a status class.
const (
	CodeInvalidCredential  = "INVALID_CREDENTIAL"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeInvalidInput       = "INVALID_INPUT"
	CodeQuotaExceeded      = "QUOTA_EXCEEDED"
	CodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	CodeInternal           = "INTERNAL"
)

// Field bounds enforced at the API boundary, before the lifecycle
// manager runs.
const (
	maxCodeLength    = 100000
	minTimeoutSec    = 1
	maxTimeoutSec    = 300
	defaultTimeout   = 30
	maxPackageLength = 200
	maxPathLength    = 500
)

// ExecuteRequest asks for code to run inside a sandbox session.
type ExecuteRequest struct {
	Code        string            `json:"code"`
	Timeout     *int              `json:"timeout,omitempty"` // seconds, 1-300, default 30
	Environment map[string]string `json:"environment,omitempty"`
}

// InstallRequest asks for a package install, e.g. "numpy==1.24.0".
type InstallRequest struct {
	Package string `json:"package"`
}

// UploadRequest carries a base64-encoded file for the sandbox.
type UploadRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ErrorResponse is returned for all API errors.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status   string `json:"status"`
	Database bool   `json:"database"`
	Backend  bool   `json:"backend"`
	Uptime   string `json:"uptime"`
}
