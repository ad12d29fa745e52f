package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sandbox-gateway/internal/backend"
	"sandbox-gateway/internal/sandbox"
	"sandbox-gateway/internal/storage"
)

type Handlers struct {
	manager     *sandbox.Manager
	development bool
}

func NewHandlers(manager *sandbox.Manager, development bool) *Handlers {
	return &Handlers{
		manager:     manager,
		development: development,
	}
}

func (h *Handlers) HandleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, CodeInvalidCredential, "missing caller identity")
		return
	}

	sb, err := h.manager.Create(r.Context(), userID)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, sb)
}

func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := UserIDFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, CodeInvalidCredential, "missing caller identity")
		return
	}

	activeOnly := r.URL.Query().Get("active") == "true"

	sandboxes, err := h.manager.List(r.Context(), userID, activeOnly)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}

	if sandboxes == nil {
		sandboxes = []storage.Sandbox{}
	}
	writeJSON(w, http.StatusOK, sandboxes)
}

func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, sandboxID, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}

	sb, err := h.manager.Get(r.Context(), sandboxID, userID)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sb)
}

func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	userID, sandboxID, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}

	sb, err := h.manager.Start(r.Context(), sandboxID, userID)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sb)
}

func (h *Handlers) HandleStop(w http.ResponseWriter, r *http.Request) {
	userID, sandboxID, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}

	sb, err := h.manager.Stop(r.Context(), sandboxID, userID)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, sb)
}

func (h *Handlers) HandleExecute(w http.ResponseWriter, r *http.Request) {
	userID, sandboxID, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}

	var req ExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, CodeInvalidInput, "invalid JSON: "+err.Error())
		return
	}

	if req.Code == "" {
		writeError(w, r, http.StatusUnprocessableEntity, CodeInvalidInput, "code is required")
		return
	}
	if len(req.Code) > maxCodeLength {
		writeError(w, r, http.StatusUnprocessableEntity, CodeInvalidInput,
			fmt.Sprintf("code exceeds %d characters", maxCodeLength))
		return
	}

	timeout := defaultTimeout
	if req.Timeout != nil {
		timeout = *req.Timeout
	}
	if timeout < minTimeoutSec || timeout > maxTimeoutSec {
		writeError(w, r, http.StatusUnprocessableEntity, CodeInvalidInput,
			fmt.Sprintf("timeout must be %d-%d seconds", minTimeoutSec, maxTimeoutSec))
		return
	}

	result, err := h.manager.Execute(r.Context(), sandboxID, userID,
		req.Code, time.Duration(timeout)*time.Second, req.Environment)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) HandleInstall(w http.ResponseWriter, r *http.Request) {
	userID, sandboxID, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}

	var req InstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, CodeInvalidInput, "invalid JSON: "+err.Error())
		return
	}

	if req.Package == "" {
		writeError(w, r, http.StatusUnprocessableEntity, CodeInvalidInput, "package is required")
		return
	}
	if len(req.Package) > maxPackageLength {
		writeError(w, r, http.StatusUnprocessableEntity, CodeInvalidInput,
			fmt.Sprintf("package exceeds %d characters", maxPackageLength))
		return
	}

	result, err := h.manager.Install(r.Context(), sandboxID, userID, req.Package)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userID, sandboxID, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}

	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, CodeInvalidInput, "invalid JSON: "+err.Error())
		return
	}

	if req.Path == "" {
		writeError(w, r, http.StatusUnprocessableEntity, CodeInvalidInput, "path is required")
		return
	}
	if len(req.Path) > maxPathLength {
		writeError(w, r, http.StatusUnprocessableEntity, CodeInvalidInput,
			fmt.Sprintf("path exceeds %d characters", maxPathLength))
		return
	}
	if req.Content == "" {
		writeError(w, r, http.StatusUnprocessableEntity, CodeInvalidInput, "content is required")
		return
	}

	result, err := h.manager.Upload(r.Context(), sandboxID, userID, req.Path, req.Content)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	userID, sandboxID, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}

	stats, err := h.manager.Stats(r.Context(), sandboxID, userID)
	if err != nil {
		h.writeManagerError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, sandboxID, ok := h.pathIdentity(w, r)
	if !ok {
		return
	}

	if err := h.manager.Delete(r.Context(), sandboxID, userID); err != nil {
		h.writeManagerError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// pathIdentity extracts the caller and the {id} path segment, writing the
// error response itself when either is missing or malformed.
func (h *Handlers) pathIdentity(w http.ResponseWriter, r *http.Request) (userID, sandboxID uuid.UUID, ok bool) {
	userID, found := UserIDFromContext(r.Context())
	if !found {
		writeError(w, r, http.StatusUnauthorized, CodeInvalidCredential, "missing caller identity")
		return uuid.Nil, uuid.Nil, false
	}

	sandboxID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, CodeInvalidInput, "sandbox ID must be a UUID")
		return uuid.Nil, uuid.Nil, false
	}

	return userID, sandboxID, true
}

// writeManagerError maps lifecycle manager errors onto the HTTP taxonomy.
func (h *Handlers) writeManagerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, sandbox.ErrNotFound):
		writeError(w, r, http.StatusNotFound, CodeNotFound, "sandbox not found")
	case errors.Is(err, sandbox.ErrForbidden):
		writeError(w, r, http.StatusForbidden, CodeForbidden, "you don't have permission to access this sandbox")
	case errors.Is(err, sandbox.ErrInvalidInput):
		writeError(w, r, http.StatusUnprocessableEntity, CodeInvalidInput, err.Error())
	case errors.Is(err, sandbox.ErrQuotaExceeded):
		writeError(w, r, http.StatusUnprocessableEntity, CodeQuotaExceeded, err.Error())
	case errors.Is(err, backend.ErrUnavailable):
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("backend call failed")
		writeError(w, r, http.StatusInternalServerError, CodeBackendUnavailable, "execution backend request failed")
	default:
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("unhandled error")
		detail := "internal server error"
		if h.development {
			detail = err.Error()
		}
		writeError(w, r, http.StatusInternalServerError, CodeInternal, detail)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	writeJSON(w, status, ErrorResponse{
		Detail:    detail,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}
