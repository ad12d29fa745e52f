package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"sandbox-gateway/internal/backend"
	"sandbox-gateway/internal/monitor"
	"sandbox-gateway/internal/sandbox"
	"sandbox-gateway/internal/storage"
)

// fakeStore backs the manager for handler tests.
type fakeStore struct {
	records map[uuid.UUID]*storage.Sandbox
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[uuid.UUID]*storage.Sandbox)}
}

func (f *fakeStore) Create(_ context.Context, ownerID uuid.UUID) (*storage.Sandbox, error) {
	now := time.Now()
	sb := &storage.Sandbox{ID: uuid.New(), OwnerID: ownerID, Status: storage.StatusStopped, CreatedAt: now, UpdatedAt: now}
	f.records[sb.ID] = sb
	out := *sb
	return &out, nil
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*storage.Sandbox, error) {
	if sb, ok := f.records[id]; ok {
		out := *sb
		return &out, nil
	}
	return nil, storage.ErrNoRows
}

func (f *fakeStore) ListByOwner(_ context.Context, ownerID uuid.UUID) ([]storage.Sandbox, error) {
	var out []storage.Sandbox
	for _, sb := range f.records {
		if sb.OwnerID == ownerID {
			out = append(out, *sb)
		}
	}
	return out, nil
}

func (f *fakeStore) ListActiveByOwner(_ context.Context, ownerID uuid.UUID) ([]storage.Sandbox, error) {
	var out []storage.Sandbox
	for _, sb := range f.records {
		if sb.OwnerID == ownerID && sb.Status == storage.StatusActive {
			out = append(out, *sb)
		}
	}
	return out, nil
}

func (f *fakeStore) CountByOwner(_ context.Context, ownerID uuid.UUID) (int64, error) {
	var n int64
	for _, sb := range f.records {
		if sb.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) UpdateStatus(_ context.Context, id uuid.UUID, status storage.SandboxStatus) (*storage.Sandbox, error) {
	sb, ok := f.records[id]
	if !ok {
		return nil, storage.ErrNoRows
	}
	sb.Status = status
	out := *sb
	return &out, nil
}

func (f *fakeStore) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := f.records[id]; !ok {
		return storage.ErrNoRows
	}
	delete(f.records, id)
	return nil
}

// fakeBackend counts calls so tests can assert validation short-circuits.
type fakeBackend struct {
	calls int
	err   error
}

func (f *fakeBackend) EnsureSession(context.Context, string) error { f.calls++; return f.err }
func (f *fakeBackend) TeardownSession(context.Context, string) error {
	f.calls++
	return f.err
}

func (f *fakeBackend) Execute(_ context.Context, _, _ string, _ time.Duration, _ map[string]string) (*backend.ExecutionResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	exitCode := 0
	return &backend.ExecutionResult{Status: "success", Stdout: "Hello, World!\n", ExitCode: &exitCode}, nil
}

func (f *fakeBackend) Install(_ context.Context, _, pkg string) (*backend.InstallResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &backend.InstallResult{Status: "success", Package: pkg, Message: "installed"}, nil
}

func (f *fakeBackend) Upload(_ context.Context, _, path string, content []byte) (*backend.UploadResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	size := int64(len(content))
	return &backend.UploadResult{Status: "success", Path: path, SizeBytes: &size}, nil
}

func (f *fakeBackend) Stats(_ context.Context, key string) (*backend.SessionStats, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &backend.SessionStats{SessionID: key, ContainerStatus: "running"}, nil
}

func (f *fakeBackend) Close() error { return nil }

// stubVerifier maps the literal credential "good" to a fixed user.
type stubVerifier struct {
	userID uuid.UUID
}

func (s *stubVerifier) Verify(_ context.Context, credential string) (uuid.UUID, error) {
	if credential == "good" {
		return s.userID, nil
	}
	return uuid.Nil, fmt.Errorf("bad credential")
}

type testAPI struct {
	handler http.Handler
	userID  uuid.UUID
	store   *fakeStore
	backend *fakeBackend
	manager *sandbox.Manager
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store := newFakeStore()
	be := &fakeBackend{}
	metrics := monitor.NewMetrics()
	manager := sandbox.NewManager(store, be, metrics, 0)
	handlers := NewHandlers(manager, false)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/sandboxes", handlers.HandleCreate)
	mux.HandleFunc("GET /api/v1/sandboxes", handlers.HandleList)
	mux.HandleFunc("GET /api/v1/sandboxes/{id}", handlers.HandleGet)
	mux.HandleFunc("POST /api/v1/sandboxes/{id}/start", handlers.HandleStart)
	mux.HandleFunc("POST /api/v1/sandboxes/{id}/stop", handlers.HandleStop)
	mux.HandleFunc("POST /api/v1/sandboxes/{id}/execute", handlers.HandleExecute)
	mux.HandleFunc("POST /api/v1/sandboxes/{id}/install", handlers.HandleInstall)
	mux.HandleFunc("POST /api/v1/sandboxes/{id}/upload", handlers.HandleUpload)
	mux.HandleFunc("GET /api/v1/sandboxes/{id}/stats", handlers.HandleStats)
	mux.HandleFunc("DELETE /api/v1/sandboxes/{id}", handlers.HandleDelete)

	userID := uuid.New()
	handler := AuthMiddleware(&stubVerifier{userID: userID}, metrics)(mux)

	return &testAPI{
		handler: handler,
		userID:  userID,
		store:   store,
		backend: be,
		manager: manager,
	}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) createSandbox(t *testing.T) storage.Sandbox {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/sandboxes", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create returned %d: %s", rec.Code, rec.Body.String())
	}
	var sb storage.Sandbox
	if err := json.NewDecoder(rec.Body).Decode(&sb); err != nil {
		t.Fatal(err)
	}
	return sb
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestCreate_ReturnsStoppedSandbox(t *testing.T) {
	a := newTestAPI(t)
	sb := a.createSandbox(t)

	if sb.Status != storage.StatusStopped {
		t.Errorf("status = %s, want stopped", sb.Status)
	}
	if sb.OwnerID != a.userID {
		t.Errorf("owner = %s, want authenticated caller %s", sb.OwnerID, a.userID)
	}
}

func TestExecute_Validation(t *testing.T) {
	a := newTestAPI(t)
	sb := a.createSandbox(t)
	path := "/api/v1/sandboxes/" + sb.ID.String() + "/execute"

	intp := func(v int) *int { return &v }

	tests := []struct {
		name       string
		body       ExecuteRequest
		wantStatus int
	}{
		{"empty code", ExecuteRequest{Code: ""}, http.StatusUnprocessableEntity},
		{"timeout too high", ExecuteRequest{Code: "1+1", Timeout: intp(999)}, http.StatusUnprocessableEntity},
		{"timeout too low", ExecuteRequest{Code: "1+1", Timeout: intp(0)}, http.StatusUnprocessableEntity},
		{"default timeout", ExecuteRequest{Code: "1+1"}, http.StatusOK},
		{"explicit default", ExecuteRequest{Code: "1+1", Timeout: intp(30)}, http.StatusOK},
		{"max timeout", ExecuteRequest{Code: "1+1", Timeout: intp(300)}, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := a.backend.calls
			rec := a.do(t, http.MethodPost, path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus == http.StatusUnprocessableEntity {
				if a.backend.calls != before {
					t.Error("validation failure still reached the backend")
				}
				if resp := decodeError(t, rec); resp.Code != CodeInvalidInput {
					t.Errorf("code = %q, want %q", resp.Code, CodeInvalidInput)
				}
			}
		})
	}
}

func TestExecute_Success(t *testing.T) {
	a := newTestAPI(t)
	sb := a.createSandbox(t)

	rec := a.do(t, http.MethodPost, "/api/v1/sandboxes/"+sb.ID.String()+"/execute",
		ExecuteRequest{Code: "print('Hello, World!')"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var result backend.ExecutionResult
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatal(err)
	}
	if result.Status != "success" && result.Status != "error" {
		t.Errorf("status = %q, want success or error", result.Status)
	}
	if result.Status == "success" && !bytes.Contains([]byte(result.Stdout), []byte("Hello, World!")) {
		t.Errorf("stdout %q does not contain greeting", result.Stdout)
	}
}

func TestUpload_InvalidBase64(t *testing.T) {
	a := newTestAPI(t)
	sb := a.createSandbox(t)

	rec := a.do(t, http.MethodPost, "/api/v1/sandboxes/"+sb.ID.String()+"/upload",
		UploadRequest{Path: "/tmp/x", Content: "@@not-base64@@"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != CodeInvalidInput {
		t.Errorf("code = %q, want %q", resp.Code, CodeInvalidInput)
	}
	if a.backend.calls != 0 {
		t.Error("invalid base64 still reached the backend")
	}
}

func TestUpload_Success(t *testing.T) {
	a := newTestAPI(t)
	sb := a.createSandbox(t)

	rec := a.do(t, http.MethodPost, "/api/v1/sandboxes/"+sb.ID.String()+"/upload",
		UploadRequest{Path: "/tmp/data.csv", Content: base64.StdEncoding.EncodeToString([]byte("a,b\n"))})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestInstall_Validation(t *testing.T) {
	a := newTestAPI(t)
	sb := a.createSandbox(t)
	path := "/api/v1/sandboxes/" + sb.ID.String() + "/install"

	rec := a.do(t, http.MethodPost, path, InstallRequest{Package: ""})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("empty package: status = %d, want 422", rec.Code)
	}

	long := make([]byte, maxPackageLength+1)
	for i := range long {
		long[i] = 'a'
	}
	rec = a.do(t, http.MethodPost, path, InstallRequest{Package: string(long)})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("oversized package: status = %d, want 422", rec.Code)
	}

	rec = a.do(t, http.MethodPost, path, InstallRequest{Package: "numpy==1.24.0"})
	if rec.Code != http.StatusOK {
		t.Errorf("valid package: status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
}

func TestForeignSandboxIsForbidden(t *testing.T) {
	a := newTestAPI(t)

	// Seed a sandbox owned by someone else directly in the store.
	stranger := uuid.New()
	foreign, err := a.store.Create(context.Background(), stranger)
	if err != nil {
		t.Fatal(err)
	}

	paths := map[string]string{
		http.MethodGet:    "/api/v1/sandboxes/" + foreign.ID.String(),
		http.MethodDelete: "/api/v1/sandboxes/" + foreign.ID.String(),
	}
	for method, path := range paths {
		rec := a.do(t, method, path, nil)
		if rec.Code != http.StatusForbidden {
			t.Errorf("%s %s: status = %d, want 403", method, path, rec.Code)
		}
		if resp := decodeError(t, rec); resp.Code != CodeForbidden {
			t.Errorf("code = %q, want %q", resp.Code, CodeForbidden)
		}
	}
}

func TestUnknownSandboxIsNotFound(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/v1/sandboxes/"+uuid.New().String(), nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != CodeNotFound {
		t.Errorf("code = %q, want %q", resp.Code, CodeNotFound)
	}
}

func TestMalformedSandboxID(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/v1/sandboxes/not-a-uuid", nil)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", rec.Code)
	}
}

func TestDelete_ThenGetIsNotFound(t *testing.T) {
	a := newTestAPI(t)
	sb := a.createSandbox(t)
	path := "/api/v1/sandboxes/" + sb.ID.String()

	rec := a.do(t, http.MethodDelete, path, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", rec.Code)
	}

	rec = a.do(t, http.MethodGet, path, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rec.Code)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	a := newTestAPI(t)
	sb := a.createSandbox(t)
	base := "/api/v1/sandboxes/" + sb.ID.String()

	rec := a.do(t, http.MethodPost, base+"/start", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d: %s", rec.Code, rec.Body.String())
	}
	var started storage.Sandbox
	if err := json.NewDecoder(rec.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}
	if started.Status != storage.StatusActive {
		t.Errorf("status after start = %s, want active", started.Status)
	}

	rec = a.do(t, http.MethodPost, base+"/stop", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d: %s", rec.Code, rec.Body.String())
	}

	rec = a.do(t, http.MethodGet, base, nil)
	var got storage.Sandbox
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Status != storage.StatusStopped {
		t.Errorf("status after stop = %s, want stopped", got.Status)
	}
}

func TestBackendFailureMapsTo500(t *testing.T) {
	a := newTestAPI(t)
	sb := a.createSandbox(t)
	a.backend.err = backend.ErrUnavailable

	rec := a.do(t, http.MethodPost, "/api/v1/sandboxes/"+sb.ID.String()+"/execute",
		ExecuteRequest{Code: "1+1"})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != CodeBackendUnavailable {
		t.Errorf("code = %q, want %q", resp.Code, CodeBackendUnavailable)
	}
}

func TestList_FiltersByActive(t *testing.T) {
	a := newTestAPI(t)
	_ = a.createSandbox(t)
	running := a.createSandbox(t)
	a.do(t, http.MethodPost, "/api/v1/sandboxes/"+running.ID.String()+"/start", nil)

	rec := a.do(t, http.MethodGet, "/api/v1/sandboxes", nil)
	var all []storage.Sandbox
	if err := json.NewDecoder(rec.Body).Decode(&all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Errorf("list all = %d, want 2", len(all))
	}

	rec = a.do(t, http.MethodGet, "/api/v1/sandboxes?active=true", nil)
	var activeOnly []storage.Sandbox
	if err := json.NewDecoder(rec.Body).Decode(&activeOnly); err != nil {
		t.Fatal(err)
	}
	if len(activeOnly) != 1 || activeOnly[0].ID != running.ID {
		t.Errorf("active list = %v, want only %s", activeOnly, running.ID)
	}
}

func TestStats_RelaysBackend(t *testing.T) {
	a := newTestAPI(t)
	sb := a.createSandbox(t)

	rec := a.do(t, http.MethodGet, "/api/v1/sandboxes/"+sb.ID.String()+"/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var stats backend.SessionStats
	if err := json.NewDecoder(rec.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.SessionID != sandbox.SessionKey(a.userID, sb.ID) {
		t.Errorf("session_id = %q, want derived key", stats.SessionID)
	}
}
