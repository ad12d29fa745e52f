package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"sandbox-gateway/internal/monitor"
)

func TestAuthMiddleware(t *testing.T) {
	userID := uuid.New()
	metrics := monitor.NewMetrics()

	var gotUser uuid.UUID
	var reached bool
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		gotUser, _ = UserIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	handler := AuthMiddleware(&stubVerifier{userID: userID}, metrics)(inner)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantInner  bool
	}{
		{"missing header", "", http.StatusUnauthorized, false},
		{"no bearer prefix", "good", http.StatusUnauthorized, false},
		{"empty credential", "Bearer ", http.StatusUnauthorized, false},
		{"invalid credential", "Bearer nope", http.StatusUnauthorized, false},
		{"valid credential", "Bearer good", http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reached = false
			gotUser = uuid.Nil

			req := httptest.NewRequest(http.MethodGet, "/api/v1/sandboxes", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if reached != tt.wantInner {
				t.Errorf("inner handler reached = %v, want %v", reached, tt.wantInner)
			}
			if tt.wantInner && gotUser != userID {
				t.Errorf("context user = %s, want %s", gotUser, userID)
			}
			if !tt.wantInner {
				if resp := decodeError(t, rec); resp.Code != CodeInvalidCredential {
					t.Errorf("code = %q, want %q", resp.Code, CodeInvalidCredential)
				}
			}
		})
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	// Generated when absent.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen == "" {
		t.Error("request ID not set in context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("response header = %q, want %q", got, seen)
	}

	// Preserved when the client supplies one.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "client-chosen-id")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if seen != "client-chosen-id" {
		t.Errorf("request ID = %q, want client-chosen-id", seen)
	}
}

func TestMaxBodyMiddleware(t *testing.T) {
	handler := MaxBodyMiddleware(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("small body: status = %d, want 200", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 64)))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized body: status = %d, want 413", rec.Code)
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := RecoveryMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
