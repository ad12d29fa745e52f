package sandbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sandbox-gateway/internal/backend"
	"sandbox-gateway/internal/monitor"
	"sandbox-gateway/internal/storage"
)

// Store is the persistence the manager needs. *storage.SandboxStore is
// the production implementation.
type Store interface {
	Create(ctx context.Context, ownerID uuid.UUID) (*storage.Sandbox, error)
	Get(ctx context.Context, id uuid.UUID) (*storage.Sandbox, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]storage.Sandbox, error)
	ListActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]storage.Sandbox, error)
	CountByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status storage.SandboxStatus) (*storage.Sandbox, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// Manager owns the sandbox state machine. It is the only component that
// enforces ownership and the only one that talks to the execution
// backend. Concurrent status transitions on one sandbox are not
// serialized here; the last write wins.
type Manager struct {
	store      Store
	backend    backend.Backend
	metrics    *monitor.Metrics
	tracer     *monitor.Tracer
	maxPerUser int64
}

// NewManager creates a lifecycle manager. maxPerUser of 0 disables the
// per-user creation quota.
func NewManager(store Store, be backend.Backend, metrics *monitor.Metrics, maxPerUser int64) *Manager {
	return &Manager{
		store:      store,
		backend:    be,
		metrics:    metrics,
		tracer:     monitor.NewTracer(),
		maxPerUser: maxPerUser,
	}
}

// SessionKey derives the correlation key used to address the execution
// backend. It is reconstructible from the two IDs alone and stable for
// the lifetime of the sandbox.
func SessionKey(ownerID, sandboxID uuid.UUID) string {
	return ownerID.String() + "-" + sandboxID.String()
}

// resolve loads a sandbox and checks ownership. A sandbox owned by
// someone else yields ErrForbidden and nothing more.
func (m *Manager) resolve(ctx context.Context, sandboxID, callerID uuid.UUID) (*storage.Sandbox, error) {
	sb, err := m.store.Get(ctx, sandboxID)
	if errors.Is(err, storage.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading sandbox: %w", err)
	}
	if sb.OwnerID != callerID {
		return nil, ErrForbidden
	}
	return sb, nil
}

// Create inserts a new stopped sandbox owned by the caller.
func (m *Manager) Create(ctx context.Context, callerID uuid.UUID) (sb *storage.Sandbox, err error) {
	ctx, span := m.tracer.StartSpan(ctx, "create")
	defer span.End()
	defer func() { m.metrics.RecordOp("create", err) }()

	if m.maxPerUser > 0 {
		count, err := m.store.CountByOwner(ctx, callerID)
		if err != nil {
			return nil, fmt.Errorf("counting sandboxes: %w", err)
		}
		if count >= m.maxPerUser {
			return nil, fmt.Errorf("%w: limit is %d", ErrQuotaExceeded, m.maxPerUser)
		}
	}

	return m.store.Create(ctx, callerID)
}

// Get returns a sandbox after the ownership check.
func (m *Manager) Get(ctx context.Context, sandboxID, callerID uuid.UUID) (*storage.Sandbox, error) {
	return m.resolve(ctx, sandboxID, callerID)
}

// List returns the caller's sandboxes, optionally only the active ones.
func (m *Manager) List(ctx context.Context, callerID uuid.UUID, activeOnly bool) ([]storage.Sandbox, error) {
	if activeOnly {
		return m.store.ListActiveByOwner(ctx, callerID)
	}
	return m.store.ListByOwner(ctx, callerID)
}

// Start provisions a backend session for the sandbox and marks it
// active. Provisioning is idempotent: a session that already exists is
// fine. On a provisioning failure the record keeps its previous status.
func (m *Manager) Start(ctx context.Context, sandboxID, callerID uuid.UUID) (sb *storage.Sandbox, err error) {
	ctx, span := m.tracer.StartSpan(ctx, "start", monitor.AttrSandboxID.String(sandboxID.String()))
	defer span.End()
	defer func() { m.metrics.RecordOp("start", err) }()

	sb, err = m.resolve(ctx, sandboxID, callerID)
	if err != nil {
		return nil, err
	}

	key := SessionKey(sb.OwnerID, sb.ID)
	if err := m.observeBackend("ensure_session", func() error {
		return m.backend.EnsureSession(ctx, key)
	}); err != nil {
		return nil, fmt.Errorf("provisioning session: %w", err)
	}

	sb, err = m.store.UpdateStatus(ctx, sb.ID, storage.StatusActive)
	if errors.Is(err, storage.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sb, err
}

// Stop tears the backend session down and marks the sandbox stopped. The
// record transitions to stopped even when teardown fails; the failure is
// still surfaced so the caller knows remote cleanup may be incomplete.
func (m *Manager) Stop(ctx context.Context, sandboxID, callerID uuid.UUID) (sb *storage.Sandbox, err error) {
	ctx, span := m.tracer.StartSpan(ctx, "stop", monitor.AttrSandboxID.String(sandboxID.String()))
	defer span.End()
	defer func() { m.metrics.RecordOp("stop", err) }()

	sb, err = m.resolve(ctx, sandboxID, callerID)
	if err != nil {
		return nil, err
	}

	key := SessionKey(sb.OwnerID, sb.ID)
	teardownErr := m.observeBackend("teardown_session", func() error {
		return m.backend.TeardownSession(ctx, key)
	})

	sb, err = m.store.UpdateStatus(ctx, sb.ID, storage.StatusStopped)
	if errors.Is(err, storage.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if teardownErr != nil {
		return nil, fmt.Errorf("tearing down session: %w", teardownErr)
	}
	return sb, nil
}

// Execute forwards code to the backend session and relays the result
// verbatim. No local state changes.
func (m *Manager) Execute(ctx context.Context, sandboxID, callerID uuid.UUID, code string, timeout time.Duration, env map[string]string) (result *backend.ExecutionResult, err error) {
	ctx, span := m.tracer.StartSpan(ctx, "execute", monitor.AttrSandboxID.String(sandboxID.String()))
	defer span.End()
	defer func() { m.metrics.RecordOp("execute", err) }()

	sb, err := m.resolve(ctx, sandboxID, callerID)
	if err != nil {
		return nil, err
	}

	key := SessionKey(sb.OwnerID, sb.ID)
	err = m.observeBackend("execute", func() error {
		result, err = m.backend.Execute(ctx, key, code, timeout, env)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("executing code: %w", err)
	}
	return result, nil
}

// Install forwards a package installation to the backend session.
func (m *Manager) Install(ctx context.Context, sandboxID, callerID uuid.UUID, pkg string) (result *backend.InstallResult, err error) {
	ctx, span := m.tracer.StartSpan(ctx, "install", monitor.AttrSandboxID.String(sandboxID.String()))
	defer span.End()
	defer func() { m.metrics.RecordOp("install", err) }()

	sb, err := m.resolve(ctx, sandboxID, callerID)
	if err != nil {
		return nil, err
	}

	key := SessionKey(sb.OwnerID, sb.ID)
	err = m.observeBackend("install", func() error {
		result, err = m.backend.Install(ctx, key, pkg)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("installing package: %w", err)
	}
	return result, nil
}

// Upload decodes the base64 payload and forwards the raw bytes to the
// backend session.
func (m *Manager) Upload(ctx context.Context, sandboxID, callerID uuid.UUID, path, content string) (result *backend.UploadResult, err error) {
	ctx, span := m.tracer.StartSpan(ctx, "upload", monitor.AttrSandboxID.String(sandboxID.String()))
	defer span.End()
	defer func() { m.metrics.RecordOp("upload", err) }()

	sb, err := m.resolve(ctx, sandboxID, callerID)
	if err != nil {
		return nil, err
	}

	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("%w: content is not valid base64", ErrInvalidInput)
	}

	key := SessionKey(sb.OwnerID, sb.ID)
	err = m.observeBackend("upload", func() error {
		result, err = m.backend.Upload(ctx, key, path, data)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("uploading file: %w", err)
	}
	return result, nil
}

// Stats fetches live session statistics from the backend.
func (m *Manager) Stats(ctx context.Context, sandboxID, callerID uuid.UUID) (stats *backend.SessionStats, err error) {
	ctx, span := m.tracer.StartSpan(ctx, "stats", monitor.AttrSandboxID.String(sandboxID.String()))
	defer span.End()
	defer func() { m.metrics.RecordOp("stats", err) }()

	sb, err := m.resolve(ctx, sandboxID, callerID)
	if err != nil {
		return nil, err
	}

	key := SessionKey(sb.OwnerID, sb.ID)
	err = m.observeBackend("stats", func() error {
		stats, err = m.backend.Stats(ctx, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("fetching stats: %w", err)
	}
	return stats, nil
}

// Delete removes the record unconditionally. An active sandbox gets a
// best-effort session teardown first; a teardown failure is logged and
// swallowed so deletion always succeeds locally.
func (m *Manager) Delete(ctx context.Context, sandboxID, callerID uuid.UUID) (err error) {
	ctx, span := m.tracer.StartSpan(ctx, "delete", monitor.AttrSandboxID.String(sandboxID.String()))
	defer span.End()
	defer func() { m.metrics.RecordOp("delete", err) }()

	sb, err := m.resolve(ctx, sandboxID, callerID)
	if err != nil {
		return err
	}

	if sb.Status == storage.StatusActive {
		key := SessionKey(sb.OwnerID, sb.ID)
		if terr := m.observeBackend("teardown_session", func() error {
			return m.backend.TeardownSession(ctx, key)
		}); terr != nil {
			log.Warn().
				Err(terr).
				Str("sandbox_id", sb.ID.String()).
				Msg("session teardown failed during delete, continuing")
		}
	}

	err = m.store.Delete(ctx, sb.ID)
	if errors.Is(err, storage.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (m *Manager) observeBackend(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	m.metrics.ObserveBackendCall(op, time.Since(start).Seconds(), err)
	return err
}
