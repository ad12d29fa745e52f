package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// ErrNoRows is returned when a lookup matches no record.
var ErrNoRows = errors.New("no rows in result set")

const sandboxColumns = "id, owner_id, status, created_at, updated_at"

// SandboxStore provides CRUD over sandbox records. Ownership checks are
// the caller's job; Delete and UpdateStatus are unconditional given an ID.
type SandboxStore struct {
	q querier
}

// NewSandboxStore creates a store bound to the connection pool.
func NewSandboxStore(db *DB) *SandboxStore {
	return &SandboxStore{q: db.pool}
}

// WithTx returns a copy of the store bound to an external transaction.
// Commit/rollback stay with whoever began the transaction.
func (s *SandboxStore) WithTx(tx pgx.Tx) *SandboxStore {
	return &SandboxStore{q: tx}
}

// Create inserts a new stopped sandbox and returns the materialized row.
func (s *SandboxStore) Create(ctx context.Context, ownerID uuid.UUID) (*Sandbox, error) {
	query := `
		INSERT INTO sandboxes (owner_id, status)
		VALUES ($1, $2)
		RETURNING ` + sandboxColumns

	return s.scanOne(s.q.QueryRow(ctx, query, ownerID, StatusStopped))
}

// Get retrieves a sandbox by ID.
func (s *SandboxStore) Get(ctx context.Context, id uuid.UUID) (*Sandbox, error) {
	query := `SELECT ` + sandboxColumns + ` FROM sandboxes WHERE id = $1`
	return s.scanOne(s.q.QueryRow(ctx, query, id))
}

// ListByOwner returns all sandboxes for a user, newest first.
func (s *SandboxStore) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Sandbox, error) {
	query := `SELECT ` + sandboxColumns + `
		FROM sandboxes WHERE owner_id = $1 ORDER BY created_at DESC`

	rows, err := s.q.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("querying sandboxes: %w", err)
	}
	return s.scanAll(rows)
}

// ListActiveByOwner returns only the user's active sandboxes.
func (s *SandboxStore) ListActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]Sandbox, error) {
	query := `SELECT ` + sandboxColumns + `
		FROM sandboxes WHERE owner_id = $1 AND status = $2 ORDER BY created_at DESC`

	rows, err := s.q.Query(ctx, query, ownerID, StatusActive)
	if err != nil {
		return nil, fmt.Errorf("querying active sandboxes: %w", err)
	}
	return s.scanAll(rows)
}

// CountByOwner counts all sandboxes for a user.
func (s *SandboxStore) CountByOwner(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	var count int64
	err := s.q.QueryRow(ctx, `SELECT COUNT(*) FROM sandboxes WHERE owner_id = $1`, ownerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting sandboxes: %w", err)
	}
	return count, nil
}

// UpdateStatus sets the status and refreshes updated_at, returning the
// materialized row.
func (s *SandboxStore) UpdateStatus(ctx context.Context, id uuid.UUID, status SandboxStatus) (*Sandbox, error) {
	query := `
		UPDATE sandboxes SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING ` + sandboxColumns

	return s.scanOne(s.q.QueryRow(ctx, query, id, status))
}

// Delete removes a sandbox record permanently.
func (s *SandboxStore) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.q.Exec(ctx, `DELETE FROM sandboxes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting sandbox: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoRows
	}
	return nil
}

func (s *SandboxStore) scanOne(row pgx.Row) (*Sandbox, error) {
	var sb Sandbox
	err := row.Scan(&sb.ID, &sb.OwnerID, &sb.Status, &sb.CreatedAt, &sb.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("scanning sandbox row: %w", err)
	}
	return &sb, nil
}

func (s *SandboxStore) scanAll(rows pgx.Rows) ([]Sandbox, error) {
	defer rows.Close()

	var results []Sandbox
	for rows.Next() {
		var sb Sandbox
		if err := rows.Scan(&sb.ID, &sb.OwnerID, &sb.Status, &sb.CreatedAt, &sb.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning sandbox row: %w", err)
		}
		results = append(results, sb)
	}
	return results, rows.Err()
}
