package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const apiKeyColumns = "id, owner_id, name, key_hash, created_at, last_used_at"

// APIKeyStore provides lookups and bookkeeping for opaque API keys.
type APIKeyStore struct {
	q querier
}

// NewAPIKeyStore creates a store bound to the connection pool.
func NewAPIKeyStore(db *DB) *APIKeyStore {
	return &APIKeyStore{q: db.pool}
}

// WithTx returns a copy of the store bound to an external transaction.
func (s *APIKeyStore) WithTx(tx pgx.Tx) *APIKeyStore {
	return &APIKeyStore{q: tx}
}

// Create inserts a new API key record and returns the materialized row.
func (s *APIKeyStore) Create(ctx context.Context, ownerID uuid.UUID, name, keyHash string) (*APIKey, error) {
	query := `
		INSERT INTO api_keys (owner_id, name, key_hash)
		VALUES ($1, $2, $3)
		RETURNING ` + apiKeyColumns

	return s.scanOne(s.q.QueryRow(ctx, query, ownerID, name, keyHash))
}

// GetByHash looks up an API key by the hash of its raw secret.
func (s *APIKeyStore) GetByHash(ctx context.Context, keyHash string) (*APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key_hash = $1`
	return s.scanOne(s.q.QueryRow(ctx, query, keyHash))
}

// TouchLastUsed sets last_used_at to now. Callers on the authentication
// path treat a failure here as non-fatal.
func (s *APIKeyStore) TouchLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.q.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("touching api key: %w", err)
	}
	return nil
}

func (s *APIKeyStore) scanOne(row pgx.Row) (*APIKey, error) {
	var k APIKey
	err := row.Scan(&k.ID, &k.OwnerID, &k.Name, &k.KeyHash, &k.CreatedAt, &k.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, fmt.Errorf("scanning api key row: %w", err)
	}
	return &k, nil
}
