package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"sandbox-gateway/internal/storage"
)

// DefaultKeyPrefix is the literal prefix of every issued API key.
const DefaultKeyPrefix = "sbx_sk_"

const (
	minKeyLength = 20
	maxKeyLength = 200
)

// KeyStore is the subset of the API key store the verifier needs.
type KeyStore interface {
	GetByHash(ctx context.Context, keyHash string) (*storage.APIKey, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}

// APIKeyVerifier authenticates opaque keys by hash lookup. The format
// gate runs before any database access so malformed keys never cost a
// query.
type APIKeyVerifier struct {
	store  KeyStore
	prefix string
}

// NewAPIKeyVerifier creates a verifier backed by the given key store.
// An empty prefix falls back to DefaultKeyPrefix.
func NewAPIKeyVerifier(store KeyStore, prefix string) *APIKeyVerifier {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &APIKeyVerifier{store: store, prefix: prefix}
}

// Verify hashes the key, looks it up, and returns the owner's user ID.
// On success it opportunistically stamps last_used_at; a failure there is
// logged and swallowed, never failing the authentication.
func (v *APIKeyVerifier) Verify(ctx context.Context, credential string) (uuid.UUID, error) {
	if !v.validFormat(credential) {
		return uuid.Nil, fmt.Errorf("%w: malformed api key", ErrInvalidCredential)
	}

	record, err := v.store.GetByHash(ctx, HashKey(credential))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: unknown api key", ErrInvalidCredential)
	}

	if err := v.store.TouchLastUsed(ctx, record.ID); err != nil {
		log.Debug().Err(err).Str("key_id", record.ID.String()).Msg("last_used_at update failed")
	}

	return record.OwnerID, nil
}

func (v *APIKeyVerifier) validFormat(key string) bool {
	return strings.HasPrefix(key, v.prefix) &&
		len(key) >= minKeyLength &&
		len(key) <= maxKeyLength
}

// HashKey returns the hex-encoded SHA-256 digest of a raw key.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateKey mints a new raw API key with the given prefix and returns
// the secret alongside its storable hash. The secret is never persisted.
func GenerateKey(prefix string) (secret, hash string, err error) {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generating key material: %w", err)
	}

	secret = prefix + hex.EncodeToString(buf)
	return secret, HashKey(secret), nil
}
