package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// JWTVerifier validates HS256-signed bearer tokens against a shared
// secret. The token must carry the expected audience claim and a subject
// claim holding the user's UUID.
type JWTVerifier struct {
	secret   []byte
	audience string
}

// NewJWTVerifier creates a verifier for the given shared secret and
// expected audience.
func NewJWTVerifier(secret, audience string) *JWTVerifier {
	return &JWTVerifier{
		secret:   []byte(secret),
		audience: audience,
	}
}

// Verify checks the token signature and audience, and returns the user
// ID from the subject claim.
func (v *JWTVerifier) Verify(_ context.Context, credential string) (uuid.UUID, error) {
	token, err := jwt.Parse(credential,
		func(*jwt.Token) (any, error) { return v.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(v.audience),
	)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrInvalidCredential, err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, fmt.Errorf("%w: missing subject claim", ErrInvalidCredential)
	}

	userID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a user ID", ErrInvalidCredential)
	}

	return userID, nil
}
