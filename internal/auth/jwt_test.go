package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const testSecret = "test-secret-0123456789"

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func TestJWTVerifier_Valid(t *testing.T) {
	userID := uuid.New()
	v := NewJWTVerifier(testSecret, "authenticated")

	credential := signToken(t, testSecret, jwt.MapClaims{
		"sub": userID.String(),
		"aud": "authenticated",
		"exp": time.Now().Add(time.Hour).Unix(),
	})

	got, err := v.Verify(context.Background(), credential)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got != userID {
		t.Errorf("user ID = %s, want %s", got, userID)
	}
}

func TestJWTVerifier_Invalid(t *testing.T) {
	userID := uuid.New().String()
	v := NewJWTVerifier(testSecret, "authenticated")

	tests := []struct {
		name       string
		credential string
	}{
		{"garbage", "not.a.token"},
		{"wrong secret", signToken(t, "other-secret-9876543210", jwt.MapClaims{
			"sub": userID, "aud": "authenticated",
		})},
		{"wrong audience", signToken(t, testSecret, jwt.MapClaims{
			"sub": userID, "aud": "something-else",
		})},
		{"missing subject", signToken(t, testSecret, jwt.MapClaims{
			"aud": "authenticated",
		})},
		{"subject not a UUID", signToken(t, testSecret, jwt.MapClaims{
			"sub": "alice", "aud": "authenticated",
		})},
		{"expired", signToken(t, testSecret, jwt.MapClaims{
			"sub": userID, "aud": "authenticated",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(context.Background(), tt.credential)
			if !errors.Is(err, ErrInvalidCredential) {
				t.Errorf("error = %v, want ErrInvalidCredential", err)
			}
		})
	}
}

func TestJWTVerifier_RejectsUnsignedAlg(t *testing.T) {
	userID := uuid.New().String()
	v := NewJWTVerifier(testSecret, "authenticated")

	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{
		"sub": userID, "aud": "authenticated",
	})
	credential, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := v.Verify(context.Background(), credential); !errors.Is(err, ErrInvalidCredential) {
		t.Errorf("error = %v, want ErrInvalidCredential", err)
	}
}
