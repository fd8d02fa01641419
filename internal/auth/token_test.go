// ABOUTME: Unit tests for conversation token generation, verification and refresh
// ABOUTME: Tests valid tokens, invalid tokens, expired tokens and weak secrets

package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var tokenTestSecret = []byte("token-test-secret-with-32-bytes!")

func newVerifier(t *testing.T) *JWTVerifier {
	t.Helper()
	v, err := NewJWTVerifier(tokenTestSecret)
	if err != nil {
		t.Fatalf("NewJWTVerifier() error = %v", err)
	}
	return v
}

func TestNewJWTVerifier_RejectsWeakSecret(t *testing.T) {
	_, err := NewJWTVerifier([]byte("short"))
	if !errors.Is(err, ErrWeakSecret) {
		t.Errorf("NewJWTVerifier() error = %v, want ErrWeakSecret", err)
	}
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	verifier := newVerifier(t)

	token, err := verifier.Generate("conv-123", "user-1", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if claims.ConversationID != "conv-123" {
		t.Errorf("ConversationID = %q, want %q", claims.ConversationID, "conv-123")
	}
	if claims.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", claims.UserID, "user-1")
	}
	if claims.ExpiresAt.IsZero() {
		t.Error("ExpiresAt should be set")
	}
}

func TestJWTVerifier_GenerateRequiresConversation(t *testing.T) {
	_, err := newVerifier(t).Generate("", "user-1", time.Hour)
	if !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Generate() error = %v, want ErrMissingClaim", err)
	}
}

func TestJWTVerifier_InvalidToken(t *testing.T) {
	verifier := newVerifier(t)

	other, _ := NewJWTVerifier([]byte("another-secret-that-is-32-bytes!"))
	wrongSecret, _ := other.Generate("conv-123", "", time.Hour)

	noneToken, _ := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"conv": "conv-123"}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty token", token: ""},
		{name: "garbage token", token: "not-a-jwt-token"},
		{name: "malformed JWT", token: "header.payload.signature"},
		{name: "wrong secret", token: wrongSecret},
		{name: "none algorithm", token: noneToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			if !errors.Is(err, ErrInvalidToken) {
				t.Errorf("Verify() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTVerifier_MissingConversationClaim(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString(tokenTestSecret)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	_, err = newVerifier(t).Verify(token)
	if !errors.Is(err, ErrMissingClaim) {
		t.Errorf("Verify() error = %v, want ErrMissingClaim", err)
	}
}

func TestJWTVerifier_ExpiredToken(t *testing.T) {
	verifier := newVerifier(t)

	token, err := verifier.Generate("conv-123", "", -time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	_, err = verifier.Verify(token)
	if !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify() error = %v, want ErrExpiredToken", err)
	}
}

func TestJWTVerifier_Refresh(t *testing.T) {
	verifier := newVerifier(t)
	issued := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	verifier.now = func() time.Time { return issued }

	token, err := verifier.Generate("conv-123", "user-1", time.Hour)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	verifier.now = func() time.Time { return issued.Add(30 * time.Minute) }
	fresh, claims, err := verifier.Refresh(token, time.Hour)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if claims.ConversationID != "conv-123" || claims.UserID != "user-1" {
		t.Errorf("Refresh() claims = %+v", claims)
	}

	// The original would be expired here; the refreshed one is not.
	verifier.now = func() time.Time { return issued.Add(80 * time.Minute) }
	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Verify(original) error = %v, want ErrExpiredToken", err)
	}
	if _, err := verifier.Verify(fresh); err != nil {
		t.Errorf("Verify(refreshed) error = %v", err)
	}
}

func TestJWTVerifier_RefreshExpired(t *testing.T) {
	verifier := newVerifier(t)
	token, _ := verifier.Generate("conv-123", "", -time.Minute)

	if _, _, err := verifier.Refresh(token, time.Hour); !errors.Is(err, ErrExpiredToken) {
		t.Errorf("Refresh() error = %v, want ErrExpiredToken", err)
	}
}
