// ABOUTME: Conversation-scoped Direct Line tokens signed with HS256
// ABOUTME: Tokens are minted from the configured secret and can be refreshed before expiry

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// MinSecretLength is the shortest secret accepted for signing tokens.
const MinSecretLength = 32

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
	ErrWeakSecret   = fmt.Errorf("secret must be at least %d bytes", MinSecretLength)
)

// Claims is what a verified token grants: access to one conversation.
type Claims struct {
	ConversationID string
	UserID         string
	ExpiresAt      time.Time
}

// TokenVerifier defines the interface for token verification
type TokenVerifier interface {
	Verify(tokenString string) (*Claims, error)
}

type tokenClaims struct {
	ConversationID string `json:"conv"`
	jwt.RegisteredClaims
}

// JWTVerifier mints and verifies HS256 conversation tokens.
type JWTVerifier struct {
	secret []byte
	now    func() time.Time
}

// NewJWTVerifier creates a verifier. Secrets shorter than MinSecretLength
// are rejected.
func NewJWTVerifier(secret []byte) (*JWTVerifier, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	return &JWTVerifier{secret: secret, now: time.Now}, nil
}

// Generate creates a token for conversationID. userID is optional and
// recorded as the subject.
func (v *JWTVerifier) Generate(conversationID, userID string, expiresIn time.Duration) (string, error) {
	if conversationID == "" {
		return "", fmt.Errorf("%w: conv", ErrMissingClaim)
	}
	now := v.now()
	claims := tokenClaims{
		ConversationID: conversationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}

// Verify validates the token and returns its conversation scope.
func (v *JWTVerifier) Verify(tokenString string) (*Claims, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithTimeFunc(v.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ConversationID == "" {
		return nil, fmt.Errorf("%w: conv", ErrMissingClaim)
	}

	out := &Claims{ConversationID: claims.ConversationID, UserID: claims.Subject}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}

// Refresh verifies a still-valid token and mints a new one for the same
// conversation and user.
func (v *JWTVerifier) Refresh(tokenString string, expiresIn time.Duration) (string, *Claims, error) {
	claims, err := v.Verify(tokenString)
	if err != nil {
		return "", nil, err
	}
	fresh, err := v.Generate(claims.ConversationID, claims.UserID, expiresIn)
	if err != nil {
		return "", nil, err
	}
	claims.ExpiresAt = v.now().Add(expiresIn)
	return fresh, claims, nil
}
