// ABOUTME: Authentication context for tracking the caller's credential through handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// AuthContext holds the credential a request was authorized with.
type AuthContext struct {
	// Secret is true when the caller presented the relay secret itself.
	Secret bool
	// ConversationID is the token's scope; empty for secret callers.
	ConversationID string
	UserID         string
}

// AllowsConversation reports whether the credential may act on conversationID.
// A nil context means auth is disabled.
func (a *AuthContext) AllowsConversation(conversationID string) bool {
	if a == nil || a.Secret {
		return true
	}
	return a.ConversationID == conversationID
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	auth, _ := ctx.Value(authContextKey{}).(*AuthContext)
	return auth
}
