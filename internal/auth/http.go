// ABOUTME: HTTP middleware for Direct Line bearer authentication
// ABOUTME: Accepts the relay secret or a conversation token and adds the credential to context

package auth

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// credential returns the bearer credential of r. WebSocket clients cannot
// set headers from a browser, so the stream URL may carry it as ?t=.
func credential(r *http.Request) (string, string) {
	if r.Header.Get("Authorization") == "" {
		if t := r.URL.Query().Get("t"); t != "" {
			return t, ""
		}
	}
	return extractBearerToken(r.Header.Get("Authorization"))
}

// Authenticate resolves a credential to an AuthContext.
func Authenticate(secret string, verifier TokenVerifier, credential string) (*AuthContext, error) {
	if secret != "" && subtle.ConstantTimeCompare([]byte(credential), []byte(secret)) == 1 {
		return &AuthContext{Secret: true}, nil
	}
	if verifier == nil {
		return nil, ErrInvalidToken
	}
	claims, err := verifier.Verify(credential)
	if err != nil {
		return nil, err
	}
	return &AuthContext{ConversationID: claims.ConversationID, UserID: claims.UserID}, nil
}

// HTTPAuthMiddleware requires a bearer secret or token on every request and
// attaches the resulting AuthContext. Per-conversation checks are left to
// handlers via AllowsConversation.
func HTTPAuthMiddleware(secret string, verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred, errMsg := credential(r)
			if errMsg != "" {
				writeUnauthorized(w, errMsg)
				return
			}

			authCtx, err := Authenticate(secret, verifier, cred)
			if err != nil {
				logger.Debug("rejected credential", "path", r.URL.Path, "error", err)
				msg := "invalid token"
				if errors.Is(err, ErrExpiredToken) {
					msg = "token expired"
				}
				writeUnauthorized(w, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"BadArgument","message":"` + msg + `"}}`))
}
