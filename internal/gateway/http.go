// ABOUTME: Shared HTTP plumbing: CORS headers, JSON responses and error-to-status mapping
// ABOUTME: Relay errors map to 400/502/bot status/500 the way Direct Line clients expect

package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/2389/directline-relay/internal/conversation"
)

// maxRequestBytes caps inbound activity and state bodies.
const maxRequestBytes = 4 << 20

// withCORS adds permissive CORS headers to every response and answers
// preflight requests directly.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, PUT, POST, DELETE, PATCH, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Origin, X-Requested-With, Content-Type, Accept, Authorization, x-ms-bot-agent")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to write JSON response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}

// sendRelayError maps a relay error onto its HTTP status. A rejected bot
// status is passed through unchanged.
func (g *Gateway) sendRelayError(w http.ResponseWriter, err error) {
	var rejected *conversation.BotRejectedError
	switch {
	case errors.Is(err, conversation.ErrConversationNotFound):
		g.sendJSONError(w, http.StatusBadRequest, "conversation not found")
	case errors.Is(err, conversation.ErrBotUnreachable):
		g.sendJSONError(w, http.StatusBadGateway, "bot unreachable")
	case errors.As(err, &rejected):
		g.sendJSONError(w, rejected.Status, "bot rejected activity")
	default:
		g.logger.Error("request failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
	}
}

func (g *Gateway) handleNotImplemented(w http.ResponseWriter, r *http.Request) {
	g.logger.Warn("route not implemented", "method", r.Method, "path", r.URL.Path)
	g.sendJSONError(w, http.StatusNotImplemented, "not implemented")
}
