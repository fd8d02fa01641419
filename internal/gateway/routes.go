// ABOUTME: Route table for the Direct Line client, bot connector and bot state endpoints
// ABOUTME: Client routes sit behind bearer auth when a secret is configured; bot routes stay open

package gateway

import (
	"net/http"

	"github.com/2389/directline-relay/internal/auth"
)

func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	// Health endpoints - no auth required
	mux.HandleFunc("GET /health", g.handleHealth)
	mux.HandleFunc("GET /health/ready", g.handleReady)

	clientAuth := func(h http.Handler) http.Handler { return h }
	if g.tokens != nil {
		clientAuth = auth.HTTPAuthMiddleware(g.config.Auth.Secret, g.tokens, g.logger)
	}
	client := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, clientAuth(h))
	}

	// Client endpoints, with and without the v3 prefix
	for _, prefix := range []string{"/directline", "/v3/directline"} {
		client("POST "+prefix+"/conversations", g.handleCreateConversation)
		client("GET "+prefix+"/conversations/{conversationId}", g.handleReconnect)
		client("DELETE "+prefix+"/conversations/{conversationId}", g.handleDeleteConversation)
		client("GET "+prefix+"/conversations/{conversationId}/activities", g.handleGetActivities)
		client("POST "+prefix+"/conversations/{conversationId}/activities", g.handlePostActivity)
		client("POST "+prefix+"/conversations/{conversationId}/upload", g.handleNotImplemented)
		client("GET "+prefix+"/conversations/{conversationId}/stream", g.handleStream)
		client("POST "+prefix+"/tokens/generate", g.handleGenerateToken)
		client("POST "+prefix+"/tokens/refresh", g.handleRefreshToken)
	}
	client("GET /directline/stream", g.handleStream)

	// Bot connector endpoints
	mux.HandleFunc("POST /v3/conversations", g.handleNotImplemented)
	mux.HandleFunc("POST /v3/conversations/{conversationId}/activities", g.handleBotActivity)
	mux.HandleFunc("POST /v3/conversations/{conversationId}/activities/{activityId}", g.handleBotActivity)
	mux.HandleFunc("PUT /v3/conversations/{conversationId}/activities/{activityId}", g.handleNotImplemented)
	mux.HandleFunc("GET /v3/conversations/{conversationId}/members", g.handleNotImplemented)
	mux.HandleFunc("GET /v3/conversations/{conversationId}/activities/{activityId}/members", g.handleNotImplemented)

	// Bot state endpoints
	mux.HandleFunc("GET /v3/botstate/{channelId}/users/{userId}", g.handleGetBotData)
	mux.HandleFunc("GET /v3/botstate/{channelId}/conversations/{conversationId}", g.handleGetBotData)
	mux.HandleFunc("GET /v3/botstate/{channelId}/conversations/{conversationId}/users/{userId}", g.handleGetBotData)
	mux.HandleFunc("POST /v3/botstate/{channelId}/users/{userId}", g.handleSetBotData)
	mux.HandleFunc("POST /v3/botstate/{channelId}/conversations/{conversationId}", g.handleSetBotData)
	mux.HandleFunc("POST /v3/botstate/{channelId}/conversations/{conversationId}/users/{userId}", g.handleSetBotData)
	mux.HandleFunc("DELETE /v3/botstate/{channelId}/users/{userId}", g.handleDeleteStateForUser)
}
