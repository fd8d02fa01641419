// ABOUTME: Direct Line client endpoints: conversations, activities and tokens
// ABOUTME: Handlers translate HTTP to relay calls and relay errors back to statuses

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/directline-relay/internal/activity"
	"github.com/2389/directline-relay/internal/auth"
	"github.com/2389/directline-relay/internal/conversation"
)

// ConversationResponse is returned when a conversation is started or resumed.
type ConversationResponse struct {
	ConversationID string `json:"conversationId"`
	Token          string `json:"token,omitempty"`
	ExpiresIn      int    `json:"expiresIn"`
	StreamURL      string `json:"streamUrl"`
}

// TokenResponse is returned by the token endpoints.
type TokenResponse struct {
	ConversationID string `json:"conversationId"`
	Token          string `json:"token"`
	ExpiresIn      int    `json:"expires_in"`
}

// ResourceResponse carries the ID assigned to a posted activity.
type ResourceResponse struct {
	ID string `json:"id"`
}

type tokenRequest struct {
	User *activity.ChannelAccount `json:"user,omitempty"`
}

// allowed reports whether the request's credential covers conversationID,
// writing a 403 when it does not.
func (g *Gateway) allowed(w http.ResponseWriter, r *http.Request, conversationID string) bool {
	if auth.FromContext(r.Context()).AllowsConversation(conversationID) {
		return true
	}
	g.sendJSONError(w, http.StatusForbidden, "token is not valid for this conversation")
	return false
}

// conversationResponse builds the client view of info, minting a token
// when auth is enabled.
func (g *Gateway) conversationResponse(info *conversation.Info, userID string) (*ConversationResponse, error) {
	resp := &ConversationResponse{
		ConversationID: info.ConversationID,
		ExpiresIn:      info.ExpiresIn,
		StreamURL:      info.StreamURL,
	}
	if g.tokens == nil {
		return resp, nil
	}
	token, err := g.tokens.Generate(info.ConversationID, userID, g.config.Auth.TokenTTL)
	if err != nil {
		return nil, err
	}
	resp.Token = token
	resp.StreamURL += "&t=" + url.QueryEscape(token)
	return resp, nil
}

// handleCreateConversation starts a conversation. A caller holding a token
// starts the conversation the token was minted for. The bot's status is
// returned alongside the conversation, even when it is not 2xx.
func (g *Gateway) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var (
		info   *conversation.Info
		err    error
		userID string
	)
	if authCtx := auth.FromContext(r.Context()); authCtx != nil && !authCtx.Secret {
		userID = authCtx.UserID
		info, err = g.relay.StartConversation(r.Context(), authCtx.ConversationID)
	} else {
		info, err = g.relay.CreateConversation(r.Context())
	}

	status := http.StatusCreated
	var rejected *conversation.BotRejectedError
	switch {
	case err == nil:
	case errors.As(err, &rejected) && info != nil:
		status = rejected.Status
	default:
		g.sendRelayError(w, err)
		return
	}

	resp, err := g.conversationResponse(info, userID)
	if err != nil {
		g.logger.Error("minting conversation token", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	g.writeJSON(w, status, resp)
}

// handleReconnect returns connection details for an existing conversation.
func (g *Gateway) handleReconnect(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	if !g.allowed(w, r, conversationID) {
		return
	}

	info, err := g.relay.GetConversation(r.Context(), conversationID)
	if err != nil {
		g.sendRelayError(w, err)
		return
	}

	var userID string
	if authCtx := auth.FromContext(r.Context()); authCtx != nil {
		userID = authCtx.UserID
	}
	resp, err := g.conversationResponse(info, userID)
	if err != nil {
		g.logger.Error("minting conversation token", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}
	g.writeJSON(w, http.StatusOK, resp)
}

func (g *Gateway) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	if !g.allowed(w, r, conversationID) {
		return
	}

	if err := g.relay.DeleteConversation(r.Context(), conversationID); err != nil {
		g.sendRelayError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// parseWatermark reads the watermark query value. Missing and "null" mean 0.
func parseWatermark(raw string) (int, error) {
	if raw == "" || raw == "null" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

func (g *Gateway) handleGetActivities(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	if !g.allowed(w, r, conversationID) {
		return
	}

	watermark, err := parseWatermark(r.URL.Query().Get("watermark"))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "watermark must be an integer")
		return
	}

	set, err := g.relay.GetActivitiesSince(r.Context(), conversationID, watermark)
	if err != nil {
		g.sendRelayError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, set)
}

// readActivity decodes a request body into an activity.
func readActivity(r *http.Request) (*activity.Activity, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return nil, err
	}
	return activity.Parse(body)
}

// handlePostActivity relays a client activity to the bot. The response
// status is the bot's. Invoke activities get the bot's body back verbatim.
func (g *Gateway) handlePostActivity(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	if !g.allowed(w, r, conversationID) {
		return
	}

	in, err := readActivity(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid activity JSON")
		return
	}

	result, err := g.relay.RelayClientActivity(r.Context(), conversationID, in)
	var rejected *conversation.BotRejectedError
	switch {
	case err == nil:
	case errors.As(err, &rejected):
	default:
		g.sendRelayError(w, err)
		return
	}

	if len(result.InvokeResponse) > 0 {
		contentType := result.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(result.Status)
		_, _ = w.Write(result.InvokeResponse)
		return
	}
	g.writeJSON(w, result.Status, ResourceResponse{ID: result.ID})
}

// bearerValue returns the raw credential the request was authorized with.
func bearerValue(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("t")
}

// handleGenerateToken mints a token for a new conversation. Only the
// secret may mint tokens.
func (g *Gateway) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	if g.tokens == nil {
		g.sendJSONError(w, http.StatusNotImplemented, "token issuing requires auth.secret")
		return
	}
	if authCtx := auth.FromContext(r.Context()); authCtx == nil || !authCtx.Secret {
		g.sendJSONError(w, http.StatusForbidden, "tokens can only be generated with the secret")
		return
	}

	var req tokenRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "reading request body")
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	var userID string
	if req.User != nil {
		userID = req.User.ID
	}

	conversationID := uuid.New().String()
	token, err := g.tokens.Generate(conversationID, userID, g.config.Auth.TokenTTL)
	if err != nil {
		g.logger.Error("generating token", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal error")
		return
	}

	g.logger.Info("token generated", "conversation_id", conversationID)
	g.writeJSON(w, http.StatusOK, TokenResponse{
		ConversationID: conversationID,
		Token:          token,
		ExpiresIn:      int(g.config.Auth.TokenTTL.Seconds()),
	})
}

// handleRefreshToken re-mints the presented token with a fresh expiry.
func (g *Gateway) handleRefreshToken(w http.ResponseWriter, r *http.Request) {
	if g.tokens == nil {
		g.sendJSONError(w, http.StatusNotImplemented, "token issuing requires auth.secret")
		return
	}
	if authCtx := auth.FromContext(r.Context()); authCtx == nil || authCtx.Secret {
		g.sendJSONError(w, http.StatusForbidden, "refresh requires a token")
		return
	}

	token, claims, err := g.tokens.Refresh(bearerValue(r), g.config.Auth.TokenTTL)
	if err != nil {
		g.sendJSONError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	g.writeJSON(w, http.StatusOK, TokenResponse{
		ConversationID: claims.ConversationID,
		Token:          token,
		ExpiresIn:      int(g.config.Auth.TokenTTL.Seconds()),
	})
}
