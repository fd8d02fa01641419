// ABOUTME: Bot-facing endpoints: activities sent by the bot and scoped bot state
// ABOUTME: These routes stay unauthenticated; the bot reaches them via the activity serviceUrl

package gateway

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/2389/directline-relay/internal/botstate"
)

// handleBotActivity records an activity sent by the bot, with or without
// a replyToId segment, and pushes it to stream subscribers.
func (g *Gateway) handleBotActivity(w http.ResponseWriter, r *http.Request) {
	in, err := readActivity(r)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid activity JSON")
		return
	}
	if replyTo := r.PathValue("activityId"); replyTo != "" && in.ReplyToID == "" {
		in.ReplyToID = replyTo
	}

	stamped, err := g.relay.RelayBotActivity(r.Context(), r.PathValue("conversationId"), in)
	if err != nil {
		g.sendRelayError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, ResourceResponse{ID: stamped.ID})
}

// botDataKey derives the scope key from whichever of channel, conversation
// and user the route carries.
func botDataKey(r *http.Request) string {
	return botstate.Key(r.PathValue("channelId"), r.PathValue("conversationId"), r.PathValue("userId"))
}

func (g *Gateway) handleGetBotData(w http.ResponseWriter, r *http.Request) {
	rec, err := g.botState.Get(r.Context(), botDataKey(r))
	if err != nil {
		g.sendRelayError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, rec)
}

type botDataRequest struct {
	ETag string          `json:"eTag,omitempty"`
	Data json.RawMessage `json:"data"`
}

// handleSetBotData writes the scope's data. An empty or missing data field
// clears the scope and answers with eTag "*".
func (g *Gateway) handleSetBotData(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "reading request body")
		return
	}

	var req botDataRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	rec, err := g.botState.Set(r.Context(), botDataKey(r), req.Data)
	if err != nil {
		g.sendRelayError(w, err)
		return
	}
	g.writeJSON(w, http.StatusOK, rec)
}

func (g *Gateway) handleDeleteStateForUser(w http.ResponseWriter, r *http.Request) {
	if _, err := g.botState.DeleteStateForUser(r.Context(), r.PathValue("userId")); err != nil {
		g.sendRelayError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
