// ABOUTME: WebSocket stream endpoint delivering a conversation's activities in real time
// ABOUTME: Frames from the client re-enter the relay as client activities

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/2389/directline-relay/internal/activity"
	"github.com/2389/directline-relay/internal/conversation"
)

// streamWriteTimeout bounds a single frame write to a subscriber.
const streamWriteTimeout = 10 * time.Second

// handleStream upgrades to a WebSocket for the conversation named by the
// id query parameter or the path. Unknown conversations are rejected with
// 404 before the upgrade.
func (g *Gateway) handleStream(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversationId")
	if conversationID == "" {
		conversationID = r.URL.Query().Get("id")
	}
	if conversationID == "" {
		g.sendJSONError(w, http.StatusBadRequest, "missing conversation id")
		return
	}
	if !g.allowed(w, r, conversationID) {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	activities, subID, err := g.relay.Subscribe(ctx, conversationID)
	if errors.Is(err, conversation.ErrConversationNotFound) {
		g.sendJSONError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if err != nil {
		g.sendRelayError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "conversation_id", conversationID, "error", err)
		return
	}
	defer conn.CloseNow()

	logger := g.logger.With("conversation_id", conversationID, "sub_id", subID)
	logger.Info("stream connected")

	go g.readStream(ctx, cancel, conn, conversationID)

	for {
		select {
		case <-ctx.Done():
			logger.Info("stream disconnected")
			return
		case a, ok := <-activities:
			if !ok {
				if ctx.Err() == nil {
					logger.Info("conversation ended, closing stream")
					_ = conn.Close(websocket.StatusNormalClosure, "conversation ended")
				}
				return
			}
			if err := writeActivity(ctx, conn, a); err != nil {
				logger.Debug("stream write failed", "error", err)
				return
			}
		}
	}
}

// readStream relays every frame the client sends until the connection
// closes, then cancels the stream.
func (g *Gateway) readStream(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, conversationID string) {
	defer cancel()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		in, err := activity.Parse(data)
		if err != nil {
			g.logger.Warn("ignoring malformed stream frame", "conversation_id", conversationID, "error", err)
			continue
		}

		if _, err := g.relay.RelayClientActivity(ctx, conversationID, in); err != nil {
			g.logger.Warn("relaying stream activity", "conversation_id", conversationID, "error", err)
		}
	}
}

func writeActivity(ctx context.Context, conn *websocket.Conn, a *activity.Activity) error {
	data, err := json.Marshal(a)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
