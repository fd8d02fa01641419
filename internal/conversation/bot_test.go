// ABOUTME: Tests for HTTPBotClient against an httptest bot
// ABOUTME: Covers request shape, status passthrough and unreachable endpoints

package conversation

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/directline-relay/internal/activity"
)

func TestHTTPBotClient_PostsJSONActivity(t *testing.T) {
	var gotMethod, gotContentType string
	var got activity.Activity
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer bot.Close()

	client := NewHTTPBotClient(bot.URL, time.Second, nil)
	resp, err := client.Send(t.Context(), &activity.Activity{
		Type:  activity.TypeMessage,
		ID:    "a1",
		Text:  "hi",
		Extra: map[string]json.RawMessage{"x-custom": json.RawMessage(`"kept"`)},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "application/json", gotContentType)
	assert.Equal(t, "hi", got.Text)
	assert.JSONEq(t, `"kept"`, string(got.Extra["x-custom"]))

	assert.Equal(t, http.StatusAccepted, resp.Status)
	assert.True(t, resp.OK())
	assert.Equal(t, "application/json", resp.ContentType)
	assert.JSONEq(t, `{"ok":true}`, string(resp.Body))
}

func TestHTTPBotClient_NonSuccessStatusIsNotAnError(t *testing.T) {
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bot.Close()

	resp, err := NewHTTPBotClient(bot.URL, time.Second, nil).Send(t.Context(), &activity.Activity{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.False(t, resp.OK())
}

func TestHTTPBotClient_Unreachable(t *testing.T) {
	bot := httptest.NewServer(http.NotFoundHandler())
	url := bot.URL
	bot.Close()

	_, err := NewHTTPBotClient(url, time.Second, nil).Send(t.Context(), &activity.Activity{})
	assert.ErrorIs(t, err, ErrBotUnreachable)
}

func TestHTTPBotClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer bot.Close()
	defer close(release)

	_, err := NewHTTPBotClient(bot.URL, 50*time.Millisecond, nil).Send(t.Context(), &activity.Activity{})
	assert.ErrorIs(t, err, ErrBotUnreachable)
}

func TestService_WithHTTPBot(t *testing.T) {
	var received []string
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var a activity.Activity
		_ = json.NewDecoder(r.Body).Decode(&a)
		received = append(received, string(a.Type))
		w.WriteHeader(http.StatusOK)
	}))
	defer bot.Close()

	r := newTestRelay(t, Config{})
	r.svc.bot = NewHTTPBotClient(bot.URL, time.Second, nil)
	ctx := t.Context()

	info, err := r.svc.CreateConversation(ctx)
	require.NoError(t, err)

	res, err := r.svc.RelayClientActivity(ctx, info.ConversationID, &activity.Activity{Type: activity.TypeMessage, Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)

	assert.Equal(t, []string{"conversationUpdate", "message"}, received)
}
