// ABOUTME: Outbound client that POSTs activities to the configured bot endpoint
// ABOUTME: Transport failures map to ErrBotUnreachable; any HTTP status is returned as-is

package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/2389/directline-relay/internal/activity"
)

// maxBotResponseBytes caps how much of a bot reply body is kept.
const maxBotResponseBytes = 1 << 20

// ErrBotUnreachable is returned when the bot endpoint cannot be reached at
// the transport level.
var ErrBotUnreachable = errors.New("bot unreachable")

// BotRejectedError carries a non-2xx bot status back to the caller verbatim.
type BotRejectedError struct {
	Status int
}

func (e *BotRejectedError) Error() string {
	return "bot rejected activity with status " + strconv.Itoa(e.Status)
}

// BotResponse is what the bot answered to a POSTed activity.
type BotResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// OK reports whether the bot answered with a 2xx status.
func (r *BotResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}

// BotClient delivers activities to the bot.
type BotClient interface {
	Send(ctx context.Context, a *activity.Activity) (*BotResponse, error)
}

// HTTPBotClient POSTs JSON activities to a single bot URL. It never retries.
type HTTPBotClient struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewHTTPBotClient creates a client for botURL. A zero timeout means no
// timeout beyond the transport defaults.
func NewHTTPBotClient(botURL string, timeout time.Duration, logger *slog.Logger) *HTTPBotClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPBotClient{
		url:    botURL,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "bot_client"),
	}
}

// URL returns the bot endpoint.
func (c *HTTPBotClient) URL() string {
	return c.url
}

// Send POSTs a to the bot and returns its status and body.
func (c *HTTPBotClient) Send(ctx context.Context, a *activity.Activity) (*BotResponse, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encoding activity: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building bot request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("bot request failed", "url", c.url, "activity_id", a.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrBotUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBotResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", ErrBotUnreachable, err)
	}

	c.logger.Debug("bot responded",
		"activity_id", a.ID,
		"type", a.Type,
		"status", resp.StatusCode,
		"duration", time.Since(start))

	return &BotResponse{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        respBody,
	}, nil
}
