// ABOUTME: Background loop that deletes conversations idle past the expiry threshold
// ABOUTME: Started and stopped by the gateway alongside the HTTP server

package reaper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/directline-relay/internal/store"
)

const (
	// DefaultInterval is how often a pass runs.
	DefaultInterval = 10 * time.Second
	// DefaultThreshold is how long a conversation may stay idle.
	DefaultThreshold = 1800 * time.Second
)

// ChannelCloser tears down the stream channel of an evicted conversation.
type ChannelCloser interface {
	Close(conversationID string)
}

// Config controls the eviction schedule.
type Config struct {
	Interval  time.Duration
	Threshold time.Duration
}

// Reaper periodically evicts idle conversations.
type Reaper struct {
	store    store.Store
	channels ChannelCloser
	cfg      Config
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// New creates a reaper. Zero config values fall back to the defaults.
func New(st store.Store, channels ChannelCloser, cfg Config, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return &Reaper{
		store:    st,
		channels: channels,
		cfg:      cfg,
		logger:   logger.With("component", "reaper"),
		now:      time.Now,
	}
}

// Start launches the eviction loop. It returns immediately; the loop ends
// when ctx is cancelled or Stop is called. Starting twice is a no-op.
func (r *Reaper) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		return
	}
	r.stopCh = make(chan struct{})
	r.stoppedCh = make(chan struct{})
	go r.run(ctx, r.stopCh, r.stoppedCh)
}

// Stop ends the loop and waits for an in-flight pass to finish.
func (r *Reaper) Stop() {
	r.mu.Lock()
	stopCh, stoppedCh := r.stopCh, r.stoppedCh
	r.stopCh, r.stoppedCh = nil, nil
	r.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-stoppedCh
}

func (r *Reaper) run(ctx context.Context, stopCh <-chan struct{}, stoppedCh chan<- struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("reaper started", "interval", r.cfg.Interval, "threshold", r.cfg.Threshold)

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			r.logger.Info("reaper stopping")
			return
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("reaper pass failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single eviction pass and returns the number of
// conversations removed. Per-conversation failures are logged and skipped.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	keys, err := r.store.ListConversationKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing conversations: %w", err)
	}

	now := r.now()
	evicted := 0
	for _, id := range keys {
		if ctx.Err() != nil {
			return evicted, ctx.Err()
		}

		conv, err := r.store.GetConversation(ctx, id)
		if err != nil {
			r.logger.Warn("loading conversation", "conversation_id", id, "error", err)
			continue
		}
		if !r.expired(conv, now) {
			continue
		}

		if err := r.store.DeleteConversation(ctx, id); err != nil {
			r.logger.Warn("evicting conversation", "conversation_id", id, "error", err)
			continue
		}
		r.channels.Close(id)
		evicted++
		r.logger.Info("conversation evicted", "conversation_id", id)
	}
	return evicted, nil
}

// expired reports whether conv's last activity is older than the threshold.
func (r *Reaper) expired(conv store.Conversation, now time.Time) bool {
	if len(conv.History) == 0 {
		return false
	}
	last, ok := conv.History[len(conv.History)-1].LastSeen()
	if !ok {
		return false
	}
	return now.Sub(last) > r.cfg.Threshold
}
