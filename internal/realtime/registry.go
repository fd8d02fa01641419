// ABOUTME: Per-conversation fan-out channels for realtime stream subscribers
// ABOUTME: Channels are opened explicitly; publishing never blocks on a slow subscriber

package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/directline-relay/internal/activity"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// ErrChannelNotOpen is returned when subscribing to a conversation that has
// no open channel.
var ErrChannelNotOpen = errors.New("realtime channel not open")

// Registry holds one broadcast channel per conversation. A channel exists
// from Open until Close; subscribers come and go in between. The registry
// keeps only transport-side state and never the conversation itself.
type Registry struct {
	mu       sync.RWMutex
	channels map[string]map[string]*subscriber // conversationID -> subID -> sub
	watchers sync.WaitGroup
	logger   *slog.Logger
}

// subscriber is one live subscription. done is closed together with ch so
// the context watcher exits however the subscription ends.
type subscriber struct {
	ch   chan *activity.Activity
	done chan struct{}
}

func (s *subscriber) end() {
	close(s.ch)
	close(s.done)
}

// NewRegistry creates an empty registry. Pass nil logger for default.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		channels: make(map[string]map[string]*subscriber),
		logger:   logger.With("component", "realtime"),
	}
}

// Open creates the channel for conversationID. It reports false if the
// channel was already open.
func (r *Registry) Open(conversationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.channels[conversationID]; ok {
		return false
	}
	r.channels[conversationID] = make(map[string]*subscriber)
	r.logger.Debug("channel opened", "conversation_id", conversationID)
	return true
}

// IsOpen reports whether conversationID has a channel.
func (r *Registry) IsOpen(conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.channels[conversationID]
	return ok
}

// Subscribers returns the number of live subscribers on conversationID.
func (r *Registry) Subscribers(conversationID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.channels[conversationID])
}

// Subscribe registers a subscriber on an open channel. The returned channel
// is closed when the subscription ends: on Unsubscribe, on Close of the
// conversation, or when ctx is cancelled.
func (r *Registry) Subscribe(ctx context.Context, conversationID string) (<-chan *activity.Activity, string, error) {
	subID := uuid.New().String()
	sub := &subscriber{
		ch:   make(chan *activity.Activity, subscriberBufferSize),
		done: make(chan struct{}),
	}

	r.mu.Lock()
	subs, ok := r.channels[conversationID]
	if !ok {
		r.mu.Unlock()
		return nil, "", ErrChannelNotOpen
	}
	subs[subID] = sub
	r.watchers.Add(1)
	r.mu.Unlock()

	r.logger.Debug("subscriber added",
		"conversation_id", conversationID,
		"sub_id", subID)

	go func() {
		defer r.watchers.Done()
		select {
		case <-ctx.Done():
			r.Unsubscribe(conversationID, subID)
		case <-sub.done:
		}
	}()

	return sub.ch, subID, nil
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// conversations or subscription IDs are ignored.
func (r *Registry) Unsubscribe(conversationID, subID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.channels[conversationID]
	if !ok {
		return
	}

	sub, exists := subs[subID]
	if !exists {
		return
	}

	delete(subs, subID)
	sub.end()

	r.logger.Debug("subscriber removed",
		"conversation_id", conversationID,
		"sub_id", subID)
}

// Publish offers a to every subscriber of conversationID and returns how
// many accepted it. Subscribers whose buffer is full miss the activity.
// Receivers must treat a as read-only.
func (r *Registry) Publish(conversationID string, a *activity.Activity) int {
	// Sends never block, so the read lock is held across them.
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for subID, sub := range r.channels[conversationID] {
		select {
		case sub.ch <- a:
			delivered++
		default:
			r.logger.Debug("dropped activity for slow subscriber",
				"conversation_id", conversationID,
				"sub_id", subID,
				"activity_id", a.ID)
		}
	}
	return delivered
}

// Close tears down the channel for conversationID and ends every
// subscription on it. Closing an unknown conversation is a no-op.
func (r *Registry) Close(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs, ok := r.channels[conversationID]
	if !ok {
		return
	}
	for subID, sub := range subs {
		sub.end()
		delete(subs, subID)
	}
	delete(r.channels, conversationID)

	r.logger.Debug("channel closed", "conversation_id", conversationID)
}

// CloseAll tears down every channel.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for convID, subs := range r.channels {
		for subID, sub := range subs {
			sub.end()
			delete(subs, subID)
		}
		delete(r.channels, convID)
	}

	r.logger.Debug("registry closed")
}
