// ABOUTME: Scoped bot state on top of the store's botData namespace
// ABOUTME: Derives "$channel!conversation!user" keys and issues monotonic eTags on write

package botstate

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/2389/directline-relay/internal/store"
)

// Wildcard stands in for a missing scope component.
const Wildcard = "*"

// NoETag is reported for absent or deleted records.
const NoETag = "*"

// Key derives the scope key for (channel, conversation, user). Empty
// components become the wildcard.
func Key(channel, conversation, user string) string {
	return "$" + orWildcard(channel) + "!" + orWildcard(conversation) + "!" + orWildcard(user)
}

func orWildcard(s string) string {
	if s == "" {
		return Wildcard
	}
	return s
}

// userOf returns the user component of a scope key.
func userOf(key string) (string, bool) {
	if !strings.HasPrefix(key, "$") {
		return "", false
	}
	i := strings.LastIndex(key, "!")
	if i < 0 {
		return "", false
	}
	return key[i+1:], true
}

// Service implements get/set/delete over scoped bot state.
type Service struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	lastETag int64
}

// NewService creates a bot state service on top of s.
func NewService(s store.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  s,
		logger: logger.With("component", "botstate"),
		now:    time.Now,
	}
}

// Get returns the record for key, or {data: null, eTag: "*"} when absent.
func (s *Service) Get(ctx context.Context, key string) (store.BotData, error) {
	rec, err := s.store.GetBotData(ctx, key)
	if err != nil {
		return store.BotData{}, fmt.Errorf("getting bot data %s: %w", key, err)
	}
	if !rec.Exists() {
		return store.BotData{ETag: NoETag}, nil
	}
	return rec, nil
}

// Set writes data under key with a fresh eTag. Empty data deletes the key
// and the returned record carries eTag "*". The returned record is always
// the one to send back to the caller.
func (s *Service) Set(ctx context.Context, key string, data []byte) (store.BotData, error) {
	if isEmpty(data) {
		if err := s.store.DeleteBotData(ctx, key); err != nil {
			return store.BotData{}, fmt.Errorf("deleting bot data %s: %w", key, err)
		}
		s.logger.Debug("bot data cleared", "key", key)
		return store.BotData{ETag: NoETag}, nil
	}

	rec := store.BotData{ETag: s.nextETag(), Data: bytes.Clone(data)}
	if err := s.store.SetBotData(ctx, key, rec); err != nil {
		return store.BotData{}, fmt.Errorf("setting bot data %s: %w", key, err)
	}
	s.logger.Debug("bot data written", "key", key, "etag", rec.ETag)
	return rec, nil
}

// DeleteStateForUser removes every key whose user component is userID and
// returns how many were removed. The sweep is not atomic: writes racing
// with it may survive.
func (s *Service) DeleteStateForUser(ctx context.Context, userID string) (int, error) {
	keys, err := s.store.ListBotDataKeys(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing bot data keys: %w", err)
	}

	removed := 0
	for _, key := range keys {
		user, ok := userOf(key)
		if !ok || user != userID {
			continue
		}
		if err := s.store.DeleteBotData(ctx, key); err != nil {
			return removed, fmt.Errorf("deleting bot data %s: %w", key, err)
		}
		removed++
	}

	s.logger.Info("deleted state for user", "user_id", userID, "keys", removed)
	return removed, nil
}

// nextETag returns the current wall clock in milliseconds, bumped so that
// no two writes in this process share an eTag.
func (s *Service) nextETag() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ms := s.now().UnixMilli()
	if ms <= s.lastETag {
		ms = s.lastETag + 1
	}
	s.lastETag = ms
	return strconv.FormatInt(ms, 10)
}

// isEmpty treats a missing payload and JSON falsy scalars as "no data".
func isEmpty(data []byte) bool {
	switch string(bytes.TrimSpace(data)) {
	case "", "null", `""`, "false", "0":
		return true
	}
	return false
}
