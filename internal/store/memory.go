// ABOUTME: In-process Store backed by two maps under one RWMutex
// ABOUTME: Not persisted across restarts; records are deep-copied in and out

package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is the default, non-durable Store.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]Conversation // keyed by conversation ID
	botData       map[string]BotData      // keyed by scope key
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]Conversation),
		botData:       make(map[string]BotData),
	}
}

// Start is a no-op; the maps are ready on construction.
func (m *MemoryStore) Start(ctx context.Context) error {
	return nil
}

// Ping always succeeds.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close drops all records.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.conversations)
	clear(m.botData)
	return nil
}

// GetConversation returns a copy of the record, or the zero value.
func (m *MemoryStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.conversations[id]
	if !ok {
		return Conversation{}, nil
	}
	return conv.Clone(), nil
}

// SetConversation stores a copy of conv under id.
func (m *MemoryStore) SetConversation(ctx context.Context, id string, conv Conversation) error {
	c := conv.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[id] = c
	return nil
}

// DeleteConversation removes the record. Deleting a missing key is not an error.
func (m *MemoryStore) DeleteConversation(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.conversations, id)
	return nil
}

// ListConversationKeys returns all conversation IDs in sorted order.
func (m *MemoryStore) ListConversationKeys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.conversations), nil
}

// GetBotData returns a copy of the record, or the zero value.
func (m *MemoryStore) GetBotData(ctx context.Context, key string) (BotData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.botData[key]
	if !ok {
		return BotData{}, nil
	}
	return data.Clone(), nil
}

// SetBotData stores a copy of data under key.
func (m *MemoryStore) SetBotData(ctx context.Context, key string, data BotData) error {
	d := data.Clone()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.botData[key] = d
	return nil
}

// DeleteBotData removes the record.
func (m *MemoryStore) DeleteBotData(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.botData, key)
	return nil
}

// ListBotDataKeys returns all scope keys in sorted order.
func (m *MemoryStore) ListBotDataKeys(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.botData), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ Store = (*MemoryStore)(nil)
