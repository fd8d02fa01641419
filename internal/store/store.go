// ABOUTME: Store interface and record types for directline-relay persistence
// ABOUTME: Two namespaces: conversation records and scoped bot-data records

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/2389/directline-relay/internal/activity"
)

// ErrUnavailable is returned when a backend cannot be reached. It is never
// used for a missing key; absence is reported with a zero record.
var ErrUnavailable = errors.New("store unavailable")

// Namespace names shared by every backend.
const (
	NamespaceConversation = "conversation"
	NamespaceBotData      = "botData"
)

// Conversation is the persisted record for one conversation.
type Conversation struct {
	ConversationID string               `json:"conversationId"`
	History        []*activity.Activity `json:"history"`
}

// Exists reports whether the record was found. Get on a missing key
// returns the zero Conversation.
func (c Conversation) Exists() bool {
	return c.ConversationID != ""
}

// Watermark is the number of activities in the history.
func (c Conversation) Watermark() int {
	return len(c.History)
}

// Clone returns a deep copy of the record.
func (c Conversation) Clone() Conversation {
	out := Conversation{ConversationID: c.ConversationID}
	if c.History != nil {
		out.History = make([]*activity.Activity, len(c.History))
		for i, a := range c.History {
			out.History[i] = a.Clone()
		}
	}
	return out
}

// BotData is a scoped bot state record. The zero value means absent.
type BotData struct {
	ETag string          `json:"eTag"`
	Data json.RawMessage `json:"data"`
}

// Exists reports whether the record was found.
func (b BotData) Exists() bool {
	return b.ETag != ""
}

// Clone returns a deep copy of the record.
func (b BotData) Clone() BotData {
	out := BotData{ETag: b.ETag}
	if b.Data != nil {
		out.Data = append(json.RawMessage(nil), b.Data...)
	}
	return out
}

// Store is the persistence boundary for the relay. Get on a missing key
// returns a zero record and a nil error; errors wrap ErrUnavailable when the
// backend could not be reached.
type Store interface {
	// Start connects to the backend. A failure here is fatal at startup.
	Start(ctx context.Context) error
	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error
	Close() error

	GetConversation(ctx context.Context, id string) (Conversation, error)
	SetConversation(ctx context.Context, id string, conv Conversation) error
	DeleteConversation(ctx context.Context, id string) error
	ListConversationKeys(ctx context.Context) ([]string, error)

	GetBotData(ctx context.Context, key string) (BotData, error)
	SetBotData(ctx context.Context, key string, data BotData) error
	DeleteBotData(ctx context.Context, key string) error
	ListBotDataKeys(ctx context.Context) ([]string, error)
}

// unavailable wraps a backend error so callers can test for ErrUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func encodeConversation(conv Conversation) (string, error) {
	b, err := json.Marshal(conv)
	if err != nil {
		return "", fmt.Errorf("encoding conversation: %w", err)
	}
	return string(b), nil
}

func decodeConversation(raw string) (Conversation, error) {
	var conv Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return Conversation{}, fmt.Errorf("decoding conversation: %w", err)
	}
	return conv, nil
}

func encodeBotData(data BotData) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encoding bot data: %w", err)
	}
	return string(b), nil
}

func decodeBotData(raw string) (BotData, error) {
	var data BotData
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return BotData{}, fmt.Errorf("decoding bot data: %w", err)
	}
	return data, nil
}
