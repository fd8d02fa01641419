// ABOUTME: Redis implementation of the Store interface using go-redis
// ABOUTME: Records live as JSON fields of the "conversation" and "botData" hashes

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"
)

// redisHashAPI is the subset of *redis.Client the store uses.
type redisHashAPI interface {
	Ping(ctx context.Context) *redis.StatusCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
	HKeys(ctx context.Context, key string) *redis.StringSliceCmd
	Close() error
}

// RedisStore keeps both namespaces in two Redis hashes so that several
// relay processes can share state.
type RedisStore struct {
	client redisHashAPI
	logger *slog.Logger
}

// NewRedisStore creates a store for the server at addr ("host:port").
func NewRedisStore(addr, password string, db int) *RedisStore {
	return newRedisStore(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	}))
}

// NewRedisStoreFromURL creates a store from a redis:// URL.
func NewRedisStoreFromURL(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	return newRedisStore(redis.NewClient(opts)), nil
}

func newRedisStore(client redisHashAPI) *RedisStore {
	return &RedisStore{
		client: client,
		logger: slog.Default().With("component", "store", "backend", "redis"),
	}
}

// Start pings the server.
func (r *RedisStore) Start(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("redis ping", err)
	}
	r.logger.Info("Redis store connected")
	return nil
}

// Ping checks the server is reachable.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return unavailable("redis ping", err)
	}
	return nil
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// GetConversation returns the record for id, or the zero value.
func (r *RedisStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	raw, ok, err := r.hget(ctx, NamespaceConversation, id)
	if err != nil || !ok {
		return Conversation{}, err
	}
	return decodeConversation(raw)
}

// SetConversation writes the record for id.
func (r *RedisStore) SetConversation(ctx context.Context, id string, conv Conversation) error {
	raw, err := encodeConversation(conv)
	if err != nil {
		return err
	}
	return r.hset(ctx, NamespaceConversation, id, raw)
}

// DeleteConversation removes the record for id.
func (r *RedisStore) DeleteConversation(ctx context.Context, id string) error {
	return r.hdel(ctx, NamespaceConversation, id)
}

// ListConversationKeys returns every conversation ID.
func (r *RedisStore) ListConversationKeys(ctx context.Context) ([]string, error) {
	return r.hkeys(ctx, NamespaceConversation)
}

// GetBotData returns the record for key, or the zero value.
func (r *RedisStore) GetBotData(ctx context.Context, key string) (BotData, error) {
	raw, ok, err := r.hget(ctx, NamespaceBotData, key)
	if err != nil || !ok {
		return BotData{}, err
	}
	return decodeBotData(raw)
}

// SetBotData writes the record for key.
func (r *RedisStore) SetBotData(ctx context.Context, key string, data BotData) error {
	raw, err := encodeBotData(data)
	if err != nil {
		return err
	}
	return r.hset(ctx, NamespaceBotData, key, raw)
}

// DeleteBotData removes the record for key.
func (r *RedisStore) DeleteBotData(ctx context.Context, key string) error {
	return r.hdel(ctx, NamespaceBotData, key)
}

// ListBotDataKeys returns every scope key.
func (r *RedisStore) ListBotDataKeys(ctx context.Context) ([]string, error) {
	return r.hkeys(ctx, NamespaceBotData)
}

func (r *RedisStore) hget(ctx context.Context, hash, field string) (string, bool, error) {
	raw, err := r.client.HGet(ctx, hash, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("redis hget "+hash, err)
	}
	return raw, true, nil
}

func (r *RedisStore) hset(ctx context.Context, hash, field, raw string) error {
	if err := r.client.HSet(ctx, hash, field, raw).Err(); err != nil {
		return unavailable("redis hset "+hash, err)
	}
	return nil
}

func (r *RedisStore) hdel(ctx context.Context, hash, field string) error {
	if err := r.client.HDel(ctx, hash, field).Err(); err != nil {
		return unavailable("redis hdel "+hash, err)
	}
	return nil
}

func (r *RedisStore) hkeys(ctx context.Context, hash string) ([]string, error) {
	keys, err := r.client.HKeys(ctx, hash).Result()
	if err != nil {
		return nil, unavailable("redis hkeys "+hash, err)
	}
	sort.Strings(keys)
	return keys, nil
}

var _ Store = (*RedisStore)(nil)
