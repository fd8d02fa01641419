// ABOUTME: Backend selection for the Store interface
// ABOUTME: Maps a backend type name to a constructed, not yet started, Store

package store

import (
	"fmt"
	"strings"
)

// Backend type names accepted by New.
const (
	TypeMemory   = "memory"
	TypeSQLite   = "sqlite"
	TypeRedis    = "redis"
	TypePostgres = "postgres"
	TypeDynamoDB = "dynamodb"
)

// Options selects and configures a backend.
type Options struct {
	Type string

	SQLitePath string

	// RedisURL wins over RedisAddr when both are set.
	RedisURL      string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Postgres PostgresConfig
	Dynamo   DynamoConfig
}

// New constructs the backend named by opts.Type. Call Start before use.
func New(opts Options) (Store, error) {
	switch strings.ToLower(opts.Type) {
	case "", TypeMemory:
		return NewMemoryStore(), nil
	case TypeSQLite:
		if opts.SQLitePath == "" {
			return nil, fmt.Errorf("sqlite store requires a path")
		}
		return NewSQLiteStore(opts.SQLitePath), nil
	case TypeRedis:
		if opts.RedisURL != "" {
			return NewRedisStoreFromURL(opts.RedisURL)
		}
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("redis store requires an address or URL")
		}
		return NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB), nil
	case TypePostgres:
		if opts.Postgres.DSN == "" {
			return nil, fmt.Errorf("postgres store requires a DSN")
		}
		return NewPostgresStore(opts.Postgres), nil
	case TypeDynamoDB:
		if opts.Dynamo.Table == "" {
			return nil, fmt.Errorf("dynamodb store requires a table")
		}
		return NewDynamoStore(opts.Dynamo), nil
	default:
		return nil, fmt.Errorf("unknown store type %q", opts.Type)
	}
}
