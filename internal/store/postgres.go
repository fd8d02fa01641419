// ABOUTME: PostgreSQL implementation of the Store interface using pgx/v5
// ABOUTME: Two JSONB key/value tables, upserted with ON CONFLICT

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgConversationTable = "directline_conversation"
	pgBotDataTable      = "directline_bot_data"
)

// pgxAPI is the subset of *pgxpool.Pool the store uses.
type pgxAPI interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresConfig holds connection settings for PostgresStore.
type PostgresConfig struct {
	DSN      string
	MaxConns int32
	MinConns int32
}

// PostgresStore implements the Store interface on PostgreSQL.
type PostgresStore struct {
	cfg    PostgresConfig
	pool   pgxAPI
	logger *slog.Logger
}

// NewPostgresStore prepares a store; the pool is created by Start.
func NewPostgresStore(cfg PostgresConfig) *PostgresStore {
	return &PostgresStore{
		cfg:    cfg,
		logger: slog.Default().With("component", "store", "backend", "postgres"),
	}
}

// Start creates the connection pool, pings the server and creates the
// tables if they don't exist.
func (p *PostgresStore) Start(ctx context.Context) error {
	if p.pool == nil {
		pool, err := p.connect(ctx)
		if err != nil {
			return err
		}
		p.pool = pool
	}

	if err := p.pool.Ping(ctx); err != nil {
		return unavailable("pinging database", err)
	}

	for _, table := range []string{pgConversationTable, pgBotDataTable} {
		ddl := "CREATE TABLE IF NOT EXISTS " + table + " (id TEXT PRIMARY KEY, value JSONB NOT NULL)"
		if _, err := p.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("creating table %s: %w", table, err)
		}
	}

	p.logger.Info("Postgres store initialized")
	return nil
}

func (p *PostgresStore) connect(ctx context.Context) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(p.cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	if p.cfg.MaxConns > 0 {
		poolCfg.MaxConns = p.cfg.MaxConns
	} else {
		poolCfg.MaxConns = 10
	}

	if p.cfg.MinConns > 0 {
		poolCfg.MinConns = p.cfg.MinConns
	} else {
		poolCfg.MinConns = 1
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, unavailable("creating connection pool", err)
	}
	return pool, nil
}

// Ping checks the database is reachable.
func (p *PostgresStore) Ping(ctx context.Context) error {
	if p.pool == nil {
		return unavailable("pinging database", errors.New("store not started"))
	}
	if err := p.pool.Ping(ctx); err != nil {
		return unavailable("pinging database", err)
	}
	return nil
}

// Close releases the pool.
func (p *PostgresStore) Close() error {
	if p.pool != nil {
		p.pool.Close()
	}
	return nil
}

// GetConversation returns the record for id, or the zero value.
func (p *PostgresStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	raw, ok, err := p.get(ctx, pgConversationTable, id)
	if err != nil || !ok {
		return Conversation{}, err
	}
	return decodeConversation(raw)
}

// SetConversation upserts the record for id.
func (p *PostgresStore) SetConversation(ctx context.Context, id string, conv Conversation) error {
	raw, err := encodeConversation(conv)
	if err != nil {
		return err
	}
	return p.put(ctx, pgConversationTable, id, raw)
}

// DeleteConversation removes the record for id.
func (p *PostgresStore) DeleteConversation(ctx context.Context, id string) error {
	return p.delete(ctx, pgConversationTable, id)
}

// ListConversationKeys returns every conversation ID.
func (p *PostgresStore) ListConversationKeys(ctx context.Context) ([]string, error) {
	return p.keys(ctx, pgConversationTable)
}

// GetBotData returns the record for key, or the zero value.
func (p *PostgresStore) GetBotData(ctx context.Context, key string) (BotData, error) {
	raw, ok, err := p.get(ctx, pgBotDataTable, key)
	if err != nil || !ok {
		return BotData{}, err
	}
	return decodeBotData(raw)
}

// SetBotData upserts the record for key.
func (p *PostgresStore) SetBotData(ctx context.Context, key string, data BotData) error {
	raw, err := encodeBotData(data)
	if err != nil {
		return err
	}
	return p.put(ctx, pgBotDataTable, key, raw)
}

// DeleteBotData removes the record for key.
func (p *PostgresStore) DeleteBotData(ctx context.Context, key string) error {
	return p.delete(ctx, pgBotDataTable, key)
}

// ListBotDataKeys returns every scope key.
func (p *PostgresStore) ListBotDataKeys(ctx context.Context) ([]string, error) {
	return p.keys(ctx, pgBotDataTable)
}

func (p *PostgresStore) get(ctx context.Context, table, id string) (string, bool, error) {
	var raw string
	err := p.pool.QueryRow(ctx, "SELECT value::text FROM "+table+" WHERE id = $1", id).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("postgres get "+table, err)
	}
	return raw, true, nil
}

func (p *PostgresStore) put(ctx context.Context, table, id, raw string) error {
	_, err := p.pool.Exec(ctx,
		"INSERT INTO "+table+" (id, value) VALUES ($1, $2::jsonb) ON CONFLICT (id) DO UPDATE SET value = EXCLUDED.value",
		id, raw)
	if err != nil {
		return unavailable("postgres put "+table, err)
	}
	return nil
}

func (p *PostgresStore) delete(ctx context.Context, table, id string) error {
	if _, err := p.pool.Exec(ctx, "DELETE FROM "+table+" WHERE id = $1", id); err != nil {
		return unavailable("postgres delete "+table, err)
	}
	return nil
}

func (p *PostgresStore) keys(ctx context.Context, table string) ([]string, error) {
	rows, err := p.pool.Query(ctx, "SELECT id FROM "+table+" ORDER BY id")
	if err != nil {
		return nil, unavailable("postgres keys "+table, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, unavailable("postgres keys "+table, err)
	}
	return keys, nil
}

var _ Store = (*PostgresStore)(nil)
