// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Two key/value tables holding JSON-encoded conversation and bot-data records

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	path   string
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore prepares a SQLite store at the given path. The database is
// opened and the schema created by Start.
func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{
		path:   path,
		logger: slog.Default().With("component", "store", "backend", "sqlite"),
	}
}

// Start opens the database, creating parent directories and the schema
// if needed.
func (s *SQLiteStore) Start(ctx context.Context) error {
	// Ensure parent directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return unavailable("creating database directory", err)
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return unavailable("opening database", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return unavailable("enabling WAL mode", err)
	}

	// Writers wait instead of failing with SQLITE_BUSY
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return unavailable("setting busy timeout", err)
	}

	s.db = db
	if err := s.createSchema(ctx); err != nil {
		db.Close()
		s.db = nil
		return fmt.Errorf("creating schema: %w", err)
	}

	s.logger.Info("SQLite store initialized", "path", s.path)
	return nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversation (
			id TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS bot_data (
			id TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Ping checks that the database answers.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.db == nil {
		return unavailable("sqlite ping", errors.New("store not started"))
	}
	if err := s.db.PingContext(ctx); err != nil {
		return unavailable("sqlite ping", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// GetConversation returns the record for id, or the zero value.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (Conversation, error) {
	raw, ok, err := s.get(ctx, "conversation", id)
	if err != nil || !ok {
		return Conversation{}, err
	}
	return decodeConversation(raw)
}

// SetConversation upserts the record for id.
func (s *SQLiteStore) SetConversation(ctx context.Context, id string, conv Conversation) error {
	raw, err := encodeConversation(conv)
	if err != nil {
		return err
	}
	return s.put(ctx, "conversation", id, raw)
}

// DeleteConversation removes the record for id.
func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	return s.delete(ctx, "conversation", id)
}

// ListConversationKeys returns every conversation ID.
func (s *SQLiteStore) ListConversationKeys(ctx context.Context) ([]string, error) {
	return s.keys(ctx, "conversation")
}

// GetBotData returns the record for key, or the zero value.
func (s *SQLiteStore) GetBotData(ctx context.Context, key string) (BotData, error) {
	raw, ok, err := s.get(ctx, "bot_data", key)
	if err != nil || !ok {
		return BotData{}, err
	}
	return decodeBotData(raw)
}

// SetBotData upserts the record for key.
func (s *SQLiteStore) SetBotData(ctx context.Context, key string, data BotData) error {
	raw, err := encodeBotData(data)
	if err != nil {
		return err
	}
	return s.put(ctx, "bot_data", key, raw)
}

// DeleteBotData removes the record for key.
func (s *SQLiteStore) DeleteBotData(ctx context.Context, key string) error {
	return s.delete(ctx, "bot_data", key)
}

// ListBotDataKeys returns every scope key.
func (s *SQLiteStore) ListBotDataKeys(ctx context.Context) ([]string, error) {
	return s.keys(ctx, "bot_data")
}

// table is "conversation" or "bot_data", never caller input.
func (s *SQLiteStore) get(ctx context.Context, table, key string) (string, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM "+table+" WHERE id = ?", key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, unavailable("sqlite get "+table, err)
	}
	return raw, true, nil
}

func (s *SQLiteStore) put(ctx context.Context, table, key, raw string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO "+table+" (id, value) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET value = excluded.value",
		key, raw)
	if err != nil {
		return unavailable("sqlite put "+table, err)
	}
	return nil
}

func (s *SQLiteStore) delete(ctx context.Context, table, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table+" WHERE id = ?", key); err != nil {
		return unavailable("sqlite delete "+table, err)
	}
	return nil
}

func (s *SQLiteStore) keys(ctx context.Context, table string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM "+table+" ORDER BY id")
	if err != nil {
		return nil, unavailable("sqlite keys "+table, err)
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scanning key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("sqlite keys "+table, err)
	}
	return keys, nil
}

var _ Store = (*SQLiteStore)(nil)
