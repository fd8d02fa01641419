// Package store provides persistence for the relay's two record namespaces.
//
// # Architecture
//
// Every backend implements the Store interface over two independent key
// spaces:
//
//   - conversation: conversation ID -> Conversation (ID plus ordered history)
//   - botData: scope key -> BotData (eTag plus opaque JSON payload)
//
// Get on a missing key returns the zero record and a nil error; callers
// test Exists(). Connectivity failures wrap ErrUnavailable so they can be
// told apart from absence with errors.Is.
//
// # Backends
//
//   - MemoryStore: maps under a RWMutex, deep-copied in and out (default)
//   - SQLiteStore: modernc.org/sqlite, tables conversation and bot_data
//   - RedisStore: go-redis hashes "conversation" and "botData"
//   - PostgresStore: pgx pool, JSONB tables directline_conversation and directline_bot_data
//   - DynamoStore: one table, PK "<namespace>#<key>", SK "RECORD"
//
// Durable backends store records as JSON so the backend never needs to
// understand their structure.
//
// # Lifecycle
//
//	s, err := store.New(store.Options{Type: "sqlite", SQLitePath: "./data/relay.db"})
//	if err != nil { ... }
//	if err := s.Start(ctx); err != nil { ... } // fatal at startup
//	defer s.Close()
//
// # Concurrency
//
// All backends are safe for concurrent use. None of them serializes a
// read-modify-write of one record; the conversation service does that.
package store
