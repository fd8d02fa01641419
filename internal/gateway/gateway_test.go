// ABOUTME: Tests for Gateway construction, lifecycle and health endpoints
// ABOUTME: Runs the gateway against an httptest bot and an in-memory store

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/directline-relay/internal/activity"
	"github.com/2389/directline-relay/internal/config"
	"github.com/2389/directline-relay/internal/store"
)

const testSecret = "gateway-test-secret-with-32byte!"

// fakeBot is an httptest bot endpoint that records what it receives.
type fakeBot struct {
	mu       sync.Mutex
	received []*activity.Activity
	status   int
	body     string
	server   *httptest.Server
}

func newFakeBot(t *testing.T) *fakeBot {
	t.Helper()
	b := &fakeBot{status: http.StatusOK}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		a, err := activity.Parse(data)
		b.mu.Lock()
		if err == nil {
			b.received = append(b.received, a)
		}
		status, body := b.status, b.body
		b.mu.Unlock()

		if body != "" {
			w.Header().Set("Content-Type", "application/json")
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBot) set(status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status, b.body = status, body
}

func (b *fakeBot) calls() []*activity.Activity {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*activity.Activity(nil), b.received...)
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig creates a config pointing at botURL with an available port.
func testConfig(t *testing.T, botURL string) *config.Config {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := config.Default()
	cfg.Server.HTTPAddr = addr
	cfg.Server.ServiceURL = "http://" + addr
	cfg.Bot.URL = botURL
	cfg.Bot.Timeout = 2 * time.Second
	return cfg
}

type testEnv struct {
	gw     *Gateway
	bot    *fakeBot
	server *httptest.Server
}

// newTestEnv starts a gateway handler behind httptest. mutate may adjust
// the config before the gateway is built.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	bot := newFakeBot(t)
	cfg := testConfig(t, bot.server.URL)
	if mutate != nil {
		mutate(cfg)
	}

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	server := httptest.NewServer(gw.Handler())
	t.Cleanup(func() {
		server.Close()
		_ = gw.Shutdown(context.Background())
	})
	return &testEnv{gw: gw, bot: bot, server: server}
}

func (e *testEnv) do(t *testing.T, method, path, body string, header ...string) *http.Response {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, e.server.URL+path, rdr)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestGatewayNew(t *testing.T) {
	bot := newFakeBot(t)
	cfg := testConfig(t, bot.server.URL)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	assert.Same(t, cfg, gw.config)
	assert.NotNil(t, gw.store)
	assert.NotNil(t, gw.relay)
	assert.NotNil(t, gw.reaper)
	assert.Nil(t, gw.tokens, "auth is off without a secret")
}

func TestGatewayNew_SQLiteStore(t *testing.T) {
	bot := newFakeBot(t)
	cfg := testConfig(t, bot.server.URL)
	cfg.Store.Type = store.TypeSQLite
	cfg.Store.SQLite.Path = filepath.Join(t.TempDir(), "relay.db")

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer gw.Shutdown(context.Background())

	_, ok := gw.store.(*store.SQLiteStore)
	assert.True(t, ok)
}

func TestGatewayNew_UnreachableStoreIsFatal(t *testing.T) {
	bot := newFakeBot(t)
	cfg := testConfig(t, bot.server.URL)
	cfg.Store.Type = store.TypeRedis
	// Nothing listens on the discard port.
	cfg.Store.Redis.Host = "127.0.0.1"
	cfg.Store.Redis.Port = "9"

	_, err := New(cfg, testLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestGatewayRunAndShutdown(t *testing.T) {
	bot := newFakeBot(t)
	cfg := testConfig(t, bot.server.URL)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- gw.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.HTTPAddr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Run() returned unexpected error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("gateway did not shutdown in time")
	}
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "OK", string(body))

	resp = env.do(t, http.MethodGet, "/health/ready", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, nil)

	resp := env.do(t, http.MethodOptions, "/directline", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "x-ms-bot-agent")

	resp = env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStoreOptions(t *testing.T) {
	cfg := config.StoreConfig{
		Type:  "redis",
		Redis: config.RedisConfig{Host: "cache", Port: "7000", Password: "pw", DB: 2},
		Postgres: config.PostgresConfig{
			DSN: "postgres://localhost/relay", MaxConns: 5,
		},
		DynamoDB: config.DynamoDBConfig{Table: "relay", Region: "us-west-2"},
	}

	opts := storeOptions(cfg)
	assert.Equal(t, "redis", opts.Type)
	assert.Equal(t, "cache:7000", opts.RedisAddr)
	assert.Equal(t, "pw", opts.RedisPassword)
	assert.Equal(t, 2, opts.RedisDB)
	assert.Equal(t, "postgres://localhost/relay", opts.Postgres.DSN)
	assert.Equal(t, int32(5), opts.Postgres.MaxConns)
	assert.Equal(t, "relay", opts.Dynamo.Table)
	assert.Equal(t, "us-west-2", opts.Dynamo.Region)
}
