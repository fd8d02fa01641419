// ABOUTME: Tests for flag overrides, init and the colorized log handler
// ABOUTME: Exercises command helpers without starting a server

package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/directline-relay/internal/config"
)

func TestOverridesApply(t *testing.T) {
	var o overrides
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.register(fs)
	require.NoError(t, fs.Parse([]string{"--bot", "http://localhost:4000/api/messages", "--addr", "0.0.0.0:3100", "--store", "sqlite", "--lenient"}))

	cfg := config.Default()
	o.apply(fs, cfg)

	assert.Equal(t, "http://localhost:4000/api/messages", cfg.Bot.URL)
	assert.Equal(t, "0.0.0.0:3100", cfg.Server.HTTPAddr)
	assert.Equal(t, "http://0.0.0.0:3100", cfg.Server.ServiceURL)
	assert.Equal(t, "sqlite", cfg.Store.Type)
	assert.True(t, cfg.Conversations.Lenient)
}

func TestOverridesApply_UnsetFlagsKeepConfig(t *testing.T) {
	var o overrides
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.register(fs)
	require.NoError(t, fs.Parse([]string{"--addr", "127.0.0.1:3001", "--service-url", "https://relay.example.com/"}))

	cfg := config.Default()
	want := *cfg
	o.apply(fs, cfg)

	assert.Equal(t, "https://relay.example.com", cfg.Server.ServiceURL)
	assert.Equal(t, want.Bot, cfg.Bot)
	assert.Equal(t, want.Store.Type, cfg.Store.Type)
	assert.False(t, cfg.Conversations.Lenient)
}

func TestRunInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")

	require.NoError(t, runInit([]string{"--config", path, "--bot", "http://127.0.0.1:4978/api/messages"}))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:4978/api/messages", cfg.Bot.URL)
	assert.Equal(t, config.Default().Conversations.ExpiryThreshold, cfg.Conversations.ExpiryThreshold)

	err = runInit([]string{"--config", path})
	assert.ErrorContains(t, err, "already exists")

	require.NoError(t, runInit([]string{"--config", path, "--force"}))
}

func TestColorHandler(t *testing.T) {
	color.NoColor = true

	var buf bytes.Buffer
	logger := slog.New(newLogHandler(config.LoggingConfig{Level: "info"}, &buf))

	logger.Debug("hidden")
	logger.With("component", "relay").WithGroup("req").Info("hello", "id", "c1")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "INF hello")
	assert.Contains(t, out, "component=relay")
	assert.Contains(t, out, "req.id=c1")
}

func TestNewLogHandler_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newLogHandler(config.LoggingConfig{Level: "debug", Format: "json"}, &buf))
	logger.Debug("hi")
	assert.Contains(t, buf.String(), `"msg":"hi"`)
}
