// ABOUTME: Entry point for directline-relay, an offline Direct Line server for local bots
// ABOUTME: Subcommands: serve runs the relay, init writes a config file, health checks a running relay

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/2389/directline-relay/internal/config"
	"github.com/2389/directline-relay/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _ _               _   _ _
  __| (_)_ __ ___  ___| |_| (_)_ __   ___       _ __ ___| | __ _ _   _
 / _' | | '__/ _ \/ __| __| | | '_ \ / _ \_____| '__/ _ \ |/ _' | | | |
| (_| | | | |  __/ (__| |_| | | | | |  __/_____| | |  __/ | (_| | |_| |
 \__,_|_|_|  \___|\___|\__|_|_|_| |_|\___|     |_|  \___|_|\__,_|\__, |
                                                                 |___/
`

// getConfigPath returns the default config path.
// Priority: DIRECTLINE_CONFIG env var > XDG_CONFIG_HOME/directline/relay.yaml > ~/.config/directline/relay.yaml
func getConfigPath() string {
	if envPath := os.Getenv("DIRECTLINE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "relay.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "directline", "relay.yaml")
}

func usage() {
	fmt.Println("Usage: directline-relay <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the relay")
	fmt.Println("  init     Write a config file with default settings")
	fmt.Println("  health   Check relay health")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx, os.Args[2:])
	case "init":
		err = runInit(os.Args[2:])
	case "health":
		err = runHealth(ctx, os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// overrides holds command-line settings that win over the config file.
type overrides struct {
	configPath string
	botURL     string
	addr       string
	serviceURL string
	storeType  string
	lenient    bool
}

func (o *overrides) register(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", getConfigPath(), "path to config file (yaml or toml)")
	fs.StringVarP(&o.botURL, "bot", "b", "", "bot messaging endpoint URL")
	fs.StringVarP(&o.addr, "addr", "a", "", "HTTP listen address")
	fs.StringVar(&o.serviceURL, "service-url", "", "URL clients and the bot use to reach the relay")
	fs.StringVar(&o.storeType, "store", "", "store backend (memory, sqlite, redis, postgres, dynamodb)")
	fs.BoolVar(&o.lenient, "lenient", false, "create unknown conversations on first activity")
}

// apply copies every flag the user set onto cfg. Setting --addr without
// --service-url points the service URL at the new address.
func (o *overrides) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("bot") {
		cfg.Bot.URL = o.botURL
	}
	if fs.Changed("addr") {
		cfg.Server.HTTPAddr = o.addr
		if !fs.Changed("service-url") {
			cfg.Server.ServiceURL = "http://" + o.addr
		}
	}
	if fs.Changed("service-url") {
		cfg.Server.ServiceURL = strings.TrimRight(o.serviceURL, "/")
	}
	if fs.Changed("store") {
		cfg.Store.Type = o.storeType
	}
	if fs.Changed("lenient") {
		cfg.Conversations.Lenient = o.lenient
	}
}

// loadConfig parses args and returns the effective configuration.
func loadConfig(name string, args []string) (*config.Config, string, error) {
	var o overrides
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	o.register(fs)
	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}

	cfg, err := config.LoadOrDefault(o.configPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	o.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("validating flags: %w", err)
	}
	return cfg, o.configPath, nil
}

func runServe(ctx context.Context, args []string) error {
	cfg, configPath, err := loadConfig("serve", args)
	if err != nil {
		return err
	}

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Bot:       %s\n", cfg.Bot.URL)
	green.Print("    ▶ ")
	fmt.Printf("Store:     %s\n", cfg.Store.Type)
	if cfg.Auth.Enabled() {
		green.Print("    ▶ ")
		fmt.Println("Auth:      secret + tokens")
	}
	if cfg.Conversations.Lenient {
		yellow.Println("    ! lenient mode: unknown conversations are created on first activity")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting directline-relay",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"service_url", cfg.Server.ServiceURL,
		"bot_url", cfg.Bot.URL,
		"store", cfg.Store.Type,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	return slog.New(newLogHandler(cfg, os.Stdout))
}

func newLogHandler(cfg config.LoggingConfig, out io.Writer) slog.Handler {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	if cfg.Format == "json" {
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	}
	return &colorHandler{mu: &sync.Mutex{}, out: out, level: level}
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     *sync.Mutex
	out    io.Writer
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	buf.WriteString(r.Message)

	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}

	// Handler-level attrs (from WithAttrs) come first
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.out, buf.String())
	return err
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	prefix := ""
	if len(h.groups) > 0 {
		prefix = strings.Join(h.groups, ".") + "."
	}
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	for _, a := range attrs {
		newAttrs = append(newAttrs, slog.Attr{Key: prefix + a.Key, Value: a.Value})
	}
	return &colorHandler{mu: h.mu, out: h.out, level: h.level, attrs: newAttrs, groups: h.groups}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{mu: h.mu, out: h.out, level: h.level, attrs: h.attrs, groups: newGroups}
}

// runInit writes the default configuration, adjusted by flags, to the
// config path. An existing file is kept unless --force is given.
func runInit(args []string) error {
	var o overrides
	var force bool
	fs := pflag.NewFlagSet("init", pflag.ContinueOnError)
	o.register(fs)
	fs.BoolVarP(&force, "force", "f", false, "overwrite an existing config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(o.configPath); err == nil && !force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", o.configPath)
	}

	cfg := config.Default()
	o.apply(fs, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	if err := config.Save(o.configPath, cfg); err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Config written to %s\n", o.configPath)
	fmt.Println("\nTo start the relay:")
	fmt.Printf("  directline-relay serve --config %s\n", o.configPath)
	return nil
}

func runHealth(ctx context.Context, args []string) error {
	cfg, _, err := loadConfig("health", args)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s/health/ready", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}
