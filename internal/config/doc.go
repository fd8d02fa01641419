// Package config handles configuration loading for directline-relay.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension)
// with environment variable expansion. Every field has a default, so the
// relay also runs with no file at all.
//
// # Environment
//
// A .env file in the working directory is loaded before the config file.
// Values can reference environment variables:
//
//	auth:
//	  secret: "${DIRECTLINE_SECRET}"
//
// STORE_TYPE, REDIS_HOST and REDIS_PORT override the store section when set.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:3000"
//	  service_url: "http://127.0.0.1:3000"
//
//	bot:
//	  url: "http://127.0.0.1:3978/api/messages"
//	  timeout: "30s"
//
//	conversations:
//	  expires_in: "30m"         # reported to clients
//	  cleanup_interval: "10s"   # reaper period
//	  expiry_threshold: "30m"   # idle time before eviction
//	  lenient: false            # create unknown conversations on first post
//
//	store:
//	  type: "memory"            # memory, sqlite, redis, postgres, dynamodb
//	  sqlite:   { path: "directline.db" }
//	  redis:    { url: "", host: "", port: "6379", password: "", db: 0 }
//	  postgres: { dsn: "", max_conns: 0, min_conns: 0 }
//	  dynamodb: { table: "", region: "", endpoint: "" }
//
//	auth:
//	  secret: ""                # enables bearer auth on client routes
//	  token_ttl: "1h"
//
//	tailscale:
//	  enabled: false
//	  hostname: "directline"
//	  auth_key: "${TS_AUTHKEY}"
//	  state_dir: "tsnet-state"
//	  ephemeral: false
//
//	logging:
//	  level: "info"             # debug, info, warn, error
//	  format: "text"            # text, json
//
// Durations use time.ParseDuration syntax.
package config
