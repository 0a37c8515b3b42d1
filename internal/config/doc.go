// Package config handles configuration loading for ytwatch-server.
//
// # Overview
//
// Configuration is loaded from a YAML file with environment variable
// expansion, then defaults are applied and the result is validated.
//
// # Configuration File
//
// The server binary looks in (in order):
//
//  1. Path from the YTWATCH_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/ytwatch/server.yaml (or ~/.config/ytwatch/server.yaml)
//
// A .env file in the working directory is loaded first, so secrets can live
// there instead of the shell environment.
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${YTWATCH_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:3000"
//	  max_body_bytes: 10485760
//	  cors_origins: ["chrome-extension://<id>"]
//
//	database:
//	  path: "~/.local/share/ytwatch/ytwatch.db"
//
//	auth:
//	  jwt_secret: "${YTWATCH_JWT_SECRET}"   # enables the management API
//	  admin_password_hash: "$2a$10$..."     # from `ytwatch-server hash-password`
//	  token_ttl: "24h"
//
//	devices:
//	  online_window: "2m"
//
//	rate_limit:
//	  register_per_hour: 10
//	  api_per_window: 1000
//	  api_window: "15m"
//
//	tailscale:
//	  enabled: false
//	  hostname: "ytwatch"
//	  https: true
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// Durations use time.ParseDuration syntax and must be positive.
package config
