// Package config handles configuration loading for slack-pulse.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Missing values are filled with defaults before validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path given with --config
//  2. Path from PULSE_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/pulse/gateway.yaml (or ~/.config/pulse/gateway.yaml)
//
// A file ending in .toml is decoded as TOML. Anything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	slack:
//	  signing_secret: "${SLACK_SIGNING_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	jobs:
//	  poll_interval: "1s"
//	  timeout: "5m"
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  base_url: "https://pulse.example.com"   # OAuth redirect base
//
// Database:
//
//	database:
//	  driver: "sqlite"                        # sqlite (pure Go) or sqlite3 (cgo)
//	  path: "/var/lib/pulse/pulse.db"
//	  encryption_key: "${PULSE_DB_KEY}"       # seals bot tokens at rest
//
// Slack:
//
//	slack:
//	  signing_secret: "${SLACK_SIGNING_SECRET}"
//	  client_id: "${SLACK_CLIENT_ID}"
//	  client_secret: "${SLACK_CLIENT_SECRET}"
//	  request_timeout: "10s"
//	  max_request_age: "5m"                   # "0" disables the replay window
//	  dedupe_ttl: "10m"
//
// LLM:
//
//	llm:
//	  api_key: "${ARK_API_KEY}"
//	  model: "mixtral-8x7b-32768"
//	  vision_model: "llava-v1.5-7b"
//	  temperature: 0.7
//	  max_tokens: 1024
//	  timeout: "60s"
//
// Analysis and blob storage:
//
//	analysis:
//	  image_mode: "upload"                    # inline or upload
//	blob:
//	  bucket: "pulse-uploads"
//	  region: "us-east-1"
//
// Jobs:
//
//	jobs:
//	  workers: 4
//	  max_attempts: 1
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
