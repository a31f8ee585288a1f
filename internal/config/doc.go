// Package config handles configuration loading for coven-chat.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. Files ending in .toml are decoded as TOML; anything else is YAML.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from COVEN_CHAT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/coven-chat/config.yaml
//  3. ~/.config/coven-chat/config.yaml
//
// # Environment Variable Expansion
//
//	agent:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8000"
//	  grpc_addr: "0.0.0.0:50051"   # optional, gRPC health only
//
//	database:
//	  driver: "sqlite"             # sqlite, sqlite3, mysql
//	  path: "~/.local/share/coven-chat/chat.db"
//	  # host, port, user, password, name for mysql
//	  max_open_conns: 10
//	  conn_max_lifetime: "30m"
//
//	agent:
//	  provider: "openai"           # openai, ollama, gemini, echo
//	  model: "gpt-4o-mini"
//	  api_key: "${OPENAI_API_KEY}"
//	  timeout: "120s"
//	  requests_per_second: 2
//
//	heading:
//	  temperature: 0.7
//	  max_length: 80
//	  timeout: "30s"
//
//	turns:
//	  pending_ttl: "15m"
//	  pending_max: 1000
//
//	logging:
//	  level: "info"                # trace, debug, info, warn, error
//	  format: "text"               # text, json
//
// Heading provider fields that are left empty inherit the agent's.
package config
