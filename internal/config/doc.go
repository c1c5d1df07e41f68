// Package config handles configuration loading for convo-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from the --config flag
//  2. Path from CONVO_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/convo/gateway.yaml (or ~/.config/convo/gateway.yaml)
//
// Files ending in .toml are parsed as TOML; anything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:3001"
//	  read_header_timeout: "10s"
//	  shutdown_timeout: "10s"
//
//	database:
//	  driver: "sqlite"            # sqlite, postgres
//	  path: "/var/lib/convo/gateway.db" # default: $XDG_DATA_HOME/convo/gateway.db
//	  dsn: "${DATABASE_URL}"      # postgres only
//	  connect_retries: 5
//
//	auth:
//	  jwt_secret: "${JWT_SECRET}" # required, at least 32 bytes
//	  issuer: "convo-gateway"
//	  bcrypt_cost: 12
//	  require_active_user: false
//
//	tailscale:
//	  enabled: false
//	  hostname: "convo-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
