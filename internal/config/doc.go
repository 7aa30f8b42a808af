// Package config handles configuration loading for workroom-gateway.
//
// # Configuration File
//
// The file is found at (in order):
//
//  1. Path from the WORKROOM_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/workroom/gateway.yaml
//  3. ~/.config/workroom/gateway.yaml
//
// A ".toml" extension selects the TOML decoder; everything else is YAML.
//
// # Environment
//
// A .env file next to the config file, or in the working directory, is
// loaded first. Values can then reference environment variables:
//
//	auth:
//	  jwt_secret: "${WORKROOM_SECRET}"
//
// After parsing, these variables override the file:
//
//	WORKROOM_HTTP_ADDR  WORKROOM_DB_DRIVER  WORKROOM_DB_PATH  WORKROOM_DB_URL
//	WORKROOM_JWT_SECRET WORKROOM_REDIS_ADDR WORKROOM_LOG_LEVEL
//
// Setting WORKROOM_REDIS_ADDR also enables the Redis relay.
//
// # Durations
//
// Duration values use Go's time.ParseDuration syntax:
//
//	presence:
//	  heartbeat_interval: "30s"
//	  heartbeat_timeout: "90s"
//	messaging:
//	  idempotency_window: "10m"
//
// # Example
//
//	server:
//	  http_addr: ":8080"
//	  grpc_addr: ":50051"
//	database:
//	  driver: sqlite
//	  path: ./workroom.db
//	auth:
//	  jwt_secret: "${WORKROOM_SECRET}"
//	redis:
//	  enabled: true
//	  addr: localhost:6379
//	logging:
//	  level: info
//	  format: json
package config
