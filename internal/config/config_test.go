// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, .env files, env var expansion, overrides and validation

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: "127.0.0.1:9000"
  grpc_addr: "127.0.0.1:9001"
database:
  driver: sqlite
  path: ./test.db
auth:
  jwt_secret: "`+testSecret+`"
presence:
  heartbeat_interval: "10s"
  heartbeat_timeout: "25s"
  send_buffer: 16
redis:
  enabled: true
  addr: "localhost:6379"
  db: 2
messaging:
  idempotency_window: "2m"
  default_page_size: 20
  max_page_size: 100
logging:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.HTTPAddr)
	assert.Equal(t, "127.0.0.1:9001", cfg.Server.GRPCAddr)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, 10*time.Second, cfg.Presence.HeartbeatInterval)
	assert.Equal(t, 25*time.Second, cfg.Presence.HeartbeatTimeout)
	assert.Equal(t, 16, cfg.Presence.SendBuffer)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, "workroom", cfg.Redis.ChannelPrefix)
	assert.Equal(t, 2*time.Minute, cfg.Messaging.IdempotencyWindow)
	assert.Equal(t, 10000, cfg.Messaging.IdempotencyMaxEntries)
	assert.Equal(t, 20, cfg.Messaging.DefaultPageSize)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "gateway.toml", `
[server]
http_addr = ":8181"

[database]
driver = "postgres"
url = "postgres://localhost/workroom"

[auth]
jwt_secret = "`+testSecret+`"

[presence]
heartbeat_interval = "15s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8181", cfg.Server.HTTPAddr)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/workroom", cfg.Database.URL)
	assert.Empty(t, cfg.Database.Path)
	assert.Equal(t, 15*time.Second, cfg.Presence.HeartbeatInterval)
	assert.Equal(t, 90*time.Second, cfg.Presence.HeartbeatTimeout)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
auth:
  jwt_secret: "`+testSecret+`"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.HTTPAddr)
	assert.Empty(t, cfg.Server.GRPCAddr)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "workroom.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Second, cfg.Presence.HeartbeatInterval)
	assert.Equal(t, 64, cfg.Presence.SendBuffer)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Messaging.IdempotencyWindow)
	assert.Equal(t, 50, cfg.Messaging.DefaultPageSize)
	assert.Equal(t, 200, cfg.Messaging.MaxPageSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestLoad_EnvExpansionAndDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("WORKROOM_TEST_SECRET_FROM_DOTENV="+testSecret+"\n"), 0o600))
	path := filepath.Join(dir, "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
auth:
  jwt_secret: "${WORKROOM_TEST_SECRET_FROM_DOTENV}"
database:
  path: "${WORKROOM_TEST_DB_DIR}/db.sqlite"
`), 0o600))

	t.Setenv("WORKROOM_TEST_DB_DIR", "/var/lib/workroom")
	t.Cleanup(func() { os.Unsetenv("WORKROOM_TEST_SECRET_FROM_DOTENV") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, testSecret, cfg.Auth.JWTSecret)
	assert.Equal(t, "/var/lib/workroom/db.sqlite", cfg.Database.Path)
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", `
server:
  http_addr: ":8080"
database:
  path: ./file.db
auth:
  jwt_secret: "`+testSecret+`"
`)
	t.Setenv("WORKROOM_HTTP_ADDR", ":9999")
	t.Setenv("WORKROOM_DB_PATH", "/tmp/override.db")
	t.Setenv("WORKROOM_REDIS_ADDR", "redis:6379")
	t.Setenv("WORKROOM_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.HTTPAddr)
	assert.Equal(t, "/tmp/override.db", cfg.Database.Path)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "reading config file")

	path := writeConfig(t, "gateway.yaml", "server: [unclosed")
	_, err = Load(path)
	assert.ErrorContains(t, err, "parsing config file")

	path = writeConfig(t, "gateway.yaml", "unknown_section: true\n")
	_, err = Load(path)
	assert.ErrorContains(t, err, "parsing config file")

	path = writeConfig(t, "gateway.yaml", `
auth:
  jwt_secret: "`+testSecret+`"
presence:
  heartbeat_interval: "soon"
`)
	_, err = Load(path)
	assert.ErrorContains(t, err, "presence.heartbeat_interval")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := &Config{Auth: AuthConfig{JWTSecret: testSecret}}
		c.ApplyDefaults()
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "auth.jwt_secret is required"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "at least 32 bytes"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without url", func(c *Config) { c.Database.Driver = DriverPostgres }, "database.url is required"},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"timeout below interval", func(c *Config) { c.Presence.HeartbeatTimeout = time.Second }, "heartbeat_timeout"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true }, "redis.addr"},
		{"page sizes", func(c *Config) { c.Messaging.DefaultPageSize = 500 }, "default_page_size"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("WORKROOM_CONFIG", "/etc/workroom.yaml")
	assert.Equal(t, "/etc/workroom.yaml", DefaultPath())

	t.Setenv("WORKROOM_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	assert.Equal(t, filepath.Join("/xdg", "workroom", "gateway.yaml"), DefaultPath())
}
