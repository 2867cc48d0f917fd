package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------
// Defaults
// ---------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)

	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.Equal(t, 60*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 30*time.Second, cfg.Lock.WaitTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Lock.RetryInterval)

	assert.Equal(t, "memory", cfg.Idempotency.Backend)
	assert.Equal(t, time.Duration(0), cfg.Idempotency.RetentionTTL)
	assert.Equal(t, 5*time.Minute, cfg.Idempotency.CleanupInterval)

	assert.Equal(t, "memory", cfg.Checkpoint.Backend)
	assert.Equal(t, "memory", cfg.Audit.Backend)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "mongodb://localhost:27017", cfg.Mongo.URI)
	assert.Equal(t, "postgres", cfg.Database.Driver)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.False(t, cfg.Telemetry.Enabled)
}

func TestDefaultConfig_Validates(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

// ---------------------------------------------------------------
// Loader
// ---------------------------------------------------------------

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Lock.Backend)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "runledger.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  rate_limit_rps: 50

lock:
  backend: redis
  ttl: 90s
  wait_timeout: 10s

idempotency:
  backend: redis
  retention_ttl: 24h

checkpoint:
  backend: redis
  ttl: 72h

audit:
  backend: sql
  signing_key_path: /etc/runledger/export.key
  signing_key_id: export-2026

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

database:
  driver: postgres
  host: db.example.com
  name: runledger_prod

log:
  level: debug
  format: console
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0o644)
	require.NoError(t, err)

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, float64(50), cfg.Server.RateLimitRPS)

	assert.Equal(t, "redis", cfg.Lock.Backend)
	assert.Equal(t, 90*time.Second, cfg.Lock.TTL)
	assert.Equal(t, 10*time.Second, cfg.Lock.WaitTimeout)

	assert.Equal(t, "redis", cfg.Idempotency.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.RetentionTTL)

	assert.Equal(t, "redis", cfg.Checkpoint.Backend)
	assert.Equal(t, 72*time.Hour, cfg.Checkpoint.TTL)

	assert.Equal(t, "sql", cfg.Audit.Backend)
	assert.Equal(t, "/etc/runledger/export.key", cfg.Audit.SigningKeyPath)
	assert.Equal(t, "export-2026", cfg.Audit.SigningKeyID)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "db.example.com", cfg.Database.Host)
	assert.Equal(t, "runledger_prod", cfg.Database.Name)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath(filepath.Join(t.TempDir(), "does-not-exist.yaml")).
		Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_MalformedYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("lock: [not a map"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("RUNLEDGER_SERVER_HTTP_PORT", "9999")
	t.Setenv("RUNLEDGER_LOCK_BACKEND", "mongo")
	t.Setenv("RUNLEDGER_LOCK_TTL", "2m")
	t.Setenv("RUNLEDGER_TELEMETRY_ENABLED", "true")
	t.Setenv("RUNLEDGER_TELEMETRY_SAMPLE_RATE", "0.5")
	t.Setenv("RUNLEDGER_LOG_OUTPUT_PATHS", "stdout, /var/log/runledger.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "mongo", cfg.Lock.Backend)
	assert.Equal(t, 2*time.Minute, cfg.Lock.TTL)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.Equal(t, 0.5, cfg.Telemetry.SampleRate)
	assert.Equal(t, []string{"stdout", "/var/log/runledger.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "runledger.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8888\n"), 0o644))

	t.Setenv("RUNLEDGER_SERVER_HTTP_PORT", "7777")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)
	assert.Equal(t, 7777, cfg.Server.HTTPPort)
}

func TestLoader_BadEnvValue(t *testing.T) {
	t.Setenv("RUNLEDGER_SERVER_HTTP_PORT", "not-a-number")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_CustomValidator(t *testing.T) {
	called := false
	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			called = true
			return nil
		}).
		Load()
	require.NoError(t, err)
	assert.True(t, called)
}

// ---------------------------------------------------------------
// Validation
// ---------------------------------------------------------------

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = -1 }},
		{"bad lock backend", func(c *Config) { c.Lock.Backend = "etcd" }},
		{"bad idempotency backend", func(c *Config) { c.Idempotency.Backend = "mongo" }},
		{"bad checkpoint backend", func(c *Config) { c.Checkpoint.Backend = "s3" }},
		{"bad audit backend", func(c *Config) { c.Audit.Backend = "kafka" }},
		{"bad database driver", func(c *Config) {
			c.Audit.Backend = "sql"
			c.Database.Driver = "oracle"
		}},
		{"negative lock ttl", func(c *Config) { c.Lock.TTL = -time.Second }},
		{"negative retention", func(c *Config) { c.Idempotency.RetentionTTL = -time.Hour }},
		{"signing key without id", func(c *Config) {
			c.Audit.SigningKeyPath = "/tmp/key"
			c.Audit.SigningKeyID = ""
		}},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// ---------------------------------------------------------------
// DSN
// ---------------------------------------------------------------

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{
		Driver: "postgres", Host: "db", Port: 5432,
		User: "u", Password: "p", Name: "runledger", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=db port=5432 user=u password=p dbname=runledger sslmode=disable",
		pg.DSN())

	my := DatabaseConfig{
		Driver: "mysql", Host: "db", Port: 3306,
		User: "u", Password: "p", Name: "runledger",
	}
	assert.Equal(t, "u:p@tcp(db:3306)/runledger?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "runledger.db"}
	assert.Equal(t, "runledger.db", lite.DSN())

	unknown := DatabaseConfig{Driver: "oracle"}
	assert.Equal(t, "", unknown.DSN())
}
