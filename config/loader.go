// Package config loads the runledger service configuration from YAML
// with environment-variable overrides.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("runledger.yaml").
//	    WithEnvPrefix("RUNLEDGER").
//	    Load()
//
// Precedence: defaults, then YAML file, then environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runledger service configuration.
type Config struct {
	// Server configures the HTTP surface.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Lock configures the run lock manager.
	Lock LockConfig `yaml:"lock" env:"LOCK"`

	// Idempotency configures the idempotency store.
	Idempotency IdempotencyConfig `yaml:"idempotency" env:"IDEMPOTENCY"`

	// Checkpoint configures the checkpoint store.
	Checkpoint CheckpointConfig `yaml:"checkpoint" env:"CHECKPOINT"`

	// Audit configures the audit ledger.
	Audit AuditConfig `yaml:"audit" env:"AUDIT"`

	// Redis configures the shared Redis connection used by the Redis
	// lock, idempotency and checkpoint backends.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Mongo configures the Mongo lock backend.
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`

	// Database configures the SQL database backing the audit ledger.
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Auth configures API authentication.
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// Log configures logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// RateLimitRPS / RateLimitBurst bound request rates per tenant.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// LockConfig configures the run lock manager.
type LockConfig struct {
	// Backend: "memory", "redis" or "mongo".
	Backend string `yaml:"backend" env:"BACKEND"`

	// TTL is the default lock TTL for a single acquisition.
	TTL time.Duration `yaml:"ttl" env:"TTL"`

	// WaitTimeout bounds the Acquire retry loop.
	WaitTimeout time.Duration `yaml:"wait_timeout" env:"WAIT_TIMEOUT"`

	// RetryInterval is the delay between acquisition attempts.
	RetryInterval time.Duration `yaml:"retry_interval" env:"RETRY_INTERVAL"`

	// KeyPrefix namespaces lock keys in shared backends.
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// IdempotencyConfig configures the idempotency store.
type IdempotencyConfig struct {
	// Backend: "memory" or "redis".
	Backend string `yaml:"backend" env:"BACKEND"`

	// RetentionTTL is how long records are kept after their last
	// transition. Zero keeps them forever.
	RetentionTTL time.Duration `yaml:"retention_ttl" env:"RETENTION_TTL"`

	// CleanupInterval is the memory backend's sweep interval.
	CleanupInterval time.Duration `yaml:"cleanup_interval" env:"CLEANUP_INTERVAL"`

	// KeyPrefix namespaces record keys in shared backends.
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// CheckpointConfig configures the checkpoint store.
type CheckpointConfig struct {
	// Backend: "memory" or "redis".
	Backend string `yaml:"backend" env:"BACKEND"`

	// TTL bounds checkpoint lifetime in the Redis backend. Zero keeps
	// checkpoints until deleted.
	TTL time.Duration `yaml:"ttl" env:"TTL"`

	// KeyPrefix namespaces checkpoint keys in shared backends.
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// AuditConfig configures the audit ledger.
type AuditConfig struct {
	// Backend: "memory" or "sql". The memory backend is for embedded and
	// test use only; durable deployments use sql.
	Backend string `yaml:"backend" env:"BACKEND"`

	// SigningKeyPath points to a raw Ed25519 private key (base64 or
	// 64-byte binary) used to sign exports. Empty disables signing.
	SigningKeyPath string `yaml:"signing_key_path" env:"SIGNING_KEY_PATH"`

	// SigningKeyID is recorded on export signatures.
	SigningKeyID string `yaml:"signing_key_id" env:"SIGNING_KEY_ID"`
}

// RedisConfig configures the shared Redis connection.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// MongoConfig configures the Mongo lock backend.
type MongoConfig struct {
	URI        string        `yaml:"uri" env:"URI"`
	Database   string        `yaml:"database" env:"DATABASE"`
	Collection string        `yaml:"collection" env:"COLLECTION"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// DatabaseConfig configures the SQL database backing the audit ledger.
type DatabaseConfig struct {
	// Driver: "postgres", "mysql" or "sqlite".
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// AuthConfig configures API authentication.
type AuthConfig struct {
	// JWTSecret is the HMAC secret verifying bearer tokens. Empty
	// disables authentication (embedded/dev use).
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`

	// Format: json or console.
	Format string `yaml:"format" env:"FORMAT"`

	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with builder-style options.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the RUNLEDGER env prefix.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "RUNLEDGER",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path. A missing file is not an
// error: defaults and environment variables still apply.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix overrides the environment-variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator appends an extra validator run after the built-in one.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration: defaults, then the YAML file, then
// environment overrides, then validation.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct and applies <prefix>_<tag> env vars.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// Comma-separated string slices only.
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}
	return nil
}

// MustLoad loads the config from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads the config from defaults plus environment only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if !oneOf(c.Lock.Backend, "memory", "redis", "mongo") {
		errs = append(errs, fmt.Sprintf("unknown lock backend %q", c.Lock.Backend))
	}
	if !oneOf(c.Idempotency.Backend, "memory", "redis") {
		errs = append(errs, fmt.Sprintf("unknown idempotency backend %q", c.Idempotency.Backend))
	}
	if !oneOf(c.Checkpoint.Backend, "memory", "redis") {
		errs = append(errs, fmt.Sprintf("unknown checkpoint backend %q", c.Checkpoint.Backend))
	}
	if !oneOf(c.Audit.Backend, "memory", "sql") {
		errs = append(errs, fmt.Sprintf("unknown audit backend %q", c.Audit.Backend))
	}
	if c.Audit.Backend == "sql" && !oneOf(c.Database.Driver, "postgres", "mysql", "sqlite") {
		errs = append(errs, fmt.Sprintf("unknown database driver %q", c.Database.Driver))
	}
	if c.Lock.TTL < 0 || c.Lock.WaitTimeout < 0 || c.Lock.RetryInterval < 0 {
		errs = append(errs, "lock durations must not be negative")
	}
	if c.Idempotency.RetentionTTL < 0 {
		errs = append(errs, "idempotency retention_ttl must not be negative")
	}
	if c.Audit.SigningKeyPath != "" && c.Audit.SigningKeyID == "" {
		errs = append(errs, "signing_key_id is required when signing_key_path is set")
	}
	if !oneOf(c.Log.Level, "debug", "info", "warn", "error") {
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func oneOf(value string, allowed ...string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

// DSN returns the driver-specific connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
