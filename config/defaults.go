package config

import "time"

// DefaultConfig returns the default configuration: memory backends
// everywhere, suitable for embedded use and local development.
func DefaultConfig() *Config {
	return &Config{
		Server:      DefaultServerConfig(),
		Lock:        DefaultLockConfig(),
		Idempotency: DefaultIdempotencyConfig(),
		Checkpoint:  DefaultCheckpointConfig(),
		Audit:       DefaultAuditConfig(),
		Redis:       DefaultRedisConfig(),
		Mongo:       DefaultMongoConfig(),
		Database:    DefaultDatabaseConfig(),
		Auth:        AuthConfig{},
		Log:         DefaultLogConfig(),
		Telemetry:   DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default server configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultLockConfig returns the default lock configuration.
func DefaultLockConfig() LockConfig {
	return LockConfig{
		Backend:       "memory",
		TTL:           60 * time.Second,
		WaitTimeout:   30 * time.Second,
		RetryInterval: 500 * time.Millisecond,
		KeyPrefix:     "runledger:",
	}
}

// DefaultIdempotencyConfig returns the default idempotency
// configuration. Records are kept forever unless retention is set.
func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		Backend:         "memory",
		RetentionTTL:    0,
		CleanupInterval: 5 * time.Minute,
		KeyPrefix:       "runledger:",
	}
}

// DefaultCheckpointConfig returns the default checkpoint configuration.
func DefaultCheckpointConfig() CheckpointConfig {
	return CheckpointConfig{
		Backend:   "memory",
		TTL:       0,
		KeyPrefix: "runledger:",
	}
}

// DefaultAuditConfig returns the default audit configuration.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Backend: "memory",
	}
}

// DefaultRedisConfig returns the default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultMongoConfig returns the default Mongo configuration.
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "runledger",
		Collection: "run_locks",
		Timeout:    10 * time.Second,
	}
}

// DefaultDatabaseConfig returns the default database configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "runledger",
		Password:        "",
		Name:            "runledger",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLogConfig returns the default log configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "runledger",
		SampleRate:   0.1,
	}
}
