package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore is a Redis-backed Store implementation.
// Suitable for distributed deployments. Retention uses Redis key TTLs
// natively, so no sweeper goroutine is needed.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	retention RetentionConfig
	logger    *zap.Logger
}

// RedisConfig contains Redis connection settings for the idempotency
// store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `json:"addr" yaml:"addr"`

	// Password is the Redis password (optional).
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number.
	DB int `json:"db" yaml:"db"`

	// KeyPrefix is the prefix for all keys (default: "runledger:").
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// NewRedisStore creates a Redis-backed idempotency store and verifies
// the connection.
func NewRedisStore(cfg RedisConfig, retention RetentionConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "runledger:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "idem:",
		retention: retention.withDefaults(),
		logger:    logger.With(zap.String("component", "idempotency_redis")),
	}, nil
}

// NewRedisStoreFromClient wraps an existing client (used in tests).
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string, retention RetentionConfig, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "runledger:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "idem:",
		retention: retention.withDefaults(),
		logger:    logger.With(zap.String("component", "idempotency_redis")),
	}
}

func (s *RedisStore) dataKey(key string) string {
	return s.keyPrefix + "data:" + key
}

func (s *RedisStore) runKey(runID string) string {
	return s.keyPrefix + "run:" + runID
}

// Create implements Store.Create. The insert races through SETNX so only
// one concurrent creator wins; losers read back the winner's record.
func (s *RedisStore) Create(ctx context.Context, key string, components StoredComponents) (*Record, bool, error) {
	now := time.Now()
	record := &Record{
		Key:        key,
		Components: components,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal record: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.dataKey(key), data, s.retention.TTL).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create record: %w", err)
	}

	if !created {
		existing, err := s.Get(ctx, key)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	// Index by run for ListByRun. Expire the index alongside the records
	// when a TTL is configured.
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, s.runKey(components.RunID), key)
	if s.retention.TTL > 0 {
		pipe.Expire(ctx, s.runKey(components.RunID), s.retention.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to index record: %w", err)
	}

	return record, true, nil
}

// Get implements Store.Get.
func (s *RedisStore) Get(ctx context.Context, key string) (*Record, error) {
	data, err := s.client.Get(ctx, s.dataKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &record, nil
}

// Complete implements Store.Complete.
func (s *RedisStore) Complete(ctx context.Context, key string, result any) error {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	record, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if record.Status == StatusCompleted {
		return nil
	}

	record.Status = StatusCompleted
	record.Result = resultJSON
	record.Error = ""
	record.UpdatedAt = time.Now()
	return s.save(ctx, record)
}

// Fail implements Store.Fail.
func (s *RedisStore) Fail(ctx context.Context, key string, message string) error {
	record, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if record.Status == StatusFailed {
		return nil
	}

	record.Status = StatusFailed
	record.Error = message
	record.Result = nil
	record.UpdatedAt = time.Now()
	return s.save(ctx, record)
}

// save writes a record back, preserving any TTL already on the key.
func (s *RedisStore) save(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.client.Set(ctx, s.dataKey(record.Key), data, redis.KeepTTL).Err()
}

// ListByRun implements Store.ListByRun.
func (s *RedisStore) ListByRun(ctx context.Context, runID string) ([]*Record, error) {
	keys, err := s.client.SMembers(ctx, s.runKey(runID)).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*Record, 0, len(keys))
	for _, key := range keys {
		record, err := s.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			continue // expired under TTL
		}
		if err != nil {
			return nil, err
		}
		result = append(result, record)
	}
	return result, nil
}

// Close implements Store.Close.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
