package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore is a Redis-backed checkpoint store for distributed
// deployments. One key per run holds the serialized checkpoint; a set
// tracks known run IDs so List does not need a SCAN.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	logger    *zap.Logger
}

var _ Store = (*RedisStore)(nil)

// RedisConfig contains Redis connection settings for the checkpoint store.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `json:"addr" yaml:"addr"`

	// Password is the Redis password (optional).
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number.
	DB int `json:"db" yaml:"db"`

	// KeyPrefix is the prefix for all keys (default: "runledger:").
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// TTL bounds how long an abandoned checkpoint is kept. Zero keeps
	// checkpoints until the run terminates and deletes them.
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// NewRedisStore creates a Redis-backed checkpoint store and verifies the
// connection.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
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
		keyPrefix: keyPrefix + "ckpt:",
		ttl:       cfg.TTL,
		logger:    logger.With(zap.String("component", "checkpoint_redis")),
	}, nil
}

// NewRedisStoreFromClient wraps an existing client (used in tests).
func NewRedisStoreFromClient(client *redis.Client, keyPrefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "runledger:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "ckpt:",
		ttl:       ttl,
		logger:    logger.With(zap.String("component", "checkpoint_redis")),
	}
}

func (s *RedisStore) dataKey(runID string) string {
	return s.keyPrefix + "data:" + runID
}

func (s *RedisStore) indexKey() string {
	return s.keyPrefix + "index"
}

// Save stores the checkpoint, superseding any previous one for the run.
func (s *RedisStore) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.dataKey(cp.RunID), data, s.ttl)
	pipe.SAdd(ctx, s.indexKey(), cp.RunID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}

	s.logger.Debug("checkpoint saved",
		zap.String("run_id", cp.RunID),
		zap.Int("current_step_index", cp.CurrentStepIndex),
	)
	return nil
}

// Get returns the checkpoint for a run, or ErrNotFound.
func (s *RedisStore) Get(ctx context.Context, runID string) (*Checkpoint, error) {
	data, err := s.client.Get(ctx, s.dataKey(runID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// Delete removes the checkpoint for a run.
func (s *RedisStore) Delete(ctx context.Context, runID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.dataKey(runID))
	pipe.SRem(ctx, s.indexKey(), runID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// List returns all stored checkpoints. Index members whose data key has
// expired are dropped from the index as they are encountered.
func (s *RedisStore) List(ctx context.Context) ([]*Checkpoint, error) {
	runIDs, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	out := make([]*Checkpoint, 0, len(runIDs))
	for _, runID := range runIDs {
		cp, err := s.Get(ctx, runID)
		if errors.Is(err, ErrNotFound) {
			s.client.SRem(ctx, s.indexKey(), runID)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
