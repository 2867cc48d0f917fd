package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Acquire, release, and extend each run as a single server-side script so
// the read-check-write sequence is atomic. The fence counter lives in a
// separate persistent key per run so it survives lock expiry.
var (
	acquireScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
  return {0, existing}
end
local fence = redis.call('INCR', KEYS[2])
local lock = cjson.decode(ARGV[1])
lock['fence'] = fence
local data = cjson.encode(lock)
redis.call('SET', KEYS[1], data, 'PX', ARGV[2])
return {1, data}
`)

	releaseScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if not existing then
  return 0
end
local lock = cjson.decode(existing)
if lock['holder_id'] ~= ARGV[1] then
  return 0
end
redis.call('DEL', KEYS[1])
return 1
`)

	extendScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if not existing then
  return 0
end
local lock = cjson.decode(existing)
if lock['holder_id'] ~= ARGV[1] then
  return 0
end
lock['expires_at'] = ARGV[3]
redis.call('SET', KEYS[1], cjson.encode(lock), 'PX', ARGV[2])
return 1
`)
)

// RedisManager is a Redis-backed Manager implementation.
// Suitable for distributed deployments. Lock documents carry a TTL so
// expired locks are reaped by Redis itself.
type RedisManager struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger
}

// RedisConfig contains Redis connection settings for the lock manager.
type RedisConfig struct {
	// Addr is the host:port of the Redis server.
	Addr string `json:"addr" yaml:"addr"`

	// Password is the Redis password (optional).
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number.
	DB int `json:"db" yaml:"db"`

	// KeyPrefix is the prefix for all lock keys (default: "runledger:").
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// NewRedisManager creates a Redis-backed lock manager and verifies the
// connection.
func NewRedisManager(cfg RedisConfig, logger *zap.Logger) (*RedisManager, error) {
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

	return &RedisManager{
		client:    client,
		keyPrefix: keyPrefix + "lock:",
		logger:    logger.With(zap.String("component", "lock_redis")),
	}, nil
}

// NewRedisManagerFromClient wraps an existing client (used in tests).
func NewRedisManagerFromClient(client *redis.Client, keyPrefix string, logger *zap.Logger) *RedisManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if keyPrefix == "" {
		keyPrefix = "runledger:"
	}
	return &RedisManager{
		client:    client,
		keyPrefix: keyPrefix + "lock:",
		logger:    logger.With(zap.String("component", "lock_redis")),
	}
}

func (m *RedisManager) dataKey(runID string) string {
	return m.keyPrefix + "data:" + runID
}

func (m *RedisManager) fenceKey(runID string) string {
	return m.keyPrefix + "fence:" + runID
}

// TryAcquire implements Manager.TryAcquire.
func (m *RedisManager) TryAcquire(ctx context.Context, runID string, opts TryAcquireOptions) (*TryAcquireResult, error) {
	if runID == "" {
		return nil, ErrInvalidRunID
	}
	opts = opts.withDefaults()

	now := time.Now()
	candidate := &RunLock{
		RunID:      runID,
		HolderID:   uuid.New().String(),
		AcquiredAt: now,
		ExpiresAt:  now.Add(opts.TTL),
		Reason:     opts.Reason,
	}
	payload, err := json.Marshal(candidate)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal lock: %w", err)
	}

	raw, err := acquireScript.Run(ctx, m.client,
		[]string{m.dataKey(runID), m.fenceKey(runID)},
		string(payload), opts.TTL.Milliseconds(),
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("acquire script failed: %w", err)
	}
	if len(raw) != 2 {
		return nil, fmt.Errorf("acquire script returned %d values", len(raw))
	}

	acquired, _ := raw[0].(int64)
	data, _ := raw[1].(string)

	var stored RunLock
	if err := json.Unmarshal([]byte(data), &stored); err != nil {
		return nil, fmt.Errorf("failed to unmarshal lock: %w", err)
	}

	if acquired == 0 {
		return &TryAcquireResult{ExistingHolderID: stored.HolderID}, nil
	}

	m.logger.Debug("lock acquired",
		zap.String("run_id", runID),
		zap.String("holder_id", stored.HolderID),
		zap.Int64("fence", stored.Fence),
	)
	return &TryAcquireResult{Acquired: true, Lock: &stored}, nil
}

// Release implements Manager.Release.
func (m *RedisManager) Release(ctx context.Context, runID, holderID string) (bool, error) {
	n, err := releaseScript.Run(ctx, m.client, []string{m.dataKey(runID)}, holderID).Int()
	if err != nil {
		return false, fmt.Errorf("release script failed: %w", err)
	}
	if n == 1 {
		m.logger.Debug("lock released",
			zap.String("run_id", runID),
			zap.String("holder_id", holderID),
		)
	}
	return n == 1, nil
}

// Extend implements Manager.Extend.
func (m *RedisManager) Extend(ctx context.Context, runID, holderID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTryAcquireOptions().TTL
	}
	expiresAt, err := time.Now().Add(ttl).MarshalText()
	if err != nil {
		return false, err
	}

	n, err := extendScript.Run(ctx, m.client,
		[]string{m.dataKey(runID)},
		holderID, ttl.Milliseconds(), string(expiresAt),
	).Int()
	if err != nil {
		return false, fmt.Errorf("extend script failed: %w", err)
	}
	return n == 1, nil
}

// ForceRelease implements Manager.ForceRelease.
func (m *RedisManager) ForceRelease(ctx context.Context, runID string) (bool, error) {
	n, err := m.client.Del(ctx, m.dataKey(runID)).Result()
	if err != nil {
		return false, err
	}
	if n > 0 {
		m.logger.Info("lock force released", zap.String("run_id", runID))
	}
	return n > 0, nil
}

// List implements Manager.List. Expired lock documents are evicted by
// Redis key TTLs, so the scan only ever observes live locks.
func (m *RedisManager) List(ctx context.Context) ([]*RunLock, error) {
	result := make([]*RunLock, 0)

	iter := m.client.Scan(ctx, 0, m.keyPrefix+"data:*", 100).Iterator()
	for iter.Next(ctx) {
		data, err := m.client.Get(ctx, iter.Val()).Bytes()
		if err == redis.Nil {
			continue // expired between scan and read
		}
		if err != nil {
			return nil, err
		}

		var l RunLock
		if err := json.Unmarshal(data, &l); err != nil {
			m.logger.Warn("skipping malformed lock document", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		result = append(result, &l)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Close implements Manager.Close.
func (m *RedisManager) Close() error {
	return m.client.Close()
}

// Ensure RedisManager implements Manager
var _ Manager = (*RedisManager)(nil)
