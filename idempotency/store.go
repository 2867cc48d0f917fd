package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	// ErrNotFound is returned when no record exists for a key.
	ErrNotFound = errors.New("idempotency record not found")

	// ErrExecutionInFlight is returned by WithIdempotency when a record
	// is still pending: another worker created it and has not reported an
	// outcome yet. Callers should retry after a delay.
	ErrExecutionInFlight = errors.New("operation is already executing")
)

// RecordedError is the replayed failure of a previously failed operation.
// WithIdempotency returns it instead of re-invoking the function.
type RecordedError struct {
	Key     string
	Message string
}

func (e *RecordedError) Error() string {
	return fmt.Sprintf("operation previously failed: %s", e.Message)
}

// RetentionConfig makes record retention an explicit policy. The zero
// value keeps records forever, matching the reference behavior; set TTL
// to enable expiry.
type RetentionConfig struct {
	// TTL is how long records are kept after their last transition.
	// Zero means keep forever.
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// CleanupInterval is how often the memory backend sweeps expired
	// records (default: 5m; ignored when TTL is zero and by backends
	// with native expiry).
	CleanupInterval time.Duration `json:"cleanup_interval" yaml:"cleanup_interval"`
}

// DefaultRetentionConfig returns the default retention policy.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		TTL:             0,
		CleanupInterval: 5 * time.Minute,
	}
}

func (c RetentionConfig) withDefaults() RetentionConfig {
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 5 * time.Minute
	}
	return c
}

// Store persists idempotency records.
type Store interface {
	// Create inserts a pending record for the key if absent. When the
	// key already exists the stored record is returned with
	// created=false and nothing is overwritten.
	Create(ctx context.Context, key string, components StoredComponents) (record *Record, created bool, err error)

	// Get returns the record for a key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Record, error)

	// Complete transitions pending -> completed with the given result.
	// Calling it again for an already completed key is a no-op.
	Complete(ctx context.Context, key string, result any) error

	// Fail transitions pending -> failed with the given message.
	// Calling it again for an already failed key is a no-op.
	Fail(ctx context.Context, key string, message string) error

	// ListByRun returns all records whose components name the run,
	// in no particular order.
	ListByRun(ctx context.Context, runID string) ([]*Record, error)

	// Close releases backend resources.
	Close() error
}

// WithIdempotency guards fn with an idempotency record derived from the
// components. The function executes at most once per key across all
// callers: later calls observe the recorded result or failure without
// re-invoking fn. A pending record from another worker surfaces as
// ErrExecutionInFlight.
func WithIdempotency[T any](ctx context.Context, s Store, c Components, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	key, components, err := GenerateKey(c)
	if err != nil {
		return zero, err
	}

	record, created, err := s.Create(ctx, key, *components)
	if err != nil {
		return zero, err
	}

	if !created {
		switch record.Status {
		case StatusCompleted:
			var result T
			if len(record.Result) > 0 {
				if err := json.Unmarshal(record.Result, &result); err != nil {
					return zero, fmt.Errorf("failed to unmarshal cached result: %w", err)
				}
			}
			return result, nil
		case StatusFailed:
			return zero, &RecordedError{Key: key, Message: record.Error}
		default:
			return zero, fmt.Errorf("%w: key %s", ErrExecutionInFlight, key)
		}
	}

	result, fnErr := fn(ctx)
	if fnErr != nil {
		if err := s.Fail(ctx, key, fnErr.Error()); err != nil {
			return zero, fmt.Errorf("failed to record failure: %w (original error: %v)", err, fnErr)
		}
		return zero, fnErr
	}

	if err := s.Complete(ctx, key, result); err != nil {
		return zero, fmt.Errorf("failed to record result: %w", err)
	}
	return result, nil
}
