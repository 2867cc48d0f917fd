// Package lock provides short-lived, renewable mutual-exclusion locks
// keyed by run identifier.
//
// A run executor must hold the run's lock for the lifetime of an active
// step. Staleness is governed purely by TTL: there is no heartbeat, so a
// long-running holder must call Extend proactively or risk preemption
// once the TTL elapses. Every acquisition increments a per-run fencing
// counter, surfaced on RunLock.Fence, so downstream consumers can detect
// writes from a holder that has since been preempted.
//
// Supported backends:
// - Memory: in-process map, for embedded use and testing
// - Redis: for distributed deployments backed by Redis
// - Mongo: for distributed deployments backed by a document store
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Common errors
var (
	// ErrLockHeld is returned by Acquire and WithLock when the lock could
	// not be obtained before the wait deadline. TryAcquire never returns
	// it: contention there is reported through TryAcquireResult.
	ErrLockHeld = errors.New("lock is held by another holder")

	// ErrInvalidRunID is returned when the run identifier is empty.
	ErrInvalidRunID = errors.New("run id must not be empty")
)

// RunLock describes one unexpired lock acquisition.
type RunLock struct {
	// RunID is the run this lock guards.
	RunID string `json:"run_id"`

	// HolderID is an opaque token unique per acquisition attempt.
	HolderID string `json:"holder_id"`

	// Fence is the monotonic fencing counter for this run. It increases
	// by one on every successful acquisition, including takeovers of
	// expired locks.
	Fence int64 `json:"fence"`

	// AcquiredAt is when the lock was granted.
	AcquiredAt time.Time `json:"acquired_at"`

	// ExpiresAt is when the lock lapses unless extended.
	ExpiresAt time.Time `json:"expires_at"`

	// Reason is an optional operator-visible note.
	Reason string `json:"reason,omitempty"`
}

// Expired reports whether the lock has lapsed as of now.
func (l *RunLock) Expired(now time.Time) bool {
	return !now.Before(l.ExpiresAt)
}

// TryAcquireResult is the structured outcome of a TryAcquire call.
// Contention is expected and non-fatal: it is reported here, never as an
// error.
type TryAcquireResult struct {
	// Acquired is true when the caller now holds the lock.
	Acquired bool `json:"acquired"`

	// Lock is the granted lock (only when Acquired).
	Lock *RunLock `json:"lock,omitempty"`

	// ExistingHolderID identifies the current holder (only when not
	// Acquired).
	ExistingHolderID string `json:"existing_holder_id,omitempty"`
}

// TryAcquireOptions configures a single acquisition attempt.
type TryAcquireOptions struct {
	// TTL is how long the lock remains valid without an Extend
	// (default: 60s).
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	// Reason is an optional operator-visible note stored on the lock.
	Reason string `json:"reason,omitempty" yaml:"reason"`
}

// DefaultTryAcquireOptions returns the default single-attempt options.
func DefaultTryAcquireOptions() TryAcquireOptions {
	return TryAcquireOptions{TTL: 60 * time.Second}
}

// withDefaults fills zero fields with defaults.
func (o TryAcquireOptions) withDefaults() TryAcquireOptions {
	if o.TTL <= 0 {
		o.TTL = 60 * time.Second
	}
	return o
}

// AcquireOptions configures Acquire's retry loop.
type AcquireOptions struct {
	TryAcquireOptions `yaml:",inline"`

	// WaitTimeout is the total time to keep retrying (default: 30s).
	WaitTimeout time.Duration `json:"wait_timeout" yaml:"wait_timeout"`

	// RetryInterval is the fixed delay between attempts (default: 500ms).
	RetryInterval time.Duration `json:"retry_interval" yaml:"retry_interval"`
}

// DefaultAcquireOptions returns the default retry options.
func DefaultAcquireOptions() AcquireOptions {
	return AcquireOptions{
		TryAcquireOptions: DefaultTryAcquireOptions(),
		WaitTimeout:       30 * time.Second,
		RetryInterval:     500 * time.Millisecond,
	}
}

func (o AcquireOptions) withDefaults() AcquireOptions {
	o.TryAcquireOptions = o.TryAcquireOptions.withDefaults()
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = 30 * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = 500 * time.Millisecond
	}
	return o
}

// Manager grants and tracks run locks. Implementations must guarantee
// that at most one unexpired lock exists per run id at any instant.
type Manager interface {
	// TryAcquire attempts a single acquisition. Contention is reported
	// through the result, not as an error.
	TryAcquire(ctx context.Context, runID string, opts TryAcquireOptions) (*TryAcquireResult, error)

	// Release releases the lock if holderID matches the current holder.
	// Returns false (not an error) on mismatch or absence.
	Release(ctx context.Context, runID, holderID string) (bool, error)

	// Extend pushes the expiry forward by ttl if holderID matches.
	// Returns false on mismatch or absence.
	Extend(ctx context.Context, runID, holderID string, ttl time.Duration) (bool, error)

	// ForceRelease removes the lock without an ownership check.
	// Administrative override; returns false when no lock exists.
	ForceRelease(ctx context.Context, runID string) (bool, error)

	// List returns all unexpired locks. Implementations opportunistically
	// reap expired entries encountered while listing.
	List(ctx context.Context) ([]*RunLock, error)

	// Close releases backend resources.
	Close() error
}

// Acquire retries TryAcquire on a fixed interval until success or the
// wait timeout elapses. On timeout it returns the last contention result
// together with ErrLockHeld so the caller still learns the holder.
func Acquire(ctx context.Context, m Manager, runID string, opts AcquireOptions) (*TryAcquireResult, error) {
	opts = opts.withDefaults()
	deadline := time.Now().Add(opts.WaitTimeout)

	var last *TryAcquireResult
	for {
		res, err := m.TryAcquire(ctx, runID, opts.TryAcquireOptions)
		if err != nil {
			return nil, err
		}
		if res.Acquired {
			return res, nil
		}
		last = res

		if time.Now().Add(opts.RetryInterval).After(deadline) {
			return last, fmt.Errorf("%w: run %s held by %s", ErrLockHeld, runID, last.ExistingHolderID)
		}

		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-time.After(opts.RetryInterval):
		}
	}
}

// WithLock acquires the run lock, executes fn with the lock handle, and
// unconditionally releases afterwards regardless of whether fn returns or
// panics. Failure to acquire surfaces as an error (wrapping ErrLockHeld)
// since there is no other way to report the state to the caller.
func WithLock[T any](ctx context.Context, m Manager, runID string, opts AcquireOptions, fn func(ctx context.Context, l *RunLock) (T, error)) (T, error) {
	var zero T

	res, err := Acquire(ctx, m, runID, opts)
	if err != nil {
		return zero, err
	}
	l := res.Lock

	defer func() {
		// Release failures are not actionable by the caller: the TTL will
		// reap the lock regardless.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_, _ = m.Release(releaseCtx, runID, l.HolderID)
	}()

	return fn(ctx, l)
}
