// Package coordinator composes the lock, idempotency, checkpoint and
// audit layers into a single executor-facing surface. A Coordinator is
// explicitly constructed and passed where needed; the ambient default in
// ambient.go exists for tests only.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/runledger/audit"
	"github.com/BaSui01/runledger/checkpoint"
	"github.com/BaSui01/runledger/idempotency"
	"github.com/BaSui01/runledger/internal/ctxkeys"
	"github.com/BaSui01/runledger/internal/metrics"
	"github.com/BaSui01/runledger/lock"
	"github.com/BaSui01/runledger/run"
)

// Common errors
var (
	// ErrInvalidRun is returned when the run is nil or has no identifier.
	ErrInvalidRun = errors.New("run must have an id")

	// ErrUnknownStep is returned when the requested step is not part of
	// the run.
	ErrUnknownStep = errors.New("step not found in run")
)

// Config assembles a Coordinator. Locks, Idempotency, Checkpoints and
// Audit are required; the rest is optional.
type Config struct {
	// Locks grants per-run mutual exclusion.
	Locks lock.Manager

	// Idempotency guards step side effects against duplicate execution.
	Idempotency idempotency.Store

	// Checkpoints records run progress for resume.
	Checkpoints *checkpoint.Manager

	// Audit receives lifecycle events.
	Audit *audit.Log

	// LockOptions configures the run-lock acquisition retry loop
	// (zero value uses lock.DefaultAcquireOptions).
	LockOptions lock.AcquireOptions

	// Actor is recorded on emitted audit entries
	// (default: service/runledger).
	Actor audit.Actor

	// Metrics is an optional collector for coordination metrics.
	Metrics *metrics.Collector

	// LockBackend labels lock metrics, e.g. "memory" or "redis".
	LockBackend string

	// Logger for internal warnings. Defaults to a no-op logger.
	Logger *zap.Logger
}

// Coordinator executes steps under the full coordination stack: run lock
// held, idempotency guarded, checkpointed and audited.
type Coordinator struct {
	locks       lock.Manager
	idempotency idempotency.Store
	checkpoints *checkpoint.Manager
	audit       *audit.Log

	lockOpts    lock.AcquireOptions
	actor       audit.Actor
	metrics     *metrics.Collector
	lockBackend string
	logger      *zap.Logger
}

// New builds a Coordinator from the config.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Locks == nil {
		return nil, errors.New("coordinator: lock manager is required")
	}
	if cfg.Idempotency == nil {
		return nil, errors.New("coordinator: idempotency store is required")
	}
	if cfg.Checkpoints == nil {
		return nil, errors.New("coordinator: checkpoint manager is required")
	}
	if cfg.Audit == nil {
		return nil, errors.New("coordinator: audit log is required")
	}

	actor := cfg.Actor
	if actor.Type == "" {
		actor = audit.Actor{Type: "service", ID: "runledger"}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := cfg.LockBackend
	if backend == "" {
		backend = "unknown"
	}

	return &Coordinator{
		locks:       cfg.Locks,
		idempotency: cfg.Idempotency,
		checkpoints: cfg.Checkpoints,
		audit:       cfg.Audit,
		lockOpts:    cfg.LockOptions,
		actor:       actor,
		metrics:     cfg.Metrics,
		lockBackend: backend,
		logger:      logger.With(zap.String("component", "coordinator")),
	}, nil
}

// Locks exposes the underlying lock manager, e.g. for admin endpoints.
func (c *Coordinator) Locks() lock.Manager { return c.locks }

// Idempotency exposes the underlying idempotency store.
func (c *Coordinator) Idempotency() idempotency.Store { return c.idempotency }

// Checkpoints exposes the underlying checkpoint manager.
func (c *Coordinator) Checkpoints() *checkpoint.Manager { return c.checkpoints }

// Audit exposes the underlying audit ledger.
func (c *Coordinator) Audit() *audit.Log { return c.audit }

// AnalyzeResumePoint determines where the run should resume, consulting
// the stored checkpoint.
func (c *Coordinator) AnalyzeResumePoint(ctx context.Context, r *run.Run, opts checkpoint.ResumeOptions) (*checkpoint.ResumePoint, error) {
	return c.checkpoints.AnalyzeResumePoint(ctx, r, opts)
}

// ExecuteStep runs fn for the identified step with the full coordination
// stack applied: the run lock is held for the duration, the execution is
// idempotency-guarded on (run, step, operation, input), a checkpoint is
// saved on success, and lifecycle events are appended to the audit chain.
//
// A replayed result (the step already ran under the same key) returns the
// cached value without invoking fn. Checkpoint and audit failures after a
// successful execution are logged, not returned: the side effect already
// happened and must not be retried because bookkeeping lagged.
func ExecuteStep[T any](ctx context.Context, c *Coordinator, r *run.Run, stepID string, input any, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if r == nil || r.ID == "" {
		return zero, ErrInvalidRun
	}
	idx := r.StepIndex(stepID)
	if idx < 0 {
		return zero, fmt.Errorf("%w: %s", ErrUnknownStep, stepID)
	}
	step := r.Steps[idx]
	ctx = ctxkeys.WithRunID(ctx, r.ID)

	waitStart := time.Now()
	res, err := lock.Acquire(ctx, c.locks, r.ID, c.lockOpts)
	if err != nil {
		c.recordLockAcquisition("conflict", time.Since(waitStart))
		c.appendEvent(ctx, r.TenantID, LockDeniedEvent(c.actor, r, err))
		return zero, err
	}
	l := res.Lock
	c.recordLockAcquisition("acquired", time.Since(waitStart))
	c.appendEvent(ctx, r.TenantID, LockAcquiredEvent(c.actor, r, l))

	defer func() {
		// Release must not inherit a cancelled request context.
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if _, rerr := c.locks.Release(releaseCtx, r.ID, l.HolderID); rerr != nil {
			c.logger.Warn("failed to release run lock",
				zap.String("run_id", r.ID),
				zap.Error(rerr))
		}
		if c.metrics != nil {
			c.metrics.RecordLockHold(c.lockBackend, time.Since(l.AcquiredAt))
		}
		c.appendEvent(releaseCtx, r.TenantID, LockReleasedEvent(c.actor, r, l))
	}()

	c.appendEvent(ctx, r.TenantID, StepStartedEvent(c.actor, r, step))

	executed := false
	components := idempotency.Components{
		RunID:     r.ID,
		StepID:    step.ID,
		Operation: step.Name,
		Input:     input,
	}
	result, execErr := idempotency.WithIdempotency(ctx, c.idempotency, components, func(ctx context.Context) (T, error) {
		executed = true
		return fn(ctx)
	})
	c.recordIdempotencyOutcome(step, executed, execErr)

	if execErr != nil {
		c.appendEvent(ctx, r.TenantID, StepFailedEvent(c.actor, r, step, execErr))
		return zero, execErr
	}

	if executed {
		c.saveCheckpoint(ctx, r, idx, result)
	}
	c.appendEvent(ctx, r.TenantID, StepCompletedEvent(c.actor, r, step, !executed))
	return result, nil
}

// saveCheckpoint records post-step progress: the step is marked completed
// on a snapshot so the checkpoint's resume index lands past it.
func (c *Coordinator) saveCheckpoint(ctx context.Context, r *run.Run, idx int, result any) {
	snapshot := *r
	snapshot.Steps = append([]run.Step(nil), r.Steps...)
	snapshot.Steps[idx].Status = run.StepStatusCompleted

	artifacts, _ := result.(map[string]any)
	if artifacts != nil {
		snapshot.Steps[idx].Output = artifacts
	}

	if _, err := c.checkpoints.Create(ctx, &snapshot, artifacts); err != nil {
		c.logger.Warn("failed to save checkpoint",
			zap.String("run_id", r.ID),
			zap.Error(err))
		return
	}
	if c.metrics != nil {
		c.metrics.RecordCheckpointSaved(c.lockBackend)
	}
}

func (c *Coordinator) recordLockAcquisition(result string, waited time.Duration) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordLockAcquisition(c.lockBackend, result, waited)
}

func (c *Coordinator) recordIdempotencyOutcome(step run.Step, executed bool, err error) {
	if c.metrics == nil {
		return
	}
	if executed {
		c.metrics.RecordIdempotencyMiss(step.Name)
		return
	}
	var recorded *idempotency.RecordedError
	switch {
	case errors.As(err, &recorded):
		c.metrics.RecordIdempotencyHit(string(idempotency.StatusFailed))
	case errors.Is(err, idempotency.ErrExecutionInFlight):
		c.metrics.RecordIdempotencyHit(string(idempotency.StatusPending))
	case err == nil:
		c.metrics.RecordIdempotencyHit(string(idempotency.StatusCompleted))
	}
}

// RecordForceRelease audits an administrative lock override as a
// high-risk entry.
func (c *Coordinator) RecordForceRelease(ctx context.Context, tenantID, runID, reason string) {
	c.appendEvent(ctx, tenantID, ForceReleaseEvent(c.actor, runID, reason))
}

// appendEvent appends a lifecycle entry, logging failures instead of
// propagating them: losing an event must not fail the guarded step.
func (c *Coordinator) appendEvent(ctx context.Context, tenantID string, e audit.Entry) {
	if tenantID == "" {
		return
	}
	if _, err := c.audit.Append(ctx, tenantID, e); err != nil {
		c.logger.Warn("failed to append audit entry",
			zap.String("tenant_id", tenantID),
			zap.String("action", e.Action.Name),
			zap.Error(err))
	}
}
