// Package checkpoint snapshots run progress so an interrupted run can be
// resumed by any worker. A checkpoint records the first incomplete step,
// the set of completed steps, and the artifacts accumulated so far. Each
// new checkpoint supersedes the previous one for the same run; checkpoints
// are never merged in the store.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/runledger/run"
)

// Checkpoint is a snapshot of a run's progress.
type Checkpoint struct {
	// RunID identifies the run this checkpoint belongs to.
	RunID string `json:"run_id"`

	// TenantID is the tenant that owns the run.
	TenantID string `json:"tenant_id"`

	// CurrentStepIndex is the index of the first step not yet completed.
	CurrentStepIndex int `json:"current_step_index"`

	// CurrentStepName is the name of the step at CurrentStepIndex, empty
	// when every step has completed.
	CurrentStepName string `json:"current_step_name,omitempty"`

	// Status is the run status at checkpoint time.
	Status run.Status `json:"status"`

	// CompletedSteps holds the IDs of all completed steps.
	CompletedSteps []string `json:"completed_steps"`

	// Artifacts is the caller-supplied artifact map, stored verbatim.
	Artifacts map[string]any `json:"artifacts,omitempty"`

	// CheckpointedAt is when the checkpoint was taken.
	CheckpointedAt time.Time `json:"checkpointed_at"`
}

// CompletedSet returns CompletedSteps as a membership set for
// ShouldSkipStep.
func (c *Checkpoint) CompletedSet() map[string]bool {
	set := make(map[string]bool, len(c.CompletedSteps))
	for _, id := range c.CompletedSteps {
		set[id] = true
	}
	return set
}

// Manager creates, loads, and analyzes checkpoints through a pluggable store.
type Manager struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a checkpoint manager backed by the given store.
func NewManager(store Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:  store,
		logger: logger.With(zap.String("component", "checkpoint_manager")),
		now:    time.Now,
	}
}

// Create snapshots the run's current progress together with the supplied
// artifacts and saves it, replacing any previous checkpoint for the run.
func (m *Manager) Create(ctx context.Context, r *run.Run, artifacts map[string]any) (*Checkpoint, error) {
	if r == nil || r.ID == "" {
		return nil, fmt.Errorf("checkpoint: run with a non-empty ID is required")
	}

	index := r.FirstIncompleteIndex()
	cp := &Checkpoint{
		RunID:            r.ID,
		TenantID:         r.TenantID,
		CurrentStepIndex: index,
		Status:           r.Status,
		CompletedSteps:   r.CompletedStepIDs(),
		Artifacts:        artifacts,
		CheckpointedAt:   m.now(),
	}
	if index < len(r.Steps) {
		cp.CurrentStepName = r.Steps[index].Name
	}

	if err := m.store.Save(ctx, cp); err != nil {
		return nil, fmt.Errorf("failed to save checkpoint: %w", err)
	}

	m.logger.Debug("checkpoint created",
		zap.String("run_id", cp.RunID),
		zap.String("tenant_id", cp.TenantID),
		zap.Int("current_step_index", cp.CurrentStepIndex),
		zap.Int("completed_steps", len(cp.CompletedSteps)),
	)

	return cp, nil
}

// Get loads the checkpoint for a run. Returns ErrNotFound when none exists.
func (m *Manager) Get(ctx context.Context, runID string) (*Checkpoint, error) {
	return m.store.Get(ctx, runID)
}

// Delete removes the checkpoint for a run. Deleting a missing checkpoint
// is not an error.
func (m *Manager) Delete(ctx context.Context, runID string) error {
	if err := m.store.Delete(ctx, runID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	m.logger.Debug("checkpoint deleted", zap.String("run_id", runID))
	return nil
}

// List returns all stored checkpoints.
func (m *Manager) List(ctx context.Context) ([]*Checkpoint, error) {
	return m.store.List(ctx)
}

// AnalyzeResumePoint determines where the run should resume. When the store
// holds a checkpoint for the run it is consulted automatically; pass opts to
// override. See the package-level AnalyzeResumePoint for the precedence rules.
func (m *Manager) AnalyzeResumePoint(ctx context.Context, r *run.Run, opts ResumeOptions) (*ResumePoint, error) {
	cp, err := m.store.Get(ctx, r.ID)
	if err != nil && err != ErrNotFound {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	point, err := AnalyzeResumePoint(r, cp, opts)
	if err != nil {
		return nil, err
	}

	m.logger.Info("resume point analyzed",
		zap.String("run_id", r.ID),
		zap.Int("start_from_index", point.StartFromIndex),
		zap.String("start_from_step", point.StartFromStep),
		zap.Bool("from_checkpoint", point.Checkpoint != nil),
	)

	return point, nil
}
