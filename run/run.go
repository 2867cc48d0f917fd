// Package run defines the shared data model for multi-step workflow runs.
// The run executor that advances runs lives outside this module; the
// coordination layer (lock, idempotency, checkpoint, audit) only reads
// these types.
package run

import (
	"time"

	"github.com/google/uuid"
)

// Status represents the lifecycle status of a run.
type Status string

const (
	// StatusPending indicates the run has not started executing yet.
	StatusPending Status = "pending"

	// StatusRunning indicates the run is currently executing a step.
	StatusRunning Status = "running"

	// StatusPaused indicates the run was interrupted and may be resumed.
	StatusPaused Status = "paused"

	// StatusCompleted indicates all steps finished successfully.
	StatusCompleted Status = "completed"

	// StatusFailed indicates a step failed and the run stopped.
	StatusFailed Status = "failed"

	// StatusCancelled indicates the run was cancelled by an operator.
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if the status permits no further execution.
// A failed run is not terminal for resume purposes: it may be retried.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// StepStatus represents the lifecycle status of a single step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Step is one unit of work inside a run.
type Step struct {
	// ID is the unique identifier for the step within its run.
	ID string `json:"id"`

	// Name is the human-readable step name.
	Name string `json:"name"`

	// Status is the current step status.
	Status StepStatus `json:"status"`

	// Output contains the step's produced artifacts (when completed).
	Output map[string]any `json:"output,omitempty"`

	// Error contains the error message (when failed).
	Error string `json:"error,omitempty"`

	// StartedAt is when the step began executing.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// CompletedAt is when the step reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Run represents one execution instance of a multi-step workflow.
type Run struct {
	// ID is the unique identifier for the run.
	ID string `json:"id"`

	// TenantID is the tenant that owns the run.
	TenantID string `json:"tenant_id"`

	// WorkflowName identifies the workflow definition this run executes.
	WorkflowName string `json:"workflow_name,omitempty"`

	// Status is the current run status.
	Status Status `json:"status"`

	// Steps are the run's steps in execution order.
	Steps []Step `json:"steps"`

	// CreatedAt is when the run was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the run was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// CompletedStepIDs returns the IDs of all steps in completed status.
func (r *Run) CompletedStepIDs() []string {
	ids := make([]string, 0, len(r.Steps))
	for _, step := range r.Steps {
		if step.Status == StepStatusCompleted {
			ids = append(ids, step.ID)
		}
	}
	return ids
}

// StepIndex returns the index of the step with the given ID, or -1.
func (r *Run) StepIndex(stepID string) int {
	for i, step := range r.Steps {
		if step.ID == stepID {
			return i
		}
	}
	return -1
}

// FirstIncompleteIndex returns the index of the first step whose status is
// not completed, or len(Steps) when every step has completed.
func (r *Run) FirstIncompleteIndex() int {
	for i, step := range r.Steps {
		if step.Status != StepStatusCompleted {
			return i
		}
	}
	return len(r.Steps)
}

// NewID returns a new unique run identifier.
func NewID() string {
	return "run_" + uuid.New().String()
}
