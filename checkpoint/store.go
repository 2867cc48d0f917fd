package checkpoint

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no checkpoint exists for a run.
var ErrNotFound = errors.New("checkpoint: not found")

// Store persists checkpoints keyed by run ID. Save replaces any existing
// checkpoint for the same run.
type Store interface {
	// Save stores the checkpoint, overwriting a previous one for the run.
	Save(ctx context.Context, cp *Checkpoint) error

	// Get returns the checkpoint for a run, or ErrNotFound.
	Get(ctx context.Context, runID string) (*Checkpoint, error)

	// Delete removes the checkpoint for a run. Missing is not an error.
	Delete(ctx context.Context, runID string) error

	// List returns all stored checkpoints.
	List(ctx context.Context) ([]*Checkpoint, error)

	// Close releases store resources.
	Close() error
}
