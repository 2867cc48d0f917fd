package checkpoint

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// MemoryStore is an in-process checkpoint store for embedded deployments
// and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	checkpoints map[string]*Checkpoint
	logger      *zap.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory checkpoint store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		checkpoints: make(map[string]*Checkpoint),
		logger:      logger.With(zap.String("store", "memory_checkpoint")),
	}
}

// Save stores the checkpoint, superseding any previous one for the run.
func (s *MemoryStore) Save(ctx context.Context, cp *Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.checkpoints[cp.RunID] = copyCheckpoint(cp)
	return nil
}

// Get returns the checkpoint for a run, or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, runID string) (*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.checkpoints[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyCheckpoint(cp), nil
}

// Delete removes the checkpoint for a run.
func (s *MemoryStore) Delete(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.checkpoints, runID)
	return nil
}

// List returns all stored checkpoints.
func (s *MemoryStore) List(ctx context.Context) ([]*Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Checkpoint, 0, len(s.checkpoints))
	for _, cp := range s.checkpoints {
		out = append(out, copyCheckpoint(cp))
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// copyCheckpoint guards callers against mutating shared state. The artifact
// map is copied one level deep, matching the shallow-merge semantics used
// throughout the package.
func copyCheckpoint(cp *Checkpoint) *Checkpoint {
	out := *cp
	out.CompletedSteps = append([]string(nil), cp.CompletedSteps...)
	if cp.Artifacts != nil {
		out.Artifacts = make(map[string]any, len(cp.Artifacts))
		for k, v := range cp.Artifacts {
			out.Artifacts[k] = v
		}
	}
	return &out
}
