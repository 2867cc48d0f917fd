package idempotency

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore is an in-process Store implementation.
// Suitable for embedded single-process deployments and testing.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string]*Record
	retention RetentionConfig
	logger    *zap.Logger
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewMemoryStore creates an in-process idempotency store. When the
// retention TTL is non-zero a background sweeper removes expired records.
func NewMemoryStore(retention RetentionConfig, logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{
		records:   make(map[string]*Record),
		retention: retention.withDefaults(),
		logger:    logger.With(zap.String("component", "idempotency_memory")),
		stopCh:    make(chan struct{}),
	}
	if s.retention.TTL > 0 {
		go s.cleanupLoop()
	}
	return s
}

// cleanupLoop periodically sweeps expired records.
func (s *MemoryStore) cleanupLoop() {
	ticker := time.NewTicker(s.retention.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup removes records whose last transition is older than the TTL.
func (s *MemoryStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-s.retention.TTL)
	expired := 0
	for key, record := range s.records {
		if record.UpdatedAt.Before(cutoff) {
			delete(s.records, key)
			expired++
		}
	}

	if expired > 0 {
		s.logger.Debug("cleaned up expired idempotency records",
			zap.Int("expired", expired),
			zap.Int("remaining", len(s.records)),
		)
	}
}

// Create implements Store.Create.
func (s *MemoryStore) Create(ctx context.Context, key string, components StoredComponents) (*Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[key]; ok {
		cp := *existing
		return &cp, false, nil
	}

	now := time.Now()
	record := &Record{
		Key:        key,
		Components: components,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.records[key] = record

	cp := *record
	return &cp, true, nil
}

// Get implements Store.Get.
func (s *MemoryStore) Get(ctx context.Context, key string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *record
	return &cp, nil
}

// Complete implements Store.Complete.
func (s *MemoryStore) Complete(ctx context.Context, key string, result any) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	if record.Status == StatusCompleted {
		return nil
	}
	record.Status = StatusCompleted
	record.Result = data
	record.Error = ""
	record.UpdatedAt = time.Now()
	return nil
}

// Fail implements Store.Fail.
func (s *MemoryStore) Fail(ctx context.Context, key string, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if !ok {
		return ErrNotFound
	}
	if record.Status == StatusFailed {
		return nil
	}
	record.Status = StatusFailed
	record.Error = message
	record.Result = nil
	record.UpdatedAt = time.Now()
	return nil
}

// ListByRun implements Store.ListByRun.
func (s *MemoryStore) ListByRun(ctx context.Context, runID string) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Record, 0)
	for _, record := range s.records {
		if record.Components.RunID == runID {
			cp := *record
			result = append(result, &cp)
		}
	}
	return result, nil
}

// Close stops the cleanup goroutine.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return nil
}

// Ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)
