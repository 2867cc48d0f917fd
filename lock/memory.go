package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MemoryManager is an in-process Manager implementation.
// Suitable for embedded single-process deployments and testing.
type MemoryManager struct {
	mu     sync.Mutex
	locks  map[string]*RunLock
	fences map[string]int64
	logger *zap.Logger
	now    func() time.Time
}

// NewMemoryManager creates a new in-process lock manager.
func NewMemoryManager(logger *zap.Logger) *MemoryManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryManager{
		locks:  make(map[string]*RunLock),
		fences: make(map[string]int64),
		logger: logger.With(zap.String("component", "lock_memory")),
		now:    time.Now,
	}
}

// TryAcquire implements Manager.TryAcquire.
func (m *MemoryManager) TryAcquire(ctx context.Context, runID string, opts TryAcquireOptions) (*TryAcquireResult, error) {
	if runID == "" {
		return nil, ErrInvalidRunID
	}
	opts = opts.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.locks[runID]; ok && !existing.Expired(now) {
		return &TryAcquireResult{ExistingHolderID: existing.HolderID}, nil
	}

	m.fences[runID]++
	l := &RunLock{
		RunID:      runID,
		HolderID:   uuid.New().String(),
		Fence:      m.fences[runID],
		AcquiredAt: now,
		ExpiresAt:  now.Add(opts.TTL),
		Reason:     opts.Reason,
	}
	m.locks[runID] = l

	m.logger.Debug("lock acquired",
		zap.String("run_id", runID),
		zap.String("holder_id", l.HolderID),
		zap.Int64("fence", l.Fence),
	)

	cp := *l
	return &TryAcquireResult{Acquired: true, Lock: &cp}, nil
}

// Release implements Manager.Release.
func (m *MemoryManager) Release(ctx context.Context, runID, holderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[runID]
	if !ok || existing.HolderID != holderID {
		return false, nil
	}
	delete(m.locks, runID)

	m.logger.Debug("lock released",
		zap.String("run_id", runID),
		zap.String("holder_id", holderID),
	)
	return true, nil
}

// Extend implements Manager.Extend.
func (m *MemoryManager) Extend(ctx context.Context, runID, holderID string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = DefaultTryAcquireOptions().TTL
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[runID]
	if !ok || existing.HolderID != holderID || existing.Expired(m.now()) {
		return false, nil
	}
	existing.ExpiresAt = m.now().Add(ttl)
	return true, nil
}

// ForceRelease implements Manager.ForceRelease.
func (m *MemoryManager) ForceRelease(ctx context.Context, runID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.locks[runID]; !ok {
		return false, nil
	}
	delete(m.locks, runID)

	m.logger.Info("lock force released", zap.String("run_id", runID))
	return true, nil
}

// List implements Manager.List. Expired entries encountered during the
// scan are reaped.
func (m *MemoryManager) List(ctx context.Context) ([]*RunLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	result := make([]*RunLock, 0, len(m.locks))
	for runID, l := range m.locks {
		if l.Expired(now) {
			delete(m.locks, runID)
			continue
		}
		cp := *l
		result = append(result, &cp)
	}
	return result, nil
}

// Close implements Manager.Close.
func (m *MemoryManager) Close() error {
	return nil
}

// Ensure MemoryManager implements Manager
var _ Manager = (*MemoryManager)(nil)
