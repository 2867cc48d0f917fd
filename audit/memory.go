package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore keeps per-tenant chains in process memory. It satisfies the
// same contract as the SQL store and is intended for embedded deployments
// and tests; durability is explicitly out of its scope.
type MemoryStore struct {
	mu      sync.RWMutex
	chains  map[string][]*Entry // tenantID -> entries in sequence order
	entries map[string]*Entry   // entry ID -> entry
	logger  *zap.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory audit store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		chains:  make(map[string][]*Entry),
		entries: make(map[string]*Entry),
		logger:  logger.With(zap.String("store", "memory_audit")),
	}
}

// AppendEntries appends atomically under the store mutex, which doubles
// as the per-tenant tail serialization the chain invariant requires.
func (s *MemoryStore) AppendEntries(ctx context.Context, tenantID string, build ChainFunc) ([]*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chain := s.chains[tenantID]
	nextSeq := int64(len(chain))
	prevHash := ""
	if nextSeq > 0 {
		prevHash = chain[nextSeq-1].Chain.ContentHash
	}

	entries, err := build(nextSeq, prevHash)
	if err != nil {
		return nil, err
	}

	for _, e := range entries {
		s.chains[tenantID] = append(s.chains[tenantID], e)
		s.entries[e.ID] = e
	}
	return entries, nil
}

// GetEntry returns the entry with the given ID, or nil.
func (s *MemoryStore) GetEntry(ctx context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id], nil
}

// GetEntryBySequence returns one entry of a tenant's chain, or nil.
func (s *MemoryStore) GetEntryBySequence(ctx context.Context, tenantID string, seq int64) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[tenantID]
	if seq < 0 || seq >= int64(len(chain)) {
		return nil, nil
	}
	return chain[seq], nil
}

// GetLatestEntry returns the tenant's highest-sequence entry, or nil.
func (s *MemoryStore) GetLatestEntry(ctx context.Context, tenantID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[tenantID]
	if len(chain) == 0 {
		return nil, nil
	}
	return chain[len(chain)-1], nil
}

// GetChainSegment returns entries in [startSeq, endSeq] ascending.
func (s *MemoryStore) GetChainSegment(ctx context.Context, tenantID string, startSeq, endSeq int64) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chain := s.chains[tenantID]
	if startSeq < 0 {
		startSeq = 0
	}
	if endSeq >= int64(len(chain)) {
		endSeq = int64(len(chain)) - 1
	}
	if startSeq > endSeq {
		return nil, nil
	}
	return append([]*Entry(nil), chain[startSeq:endSeq+1]...), nil
}

// Query filters a tenant's chain in memory.
func (s *MemoryStore) Query(ctx context.Context, opts QueryOptions) ([]*Entry, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []*Entry
	for _, e := range s.chains[opts.TenantID] {
		if matchesQuery(e, opts) {
			matched = append(matched, e)
		}
	}

	// Matched entries are in ascending sequence order; default sort is
	// newest first.
	if opts.SortOrder != "asc" {
		for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
			matched[i], matched[j] = matched[j], matched[i]
		}
	}

	total := int64(len(matched))
	matched = paginate(matched, opts.Offset, opts.Limit)
	return matched, total, nil
}

// GetChainState returns the tenant chain's tail state.
func (s *MemoryStore) GetChainState(ctx context.Context, tenantID string) (*ChainState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := &ChainState{TenantID: tenantID, UpdatedAt: time.Now()}
	chain := s.chains[tenantID]
	if len(chain) > 0 {
		tail := chain[len(chain)-1]
		state.NextSequence = tail.Chain.Sequence + 1
		state.LastHash = tail.Chain.ContentHash
		state.LastEntryID = tail.ID
		state.UpdatedAt = tail.Timestamp
	}
	return state, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

func matchesQuery(e *Entry, opts QueryOptions) bool {
	if opts.ActorType != "" && e.Actor.Type != opts.ActorType {
		return false
	}
	if opts.ActionCategory != "" && e.Action.Category != opts.ActionCategory {
		return false
	}
	if opts.OutcomeStatus != "" && e.Outcome.Status != opts.OutcomeStatus {
		return false
	}
	if opts.HighRiskOnly && !e.HighRisk {
		return false
	}
	return true
}

func paginate(entries []*Entry, offset, limit int) []*Entry {
	if offset > 0 {
		if offset >= len(entries) {
			return nil
		}
		entries = entries[offset:]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
