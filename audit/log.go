package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrEmptyBatch is returned by AppendBatch when no entries are given.
var ErrEmptyBatch = errors.New("audit: batch must contain at least one entry")

// Log is the audit ledger service. All writes go through the store's
// atomic append so per-tenant sequences never collide, no matter how many
// workers append concurrently.
type Log struct {
	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewLog creates an audit log backed by the given store.
func NewLog(store Store, logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{
		store:  store,
		logger: logger.With(zap.String("component", "audit_log")),
		now:    time.Now,
	}
}

// Append writes one entry to the tenant's chain and returns it with its
// assigned sequence and content hash.
func (l *Log) Append(ctx context.Context, tenantID string, e Entry) (*Entry, error) {
	batch, err := l.AppendBatch(ctx, tenantID, []Entry{e})
	if err != nil {
		return nil, err
	}
	return batch.Entries[0], nil
}

// AppendBatch atomically appends the entries as a contiguous sequence
// range, chaining them exactly as sequential Append calls would, and
// computes a Merkle root over the batch's content hashes.
func (l *Log) AppendBatch(ctx context.Context, tenantID string, entries []Entry) (*Batch, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("audit: tenant ID is required")
	}
	if len(entries) == 0 {
		return nil, ErrEmptyBatch
	}

	appended, err := l.store.AppendEntries(ctx, tenantID, func(nextSeq int64, prevHash string) ([]*Entry, error) {
		out := make([]*Entry, 0, len(entries))
		for i := range entries {
			e := entries[i]
			if e.ID == "" {
				e.ID = newEntryID()
			}
			if e.Timestamp.IsZero() {
				e.Timestamp = l.now()
			}
			e.Context.TenantID = tenantID
			e.Chain = Chain{Sequence: nextSeq + int64(i), PrevHash: prevHash}

			hash, err := computeContentHash(&e, prevHash)
			if err != nil {
				return nil, err
			}
			e.Chain.ContentHash = hash
			prevHash = hash
			out = append(out, &e)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to append audit entries: %w", err)
	}

	hashes := make([]string, len(appended))
	for i, e := range appended {
		hashes[i] = e.Chain.ContentHash
	}

	batch := &Batch{
		Entries:       appended,
		MerkleRoot:    merkleRoot(hashes),
		StartSequence: appended[0].Chain.Sequence,
		EndSequence:   appended[len(appended)-1].Chain.Sequence,
	}

	l.logger.Debug("audit entries appended",
		zap.String("tenant_id", tenantID),
		zap.Int("count", len(appended)),
		zap.Int64("start_sequence", batch.StartSequence),
		zap.Int64("end_sequence", batch.EndSequence),
	)

	return batch, nil
}

// GetEntry returns the entry with the given ID, or nil when absent.
func (l *Log) GetEntry(ctx context.Context, id string) (*Entry, error) {
	return l.store.GetEntry(ctx, id)
}

// GetEntryBySequence returns one entry of a tenant's chain, or nil when
// the sequence is out of range.
func (l *Log) GetEntryBySequence(ctx context.Context, tenantID string, seq int64) (*Entry, error) {
	return l.store.GetEntryBySequence(ctx, tenantID, seq)
}

// GetLatestEntry returns the tenant's newest entry, or nil for an empty
// chain.
func (l *Log) GetLatestEntry(ctx context.Context, tenantID string) (*Entry, error) {
	return l.store.GetLatestEntry(ctx, tenantID)
}

// GetChainSegment returns entries in [startSeq, endSeq] ascending;
// out-of-range bounds shorten the result instead of erroring.
func (l *Log) GetChainSegment(ctx context.Context, tenantID string, startSeq, endSeq int64) ([]*Entry, error) {
	return l.store.GetChainSegment(ctx, tenantID, startSeq, endSeq)
}

// Query returns matching entries with pagination info and query metadata.
func (l *Log) Query(ctx context.Context, opts QueryOptions) (*QueryResult, error) {
	if opts.TenantID == "" {
		return nil, fmt.Errorf("audit: tenant ID is required")
	}

	start := l.now()
	entries, total, err := l.store.Query(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("audit query failed: %w", err)
	}

	return &QueryResult{
		Entries:    entries,
		TotalCount: total,
		HasMore:    int64(opts.Offset+len(entries)) < total,
		Metadata: QueryMetadata{
			AppliedFilters: opts,
			Duration:       l.now().Sub(start),
			ExecutedAt:     start,
		},
	}, nil
}

// CountEntries returns the number of entries matching the filter, or the
// tenant's full entry count when filter is nil.
func (l *Log) CountEntries(ctx context.Context, tenantID string, filter *QueryOptions) (int64, error) {
	opts := QueryOptions{TenantID: tenantID}
	if filter != nil {
		opts = *filter
		opts.TenantID = tenantID
	}
	opts.Limit = 1
	opts.Offset = 0

	_, total, err := l.store.Query(ctx, opts)
	if err != nil {
		return 0, fmt.Errorf("audit count failed: %w", err)
	}
	return total, nil
}

// GetChainState returns the tenant chain's tail state.
func (l *Log) GetChainState(ctx context.Context, tenantID string) (*ChainState, error) {
	return l.store.GetChainState(ctx, tenantID)
}

// GetMetadata summarizes a tenant's chain.
func (l *Log) GetMetadata(ctx context.Context, tenantID string) (*Metadata, error) {
	state, err := l.store.GetChainState(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	meta := &Metadata{
		TenantID:     tenantID,
		EntryCount:   state.NextSequence,
		LastEntryID:  state.LastEntryID,
		LastSequence: state.NextSequence - 1,
		LastHash:     state.LastHash,
	}
	if state.NextSequence > 0 {
		first, err := l.store.GetEntryBySequence(ctx, tenantID, 0)
		if err != nil {
			return nil, err
		}
		if first != nil {
			meta.FirstEntryID = first.ID
		}
	}
	return meta, nil
}

// SequenceRange bounds a chain verification to a sub-range.
type SequenceRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

// VerifyResult reports the outcome of a chain verification.
type VerifyResult struct {
	Valid           bool   `json:"valid"`
	EntriesVerified int64  `json:"entries_verified"`
	FailedSequence  *int64 `json:"failed_sequence,omitempty"`
}

// VerifyChainIntegrity recomputes every entry's content hash from its
// stored fields and prev hash and checks the hash linkage between
// neighbors, over the full chain or the given sub-range. A single
// mismatch, whether tampering or corruption, flips Valid to false.
func (l *Log) VerifyChainIntegrity(ctx context.Context, tenantID string, rng *SequenceRange) (*VerifyResult, error) {
	state, err := l.store.GetChainState(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	start, end := int64(0), state.NextSequence-1
	if rng != nil {
		start, end = rng.Start, rng.End
	}
	if start < 0 {
		start = 0
	}
	if end >= state.NextSequence {
		end = state.NextSequence - 1
	}
	if start > end {
		return &VerifyResult{Valid: true}, nil
	}

	entries, err := l.store.GetChainSegment(ctx, tenantID, start, end)
	if err != nil {
		return nil, err
	}

	// Linkage for a mid-chain range starts from the predecessor's
	// stored hash.
	prevHash := ""
	if start > 0 {
		prev, err := l.store.GetEntryBySequence(ctx, tenantID, start-1)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			prevHash = prev.Chain.ContentHash
		}
	}

	result := &VerifyResult{Valid: true}
	expectedSeq := start
	for _, e := range entries {
		if e.Chain.Sequence != expectedSeq || e.Chain.PrevHash != prevHash {
			return l.failVerify(tenantID, result, e.Chain.Sequence), nil
		}
		recomputed, err := computeContentHash(e, prevHash)
		if err != nil {
			return nil, err
		}
		if recomputed != e.Chain.ContentHash {
			return l.failVerify(tenantID, result, e.Chain.Sequence), nil
		}
		prevHash = e.Chain.ContentHash
		expectedSeq++
		result.EntriesVerified++
	}

	return result, nil
}

// EnsureIntegrity verifies the full chain and converts a failure into an
// *IntegrityError.
func (l *Log) EnsureIntegrity(ctx context.Context, tenantID string) error {
	result, err := l.VerifyChainIntegrity(ctx, tenantID, nil)
	if err != nil {
		return err
	}
	if !result.Valid {
		seq := int64(-1)
		if result.FailedSequence != nil {
			seq = *result.FailedSequence
		}
		return &IntegrityError{TenantID: tenantID, Sequence: seq}
	}
	return nil
}

// Close closes the underlying store.
func (l *Log) Close() error {
	return l.store.Close()
}

func (l *Log) failVerify(tenantID string, result *VerifyResult, seq int64) *VerifyResult {
	result.Valid = false
	result.FailedSequence = &seq
	l.logger.Error("audit chain verification failed",
		zap.String("tenant_id", tenantID),
		zap.Int64("sequence", seq),
	)
	return result
}
