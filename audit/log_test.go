package audit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestLog() *Log {
	return NewLog(NewMemoryStore(zap.NewNop()), zap.NewNop())
}

func sampleEntry(actionName string) Entry {
	return Entry{
		Actor:    Actor{Type: "worker", ID: "worker-1"},
		Action:   Action{Category: "step", Name: actionName},
		Resource: Resource{Type: "run", ID: "run-1"},
		Outcome:  Outcome{Status: "success"},
		Context:  Context{RunID: "run-1"},
	}
}

// ---------------------------------------------------------------------------
// Append / chain invariants
// ---------------------------------------------------------------------------

func TestLog_AppendChainsEntries(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	first, err := l.Append(ctx, "t1", sampleEntry("step.started"))
	require.NoError(t, err)
	second, err := l.Append(ctx, "t1", sampleEntry("step.completed"))
	require.NoError(t, err)
	third, err := l.Append(ctx, "t1", sampleEntry("lock.released"))
	require.NoError(t, err)

	assert.Equal(t, int64(0), first.Chain.Sequence)
	assert.Equal(t, int64(1), second.Chain.Sequence)
	assert.Equal(t, int64(2), third.Chain.Sequence)

	assert.Empty(t, first.Chain.PrevHash)
	assert.Equal(t, first.Chain.ContentHash, second.Chain.PrevHash)
	assert.Equal(t, second.Chain.ContentHash, third.Chain.PrevHash)

	assert.NotEmpty(t, first.ID)
	assert.False(t, first.Timestamp.IsZero())
	assert.Equal(t, "t1", first.Context.TenantID)
}

func TestLog_AppendScenario(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	for _, name := range []string{"lock.acquired", "step.completed", "lock.released"} {
		_, err := l.Append(ctx, "t1", sampleEntry(name))
		require.NoError(t, err)
	}

	result, err := l.VerifyChainIntegrity(ctx, "t1", nil)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, int64(3), result.EntriesVerified)

	latest, err := l.GetLatestEntry(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, int64(2), latest.Chain.Sequence)
	assert.Equal(t, "lock.released", latest.Action.Name)
}

func TestLog_AppendBatch(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	_, err := l.Append(ctx, "t1", sampleEntry("seed"))
	require.NoError(t, err)

	batch, err := l.AppendBatch(ctx, "t1", []Entry{
		sampleEntry("step.started"),
		sampleEntry("step.completed"),
		sampleEntry("step.started"),
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), batch.StartSequence)
	assert.Equal(t, int64(3), batch.EndSequence)
	assert.Len(t, batch.Entries, 3)
	assert.NotEmpty(t, batch.MerkleRoot)

	// Batch entries chain exactly as sequential appends would.
	seed, err := l.GetEntryBySequence(ctx, "t1", 0)
	require.NoError(t, err)
	assert.Equal(t, seed.Chain.ContentHash, batch.Entries[0].Chain.PrevHash)
	assert.Equal(t, batch.Entries[0].Chain.ContentHash, batch.Entries[1].Chain.PrevHash)

	result, err := l.VerifyChainIntegrity(ctx, "t1", nil)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, int64(4), result.EntriesVerified)
}

func TestLog_AppendBatchRejectsEmpty(t *testing.T) {
	l := newTestLog()

	_, err := l.AppendBatch(context.Background(), "t1", nil)
	assert.ErrorIs(t, err, ErrEmptyBatch)
}

func TestLog_TenantIsolation(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	// Interleaved appends to two tenants.
	a1, err := l.Append(ctx, "a", sampleEntry("step.started"))
	require.NoError(t, err)
	b1, err := l.Append(ctx, "b", sampleEntry("step.started"))
	require.NoError(t, err)
	a2, err := l.Append(ctx, "a", sampleEntry("step.completed"))
	require.NoError(t, err)
	b2, err := l.Append(ctx, "b", sampleEntry("step.completed"))
	require.NoError(t, err)

	assert.Equal(t, int64(0), a1.Chain.Sequence)
	assert.Equal(t, int64(1), a2.Chain.Sequence)
	assert.Equal(t, int64(0), b1.Chain.Sequence)
	assert.Equal(t, int64(1), b2.Chain.Sequence)

	// No cross-tenant hash linkage.
	assert.Equal(t, a1.Chain.ContentHash, a2.Chain.PrevHash)
	assert.Equal(t, b1.Chain.ContentHash, b2.Chain.PrevHash)
	assert.NotEqual(t, a1.Chain.ContentHash, b2.Chain.PrevHash)

	for _, tenant := range []string{"a", "b"} {
		result, err := l.VerifyChainIntegrity(ctx, tenant, nil)
		require.NoError(t, err)
		assert.True(t, result.Valid)
		assert.Equal(t, int64(2), result.EntriesVerified)
	}
}

func TestLog_ConcurrentAppendsKeepSequencesContiguous(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Append(ctx, "t1", sampleEntry("step.completed"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	result, err := l.VerifyChainIntegrity(ctx, "t1", nil)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, int64(20), result.EntriesVerified)
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

func TestLog_PointReadsReturnNilWhenMissing(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	e, err := l.GetEntry(ctx, "no-such-id")
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = l.GetEntryBySequence(ctx, "t1", 5)
	require.NoError(t, err)
	assert.Nil(t, e)

	e, err = l.GetLatestEntry(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestLog_GetChainSegmentClampsRange(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, "t1", sampleEntry("step.completed"))
		require.NoError(t, err)
	}

	segment, err := l.GetChainSegment(ctx, "t1", 1, 3)
	require.NoError(t, err)
	require.Len(t, segment, 3)
	assert.Equal(t, int64(1), segment[0].Chain.Sequence)
	assert.Equal(t, int64(3), segment[2].Chain.Sequence)

	// Out-of-range bounds shorten the result, never error.
	segment, err = l.GetChainSegment(ctx, "t1", 3, 100)
	require.NoError(t, err)
	assert.Len(t, segment, 2)

	segment, err = l.GetChainSegment(ctx, "t1", 10, 20)
	require.NoError(t, err)
	assert.Empty(t, segment)
}

func TestLog_GetEntryByID(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	appended, err := l.Append(ctx, "t1", sampleEntry("step.completed"))
	require.NoError(t, err)

	got, err := l.GetEntry(ctx, appended.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, appended.Chain.ContentHash, got.Chain.ContentHash)
}

// ---------------------------------------------------------------------------
// Query
// ---------------------------------------------------------------------------

func seedQueryEntries(t *testing.T, l *Log) {
	t.Helper()
	ctx := context.Background()

	entries := []Entry{
		{Actor: Actor{Type: "worker", ID: "w1"}, Action: Action{Category: "lock", Name: "lock.acquired"}, Outcome: Outcome{Status: "success"}},
		{Actor: Actor{Type: "worker", ID: "w1"}, Action: Action{Category: "step", Name: "step.completed"}, Outcome: Outcome{Status: "success"}},
		{Actor: Actor{Type: "user", ID: "u1"}, Action: Action{Category: "approval", Name: "approval.granted"}, Outcome: Outcome{Status: "success"}, HighRisk: true},
		{Actor: Actor{Type: "service", ID: "policy"}, Action: Action{Category: "policy", Name: "policy.denied"}, Outcome: Outcome{Status: "denied"}, HighRisk: true},
		{Actor: Actor{Type: "worker", ID: "w2"}, Action: Action{Category: "step", Name: "step.failed"}, Outcome: Outcome{Status: "failure"}},
	}
	_, err := l.AppendBatch(ctx, "t1", entries)
	require.NoError(t, err)
}

func TestLog_QueryDefaultsToNewestFirst(t *testing.T) {
	l := newTestLog()
	seedQueryEntries(t, l)

	result, err := l.Query(context.Background(), QueryOptions{TenantID: "t1"})
	require.NoError(t, err)

	require.Len(t, result.Entries, 5)
	assert.Equal(t, int64(5), result.TotalCount)
	assert.False(t, result.HasMore)
	assert.Equal(t, int64(4), result.Entries[0].Chain.Sequence)
	assert.Equal(t, int64(0), result.Entries[4].Chain.Sequence)
	assert.Equal(t, "t1", result.Metadata.AppliedFilters.TenantID)
	assert.False(t, result.Metadata.ExecutedAt.IsZero())
}

func TestLog_QueryFilters(t *testing.T) {
	l := newTestLog()
	seedQueryEntries(t, l)
	ctx := context.Background()

	result, err := l.Query(ctx, QueryOptions{TenantID: "t1", ActorType: "worker"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.TotalCount)

	result, err = l.Query(ctx, QueryOptions{TenantID: "t1", ActionCategory: "step"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalCount)

	result, err = l.Query(ctx, QueryOptions{TenantID: "t1", OutcomeStatus: "denied"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalCount)

	result, err = l.Query(ctx, QueryOptions{TenantID: "t1", HighRiskOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalCount)
}

func TestLog_QueryPagination(t *testing.T) {
	l := newTestLog()
	seedQueryEntries(t, l)
	ctx := context.Background()

	page1, err := l.Query(ctx, QueryOptions{TenantID: "t1", Limit: 2, SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, page1.Entries, 2)
	assert.Equal(t, int64(5), page1.TotalCount)
	assert.True(t, page1.HasMore)
	assert.Equal(t, int64(0), page1.Entries[0].Chain.Sequence)

	page3, err := l.Query(ctx, QueryOptions{TenantID: "t1", Limit: 2, Offset: 4, SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, page3.Entries, 1)
	assert.False(t, page3.HasMore)
	assert.Equal(t, int64(4), page3.Entries[0].Chain.Sequence)
}

func TestLog_CountEntries(t *testing.T) {
	l := newTestLog()
	seedQueryEntries(t, l)
	ctx := context.Background()

	total, err := l.CountEntries(ctx, "t1", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)

	highRisk, err := l.CountEntries(ctx, "t1", &QueryOptions{HighRiskOnly: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), highRisk)
}

// ---------------------------------------------------------------------------
// Verification / metadata
// ---------------------------------------------------------------------------

func TestLog_VerifyDetectsTamperedContent(t *testing.T) {
	store := NewMemoryStore(zap.NewNop())
	l := NewLog(store, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := l.Append(ctx, "t1", sampleEntry("step.completed"))
		require.NoError(t, err)
	}

	// Retroactively edit a stored entry behind the store's back.
	store.mu.Lock()
	store.chains["t1"][1].Outcome.Status = "failure"
	store.mu.Unlock()

	result, err := l.VerifyChainIntegrity(ctx, "t1", nil)
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.NotNil(t, result.FailedSequence)
	assert.Equal(t, int64(1), *result.FailedSequence)

	var integrityErr *IntegrityError
	err = l.EnsureIntegrity(ctx, "t1")
	require.ErrorAs(t, err, &integrityErr)
	assert.Equal(t, "t1", integrityErr.TenantID)
}

func TestLog_VerifySubRange(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, err := l.Append(ctx, "t1", sampleEntry("step.completed"))
		require.NoError(t, err)
	}

	result, err := l.VerifyChainIntegrity(ctx, "t1", &SequenceRange{Start: 2, End: 4})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, int64(3), result.EntriesVerified)
}

func TestLog_VerifyNegativeStartClamped(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, "t1", sampleEntry("step.completed"))
		require.NoError(t, err)
	}

	// A below-zero start must clamp to the chain head, not condemn an
	// intact chain.
	result, err := l.VerifyChainIntegrity(ctx, "t1", &SequenceRange{Start: -1, End: 2})
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, int64(3), result.EntriesVerified)
	assert.Nil(t, result.FailedSequence)
}

func TestLog_VerifyEmptyChain(t *testing.T) {
	l := newTestLog()

	result, err := l.VerifyChainIntegrity(context.Background(), "empty", nil)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, int64(0), result.EntriesVerified)
}

func TestLog_GetMetadataAndChainState(t *testing.T) {
	l := newTestLog()
	ctx := context.Background()

	first, err := l.Append(ctx, "t1", sampleEntry("step.started"))
	require.NoError(t, err)
	last, err := l.Append(ctx, "t1", sampleEntry("step.completed"))
	require.NoError(t, err)

	meta, err := l.GetMetadata(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), meta.EntryCount)
	assert.Equal(t, first.ID, meta.FirstEntryID)
	assert.Equal(t, last.ID, meta.LastEntryID)
	assert.Equal(t, int64(1), meta.LastSequence)
	assert.Equal(t, last.Chain.ContentHash, meta.LastHash)

	state, err := l.GetChainState(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), state.NextSequence)
	assert.Equal(t, last.Chain.ContentHash, state.LastHash)
}

// ---------------------------------------------------------------------------
// Merkle root
// ---------------------------------------------------------------------------

func TestMerkleRoot(t *testing.T) {
	assert.Empty(t, merkleRoot(nil))

	h1 := "aa"
	single := merkleRoot([]string{h1})
	assert.Equal(t, "aa", single)

	pair := merkleRoot([]string{"aa", "bb"})
	assert.NotEmpty(t, pair)
	assert.NotEqual(t, single, pair)

	// Order matters.
	assert.NotEqual(t, merkleRoot([]string{"aa", "bb"}), merkleRoot([]string{"bb", "aa"}))

	// Odd leaf counts are handled.
	assert.NotEmpty(t, merkleRoot([]string{"aa", "bb", "cc"}))
}
