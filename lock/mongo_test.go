package lock

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newMongoManager connects to the instance named by MONGO_URI, skipping
// when none is available. The test collection is dropped on cleanup.
func newMongoManager(t *testing.T) *MongoManager {
	t.Helper()

	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set; skipping MongoDB integration test")
	}

	m, err := NewMongoManager(MongoConfig{
		URI:        uri,
		Database:   "runledger_test",
		Collection: "run_locks_test",
	}, zap.NewNop())
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = m.coll.Drop(context.Background())
		_ = m.Close()
	})
	return m
}

// ---------------------------------------------------------------------------
// Fence continuity
// ---------------------------------------------------------------------------

func TestMongoManager_FenceSurvivesRelease(t *testing.T) {
	m := newMongoManager(t)
	ctx := context.Background()

	first, err := m.TryAcquire(ctx, "run-fence", TryAcquireOptions{})
	require.NoError(t, err)
	require.True(t, first.Acquired)

	ok, err := m.Release(ctx, "run-fence", first.Lock.HolderID)
	require.NoError(t, err)
	require.True(t, ok)

	// A clean release must not reset the counter: the next holder's
	// fence has to compare newer than the previous one.
	second, err := m.TryAcquire(ctx, "run-fence", TryAcquireOptions{})
	require.NoError(t, err)
	require.True(t, second.Acquired)
	assert.Greater(t, second.Lock.Fence, first.Lock.Fence)
}

func TestMongoManager_FenceSurvivesForceRelease(t *testing.T) {
	m := newMongoManager(t)
	ctx := context.Background()

	first, err := m.TryAcquire(ctx, "run-force", TryAcquireOptions{})
	require.NoError(t, err)
	require.True(t, first.Acquired)

	released, err := m.ForceRelease(ctx, "run-force")
	require.NoError(t, err)
	require.True(t, released)

	second, err := m.TryAcquire(ctx, "run-force", TryAcquireOptions{})
	require.NoError(t, err)
	require.True(t, second.Acquired)
	assert.Greater(t, second.Lock.Fence, first.Lock.Fence)
}

func TestMongoManager_ReleaseIsSingleShot(t *testing.T) {
	m := newMongoManager(t)
	ctx := context.Background()

	res, err := m.TryAcquire(ctx, "run-once", TryAcquireOptions{})
	require.NoError(t, err)
	require.True(t, res.Acquired)

	ok, err := m.Release(ctx, "run-once", res.Lock.HolderID)
	require.NoError(t, err)
	assert.True(t, ok)

	// The expired document lingers for its fence counter, but a second
	// release of the same hold reports nothing released.
	ok, err = m.Release(ctx, "run-once", res.Lock.HolderID)
	require.NoError(t, err)
	assert.False(t, ok)

	released, err := m.ForceRelease(ctx, "run-once")
	require.NoError(t, err)
	assert.False(t, released)
}
