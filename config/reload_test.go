package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestReloader(t *testing.T) (*Reloader, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644))

	loader := NewLoader().WithConfigPath(path)
	cfg, err := loader.Load()
	require.NoError(t, err)

	r, err := NewReloader(loader, cfg, zap.NewNop())
	require.NoError(t, err)
	return r, path
}

func TestNewReloader_RequiresConfigPath(t *testing.T) {
	_, err := NewReloader(NewLoader(), DefaultConfig(), zap.NewNop())
	assert.Error(t, err)
}

func TestReloader_AppliesLogChanges(t *testing.T) {
	r, path := newTestReloader(t)

	var gotChanges []Change
	r.Subscribe(func(cfg *Config, changes []Change) {
		gotChanges = changes
	})

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))
	require.NoError(t, r.Reload())

	assert.Equal(t, "debug", r.Current().Log.Level)
	require.Len(t, gotChanges, 1)
	assert.Equal(t, SectionLog, gotChanges[0].Section)
	assert.True(t, gotChanges[0].Applied)
}

func TestReloader_BackendChangeIsNotApplied(t *testing.T) {
	r, path := newTestReloader(t)

	require.NoError(t, os.WriteFile(path, []byte("lock:\n  backend: redis\n"), 0o644))
	require.NoError(t, r.Reload())

	// Lock backend requires a restart: the running config keeps memory.
	assert.Equal(t, "memory", r.Current().Lock.Backend)

	history := r.History()
	require.Len(t, history, 1)
	assert.Equal(t, SectionLock, history[0].Section)
	assert.False(t, history[0].Applied)
}

func TestReloader_InvalidConfigIsRejected(t *testing.T) {
	r, path := newTestReloader(t)

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: extremely\n"), 0o644))
	assert.Error(t, r.Reload())

	assert.Equal(t, "info", r.Current().Log.Level)
}

func TestReloader_NoChangeIsNoop(t *testing.T) {
	r, _ := newTestReloader(t)

	notified := false
	r.Subscribe(func(*Config, []Change) { notified = true })

	require.NoError(t, r.Reload())
	assert.False(t, notified)
	assert.Empty(t, r.History())
}

func TestReloader_HistoryIsBounded(t *testing.T) {
	r, path := newTestReloader(t)
	r.historyCap = 3

	levels := []string{"debug", "warn", "error", "info", "debug"}
	for _, lvl := range levels {
		require.NoError(t, os.WriteFile(path, []byte("log:\n  level: "+lvl+"\n"), 0o644))
		require.NoError(t, r.Reload())
	}

	assert.LessOrEqual(t, len(r.History()), 3)
}

func TestReloader_WatcherTriggersReload(t *testing.T) {
	r, path := newTestReloader(t)
	r.watcher.pollInterval = 10 * time.Millisecond
	r.watcher.debounceDelay = 20 * time.Millisecond

	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(func() { _ = r.Stop() })

	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: warn\n"), 0o644))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(time.Second)))

	assert.Eventually(t, func() bool {
		return r.Current().Log.Level == "warn"
	}, 2*time.Second, 10*time.Millisecond)
}
