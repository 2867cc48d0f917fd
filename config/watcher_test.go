package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// eventRecorder collects dispatched events across goroutines.
type eventRecorder struct {
	mu     sync.Mutex
	events []FileEvent
}

func (r *eventRecorder) record(e FileEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) sawOp(op FileOp) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Op == op {
			return true
		}
	}
	return false
}

func newTestWatcher(t *testing.T, paths []string) (*FileWatcher, *eventRecorder) {
	t.Helper()
	w, err := NewFileWatcher(paths,
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(20*time.Millisecond))
	require.NoError(t, err)

	rec := &eventRecorder{}
	w.OnChange(rec.record)

	t.Cleanup(func() { _ = w.Stop() })
	return w, rec
}

func TestFileWatcher_DetectsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: info\n"), 0o644))

	w, rec := newTestWatcher(t, []string{path})
	require.NoError(t, w.Start(context.Background()))

	// Polling compares mtimes; force an unambiguously later one.
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(time.Second)))

	assert.Eventually(t, func() bool {
		return rec.sawOp(FileOpWrite)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_DetectsCreateAndRemove(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "late.yaml")

	w, rec := newTestWatcher(t, []string{path})
	require.NoError(t, w.Start(context.Background()))

	require.NoError(t, os.WriteFile(path, []byte("x: 1\n"), 0o644))
	assert.Eventually(t, func() bool {
		return rec.sawOp(FileOpCreate)
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(path))
	assert.Eventually(t, func() bool {
		return rec.sawOp(FileOpRemove)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_StartTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x: 1\n"), 0o644))

	w, _ := newTestWatcher(t, []string{path})
	require.NoError(t, w.Start(context.Background()))
	assert.Error(t, w.Start(context.Background()))
	assert.True(t, w.IsRunning())
}

func TestFileWatcher_StopIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runledger.yaml")
	require.NoError(t, os.WriteFile(path, []byte("x: 1\n"), 0o644))

	w, _ := newTestWatcher(t, []string{path})
	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(99).String())
}
