package coordinator

import "sync"

// Ambient default coordinator. This seam exists for tests that exercise
// code paths without threading a Coordinator through; production code
// constructs its Coordinator explicitly and passes it down.

var (
	defaultMu          sync.RWMutex
	defaultCoordinator *Coordinator
)

// Default returns the ambient coordinator, or nil when none is set.
func Default() *Coordinator {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultCoordinator
}

// SetDefault installs the ambient coordinator.
func SetDefault(c *Coordinator) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultCoordinator = c
}

// ResetDefault clears the ambient coordinator.
func ResetDefault() {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultCoordinator = nil
}
