package persistence

import (
	"fmt"
	"sync"
)

// Singleton access for the process-wide store. Tests construct their own
// Store via Open and never touch these.
//
//nolint:gochecknoglobals // Intentional singleton pattern for database access
var (
	globalStore *Store
	globalOnce  sync.Once
	globalMu    sync.RWMutex
)

// Initialize opens the process-wide store. Must be called once at startup;
// subsequent calls are no-ops.
func Initialize(path string) error {
	var initErr error
	globalOnce.Do(func() {
		store, err := Open(path)
		if err != nil {
			initErr = err
			return
		}
		globalMu.Lock()
		globalStore = store
		globalMu.Unlock()
		store.logger.Info("store initialized: %s", path)
	})
	return initErr
}

// Default returns the process-wide store. Panics if Initialize has not
// been called.
func Default() *Store {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalStore == nil {
		panic("persistence.Initialize must be called before Default")
	}
	return globalStore
}

// IsInitialized reports whether the process-wide store is open.
func IsInitialized() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalStore != nil
}

// Shutdown closes the process-wide store and resets the singleton.
func Shutdown() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalStore == nil {
		return nil
	}
	err := globalStore.Close()
	globalStore = nil
	globalOnce = sync.Once{}
	if err != nil {
		return fmt.Errorf("failed to shut down store: %w", err)
	}
	return nil
}
