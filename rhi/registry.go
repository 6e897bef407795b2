package rhi

import (
	"fmt"
	"sort"
	"sync"
)

// BackendFactory opens a device for the given configuration.
// Factories are registered via Register() and called by Open().
type BackendFactory func(cfg Config) (Device, error)

// Registry state - protected by mutex for thread-safe access.
var (
	registryMu sync.RWMutex
	backends   = make(map[string]BackendFactory)
)

// Register registers a backend factory with the given name.
// This function is typically called from init() in backend packages:
//
//	func init() {
//	    rhi.Register("headless", func(cfg rhi.Config) (rhi.Device, error) {
//	        return New(cfg), nil
//	    })
//	}
//
// Register panics if factory is nil or a backend with the same name is
// already registered.
func Register(name string, factory BackendFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if factory == nil {
		panic("rhi: Register factory is nil")
	}
	if _, dup := backends[name]; dup {
		panic("rhi: Register called twice for " + name)
	}
	backends[name] = factory
}

// Unregister removes a backend from the registry.
// This is primarily useful for testing. Unknown names are a no-op.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Open creates a device using the named backend.
//
// Returns an error if the backend is not registered. The error message
// includes a hint about forgotten imports.
func Open(name string, cfg Config) (Device, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("rhi: unknown backend %q (forgotten import?)", name)
	}
	dev, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("rhi: open %s: %w", name, err)
	}
	return dev, nil
}

// MustOpen is like Open but panics on error.
func MustOpen(name string, cfg Config) Device {
	dev, err := Open(name, cfg)
	if err != nil {
		panic(err)
	}
	return dev
}

// Backends returns the registered backend names, sorted alphabetically.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRegistered checks if a backend with the given name is registered.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Count returns the number of registered backends.
func Count() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(backends)
}
