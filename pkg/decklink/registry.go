package decklink

import (
	"log/slog"
	"sort"
	"sync"
)

// DriverOptions are passed to driver factories
type DriverOptions struct {
	DeviceName string // Preferred device; empty picks the first available
	Logger     *slog.Logger
}

// Factory creates a driver
type Factory func(opts DriverOptions) Driver

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{
		"none": func(DriverOptions) Driver { return NoDriver{} },
	}
)

// Register registers a driver factory under name. Registering the same name
// again replaces the previous factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// Get returns a new driver by name
func Get(name string, opts DriverOptions) (Driver, bool) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, false
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return factory(opts), true
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
