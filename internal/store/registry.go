package store

import (
	"FlowSentry/internal/config"
	"fmt"
	"sort"
)

// Factory opens a backend from the application config.
type Factory func(cfg *config.Config) (Backend, error)

// registry holds the mapping of backend names to their factory functions.
var registry = make(map[string]Factory)

// Register registers a new backend type with its factory function.
func Register(name string, factory Factory) {
	if _, exists := registry[name]; exists {
		panic(fmt.Sprintf("backend type '%s' already registered", name))
	}
	registry[name] = factory
}

// Open creates the backend named by cfg.Table.Backend.
func Open(cfg *config.Config) (Backend, error) {
	factory, ok := registry[cfg.Table.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown backend type: '%s' (registered: %v)", cfg.Table.Backend, Registered())
	}
	backend, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("error opening backend '%s': %w", cfg.Table.Backend, err)
	}
	return backend, nil
}

// Registered lists the registered backend names.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
