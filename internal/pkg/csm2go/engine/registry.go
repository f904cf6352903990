package engine

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrUnknownBackend is returned by New when no backend was registered under
// the requested name.
var ErrUnknownBackend = errors.New("unknown voice cloning backend")

// Factory builds a voice cloning engine from its configuration.
type Factory func(cfg EngineConfig) (Engine, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Factory)
)

// Register makes a backend available to New. Backends register themselves
// from init; registering the same name twice panics.
func Register(name string, factory Factory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if factory == nil {
		panic("engine: nil factory for backend " + name)
	}
	if _, dup := backends[name]; dup {
		panic("engine: backend " + name + " already registered")
	}
	backends[name] = factory
}

// New opens the backend registered as name. cfg.Backend is set to name
// before the factory runs.
func New(name string, cfg EngineConfig) (Engine, error) {
	backendsMu.RLock()
	factory, ok := backends[name]
	backendsMu.RUnlock()
	if !ok {
		available := Backends()
		if len(available) == 0 {
			return nil, fmt.Errorf("%w %q: none compiled in", ErrUnknownBackend, name)
		}
		return nil, fmt.Errorf("%w %q: choose one of %s", ErrUnknownBackend, name, strings.Join(available, ", "))
	}
	cfg.Backend = name
	return factory(cfg)
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func IsRegistered(name string) bool {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	_, ok := backends[name]
	return ok
}
