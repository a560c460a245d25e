package hosting

import (
	"fmt"
	"slices"
	"sync"
)

// Config carries adapter settings resolved from the runtime configuration.
type Config struct {
	// Binary is the CLI an adapter shells out to, when it uses one.
	Binary string
}

// Factory is a constructor function that creates a new Platform instance.
type Factory func(cfg Config) (Platform, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a hosting platform factory available by name.
// It is typically called from an init() function in the adapter package.
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("hosting: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// New creates a new Platform by name using the registered factory.
func New(name string, cfg Config) (Platform, error) {
	mu.RLock()
	factory, ok := factories[name]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("hosting: unknown platform %q (available: %v)", name, Available())
	}
	return factory(cfg)
}

// Available returns the sorted names of all registered platforms.
func Available() []string {
	mu.RLock()
	defer mu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
