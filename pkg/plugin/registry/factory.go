package registry

import (
	"sync"

	"github.com/quotewire/quotewire/pkg/errors"
	"github.com/quotewire/quotewire/pkg/plugin/core"
)

// Plugin packages self-register their factory from init(), the same way
// database drivers do; binaries pull them in with blank imports. This is
// deliberately separate from Registry, which holds live instances.
var (
	factoryMu sync.RWMutex
	factories = make(map[string]core.Factory)
)

// RegisterFactory makes a plugin type constructible by name.
func RegisterFactory(name string, factory core.Factory) error {
	factoryMu.Lock()
	defer factoryMu.Unlock()

	if _, exists := factories[name]; exists {
		return errors.Newf(errors.ErrorTypeDuplicatePlugin, "plugin factory %s already registered", name)
	}
	factories[name] = factory
	return nil
}

// CreatePlugin instantiates a plugin type by name.
func CreatePlugin(name string, settings map[string]string) (core.Plugin, error) {
	factoryMu.RLock()
	factory, exists := factories[name]
	factoryMu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "plugin factory %s not found", name)
	}

	p, err := factory(settings)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to create plugin "+name)
	}
	return p, nil
}

// ListFactories returns the registered plugin type names.
func ListFactories() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	return names
}
