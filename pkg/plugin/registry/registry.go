// Package registry manages plugin registration and capability discovery.
// It tracks which (asset type, data type) pairs each registered plugin
// serves and notifies subscribers when the capability set changes.
package registry

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/quotewire/quotewire/pkg/errors"
	"github.com/quotewire/quotewire/pkg/logger"
	"github.com/quotewire/quotewire/pkg/plugin/core"
	"go.uber.org/zap"
)

// ChangeType describes a capability change event.
type ChangeType string

const (
	ChangeRegistered   ChangeType = "registered"
	ChangeUnregistered ChangeType = "unregistered"
)

// CapabilityChange is emitted whenever the registered plugin set changes.
// The router uses it to invalidate its cached candidate snapshot.
type CapabilityChange struct {
	Type       ChangeType
	PluginID   string
	Capability []core.Capability
}

type entry struct {
	descriptor core.Descriptor
	plugin     core.Plugin
}

// Registry tracks plugin descriptors and instances. Descriptors are
// immutable once registered; Register with replace swaps the whole entry
// atomically.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	subs    []chan CapabilityChange
	version atomic.Uint64
	logger  *zap.Logger
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		entries: make(map[string]entry),
		logger:  logger.Get().With(zap.String("component", "plugin_registry")),
	}
}

// Register validates and stores a plugin under its descriptor. Registering
// an existing id fails with a duplicate-plugin error unless replace is set.
func (r *Registry) Register(desc core.Descriptor, p core.Plugin, replace bool) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	if p == nil {
		return errors.Newf(errors.ErrorTypeConfig, "plugin %s has no instance", desc.ID)
	}

	r.mu.Lock()
	if _, exists := r.entries[desc.ID]; exists && !replace {
		r.mu.Unlock()
		return errors.Newf(errors.ErrorTypeDuplicatePlugin, "plugin %s already registered", desc.ID)
	}
	r.entries[desc.ID] = entry{descriptor: desc, plugin: p}
	r.version.Add(1)
	r.mu.Unlock()

	r.logger.Info("plugin registered",
		zap.String("plugin", desc.ID),
		zap.Int("priority", desc.Priority),
		zap.Int("capabilities", len(desc.Capabilities())))

	r.notify(CapabilityChange{
		Type:       ChangeRegistered,
		PluginID:   desc.ID,
		Capability: desc.Capabilities(),
	})
	return nil
}

// Unregister removes a plugin. Removing an unknown id is an error.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	e, exists := r.entries[id]
	if !exists {
		r.mu.Unlock()
		return errors.Newf(errors.ErrorTypeNotFound, "plugin %s not registered", id)
	}
	delete(r.entries, id)
	r.version.Add(1)
	r.mu.Unlock()

	r.logger.Info("plugin unregistered", zap.String("plugin", id))

	r.notify(CapabilityChange{
		Type:       ChangeUnregistered,
		PluginID:   id,
		Capability: e.descriptor.Capabilities(),
	})
	return nil
}

// Get returns the registered plugin instance for an id.
func (r *Registry) Get(id string) (core.Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	return e.plugin, true
}

// Descriptor returns the registered descriptor for an id.
func (r *Registry) Descriptor(id string) (core.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e.descriptor, ok
}

// FindCandidates returns descriptors serving the capability, ordered by
// priority descending with plugin id ascending as the deterministic
// tie-break.
func (r *Registry) FindCandidates(asset core.AssetType, data core.DataType) []core.Descriptor {
	r.mu.RLock()
	candidates := make([]core.Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		if e.descriptor.Serves(asset, data) {
			candidates = append(candidates, e.descriptor)
		}
	}
	r.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates
}

// ListDescriptors returns all registered descriptors sorted by id.
func (r *Registry) ListDescriptors() []core.Descriptor {
	r.mu.RLock()
	out := make([]core.Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.descriptor)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Version increments on every registration change. Snapshot holders compare
// it to decide whether a cached candidate list is stale.
func (r *Registry) Version() uint64 {
	return r.version.Load()
}

// Subscribe returns a channel receiving capability change events.
func (r *Registry) Subscribe() <-chan CapabilityChange {
	ch := make(chan CapabilityChange, 16)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

func (r *Registry) notify(change CapabilityChange) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.subs {
		select {
		case ch <- change:
		default:
			r.logger.Warn("capability change dropped for slow subscriber",
				zap.String("plugin", change.PluginID))
		}
	}
}
