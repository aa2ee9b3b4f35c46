// Package modloader loads leaf modules. The primary mechanism is Go's
// stdlib plugin package, the direct analogue of the original runtime's
// dynamic-library module loading: no third-party library in the
// ecosystem offers in-process dynamic code loading, so this is the one
// package in labrun built on the standard library by necessity rather
// than by choice.
//
// A Registry is also provided as an in-process fallback, for built-in and
// test modules that should not require an actual .so on disk — the same
// shape as the teacher's step-factory registry, generalized from steps to
// modules.
package modloader

import (
	"fmt"
	"plugin"
	"sync"

	"github.com/carbonopen/labrun/modabi"
)

// moduleSymbol is the exported plugin symbol every leaf module .so must
// provide: a zero-argument constructor returning a modabi.Module.
const moduleSymbol = "Module"

// Loader resolves a module path to a ready-to-run handle.
type Loader interface {
	Load(path string) (modabi.Module, error)
}

// PluginLoader loads modules via plugin.Open, looking up the exported
// Module symbol in each .so.
type PluginLoader struct {
	mu     sync.Mutex
	opened map[string]*plugin.Plugin
}

// NewPluginLoader returns a PluginLoader that caches opened plugins by
// path, so each path is opened once; the Module symbol is still looked up
// on every Load.
func NewPluginLoader() *PluginLoader {
	return &PluginLoader{opened: map[string]*plugin.Plugin{}}
}

// Load opens path (if not already open) and constructs a fresh Module
// instance via its exported constructor.
func (l *PluginLoader) Load(path string) (modabi.Module, error) {
	l.mu.Lock()
	p, ok := l.opened[path]
	l.mu.Unlock()

	if !ok {
		var err error
		p, err = plugin.Open(path)
		if err != nil {
			return nil, fmt.Errorf("modloader: open %s: %w", path, err)
		}
		l.mu.Lock()
		l.opened[path] = p
		l.mu.Unlock()
	}

	sym, err := p.Lookup(moduleSymbol)
	if err != nil {
		return nil, fmt.Errorf("modloader: %s: missing %q symbol: %w", path, moduleSymbol, err)
	}

	ctor, ok := sym.(func() modabi.Module)
	if !ok {
		return nil, fmt.Errorf("modloader: %s: %q has the wrong signature", path, moduleSymbol)
	}

	return ctor(), nil
}

// Factory constructs a fresh Module instance.
type Factory func() modabi.Module

// Registry is an in-process module loader keyed by path (or any other
// string key a caller chooses, such as a logical module name for tests).
// It never touches disk; every Loader method reads from a map guarded by
// a RWMutex, the same pattern the teacher uses for its step-type registry.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register binds key to factory. Re-registering the same key overwrites
// the previous binding, which is convenient for tests that stub a module.
func (r *Registry) Register(key string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key] = factory
}

// Load constructs a fresh Module instance for key.
func (r *Registry) Load(key string) (modabi.Module, error) {
	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("modloader: no module registered for %q", key)
	}
	return factory(), nil
}

// List returns every registered key, in no particular order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	return keys
}

// FallbackLoader tries a Registry of bundled modules first, keyed by
// logical name, before falling back to loading path as a plugin .so. This
// is how cmd/labrun resolves a compiled step's module path: the reference
// modules ship in-process, anything else is expected on disk.
type FallbackLoader struct {
	Registry *Registry
	Plugins  *PluginLoader
}

// NewFallbackLoader returns a FallbackLoader backed by registry and a
// fresh PluginLoader.
func NewFallbackLoader(registry *Registry) *FallbackLoader {
	return &FallbackLoader{Registry: registry, Plugins: NewPluginLoader()}
}

// Load resolves path against the registry first, then the plugin loader.
func (f *FallbackLoader) Load(path string) (modabi.Module, error) {
	if mod, err := f.Registry.Load(path); err == nil {
		return mod, nil
	}
	return f.Plugins.Load(path)
}
