package modloader

import (
	"fmt"
	"os"
	"path/filepath"
	"plugin"
	"sort"

	"github.com/carbonopen/labrun/compiled"
)

func openPlugin(path string) (*plugin.Plugin, error) {
	return plugin.Open(path)
}

// ExtensionKind selects when an extension runs relative to the built-in
// ordering engine.
type ExtensionKind int

const (
	// PreParse extensions are run by ApplyPreParse. Neither the builder
	// nor cmd/labrun calls it, so a loaded PreParse extension is not run
	// during a build.
	PreParse ExtensionKind = iota
	// PosParse extensions see a pipeline's steps after the built-in
	// ordering engine has run, and may further rearrange them.
	PosParse
)

// Extension is a loaded build-time hook, mirroring the original runtime's
// extension dynamic libraries (extension_type + handler).
type Extension interface {
	Kind() ExtensionKind
	Handle(steps []*compiled.Step) ([]*compiled.Step, error)
}

// extensionModuleSymbol is the exported plugin constructor every
// extension .so must provide.
const extensionModuleSymbol = "Extension"

// LoadExtensions loads every .so in dir as an Extension, sorted by file
// name for deterministic application order. A missing directory is not an
// error: extensions are optional.
func LoadExtensions(loader *PluginLoader, dir string) ([]Extension, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("modloader: read extensions dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".so" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	exts := make([]Extension, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		mod, err := loader.loadExtensionSymbol(path)
		if err != nil {
			return nil, fmt.Errorf("modloader: extension %s: %w", path, err)
		}
		exts = append(exts, mod)
	}
	return exts, nil
}

func (l *PluginLoader) loadExtensionSymbol(path string) (Extension, error) {
	l.mu.Lock()
	p, ok := l.opened[path]
	l.mu.Unlock()
	if !ok {
		opened, err := openPlugin(path)
		if err != nil {
			return nil, err
		}
		p = opened
		l.mu.Lock()
		l.opened[path] = p
		l.mu.Unlock()
	}

	sym, err := p.Lookup(extensionModuleSymbol)
	if err != nil {
		return nil, fmt.Errorf("missing %q symbol: %w", extensionModuleSymbol, err)
	}
	ctor, ok := sym.(func() Extension)
	if !ok {
		return nil, fmt.Errorf("%q has the wrong signature", extensionModuleSymbol)
	}
	return ctor(), nil
}

// ApplyPreParse runs every PreParse extension over steps, in order, each
// receiving the previous extension's output.
func ApplyPreParse(exts []Extension, steps []*compiled.Step) ([]*compiled.Step, error) {
	return applyKind(exts, PreParse, steps)
}

// ApplyPosParse runs every PosParse extension over steps (already ordered
// by the built-in ordering engine), in order.
func ApplyPosParse(exts []Extension, steps []*compiled.Step) ([]*compiled.Step, error) {
	return applyKind(exts, PosParse, steps)
}

func applyKind(exts []Extension, kind ExtensionKind, steps []*compiled.Step) ([]*compiled.Step, error) {
	for _, ext := range exts {
		if ext.Kind() != kind {
			continue
		}
		var err error
		steps, err = ext.Handle(steps)
		if err != nil {
			return nil, err
		}
	}
	return steps, nil
}
