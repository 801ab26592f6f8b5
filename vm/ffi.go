package vm

import (
	"fmt"
	"plugin"
)

// PluginLibrary loads foreign functions from a compiled Go plugin (.so),
// the core's one deliberate standard-library-only dependency — no
// third-party dlopen-style loader exists anywhere in the examples this
// module was grounded on (see DESIGN.md).
//
// A plugin exports foreign functions as package-level variables of type
// func(ForeignCall) (*Value, error); PluginLibrary looks each symbol up by
// name on first use and caches the resolved ForeignFunc.
type PluginLibrary struct {
	path   string
	plugin *plugin.Plugin
	cache  map[string]ForeignFunc
}

// OpenPluginLibrary opens the plugin at path. It does not eagerly resolve
// any symbols; Lookup resolves and caches lazily.
func OpenPluginLibrary(path string) (*PluginLibrary, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLibraryLoadFailure, path, err)
	}
	return &PluginLibrary{path: path, plugin: p, cache: make(map[string]ForeignFunc)}, nil
}

func (l *PluginLibrary) Name() string { return l.path }

func (l *PluginLibrary) Lookup(symbol []byte) (ForeignFunc, bool) {
	name := string(symbol)
	if fn, ok := l.cache[name]; ok {
		return fn, true
	}

	sym, err := l.plugin.Lookup(name)
	if err != nil {
		return nil, false
	}
	fn, ok := sym.(func(ForeignCall) (*Value, error))
	if !ok {
		if fnPtr, okPtr := sym.(*func(ForeignCall) (*Value, error)); okPtr {
			fn, ok = *fnPtr, true
		}
	}
	if !ok {
		return nil, false
	}
	l.cache[name] = fn
	return fn, true
}

// StaticLibrary is an in-process ForeignLibrary backed by a plain Go map —
// the shape vmstd uses to register its built-in functions without going
// through the plugin loader.
type StaticLibrary struct {
	name  string
	funcs map[string]ForeignFunc
}

// NewStaticLibrary builds a StaticLibrary from a name->func table.
func NewStaticLibrary(name string, funcs map[string]ForeignFunc) *StaticLibrary {
	return &StaticLibrary{name: name, funcs: funcs}
}

func (l *StaticLibrary) Name() string { return l.name }

func (l *StaticLibrary) Lookup(symbol []byte) (ForeignFunc, bool) {
	fn, ok := l.funcs[string(symbol)]
	return fn, ok
}
