package controller

import (
	"fmt"
	"plugin"

	"github.com/rnbo-oscquery/runner/pkg/instance"
)

// Loader turns a compiled shared library path into the instance.Factory
// collaborator spec.md §1 calls out as external ("the DSP inner loop of a
// patcher"). Kept as an interface so controller tests can supply an
// in-memory fake instead of a real .so.
type Loader interface {
	Load(libraryPath string) (instance.Factory, error)
}

// symbolName is the entry point every generated patcher library exports,
// mirroring the original runtime's CreateInstance factory-function
// convention (spec.md GLOSSARY "Patcher": "a DSP graph compiled to a shared
// library exposing a factory entry point").
const symbolName = "NewRNBOFactory"

// PluginLoader loads a patcher library with the standard library's plugin
// package. Documented stdlib exception (see DESIGN.md): no library in the
// retrieval pack wraps dlopen-style dynamic loading of a Go plugin symbol,
// and the loaded artifact here is produced by pkg/compile from generated
// source, not by a C ABI the ecosystem has a wrapper for.
type PluginLoader struct{}

// Load opens libraryPath as a Go plugin and looks up the well-known factory
// symbol, which must have the signature `func() instance.Factory`.
func (PluginLoader) Load(libraryPath string) (instance.Factory, error) {
	p, err := plugin.Open(libraryPath)
	if err != nil {
		return nil, fmt.Errorf("open patcher library %s: %w", libraryPath, err)
	}
	sym, err := p.Lookup(symbolName)
	if err != nil {
		return nil, fmt.Errorf("patcher library %s missing %s: %w", libraryPath, symbolName, err)
	}
	factoryFn, ok := sym.(func() instance.Factory)
	if !ok {
		return nil, fmt.Errorf("patcher library %s: %s has the wrong signature", libraryPath, symbolName)
	}
	return factoryFn(), nil
}
