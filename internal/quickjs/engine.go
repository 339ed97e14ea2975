//go:build !v8

package quickjs

import (
	"fmt"

	"github.com/esrun-go/esrun/internal/core"
	"modernc.org/quickjs"
)

// Engine implements core.EngineBackend on top of modernc.org/quickjs.
// Each realm owns its own VM (the wrapper binds one JSContext per VM),
// which gives fully isolated global scopes. The engine, and every VM it
// creates, must only be used from the goroutine that called New.
type Engine struct {
	cfg    core.EngineConfig
	realms map[string]*qjsRealm
}

var _ core.EngineBackend = (*Engine)(nil)

// New creates a QuickJS backend. No VM is allocated until the first realm.
func New(cfg core.EngineConfig) *Engine {
	return &Engine{
		cfg:    cfg,
		realms: make(map[string]*qjsRealm),
	}
}

// CreateRealm allocates a VM, applies the configured limits, and registers
// the realm under the given ID.
func (e *Engine) CreateRealm(id string) (core.Realm, error) {
	if _, exists := e.realms[id]; exists {
		return nil, fmt.Errorf("realm %q already exists", id)
	}

	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating VM for realm %q: %w", id, err)
	}

	if e.cfg.MemoryLimitBytes > 0 {
		vm.SetMemoryLimit(uintptr(e.cfg.MemoryLimitBytes))
	}

	r := &qjsRealm{id: id, vm: vm}
	r.initDirectAccess()

	if e.cfg.MaxStackSizeBytes > 0 {
		r.setMaxStackSize(e.cfg.MaxStackSizeBytes)
	}

	e.realms[id] = r
	return r, nil
}

// Realm returns an existing realm by ID.
func (e *Engine) Realm(id string) (core.Realm, bool) {
	r, ok := e.realms[id]
	return r, ok
}

// DropRealm closes the realm's VM and forgets it.
func (e *Engine) DropRealm(id string) {
	if r, ok := e.realms[id]; ok {
		delete(e.realms, id)
		r.vm.Close()
	}
}

// RunGC forces a full collection pass in every realm.
func (e *Engine) RunGC() {
	for _, r := range e.realms {
		r.runGC()
	}
}

// Close destroys all realms.
func (e *Engine) Close() {
	for id, r := range e.realms {
		delete(e.realms, id)
		r.vm.Close()
	}
}
