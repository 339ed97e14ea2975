//go:build v8

package v8engine

import (
	"fmt"

	"github.com/esrun-go/esrun/internal/core"
	v8 "github.com/tommie/v8go"
)

// Engine implements core.EngineBackend on top of V8. One isolate is shared
// by all realms; each realm is its own v8.Context, which is V8's native
// notion of an isolated global scope. The isolate must only be used from
// the goroutine that called New.
type Engine struct {
	iso    *v8.Isolate
	realms map[string]*v8Realm
}

var _ core.EngineBackend = (*Engine)(nil)

// New creates a V8 backend. MaxStackSizeBytes is not enforceable through
// v8go and is ignored; GCInterval/GCThresholdAllocs trigger RunGC, which
// for V8 only nudges the idle notification (the isolate schedules its own
// collections).
func New(cfg core.EngineConfig) *Engine {
	var iso *v8.Isolate
	if cfg.MemoryLimitBytes > 0 {
		iso = v8.NewIsolate(v8.WithResourceConstraints(cfg.MemoryLimitBytes/2, cfg.MemoryLimitBytes))
	} else {
		iso = v8.NewIsolate()
	}
	return &Engine{
		iso:    iso,
		realms: make(map[string]*v8Realm),
	}
}

// CreateRealm creates a fresh v8.Context in the shared isolate.
func (e *Engine) CreateRealm(id string) (core.Realm, error) {
	if _, exists := e.realms[id]; exists {
		return nil, fmt.Errorf("realm %q already exists", id)
	}
	r := &v8Realm{
		id:  id,
		iso: e.iso,
		ctx: v8.NewContext(e.iso),
	}
	e.realms[id] = r
	return r, nil
}

// Realm returns an existing realm by ID.
func (e *Engine) Realm(id string) (core.Realm, bool) {
	r, ok := e.realms[id]
	return r, ok
}

// DropRealm closes the realm's context and forgets it.
func (e *Engine) DropRealm(id string) {
	if r, ok := e.realms[id]; ok {
		delete(e.realms, id)
		r.ctx.Close()
	}
}

// RunGC is advisory for V8: the isolate manages its own heap. Kept so the
// worker's collection accounting behaves identically across backends.
func (e *Engine) RunGC() {}

// Close disposes every context and the isolate.
func (e *Engine) Close() {
	for id, r := range e.realms {
		delete(e.realms, id)
		r.ctx.Close()
	}
	e.iso.Dispose()
}
