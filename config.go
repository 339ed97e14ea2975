package esrun

import (
	"time"

	"github.com/esrun-go/esrun/internal/core"
)

// runtimeConfig is the frozen option set a Builder produces. It is consumed
// exactly once, by the worker goroutine at startup, and never mutated after
// the worker is spawned.
type runtimeConfig struct {
	engine        core.EngineConfig
	scriptLoader  ModuleScriptLoader
	nativeLoader  NativeModuleLoader
	fetchProvider ResponseProvider
}

// Builder accumulates runtime options. All options are optional and
// independent; the zero Builder produces a runtime with engine defaults and
// no loaders. A Builder must not be reused after Build.
//
//	rt, err := esrun.NewBuilder().
//		MemoryLimit(16 * 1024 * 1024).
//		GCThreshold(1000).
//		Build()
type Builder struct {
	cfg runtimeConfig
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// MemoryLimit caps total engine heap allocation in bytes. Exceeding it
// fails allocations inside the worker with an out-of-memory condition
// surfaced to the triggering job.
func (b *Builder) MemoryLimit(bytes uint64) *Builder {
	b.cfg.engine.MemoryLimitBytes = bytes
	return b
}

// GCThreshold sets the number of tracked allocations between forced
// collections. A tracked allocation is one engine evaluation or one value
// reference registration.
func (b *Builder) GCThreshold(allocs uint64) *Builder {
	b.cfg.engine.GCThresholdAllocs = allocs
	return b
}

// GCInterval sets a wall-clock cadence for forced collections, independent
// of the allocation count.
func (b *Builder) GCInterval(d time.Duration) *Builder {
	b.cfg.engine.GCInterval = d
	return b
}

// MaxStackSize caps native call-stack depth for script execution in bytes.
// Exceeding it fails the job with ErrStackOverflow.
func (b *Builder) MaxStackSize(bytes uint64) *Builder {
	b.cfg.engine.MaxStackSizeBytes = bytes
	return b
}

// ModuleScriptLoader installs the callback that supplies source text for
// imported modules.
func (b *Builder) ModuleScriptLoader(loader ModuleScriptLoader) *Builder {
	b.cfg.scriptLoader = loader
	return b
}

// NativeModuleLoader installs the loader that supplies synthetic,
// non-source modules whose exports are host values.
func (b *Builder) NativeModuleLoader(loader NativeModuleLoader) *Builder {
	b.cfg.nativeLoader = loader
	return b
}

// FetchResponseProvider enables the script-side fetch global, backed by the
// given provider. Without a provider, fetch fails with
// ErrFeatureUnavailable.
func (b *Builder) FetchResponseProvider(provider ResponseProvider) *Builder {
	b.cfg.fetchProvider = provider
	return b
}

// Build spawns the runtime worker and returns the thread-safe facade. The
// engine instance is constructed on the worker goroutine and never leaves
// it.
func (b *Builder) Build() (*Runtime, error) {
	return newRuntime(b.cfg)
}
