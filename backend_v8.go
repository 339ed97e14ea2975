//go:build v8

package esrun

import (
	"github.com/esrun-go/esrun/internal/core"
	"github.com/esrun-go/esrun/internal/v8engine"
)

// newBackend selects the V8 engine (build with -tags v8).
func newBackend(cfg core.EngineConfig) core.EngineBackend {
	return v8engine.New(cfg)
}
