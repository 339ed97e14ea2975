//go:build !v8

package esrun

import (
	"github.com/esrun-go/esrun/internal/core"
	"github.com/esrun-go/esrun/internal/quickjs"
)

// newBackend selects the QuickJS engine (the default build).
func newBackend(cfg core.EngineConfig) core.EngineBackend {
	return quickjs.New(cfg)
}
