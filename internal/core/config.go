package core

import "time"

// EngineConfig holds the engine-level tunables collected by the runtime
// builder. All fields are optional; zero means "engine default".
type EngineConfig struct {
	MemoryLimitBytes  uint64        // caps total engine heap allocation
	GCThresholdAllocs uint64        // tracked allocations between forced collections
	GCInterval        time.Duration // wall-clock cadence for forced collections
	MaxStackSizeBytes uint64        // caps native call-stack depth for script execution
}
