package core

// EngineBackend is the interface that engine implementations (QuickJS, V8)
// must satisfy. The root runtime worker delegates to one of these based on
// build tags. All methods must be called from the worker goroutine that
// constructed the backend.
type EngineBackend interface {
	// CreateRealm creates a new isolated global scope.
	CreateRealm(id string) (Realm, error)

	// Realm returns an existing realm by ID.
	Realm(id string) (Realm, bool)

	// DropRealm destroys a realm and everything it owns.
	DropRealm(id string)

	// RunGC forces a full garbage collection pass over all realms.
	RunGC()

	// Close destroys all realms and releases the engine.
	Close()
}
