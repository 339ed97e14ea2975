package core

// Realm abstracts one isolated global scope of the JavaScript engine
// (QuickJS or V8) behind a common interface used by the runtime worker,
// the shared event loop, and the marshaling layer. A Realm must only be
// touched from the goroutine that created its engine.
type Realm interface {
	// ID returns the realm's stable identifier.
	ID() string

	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// EvalInt evaluates JavaScript and returns the result as a Go int.
	EvalInt(js string) (int, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// The function's Go types are automatically marshaled to/from JS types.
	// On error return, the JS wrapper throws a TypeError instead of
	// returning a composite value.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable on the realm. Basic Go types
	// (string, int, float64, bool) are auto-converted to JS types.
	SetGlobal(name string, value any) error

	// RunMicrotasks pumps the microtask queue (Promise callbacks, etc.)
	// to completion and returns the number of jobs executed.
	// V8: PerformMicrotaskCheckpoint, QuickJS: ExecutePendingJob loop.
	RunMicrotasks() int
}
