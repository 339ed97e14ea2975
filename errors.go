package esrun

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the bridge itself. Script-level failures are carried
// as *ScriptError; these cover everything the bridge can fail with on its
// own. All are comparable with errors.Is.
var (
	// ErrModuleNotFound is returned when neither the native module loader
	// nor the module script loader can supply an imported module.
	ErrModuleNotFound = errors.New("module not found")

	// ErrRealmMismatch is returned when a reference-handle facade is used
	// against a realm other than the one it belongs to.
	ErrRealmMismatch = errors.New("value belongs to a different realm")

	// ErrFeatureUnavailable is returned when script calls a capability that
	// was not configured, e.g. fetch without a response provider.
	ErrFeatureUnavailable = errors.New("feature unavailable")

	// ErrStackOverflow is returned when script exceeds the configured
	// maximum stack size.
	ErrStackOverflow = errors.New("stack overflow")

	// ErrOutOfMemory is returned when an allocation exceeds the configured
	// memory limit.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrTimeout is returned by synchronous submission and await calls when
	// the deadline elapses. The in-flight computation is not stopped.
	ErrTimeout = errors.New("timeout waiting for runtime worker")

	// ErrWorkerPanicked is returned for all pending and future submissions
	// after the runtime worker terminated abnormally.
	ErrWorkerPanicked = errors.New("runtime worker terminated")

	// ErrRuntimeClosed is returned for submissions after an orderly Close.
	ErrRuntimeClosed = errors.New("runtime closed")
)

// ScriptError is a JavaScript exception or promise rejection captured at
// the job boundary. It never unwinds past the worker loop.
type ScriptError struct {
	Name    string
	Message string
	Stack   string
}

func (e *ScriptError) Error() string {
	if e.Name == "" {
		return e.Message
	}
	return e.Name + ": " + e.Message
}

// RejectedError wraps the rejection reason of an awaited promise.
type RejectedError struct {
	Reason ValueFacade
}

func (e *RejectedError) Error() string {
	if se := e.Reason.Err(); se != nil {
		return fmt.Sprintf("promise rejected: %v", se)
	}
	return "promise rejected"
}

// featureUnavailableMarker tags errors thrown by stub bindings for
// capabilities that were not configured. classifyEngineError recognizes it
// regardless of how the engine decorated the thrown message.
const featureUnavailableMarker = "feature unavailable"

// classifyEngineError maps an engine-reported evaluation failure onto the
// typed taxonomy. The engine wrappers surface out-of-memory and stack
// exhaustion as plain error strings, so classification is by message.
func classifyEngineError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "stack overflow"):
		return fmt.Errorf("%w: %v", ErrStackOverflow, err)
	case strings.Contains(msg, "out of memory"):
		return fmt.Errorf("%w: %v", ErrOutOfMemory, err)
	case strings.Contains(msg, featureUnavailableMarker):
		return fmt.Errorf("%w: %v", ErrFeatureUnavailable, err)
	}
	return scriptErrorFrom(err)
}

// scriptErrorFrom converts an engine evaluation error into a *ScriptError.
// Engine wrappers report thrown values as "Name: message" strings.
func scriptErrorFrom(err error) *ScriptError {
	msg := err.Error()
	name := ""
	if i := strings.Index(msg, ": "); i > 0 && !strings.ContainsAny(msg[:i], " \t") {
		name = msg[:i]
		msg = msg[i+2:]
	}
	return &ScriptError{Name: name, Message: msg}
}
