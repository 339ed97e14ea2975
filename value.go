package esrun

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Kind discriminates what a ValueFacade carries.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
	KindFunction
	KindPromise
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindUndefined:
		return "undefined"
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	case KindFunction:
		return "function"
	case KindPromise:
		return "promise"
	case KindError:
		return "error"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ValueFacade is a thread-safe representation of a script value: either a
// self-contained copy of a primitive, or a reference-counted handle to an
// engine-native object. Handles can cross goroutines freely but may only be
// dereferenced by code running on the runtime worker (inside a Job or a
// native callback).
type ValueFacade struct {
	kind      Kind
	boolVal   bool
	numVal    float64
	strVal    string
	ref       *RefHandle
	promise   *PromiseFacade
	scriptErr *ScriptError
}

// Undefined returns the undefined facade.
func Undefined() ValueFacade { return ValueFacade{kind: KindUndefined} }

// Null returns the null facade.
func Null() ValueFacade { return ValueFacade{kind: KindNull} }

// NewBool copies a bool into a facade.
func NewBool(v bool) ValueFacade { return ValueFacade{kind: KindBool, boolVal: v} }

// NewNumber copies a number into a facade.
func NewNumber(v float64) ValueFacade { return ValueFacade{kind: KindNumber, numVal: v} }

// NewInt copies an integer into a facade.
func NewInt(v int) ValueFacade { return ValueFacade{kind: KindNumber, numVal: float64(v)} }

// NewString copies a string into a facade.
func NewString(v string) ValueFacade { return ValueFacade{kind: KindString, strVal: v} }

// Kind reports what the facade carries.
func (v ValueFacade) Kind() Kind { return v.kind }

// IsUndefined reports whether the facade is the undefined value.
func (v ValueFacade) IsUndefined() bool { return v.kind == KindUndefined }

// IsNullish reports whether the facade is null or undefined.
func (v ValueFacade) IsNullish() bool { return v.kind == KindUndefined || v.kind == KindNull }

// Bool returns the primitive bool copy.
func (v ValueFacade) Bool() bool { return v.boolVal }

// Number returns the primitive number copy.
func (v ValueFacade) Number() float64 { return v.numVal }

// Int returns the primitive number copy truncated to int.
func (v ValueFacade) Int() int { return int(v.numVal) }

// Str returns the primitive string copy.
func (v ValueFacade) Str() string { return v.strVal }

// Ref returns the reference handle for object, array, function and promise
// facades, nil otherwise.
func (v ValueFacade) Ref() *RefHandle { return v.ref }

// Promise returns the promise facade when Kind is KindPromise.
func (v ValueFacade) Promise() *PromiseFacade { return v.promise }

// Err returns the captured script error when Kind is KindError.
func (v ValueFacade) Err() *ScriptError { return v.scriptErr }

// String renders a debug representation. Dereferencing is not attempted.
func (v ValueFacade) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.boolVal)
	case KindNumber:
		return strconv.FormatFloat(v.numVal, 'g', -1, 64)
	case KindString:
		return v.strVal
	case KindError:
		return v.scriptErr.Error()
	case KindObject, KindArray, KindFunction, KindPromise:
		return fmt.Sprintf("[%s ref %d @%s]", v.kind, v.ref.id, v.ref.realmID)
	default:
		return v.kind.String()
	}
}

// RefHandle is a reference-counted pointer to an object living in the
// engine heap of one realm. The count is atomic so facades can be cloned
// and released from any goroutine; the underlying object may only be
// touched on the runtime worker.
type RefHandle struct {
	rt      *Runtime
	realmID string
	id      int64
	refs    atomic.Int32
}

// RealmID returns the realm the referenced object belongs to.
func (h *RefHandle) RealmID() string { return h.realmID }

// Clone increments the reference count and returns the same handle.
func (h *RefHandle) Clone() *RefHandle {
	h.refs.Add(1)
	return h
}

// Release decrements the reference count. At zero the engine-side registry
// entry is dropped via a best-effort cleanup job, making the object
// collectable. Safe from any goroutine; releasing can race with job
// execution.
func (h *RefHandle) Release() {
	if h.refs.Add(-1) != 0 {
		return
	}
	id := h.id
	h.rt.submitInternal(h.realmID, func(r *Realm) {
		_ = r.core.Eval(fmt.Sprintf("delete globalThis.__refs[%d];", id))
	})
}

// PromiseFacade tracks the settlement of one script promise. It is safe to
// share across goroutines.
type PromiseFacade struct {
	handle *RefHandle

	mu       sync.Mutex
	settled  bool
	resolved bool
	value    ValueFacade
	done     chan struct{}
}

func newPromiseFacade(handle *RefHandle) *PromiseFacade {
	return &PromiseFacade{handle: handle, done: make(chan struct{})}
}

// Handle returns the promise's reference handle.
func (p *PromiseFacade) Handle() *RefHandle { return p.handle }

// Settled returns a channel that is closed when the promise settles. This
// is the asynchronous await variant: no goroutine blocks on the worker.
func (p *PromiseFacade) Settled() <-chan struct{} { return p.done }

// Result returns the settlement outcome. ok is false while pending.
func (p *PromiseFacade) Result() (value ValueFacade, resolved bool, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.resolved, p.settled
}

// AwaitSync blocks the calling goroutine until the promise settles or the
// timeout elapses. A rejection is returned as *RejectedError; a timeout as
// ErrTimeout. The worker is nudged with a no-op job so the event loop keeps
// draining while this caller waits.
func (p *PromiseFacade) AwaitSync(timeout time.Duration) (ValueFacade, error) {
	// Re-enter the worker so pending timers and fetches settle even when
	// no other jobs are flowing.
	p.handle.rt.submitInternal(p.handle.realmID, func(r *Realm) {})

	select {
	case <-p.done:
	case <-time.After(timeout):
		return Undefined(), ErrTimeout
	case <-p.handle.rt.dead:
		return Undefined(), ErrWorkerPanicked
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.resolved {
		if se := p.value.Err(); se != nil && strings.Contains(se.Message, featureUnavailableMarker) {
			return Undefined(), fmt.Errorf("%w: %s", ErrFeatureUnavailable, se.Message)
		}
		return Undefined(), &RejectedError{Reason: p.value}
	}
	return p.value, nil
}

// settle records the outcome exactly once. Runs on the worker goroutine.
func (p *PromiseFacade) settle(resolved bool, value ValueFacade) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.settled {
		return
	}
	p.settled = true
	p.resolved = resolved
	p.value = value
	close(p.done)
}
