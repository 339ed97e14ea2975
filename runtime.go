package esrun

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultRealm is the realm created at startup.
const DefaultRealm = "main"

// Runtime is the thread-safe entry point to one embedded script engine.
// Exactly one worker goroutine owns the engine; every method here turns
// into an atomic enqueue on the job queue, so Runtime methods may be called
// concurrently from any number of goroutines.
type Runtime struct {
	cfg   runtimeConfig
	queue *jobQueue

	done      chan struct{} // closed by Close
	dead      chan struct{} // closed when the worker dies abnormally
	closeOnce sync.Once
	deadOnce  sync.Once

	collections   atomic.Uint64
	allocsSinceGC atomic.Uint64
}

// newRuntime spawns the worker goroutine and waits for the engine and the
// default realm to come up.
func newRuntime(cfg runtimeConfig) (*Runtime, error) {
	rt := &Runtime{
		cfg:   cfg,
		queue: newJobQueue(),
		done:  make(chan struct{}),
		dead:  make(chan struct{}),
	}

	handshake := make(chan error, 1)
	w := &worker{rt: rt}
	go w.run(handshake)

	if err := <-handshake; err != nil {
		return nil, fmt.Errorf("starting runtime worker: %w", err)
	}
	return rt, nil
}

// SubmitAsync enqueues a job against the given realm and returns a channel
// that receives the result once the worker finishes the job, including the
// promise and event-loop drain it triggered. The caller is never blocked
// beyond the enqueue itself.
func (rt *Runtime) SubmitAsync(realmID string, job Job) <-chan JobResult {
	res := make(chan JobResult, 1)
	t := &task{realmID: realmID, job: job, res: res}
	if err := rt.queue.push(t); err != nil {
		res <- JobResult{Value: Undefined(), Err: err}
	}
	return res
}

// SubmitSync enqueues a job and blocks the calling goroutine until the
// worker completes it or the timeout elapses. On timeout the waiting caller
// is abandoned with ErrTimeout; the in-flight job is not stopped and the
// queue stays healthy for subsequent submissions.
func (rt *Runtime) SubmitSync(realmID string, job Job, timeout time.Duration) (ValueFacade, error) {
	res := rt.SubmitAsync(realmID, job)
	select {
	case r := <-res:
		return r.Value, r.Err
	case <-time.After(timeout):
		return Undefined(), ErrTimeout
	case <-rt.dead:
		return Undefined(), ErrWorkerPanicked
	}
}

// submitInternal enqueues fire-and-forget housekeeping (ref releases, drain
// nudges). Push failures are ignored: once the runtime is gone there is
// nothing left to clean.
func (rt *Runtime) submitInternal(realmID string, fn func(r *Realm)) {
	_ = rt.queue.push(&task{realmID: realmID, job: func(r *Realm) (ValueFacade, error) {
		fn(r)
		return Undefined(), nil
	}})
}

// Eval evaluates a script in the given realm asynchronously.
func (rt *Runtime) Eval(realmID, script string) <-chan JobResult {
	return rt.SubmitAsync(realmID, func(r *Realm) (ValueFacade, error) {
		return r.Eval(script)
	})
}

// EvalSync evaluates a script in the given realm, blocking up to timeout.
func (rt *Runtime) EvalSync(realmID, script string, timeout time.Duration) (ValueFacade, error) {
	return rt.SubmitSync(realmID, func(r *Realm) (ValueFacade, error) {
		return r.Eval(script)
	}, timeout)
}

// EvalModule evaluates an ES module in the given realm asynchronously.
// Imports resolve through the configured native module loader and module
// script loader.
func (rt *Runtime) EvalModule(realmID, name, source string) <-chan JobResult {
	return rt.SubmitAsync(realmID, func(r *Realm) (ValueFacade, error) {
		return r.EvalModule(name, source)
	})
}

// EvalModuleSync evaluates an ES module, blocking up to timeout.
func (rt *Runtime) EvalModuleSync(realmID, name, source string, timeout time.Duration) (ValueFacade, error) {
	return rt.SubmitSync(realmID, func(r *Realm) (ValueFacade, error) {
		return r.EvalModule(name, source)
	}, timeout)
}

// Invoke calls a (possibly namespaced) global function asynchronously.
func (rt *Runtime) Invoke(realmID, fnPath string, args []ValueFacade) <-chan JobResult {
	return rt.SubmitAsync(realmID, func(r *Realm) (ValueFacade, error) {
		return r.CallFunction(fnPath, args...)
	})
}

// InvokeSync calls a (possibly namespaced) global function, e.g.
// "myObj.myFn", with the given facade arguments, blocking up to timeout.
func (rt *Runtime) InvokeSync(realmID, fnPath string, args []ValueFacade, timeout time.Duration) (ValueFacade, error) {
	return rt.SubmitSync(realmID, func(r *Realm) (ValueFacade, error) {
		return r.CallFunction(fnPath, args...)
	}, timeout)
}

// CreateRealm creates a new isolated realm and blocks until the worker has
// built it. A nil-job task against an unknown realm is the creation signal
// the worker loop understands.
func (rt *Runtime) CreateRealm(id string) error {
	r := <-rt.SubmitAsync(id, nil)
	return r.Err
}

// DropRealm destroys a realm and everything it owns. Handles tagged with
// the realm become permanently dangling. The default realm cannot be
// dropped.
func (rt *Runtime) DropRealm(id string) error {
	if id == DefaultRealm {
		return fmt.Errorf("cannot drop realm %q", DefaultRealm)
	}
	_, err := rt.SubmitSync(DefaultRealm, func(r *Realm) (ValueFacade, error) {
		r.w.dropRealm(id)
		return Undefined(), nil
	}, time.Minute)
	return err
}

// Collections returns the number of forced garbage collection passes run
// so far. Monotonically non-decreasing.
func (rt *Runtime) Collections() uint64 {
	return rt.collections.Load()
}

// trackAlloc records one tracked allocation for the GC threshold policy.
func (rt *Runtime) trackAlloc() {
	rt.allocsSinceGC.Add(1)
}

// markDead transitions the runtime to the terminal failed state: all
// pending and future submissions fail with ErrWorkerPanicked.
func (rt *Runtime) markDead() {
	rt.deadOnce.Do(func() {
		rt.queue.shut(ErrWorkerPanicked)
		close(rt.dead)
		rt.queue.failPending()
	})
}

// Close shuts the runtime down in an orderly fashion. Pending submissions
// fail with ErrRuntimeClosed. Close is idempotent; submissions after Close
// fail immediately.
func (rt *Runtime) Close() {
	rt.closeOnce.Do(func() {
		rt.queue.shut(ErrRuntimeClosed)
		close(rt.done)
	})
}
