package esrun

import (
	"fmt"
	"log"
	"runtime"
	"time"

	"github.com/esrun-go/esrun/internal/core"
)

// drainBudget bounds the post-job event-loop drain. A job that schedules an
// endless chain of timers cannot wedge the worker forever; whatever is still
// pending after the budget carries over to the next wakeup.
const drainBudget = 10 * time.Second

// worker is the single goroutine that owns the engine. The engine backend,
// every realm, and every engine-native value are created, used and destroyed
// on this goroutine only. Everything else in the package talks to it through
// rt.queue.
type worker struct {
	rt      *Runtime
	backend core.EngineBackend
	realms  map[string]*Realm
}

// run is the worker main loop. The OS thread is locked because the engine's
// native stacks and TLS state are thread-affine.
func (w *worker) run(handshake chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.realms = make(map[string]*Realm)
	w.backend = newBackend(w.rt.cfg.engine)

	if _, err := w.createRealm(DefaultRealm); err != nil {
		w.backend.Close()
		handshake <- err
		return
	}
	handshake <- nil

	var gcTick <-chan time.Time
	if w.rt.cfg.engine.GCInterval > 0 {
		ticker := time.NewTicker(w.rt.cfg.engine.GCInterval)
		defer ticker.Stop()
		gcTick = ticker.C
	}

	wake := time.NewTimer(time.Hour)
	defer wake.Stop()

	for {
		w.armWake(wake)

		select {
		case t := <-w.rt.queue.ch:
			w.execute(t)
		case <-gcTick:
			w.collect()
		case <-wake.C:
			w.drainAll()
		case <-w.rt.dead:
			// The engine faulted; its state is suspect, so tear down under
			// a recover and leave.
			func() {
				defer func() { recover() }()
				w.backend.Close()
			}()
			return
		case <-w.rt.done:
			w.shutdown()
			return
		}
	}
}

// armWake points the wake timer at the earliest pending timer deadline
// across all realms, so timers fire even when no jobs are flowing.
func (w *worker) armWake(wake *time.Timer) {
	if !wake.Stop() {
		select {
		case <-wake.C:
		default:
		}
	}

	var earliest time.Time
	for _, r := range w.realms {
		if d, ok := r.loop.NextDeadline(); ok {
			if earliest.IsZero() || d.Before(earliest) {
				earliest = d
			}
		}
	}
	if earliest.IsZero() {
		wake.Reset(time.Hour)
		return
	}
	d := time.Until(earliest)
	if d < 0 {
		d = 0
	}
	wake.Reset(d)
}

// execute runs one queued task: realm creation for a nil job, otherwise the
// job itself followed by a drain to quiescence. A panic in the job fails
// only that job; a panic in the drain or GC plumbing is an engine fault and
// kills the runtime.
func (w *worker) execute(t *task) {
	if t.job == nil {
		_, err := w.createRealm(t.realmID)
		t.deliver(Undefined(), err)
		return
	}

	r, ok := w.realms[t.realmID]
	if !ok {
		t.deliver(Undefined(), fmt.Errorf("unknown realm %q", t.realmID))
		return
	}

	v, err := w.runJob(r, t.job)
	t.deliver(v, err)

	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("esrun: engine fault, runtime is dead: %v", rec)
			w.rt.markDead()
		}
	}()
	w.drainAll()
	w.gcPolicy()
}

// runJob executes one job with panic containment.
func (w *worker) runJob(r *Realm, job Job) (v ValueFacade, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			v = Undefined()
			err = fmt.Errorf("job panicked: %v", rec)
		}
	}()
	return job(r)
}

// drainAll pumps every realm's microtasks and event loop until quiescent or
// the drain budget runs out.
func (w *worker) drainAll() {
	deadline := time.Now().Add(drainBudget)
	for _, r := range w.realms {
		r.core.RunMicrotasks()
		r.loop.Drain(r.core, deadline)
	}
}

// gcPolicy forces a collection once enough tracked allocations accumulated.
func (w *worker) gcPolicy() {
	threshold := w.rt.cfg.engine.GCThresholdAllocs
	if threshold == 0 {
		return
	}
	if w.rt.allocsSinceGC.Load() >= threshold {
		w.collect()
	}
}

// collect runs a full engine GC pass and records it.
func (w *worker) collect() {
	w.backend.RunGC()
	w.rt.allocsSinceGC.Store(0)
	w.rt.collections.Add(1)
}

// createRealm builds a realm on this goroutine and bootstraps the
// marshaling protocol, timers, module plumbing and fetch into it.
func (w *worker) createRealm(id string) (*Realm, error) {
	if _, exists := w.realms[id]; exists {
		return nil, fmt.Errorf("realm %q already exists", id)
	}
	r, err := newRealm(w, id)
	if err != nil {
		return nil, err
	}
	w.realms[id] = r
	return r, nil
}

// dropRealm destroys a realm. Outstanding promise facades are rejected so
// their awaiters return instead of hanging until timeout. Must run on the
// worker goroutine.
func (w *worker) dropRealm(id string) {
	r, ok := w.realms[id]
	if !ok {
		return
	}
	reason := ValueFacade{kind: KindError, scriptErr: &ScriptError{
		Name:    "RealmDropped",
		Message: "realm " + id + " was dropped before the promise settled",
	}}
	for pid, pf := range r.promises {
		delete(r.promises, pid)
		pf.settle(false, reason)
	}
	r.loop.Reset()
	w.backend.DropRealm(id)
	delete(w.realms, id)
}

// shutdown tears the engine down in an orderly fashion and fails whatever
// was still queued.
func (w *worker) shutdown() {
	for id := range w.realms {
		w.dropRealm(id)
	}
	w.backend.Close()
	w.rt.queue.failPending()
}
