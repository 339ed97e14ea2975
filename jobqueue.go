package esrun

import (
	"sync"
	"sync/atomic"
)

// queueCapacity bounds the submission channel. Submission blocks when the
// worker falls this far behind, which keeps callers honest without
// unbounded buffering.
const queueCapacity = 1024

// JobResult carries the outcome of one job back to its submitter.
type JobResult struct {
	Value ValueFacade
	Err   error
}

// Job is one unit of worker work. The *Realm token is only ever constructed
// on the worker goroutine, so holding one is proof of being there.
type Job func(r *Realm) (ValueFacade, error)

// task is the queued form of a job. Internal tasks (ref releases, drain
// nudges) have a nil result channel; nobody waits on them.
type task struct {
	realmID string
	job     Job
	res     chan JobResult
}

// deliver hands the result to the waiter. Each task is received from the
// queue exactly once, so deliver runs at most once per task.
func (t *task) deliver(v ValueFacade, err error) {
	if t.res == nil {
		return
	}
	t.res <- JobResult{Value: v, Err: err}
}

// jobQueue is the single serialization point between caller goroutines and
// the worker. Enqueues are atomic and totally ordered; the worker drains
// strictly FIFO.
type jobQueue struct {
	ch   chan *task
	down chan struct{} // closed by shut; unblocks pushers stuck on a full queue

	reason   atomic.Value // error; set before down closes
	shutOnce sync.Once
}

func newJobQueue() *jobQueue {
	return &jobQueue{
		ch:   make(chan *task, queueCapacity),
		down: make(chan struct{}),
	}
}

// push enqueues a task, blocking if the queue is full. Fails immediately
// with the close reason once the queue is shut.
func (q *jobQueue) push(t *task) error {
	select {
	case <-q.down:
		return q.closeReason()
	default:
	}

	select {
	case q.ch <- t:
		// Shut can race the enqueue; if it did, the shutdown drain may have
		// already run, so sweep the queue ourselves.
		select {
		case <-q.down:
			q.failPending()
		default:
		}
		return nil
	case <-q.down:
		return q.closeReason()
	}
}

// shut marks the queue closed with the given reason and releases any
// blocked pushers. Tasks already queued are failed via failPending.
func (q *jobQueue) shut(reason error) {
	q.shutOnce.Do(func() {
		q.reason.Store(reason)
		close(q.down)
	})
}

func (q *jobQueue) closeReason() error {
	if err, ok := q.reason.Load().(error); ok {
		return err
	}
	return ErrRuntimeClosed
}

// failPending drains every queued task and delivers the close reason to its
// waiter. Receiving from the channel is exclusive, so concurrent sweeps
// never double-deliver a task.
func (q *jobQueue) failPending() {
	reason := q.closeReason()
	for {
		select {
		case t := <-q.ch:
			t.deliver(Undefined(), reason)
		default:
			return
		}
	}
}
