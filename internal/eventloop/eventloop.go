package eventloop

import (
	"fmt"
	"sync"
	"time"

	"github.com/esrun-go/esrun/internal/core"
)

// Task is a unit of deferred work resolved on the runtime goroutine during
// Drain. Fetch completions are Tasks: the task performs the provider's
// blocking body pull and then settles the script-side promise. A Task must
// only touch the realm it was registered for.
type Task func(rt core.Realm)

// timerEntry represents a pending setTimeout or setInterval callback.
// The actual callback is stored in globalThis.__timerCallbacks[id] on the
// JS side. Go only tracks scheduling metadata.
type timerEntry struct {
	deadline time.Time
	interval time.Duration // 0 for setTimeout, >0 for setInterval
	id       int
	cleared  bool
}

// minInterval is the floor for setInterval cadence.
const minInterval = 4 * time.Millisecond

// EventLoop manages Go-backed timers for setTimeout/setInterval and
// deferred tasks (fetch completions) for one realm. Registration is safe
// from any goroutine; Drain must run on the runtime goroutine.
type EventLoop struct {
	mu     sync.Mutex
	timers map[int]*timerEntry
	nextID int
	tasks  []Task
}

// New creates an empty EventLoop.
func New() *EventLoop {
	return &EventLoop{
		timers: make(map[int]*timerEntry),
	}
}

// RegisterTimer creates a timer entry and returns its ID. The JS callback
// lives in globalThis.__timerCallbacks[id].
func (el *EventLoop) RegisterTimer(delay time.Duration, isInterval bool) int {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.nextID++
	id := el.nextID
	entry := &timerEntry{
		deadline: time.Now().Add(delay),
		id:       id,
	}
	if isInterval {
		if delay < minInterval {
			delay = minInterval
		}
		entry.interval = delay
	}
	el.timers[id] = entry
	return id
}

// ClearTimer cancels a timer by ID.
func (el *EventLoop) ClearTimer(id int) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if t, ok := el.timers[id]; ok {
		t.cleared = true
		delete(el.timers, id)
	}
}

// Push registers a deferred task for the next Drain.
func (el *EventLoop) Push(t Task) {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.tasks = append(el.tasks, t)
}

// runTasks executes all queued tasks in registration order with a microtask
// checkpoint after each. Returns true if any task ran. Tasks may queue
// further tasks; those run on the next pass.
func (el *EventLoop) runTasks(rt core.Realm) bool {
	el.mu.Lock()
	tasks := el.tasks
	el.tasks = nil
	el.mu.Unlock()

	if len(tasks) == 0 {
		return false
	}
	for _, t := range tasks {
		t(rt)
		rt.RunMicrotasks()
	}
	return true
}

// fireTimer fires a timer callback by invoking the JS-side callback map.
func (el *EventLoop) fireTimer(rt core.Realm, id int) {
	js := fmt.Sprintf(`(function() {
		var entry = globalThis.__timerCallbacks[%d];
		if (!entry) return;
		if (!entry.interval) delete globalThis.__timerCallbacks[%d];
		entry.fn.apply(null, entry.args || []);
	})()`, id, id)
	_ = rt.Eval(js)
}

// Drain runs queued tasks and fires timers that are already due, then
// returns. It never sleeps: a timer whose deadline is in the future stays
// pending, and the caller schedules the next wakeup from NextDeadline. The
// deadline only bounds runaway chains of immediately-due work (a task or
// zero-delay timer that keeps scheduling more). Must be called on the
// runtime goroutine.
func (el *EventLoop) Drain(rt core.Realm, deadline time.Time) {
	for {
		if el.runTasks(rt) {
			if time.Now().After(deadline) {
				return
			}
			continue
		}

		now := time.Now()
		el.mu.Lock()
		var next *timerEntry
		for _, t := range el.timers {
			if t.cleared || t.deadline.After(now) {
				continue
			}
			if next == nil || t.deadline.Before(next.deadline) {
				next = t
			}
		}
		if next == nil {
			el.mu.Unlock()
			return
		}
		timerID := next.id
		if next.interval > 0 {
			next.deadline = now.Add(next.interval)
		} else {
			delete(el.timers, next.id)
		}
		el.mu.Unlock()

		el.fireTimer(rt, timerID)
		rt.RunMicrotasks()

		if time.Now().After(deadline) {
			return
		}
	}
}

// HasPending returns true if any timer or task is outstanding.
func (el *EventLoop) HasPending() bool {
	el.mu.Lock()
	defer el.mu.Unlock()
	return len(el.timers) > 0 || len(el.tasks) > 0
}

// NextDeadline returns the earliest timer deadline, or false when no timer
// is pending. Queued tasks are due immediately.
func (el *EventLoop) NextDeadline() (time.Time, bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if len(el.tasks) > 0 {
		return time.Now(), true
	}
	var next *timerEntry
	for _, t := range el.timers {
		if t.cleared {
			continue
		}
		if next == nil || t.deadline.Before(next.deadline) {
			next = t
		}
	}
	if next == nil {
		return time.Time{}, false
	}
	return next.deadline, true
}

// Reset drops all timers and tasks. Called when a realm is dropped.
func (el *EventLoop) Reset() {
	el.mu.Lock()
	defer el.mu.Unlock()
	el.timers = make(map[int]*timerEntry)
	el.nextID = 0
	el.tasks = nil
}
