package eventloop

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/esrun-go/esrun/internal/core"
)

// fakeRealm records evaluated scripts so tests can observe timer firings
// without a real engine.
type fakeRealm struct {
	evals      []string
	microtasks int
}

var _ core.Realm = (*fakeRealm)(nil)

func (f *fakeRealm) ID() string { return "fake" }

func (f *fakeRealm) Eval(js string) error {
	f.evals = append(f.evals, js)
	return nil
}

func (f *fakeRealm) EvalString(js string) (string, error) {
	f.evals = append(f.evals, js)
	return "", nil
}

func (f *fakeRealm) EvalBool(js string) (bool, error) {
	f.evals = append(f.evals, js)
	return false, nil
}

func (f *fakeRealm) EvalInt(js string) (int, error) {
	f.evals = append(f.evals, js)
	return 0, nil
}

func (f *fakeRealm) RegisterFunc(name string, fn any) error { return nil }

func (f *fakeRealm) SetGlobal(name string, value any) error { return nil }

func (f *fakeRealm) RunMicrotasks() int {
	f.microtasks++
	return 0
}

func (f *fakeRealm) firedTimers() []string {
	var fired []string
	for _, js := range f.evals {
		if strings.Contains(js, "__timerCallbacks") {
			fired = append(fired, js)
		}
	}
	return fired
}

func TestTimerFires(t *testing.T) {
	el := New()
	r := &fakeRealm{}

	id := el.RegisterTimer(5*time.Millisecond, false)
	time.Sleep(10 * time.Millisecond)
	el.Drain(r, time.Now().Add(time.Second))

	fired := r.firedTimers()
	if len(fired) != 1 {
		t.Fatalf("expected one firing, got %d", len(fired))
	}
	if !strings.Contains(fired[0], "["+strconv.Itoa(id)+"]") {
		t.Fatalf("fired wrong timer: %s", fired[0])
	}
	if el.HasPending() {
		t.Fatal("one-shot timer still pending after firing")
	}
}

func TestClearedTimerDoesNotFire(t *testing.T) {
	el := New()
	r := &fakeRealm{}

	id := el.RegisterTimer(5*time.Millisecond, false)
	el.ClearTimer(id)
	el.Drain(r, time.Now().Add(100*time.Millisecond))

	if len(r.firedTimers()) != 0 {
		t.Fatal("cleared timer fired")
	}
	if el.HasPending() {
		t.Fatal("cleared timer still pending")
	}
}

func TestIntervalRepeats(t *testing.T) {
	el := New()
	r := &fakeRealm{}

	el.RegisterTimer(5*time.Millisecond, true)
	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		el.Drain(r, time.Now().Add(time.Second))
	}

	if fired := len(r.firedTimers()); fired < 2 {
		t.Fatalf("expected repeated firings across drains, got %d", fired)
	}
	if !el.HasPending() {
		t.Fatal("interval timer should stay pending")
	}
}

func TestDrainDoesNotWaitForFutureTimers(t *testing.T) {
	el := New()
	r := &fakeRealm{}

	el.RegisterTimer(2*time.Second, false)
	start := time.Now()
	el.Drain(r, time.Now().Add(10*time.Second))

	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("drain slept on a future timer: took %v", elapsed)
	}
	if len(r.firedTimers()) != 0 {
		t.Fatal("future timer fired early")
	}
	if !el.HasPending() {
		t.Fatal("future timer should stay pending")
	}
}

func TestTasksRunBeforeTimers(t *testing.T) {
	el := New()
	r := &fakeRealm{}

	var order []string
	el.RegisterTimer(0, false)
	el.Push(func(rt core.Realm) {
		order = append(order, "task")
	})
	el.Drain(r, time.Now().Add(time.Second))
	order = append(order, "drained")

	if len(order) != 2 || order[0] != "task" {
		t.Fatalf("unexpected order %v", order)
	}
	if len(r.firedTimers()) != 1 {
		t.Fatal("due timer did not fire during drain")
	}
	if r.microtasks == 0 {
		t.Fatal("no microtask checkpoints ran")
	}
}

func TestTasksCanQueueTasks(t *testing.T) {
	el := New()
	r := &fakeRealm{}

	ran := 0
	el.Push(func(rt core.Realm) {
		ran++
		el.Push(func(rt core.Realm) { ran++ })
	})
	el.Drain(r, time.Now().Add(time.Second))

	if ran != 2 {
		t.Fatalf("expected chained task to run, ran=%d", ran)
	}
}

func TestNextDeadline(t *testing.T) {
	el := New()

	if _, ok := el.NextDeadline(); ok {
		t.Fatal("empty loop reported a deadline")
	}

	el.RegisterTimer(time.Hour, false)
	d, ok := el.NextDeadline()
	if !ok || time.Until(d) < 30*time.Minute {
		t.Fatalf("unexpected deadline %v", d)
	}

	el.Push(func(rt core.Realm) {})
	d, ok = el.NextDeadline()
	if !ok || time.Until(d) > time.Second {
		t.Fatal("queued task should make the loop due immediately")
	}

	el.Reset()
	if el.HasPending() {
		t.Fatal("reset loop still pending")
	}
}
