//go:build !v8

package quickjs

import (
	"testing"

	"github.com/esrun-go/esrun/internal/core"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e := New(core.EngineConfig{})
	t.Cleanup(e.Close)
	return e
}

func TestEvalBasics(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.CreateRealm("t")
	if err != nil {
		t.Fatalf("creating realm: %v", err)
	}

	n, err := r.EvalInt("6 * 7")
	if err != nil || n != 42 {
		t.Fatalf("EvalInt = %d, %v", n, err)
	}
	b, err := r.EvalBool("1 < 2")
	if err != nil || !b {
		t.Fatalf("EvalBool = %v, %v", b, err)
	}
	s, err := r.EvalString("'a' + 'b'")
	if err != nil || s != "ab" {
		t.Fatalf("EvalString = %q, %v", s, err)
	}
	if err := r.Eval("var kept = 99;"); err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	n, err = r.EvalInt("kept")
	if err != nil || n != 99 {
		t.Fatalf("state did not persist: %d, %v", n, err)
	}
}

func TestEvalThrow(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.CreateRealm("t")
	if err != nil {
		t.Fatalf("creating realm: %v", err)
	}
	if err := r.Eval(`throw new Error("bad")`); err == nil {
		t.Fatal("expected thrown error to surface")
	}
}

func TestRegisterFunc(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.CreateRealm("t")
	if err != nil {
		t.Fatalf("creating realm: %v", err)
	}

	add := func(a, b int) (int, error) { return a + b, nil }
	if err := r.RegisterFunc("add", add); err != nil {
		t.Fatalf("RegisterFunc failed: %v", err)
	}
	n, err := r.EvalInt("add(40, 2)")
	if err != nil || n != 42 {
		t.Fatalf("registered func returned %d, %v", n, err)
	}
}

func TestRegisterFuncErrorThrows(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.CreateRealm("t")
	if err != nil {
		t.Fatalf("creating realm: %v", err)
	}

	boom := func() (int, error) { return 0, errTest }
	if err := r.RegisterFunc("boom", boom); err != nil {
		t.Fatalf("RegisterFunc failed: %v", err)
	}
	s, err := r.EvalString(`(function() { try { boom(); return "no throw"; } catch (e) { return "caught"; } })()`)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if s != "caught" {
		t.Fatalf("error return did not throw: %q", s)
	}
}

var errTest = testError("test failure")

type testError string

func (e testError) Error() string { return string(e) }

func TestSetGlobal(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.CreateRealm("t")
	if err != nil {
		t.Fatalf("creating realm: %v", err)
	}
	if err := r.SetGlobal("seed", 41); err != nil {
		t.Fatalf("SetGlobal failed: %v", err)
	}
	n, err := r.EvalInt("seed + 1")
	if err != nil || n != 42 {
		t.Fatalf("global not visible: %d, %v", n, err)
	}
}

func TestRunMicrotasks(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.CreateRealm("t")
	if err != nil {
		t.Fatalf("creating realm: %v", err)
	}
	if err := r.Eval(`var out = 0; Promise.resolve(5).then(function(v) { out = v; });`); err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	r.RunMicrotasks()
	n, err := r.EvalInt("out")
	if err != nil || n != 5 {
		t.Fatalf("promise callback did not run: %d, %v", n, err)
	}
}

func TestRealmLifecycle(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.CreateRealm("a"); err != nil {
		t.Fatalf("creating realm: %v", err)
	}
	if _, err := e.CreateRealm("a"); err == nil {
		t.Fatal("expected duplicate realm error")
	}
	if _, ok := e.Realm("a"); !ok {
		t.Fatal("realm lookup failed")
	}
	e.DropRealm("a")
	if _, ok := e.Realm("a"); ok {
		t.Fatal("dropped realm still registered")
	}
}

func TestRealmScopesAreIsolated(t *testing.T) {
	e := newTestEngine(t)
	a, err := e.CreateRealm("a")
	if err != nil {
		t.Fatalf("creating realm: %v", err)
	}
	b, err := e.CreateRealm("b")
	if err != nil {
		t.Fatalf("creating realm: %v", err)
	}
	if err := a.Eval("var mine = 1;"); err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	s, err := b.EvalString("typeof mine")
	if err != nil || s != "undefined" {
		t.Fatalf("realms share scope: %q, %v", s, err)
	}
}
