package esrun

import (
	"fmt"
	"testing"
	"time"
)

type counter struct {
	n int
}

func newCounterClass() *ProxyBuilder {
	return NewProxyBuilder("my.biz.Counter").
		Constructor(func(r *Realm, args []ValueFacade) (any, error) {
			c := &counter{}
			if len(args) > 0 {
				c.n = args[0].Int()
			}
			return c, nil
		}).
		Method("add", func(r *Realm, instance any, args []ValueFacade) (ValueFacade, error) {
			c := instance.(*counter)
			for _, a := range args {
				c.n += a.Int()
			}
			return NewInt(c.n), nil
		}).
		Method("value", func(r *Realm, instance any, args []ValueFacade) (ValueFacade, error) {
			return NewInt(instance.(*counter).n), nil
		}).
		StaticMethod("describe", func(r *Realm, this ValueFacade, args []ValueFacade) (ValueFacade, error) {
			return NewString("counts things"), nil
		})
}

func installCounter(t *testing.T, rt *Runtime) {
	t.Helper()
	_, err := rt.SubmitSync(DefaultRealm, func(r *Realm) (ValueFacade, error) {
		return Undefined(), newCounterClass().Install(r)
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("installing proxy class: %v", err)
	}
}

func TestProxyConstructAndInvoke(t *testing.T) {
	rt := newTestRuntime(t)
	installCounter(t, rt)

	script := `
		var c = new my.biz.Counter(100);
		c.add(80);
		c.add(5);
	`
	v, err := rt.EvalSync(DefaultRealm, script, 5*time.Second)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if v.Int() != 185 {
		t.Fatalf("expected 185, got %v", v)
	}
}

func TestProxyStateLivesInGo(t *testing.T) {
	rt := newTestRuntime(t)
	installCounter(t, rt)

	if _, err := rt.EvalSync(DefaultRealm, `globalThis.c = new my.biz.Counter(); c.add(3);`, 5*time.Second); err != nil {
		t.Fatalf("eval failed: %v", err)
	}

	// The Go instance is reachable from the facade and carries the state.
	_, err := rt.SubmitSync(DefaultRealm, func(r *Realm) (ValueFacade, error) {
		v, err := r.Eval("c")
		if err != nil {
			return Undefined(), err
		}
		inst, err := r.ProxyInstance(v)
		if err != nil {
			return Undefined(), err
		}
		if got := inst.(*counter).n; got != 3 {
			return Undefined(), fmt.Errorf("expected 3 in the Go instance, got %d", got)
		}
		return Undefined(), nil
	}, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
}

func TestProxyStaticMethod(t *testing.T) {
	rt := newTestRuntime(t)
	installCounter(t, rt)

	v, err := rt.EvalSync(DefaultRealm, `my.biz.Counter.describe()`, 5*time.Second)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if v.Str() != "counts things" {
		t.Fatalf("expected describe text, got %v", v)
	}
}

func TestProxyGoidHidden(t *testing.T) {
	rt := newTestRuntime(t)
	installCounter(t, rt)

	v, err := rt.EvalSync(DefaultRealm,
		`Object.keys(new my.biz.Counter()).indexOf("__goid") === -1`, 5*time.Second)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if !v.Bool() {
		t.Fatal("__goid is enumerable")
	}
}

func TestProxyConstructorError(t *testing.T) {
	rt := newTestRuntime(t)

	failing := NewProxyBuilder("Broken").
		Constructor(func(r *Realm, args []ValueFacade) (any, error) {
			return nil, fmt.Errorf("cannot build")
		})
	_, err := rt.SubmitSync(DefaultRealm, func(r *Realm) (ValueFacade, error) {
		return Undefined(), failing.Install(r)
	}, 5*time.Second)
	if err != nil {
		t.Fatalf("installing proxy class: %v", err)
	}

	if _, err := rt.EvalSync(DefaultRealm, `new Broken()`, 5*time.Second); err == nil {
		t.Fatal("expected constructor error to propagate as a throw")
	}
}

func TestProxyClassAsModuleExport(t *testing.T) {
	rt, err := NewBuilder().NativeModuleLoader(counterModule{}).Build()
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}
	defer rt.Close()

	src := `
		import { Counter } from "host:counter";
		var c = new Counter(40);
		export default c.add(2);
	`
	v, err := rt.EvalModuleSync(DefaultRealm, "main.js", src, 10*time.Second)
	if err != nil {
		t.Fatalf("module eval failed: %v", err)
	}
	if v.Int() != 42 {
		t.Fatalf("expected 42, got %v", v)
	}
}

type counterModule struct{}

func (counterModule) HasModule(name string) bool             { return name == "host:counter" }
func (counterModule) ModuleExportNames(name string) []string { return []string{"Counter"} }

func (counterModule) ModuleExports(r *Realm, name string) ([]NativeExport, error) {
	return []NativeExport{{Name: "Counter", Class: newCounterClass()}}, nil
}
