package esrun

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/esrun-go/esrun/internal/core"
	"github.com/esrun-go/esrun/internal/eventloop"
)

// timerBootstrapJS installs setTimeout/setInterval shims backed by Go-side
// timer scheduling. Callbacks stay on the JS side in __timerCallbacks; Go
// only tracks the deadlines and fires by ID.
const timerBootstrapJS = `(function() {
	globalThis.__timerCallbacks = {};

	globalThis.setTimeout = function(fn, delay) {
		var args = Array.prototype.slice.call(arguments, 2);
		var id = __timer_register(Math.max(0, delay | 0), 0);
		globalThis.__timerCallbacks[id] = { fn: fn, args: args, interval: false };
		return id;
	};

	globalThis.setInterval = function(fn, delay) {
		var args = Array.prototype.slice.call(arguments, 2);
		var id = __timer_register(Math.max(0, delay | 0), 1);
		globalThis.__timerCallbacks[id] = { fn: fn, args: args, interval: true };
		return id;
	};

	globalThis.clearTimeout = function(id) {
		delete globalThis.__timerCallbacks[id];
		__timer_clear(id | 0);
	};
	globalThis.clearInterval = globalThis.clearTimeout;

	globalThis.queueMicrotask = function(fn) {
		Promise.resolve().then(fn);
	};
})();`

// Realm is the worker-side face of one isolated global scope. A *Realm is
// only ever handed to code running on the worker goroutine (jobs and native
// callbacks), which is what makes its methods safe without locks.
type Realm struct {
	id   string
	rt   *Runtime
	w    *worker
	core core.Realm
	loop *eventloop.EventLoop

	promises    map[int64]*PromiseFacade
	proxies     map[string]*ProxyBuilder
	instances   map[int64]any
	nextInst    int64
	nativeFuncs map[string]NativeFunc
	fetchNext   int64
}

// newRealm builds a realm on the worker goroutine: engine scope, event
// loop, the value-marshaling protocol, timers, proxy dispatch and fetch.
func newRealm(w *worker, id string) (*Realm, error) {
	cr, err := w.backend.CreateRealm(id)
	if err != nil {
		return nil, fmt.Errorf("creating realm %q: %w", id, err)
	}

	r := &Realm{
		id:          id,
		rt:          w.rt,
		w:           w,
		core:        cr,
		loop:        eventloop.New(),
		promises:    make(map[int64]*PromiseFacade),
		proxies:     make(map[string]*ProxyBuilder),
		instances:   make(map[int64]any),
		nativeFuncs: make(map[string]NativeFunc),
	}

	if err := cr.Eval(valueBootstrapJS); err != nil {
		return nil, fmt.Errorf("bootstrapping realm %q: %w", id, err)
	}
	if err := r.registerHostFuncs(); err != nil {
		return nil, fmt.Errorf("bootstrapping realm %q: %w", id, err)
	}
	if err := cr.Eval(timerBootstrapJS); err != nil {
		return nil, fmt.Errorf("bootstrapping realm %q: %w", id, err)
	}
	if err := r.installFetch(); err != nil {
		return nil, fmt.Errorf("bootstrapping realm %q: %w", id, err)
	}
	return r, nil
}

// registerHostFuncs wires the Go callbacks the bootstrap shims depend on.
func (r *Realm) registerHostFuncs() error {
	if err := r.core.RegisterFunc("__vf_settle", r.hostSettle); err != nil {
		return err
	}
	if err := r.core.RegisterFunc("__timer_register", r.hostTimerRegister); err != nil {
		return err
	}
	if err := r.core.RegisterFunc("__timer_clear", r.hostTimerClear); err != nil {
		return err
	}
	if err := r.core.RegisterFunc("__px_construct", r.hostProxyConstruct); err != nil {
		return err
	}
	if err := r.core.RegisterFunc("__px_invoke", r.hostProxyInvoke); err != nil {
		return err
	}
	if err := r.core.RegisterFunc("__nm_call", r.hostNativeCall); err != nil {
		return err
	}
	return r.core.RegisterFunc("__fetch_start", r.hostFetchStart)
}

// ID returns the realm identifier.
func (r *Realm) ID() string { return r.id }

// Eval evaluates a script and returns its completion value as a facade.
// Thrown exceptions come back as a *ScriptError; engine resource exhaustion
// maps to ErrStackOverflow / ErrOutOfMemory.
func (r *Realm) Eval(script string) (ValueFacade, error) {
	r.rt.trackAlloc()

	// The source goes in through a global rather than string splicing, so
	// arbitrary script content never has to survive Go-side quoting.
	if err := r.core.SetGlobal("__evalSrc", script); err != nil {
		return Undefined(), fmt.Errorf("staging script: %w", err)
	}
	out, err := r.core.EvalString(`JSON.stringify(globalThis.__vf_out((0, eval)(globalThis.__evalSrc)))`)
	if err != nil {
		return Undefined(), classifyEngineError(err)
	}
	return r.decodePayload([]byte(out))
}

// EvalModule bundles an ES module through the configured loaders and
// evaluates it. The completion value is the module's default export when
// present, undefined otherwise.
func (r *Realm) EvalModule(name, source string) (ValueFacade, error) {
	script, err := r.bundleModule(name, source)
	if err != nil {
		return Undefined(), err
	}
	return r.Eval(script)
}

var fnPathRe = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*(\.[A-Za-z_$][A-Za-z0-9_$]*)*$`)

// CallFunction invokes a global function by dotted path ("myObj.myFn") with
// facade arguments. The receiver is the second-to-last path segment, so
// method calls get the right this.
func (r *Realm) CallFunction(fnPath string, args ...ValueFacade) (ValueFacade, error) {
	if !fnPathRe.MatchString(fnPath) {
		return Undefined(), fmt.Errorf("invalid function path %q", fnPath)
	}

	exprs := make([]string, len(args))
	for i, a := range args {
		e, err := r.encodeExpr(a)
		if err != nil {
			return Undefined(), err
		}
		exprs[i] = e
	}

	recv := "undefined"
	if i := strings.LastIndex(fnPath, "."); i >= 0 {
		recv = "globalThis." + fnPath[:i]
	}
	script := fmt.Sprintf(`(function() {
		var fn = globalThis.%s;
		if (typeof fn !== 'function') throw new TypeError(%q + " is not a function");
		return fn.call(%s, %s);
	})()`, fnPath, fnPath, recv, strings.Join(exprs, ", "))

	r.rt.trackAlloc()
	out, err := r.core.EvalString(fmt.Sprintf(`JSON.stringify(globalThis.__vf_out(%s))`, script))
	if err != nil {
		return Undefined(), classifyEngineError(err)
	}
	return r.decodePayload([]byte(out))
}

// InvokeFacade calls a function-kind facade with the given arguments.
func (r *Realm) InvokeFacade(fn ValueFacade, args ...ValueFacade) (ValueFacade, error) {
	if fn.Kind() != KindFunction {
		return Undefined(), fmt.Errorf("facade of kind %v is not callable", fn.Kind())
	}
	fnExpr, err := r.encodeExpr(fn)
	if err != nil {
		return Undefined(), err
	}
	exprs := make([]string, len(args))
	for i, a := range args {
		e, err := r.encodeExpr(a)
		if err != nil {
			return Undefined(), err
		}
		exprs[i] = e
	}

	r.rt.trackAlloc()
	out, err := r.core.EvalString(fmt.Sprintf(
		`JSON.stringify(globalThis.__vf_out((%s)(%s)))`, fnExpr, strings.Join(exprs, ", ")))
	if err != nil {
		return Undefined(), classifyEngineError(err)
	}
	return r.decodePayload([]byte(out))
}

// SetGlobal exposes a facade as a global variable in the realm.
func (r *Realm) SetGlobal(name string, v ValueFacade) error {
	expr, err := r.encodeExpr(v)
	if err != nil {
		return err
	}
	if !fnPathRe.MatchString(name) || strings.Contains(name, ".") {
		return fmt.Errorf("invalid global name %q", name)
	}
	return r.core.Eval(fmt.Sprintf("globalThis.%s = %s;", name, expr))
}

// hostSettle is called from the engine when a tracked promise settles.
func (r *Realm) hostSettle(id int, ok int, payload string) int {
	pf, found := r.promises[int64(id)]
	if !found {
		return 0
	}
	delete(r.promises, int64(id))

	v, err := r.decodePayload([]byte(payload))
	if err != nil {
		v = ValueFacade{kind: KindError, scriptErr: &ScriptError{Name: "InternalError", Message: err.Error()}}
		pf.settle(false, v)
		return 0
	}
	pf.settle(ok != 0, v)
	return 0
}

// hostTimerRegister schedules a Go-side timer entry for a setTimeout or
// setInterval call and returns the timer ID.
func (r *Realm) hostTimerRegister(delayMS int, isInterval int) int {
	return r.loop.RegisterTimer(time.Duration(delayMS)*time.Millisecond, isInterval != 0)
}

// hostTimerClear cancels a timer.
func (r *Realm) hostTimerClear(id int) int {
	r.loop.ClearTimer(id)
	return 0
}
