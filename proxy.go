package esrun

import (
	"fmt"
	"strings"
)

// NativeFunc is a host function callable from script. It runs on the worker
// goroutine, so it may use the realm freely but must not block on other
// runtime submissions.
type NativeFunc func(r *Realm, this ValueFacade, args []ValueFacade) (ValueFacade, error)

// ProxyConstructor builds the Go instance backing one script-side proxy
// object.
type ProxyConstructor func(r *Realm, args []ValueFacade) (any, error)

// ProxyMethod is an instance method on a proxy class. instance is whatever
// the constructor returned.
type ProxyMethod func(r *Realm, instance any, args []ValueFacade) (ValueFacade, error)

// ProxyBuilder declaratively describes a script-visible class whose
// instances are backed by Go objects. Script sees a normal class; every
// construction and method call crosses into Go on the worker goroutine.
//
//	esrun.NewProxyBuilder("my.biz.Counter").
//		Constructor(func(r *esrun.Realm, args []esrun.ValueFacade) (any, error) {
//			return &counter{}, nil
//		}).
//		Method("add", addFn).
//		Install(realm)
type ProxyBuilder struct {
	name        string
	constructor ProxyConstructor
	methods     map[string]ProxyMethod
	statics     map[string]NativeFunc
}

// NewProxyBuilder starts a proxy class named by a possibly dotted namespace
// path, e.g. "my.biz.SomeClass".
func NewProxyBuilder(name string) *ProxyBuilder {
	return &ProxyBuilder{
		name:    name,
		methods: make(map[string]ProxyMethod),
		statics: make(map[string]NativeFunc),
	}
}

// Constructor sets the instance factory. Without one, construction from
// script fails.
func (b *ProxyBuilder) Constructor(fn ProxyConstructor) *ProxyBuilder {
	b.constructor = fn
	return b
}

// Method adds an instance method.
func (b *ProxyBuilder) Method(name string, fn ProxyMethod) *ProxyBuilder {
	b.methods[name] = fn
	return b
}

// StaticMethod adds a method on the class itself.
func (b *ProxyBuilder) StaticMethod(name string, fn NativeFunc) *ProxyBuilder {
	b.statics[name] = fn
	return b
}

// Install registers the class in the realm and evaluates the script-side
// shim. Must run on the worker goroutine (inside a job).
func (b *ProxyBuilder) Install(r *Realm) error {
	if _, exists := r.proxies[b.name]; exists {
		return fmt.Errorf("proxy class %q already installed", b.name)
	}
	r.proxies[b.name] = b
	if err := r.core.Eval(b.shimJS("globalThis." + b.name)); err != nil {
		delete(r.proxies, b.name)
		return fmt.Errorf("installing proxy class %q: %w", b.name, err)
	}
	return nil
}

// shimJS renders the class shim and assigns it to target (a JS lvalue
// expression). Namespace objects along a dotted path are created as needed.
func (b *ProxyBuilder) shimJS(target string) string {
	var sb strings.Builder
	sb.WriteString("(function() {\n")

	parts := strings.Split(b.name, ".")
	leaf := parts[len(parts)-1]
	for i := 1; i < len(parts); i++ {
		ns := "globalThis." + strings.Join(parts[:i], ".")
		fmt.Fprintf(&sb, "\tif (typeof %s === 'undefined') %s = {};\n", ns, ns)
	}

	fmt.Fprintf(&sb, `	function %s() {
		var id = __px_construct(%q, globalThis.__vf_args(arguments));
		Object.defineProperty(this, '__goid', { value: id, enumerable: false });
	}
`, leaf, b.name)

	for m := range b.methods {
		fmt.Fprintf(&sb, `	%s.prototype.%s = function() {
		return globalThis.__vf_in(JSON.parse(__px_invoke(%q, %q, this.__goid, globalThis.__vf_args(arguments))));
	};
`, leaf, m, b.name, m)
	}
	for m := range b.statics {
		fmt.Fprintf(&sb, `	%s.%s = function() {
		return globalThis.__vf_in(JSON.parse(__px_invoke(%q, %q, 0, globalThis.__vf_args(arguments))));
	};
`, leaf, m, b.name, m)
	}

	fmt.Fprintf(&sb, "\t%s = %s;\n})();", target, leaf)
	return sb.String()
}

// hostProxyConstruct backs the shim constructor: it builds the Go instance
// and returns the instance ID stored on the script object.
func (r *Realm) hostProxyConstruct(key string, argsJSON string) (int, error) {
	b, ok := r.proxies[key]
	if !ok {
		return 0, fmt.Errorf("unknown proxy class %q", key)
	}
	if b.constructor == nil {
		return 0, fmt.Errorf("proxy class %q has no constructor", key)
	}
	args, err := r.decodeArgs(argsJSON)
	if err != nil {
		return 0, err
	}
	inst, err := b.constructor(r, args)
	if err != nil {
		return 0, err
	}
	r.nextInst++
	r.instances[r.nextInst] = inst
	r.rt.trackAlloc()
	return int(r.nextInst), nil
}

// hostProxyInvoke backs instance and static method calls. goid zero means
// static. The return value travels as a __vf_in payload.
func (r *Realm) hostProxyInvoke(key string, method string, goid int, argsJSON string) (string, error) {
	b, ok := r.proxies[key]
	if !ok {
		return "", fmt.Errorf("unknown proxy class %q", key)
	}
	args, err := r.decodeArgs(argsJSON)
	if err != nil {
		return "", err
	}

	var out ValueFacade
	if goid == 0 {
		fn, ok := b.statics[method]
		if !ok {
			return "", fmt.Errorf("proxy class %q has no static method %q", key, method)
		}
		out, err = fn(r, Undefined(), args)
	} else {
		fn, ok := b.methods[method]
		if !ok {
			return "", fmt.Errorf("proxy class %q has no method %q", key, method)
		}
		inst, ok := r.instances[int64(goid)]
		if !ok {
			return "", fmt.Errorf("proxy instance %d is gone", goid)
		}
		out, err = fn(r, inst, args)
	}
	if err != nil {
		return "", err
	}
	return r.encodePayload(out)
}

// nativeFuncKey builds the Go-side registry key for a native-module
// function export. The separator never crosses the engine boundary; module
// and export travel as two __nm_call arguments.
func nativeFuncKey(mod, name string) string {
	return mod + "\x00" + name
}

// hostNativeCall dispatches a native-module function export.
func (r *Realm) hostNativeCall(mod string, name string, argsJSON string) (string, error) {
	fn, ok := r.nativeFuncs[nativeFuncKey(mod, name)]
	if !ok {
		return "", fmt.Errorf("unknown native export %s.%s", mod, name)
	}
	args, err := r.decodeArgs(argsJSON)
	if err != nil {
		return "", err
	}
	out, err := fn(r, Undefined(), args)
	if err != nil {
		return "", err
	}
	return r.encodePayload(out)
}

// ProxyInstance returns the Go object behind a proxy facade, resolved via
// its non-enumerable __goid property. Must run on the worker goroutine.
func (r *Realm) ProxyInstance(v ValueFacade) (any, error) {
	if v.Kind() != KindObject {
		return nil, fmt.Errorf("facade of kind %v is not a proxy instance", v.Kind())
	}
	expr, err := r.encodeExpr(v)
	if err != nil {
		return nil, err
	}
	id, err := r.core.EvalInt(fmt.Sprintf("(%s).__goid | 0", expr))
	if err != nil {
		return nil, classifyEngineError(err)
	}
	inst, ok := r.instances[int64(id)]
	if !ok {
		return nil, fmt.Errorf("no proxy instance behind facade")
	}
	return inst, nil
}
