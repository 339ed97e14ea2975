package esrun

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// valueBootstrapJS installs the value-marshaling protocol into a fresh
// realm: a reference registry keyed by integer ID, plus __vf_out/__vf_in,
// which translate between live JS values and the JSON payloads that cross
// the Go boundary. Objects never cross the boundary; only their registry
// IDs do.
const valueBootstrapJS = `(function() {
	globalThis.__refs = {};
	globalThis.__refNext = 1;

	globalThis.__vf_ref = function(v) {
		var id = globalThis.__refNext++;
		globalThis.__refs[id] = v;
		return id;
	};

	globalThis.__vf_out = function(v) {
		if (v === undefined) return { t: 'undefined' };
		if (v === null) return { t: 'null' };
		var ty = typeof v;
		if (ty === 'boolean') return { t: 'bool', b: v };
		if (ty === 'number') return { t: 'num', n: v };
		if (ty === 'string') return { t: 'str', s: v };
		if (ty === 'function') return { t: 'func', id: globalThis.__vf_ref(v) };
		if (v instanceof Error) return { t: 'err', name: v.name || 'Error', message: String(v.message), stack: String(v.stack || '') };
		if (typeof Promise !== 'undefined' && v instanceof Promise) return { t: 'promise', id: globalThis.__vf_ref(v) };
		if (Array.isArray(v)) return { t: 'arr', id: globalThis.__vf_ref(v) };
		return { t: 'obj', id: globalThis.__vf_ref(v) };
	};

	globalThis.__vf_in = function(p) {
		switch (p.t) {
		case 'undefined': return undefined;
		case 'null': return null;
		case 'bool': return p.b;
		case 'num': return p.n;
		case 'str': return p.s;
		case 'err':
			var e = new Error(p.message);
			e.name = p.name || 'Error';
			return e;
		default:
			return globalThis.__refs[p.id];
		}
	};

	globalThis.__vf_args = function(args) {
		var out = [];
		for (var i = 0; i < args.length; i++) out.push(globalThis.__vf_out(args[i]));
		return JSON.stringify(out);
	};
})();`

// vfPayload is the wire form of one value crossing the Go/JS boundary.
type vfPayload struct {
	T       string  `json:"t"`
	B       bool    `json:"b,omitempty"`
	N       float64 `json:"n,omitempty"`
	S       string  `json:"s,omitempty"`
	ID      int64   `json:"id,omitempty"`
	Name    string  `json:"name,omitempty"`
	Message string  `json:"message,omitempty"`
	Stack   string  `json:"stack,omitempty"`
}

// decodePayload turns one __vf_out payload into a facade. Reference
// payloads become live handles on this realm; promise payloads also get a
// settlement listener attached so the facade resolves when the engine
// settles the promise. Runs on the worker goroutine.
func (r *Realm) decodePayload(raw []byte) (ValueFacade, error) {
	var p vfPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Undefined(), fmt.Errorf("decoding value payload: %w", err)
	}
	return r.decodeOne(p)
}

func (r *Realm) decodeOne(p vfPayload) (ValueFacade, error) {
	switch p.T {
	case "undefined":
		return Undefined(), nil
	case "null":
		return Null(), nil
	case "bool":
		return NewBool(p.B), nil
	case "num":
		return NewNumber(p.N), nil
	case "str":
		return NewString(p.S), nil
	case "err":
		return ValueFacade{kind: KindError, scriptErr: &ScriptError{Name: p.Name, Message: p.Message, Stack: p.Stack}}, nil
	case "func":
		return ValueFacade{kind: KindFunction, ref: r.newHandle(p.ID)}, nil
	case "arr":
		return ValueFacade{kind: KindArray, ref: r.newHandle(p.ID)}, nil
	case "obj":
		return ValueFacade{kind: KindObject, ref: r.newHandle(p.ID)}, nil
	case "promise":
		h := r.newHandle(p.ID)
		pf := newPromiseFacade(h)
		r.promises[p.ID] = pf
		if err := r.attachSettle(p.ID); err != nil {
			delete(r.promises, p.ID)
			return Undefined(), err
		}
		return ValueFacade{kind: KindPromise, ref: h, promise: pf}, nil
	default:
		return Undefined(), fmt.Errorf("unknown value payload tag %q", p.T)
	}
}

// decodeArgs decodes a __vf_args payload (a JSON array of vf payloads).
func (r *Realm) decodeArgs(raw string) ([]ValueFacade, error) {
	var ps []vfPayload
	if err := json.Unmarshal([]byte(raw), &ps); err != nil {
		return nil, fmt.Errorf("decoding argument payloads: %w", err)
	}
	out := make([]ValueFacade, len(ps))
	for i, p := range ps {
		v, err := r.decodeOne(p)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// newHandle wraps a registry ID in a reference-counted handle.
func (r *Realm) newHandle(id int64) *RefHandle {
	h := &RefHandle{rt: r.rt, realmID: r.id, id: id}
	h.refs.Store(1)
	r.rt.trackAlloc()
	return h
}

// attachSettle hooks the registered promise so __vf_settle fires on the
// worker goroutine when it settles.
func (r *Realm) attachSettle(id int64) error {
	js := fmt.Sprintf(`(function() {
		var p = globalThis.__refs[%d];
		p.then(
			function(v) { __vf_settle(%d, 1, JSON.stringify(globalThis.__vf_out(v))); },
			function(e) { __vf_settle(%d, 0, JSON.stringify(globalThis.__vf_out(e))); }
		);
	})()`, id, id, id)
	return r.core.Eval(js)
}

// encodeExpr renders a facade as a JavaScript expression for argument
// passing back into the realm. Primitives are reconstructed; handles are
// dereferenced through the registry, and only when the handle belongs to
// this realm.
func (r *Realm) encodeExpr(v ValueFacade) (string, error) {
	switch v.kind {
	case KindUndefined:
		return "undefined", nil
	case KindNull:
		return "null", nil
	case KindBool:
		return strconv.FormatBool(v.boolVal), nil
	case KindNumber:
		if math.IsInf(v.numVal, 1) {
			return "Infinity", nil
		}
		if math.IsInf(v.numVal, -1) {
			return "-Infinity", nil
		}
		return strconv.FormatFloat(v.numVal, 'g', -1, 64), nil
	case KindString:
		return strconv.Quote(v.strVal), nil
	case KindError:
		return fmt.Sprintf(`(function(){ var e = new Error(%q); e.name = %q; return e; })()`,
			v.scriptErr.Message, v.scriptErr.Name), nil
	case KindObject, KindArray, KindFunction, KindPromise:
		if v.ref.realmID != r.id {
			return "", fmt.Errorf("%w: handle from %q used in %q", ErrRealmMismatch, v.ref.realmID, r.id)
		}
		return fmt.Sprintf("globalThis.__refs[%d]", v.ref.id), nil
	default:
		return "", fmt.Errorf("cannot encode facade of kind %v", v.kind)
	}
}

// encodePayload renders a facade as a __vf_in payload for returning values
// from native callbacks.
func (r *Realm) encodePayload(v ValueFacade) (string, error) {
	var p vfPayload
	switch v.kind {
	case KindUndefined:
		p.T = "undefined"
	case KindNull:
		p.T = "null"
	case KindBool:
		p.T, p.B = "bool", v.boolVal
	case KindNumber:
		p.T, p.N = "num", v.numVal
	case KindString:
		p.T, p.S = "str", v.strVal
	case KindError:
		p.T, p.Name, p.Message, p.Stack = "err", v.scriptErr.Name, v.scriptErr.Message, v.scriptErr.Stack
	case KindObject, KindArray, KindFunction, KindPromise:
		if v.ref.realmID != r.id {
			return "", fmt.Errorf("%w: handle from %q used in %q", ErrRealmMismatch, v.ref.realmID, r.id)
		}
		p.T, p.ID = "obj", v.ref.id
	default:
		return "", fmt.Errorf("cannot encode facade of kind %v", v.kind)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding value payload: %w", err)
	}
	return string(data), nil
}
