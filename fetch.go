package esrun

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/esrun-go/esrun/internal/core"
)

// FetchRequest is a script-side fetch call as seen by the host provider.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// FetchResponse is the provider's answer to one fetch. Read is a blocking
// pull: it returns the next body chunk and nil at end of body. The bridge
// pulls the body to completion on the worker goroutine before settling the
// script-side promise.
type FetchResponse interface {
	GetHTTPStatus() int
	GetHeaders() map[string]string
	Read() []byte
}

// ResponseProvider produces a response for a fetch request. It runs on the
// worker goroutine, so a slow provider stalls script execution; providers
// doing real I/O should carry their own timeouts. A nil response fails the
// fetch.
type ResponseProvider func(req *FetchRequest) FetchResponse

// fetchBootstrapJS installs the fetch global: requests serialize to JSON and
// cross into Go via __fetch_start, settlement comes back through
// __fetch_settle once the provider's body pull finishes. The body travels
// base64-encoded; the engine has no atob, so the shim carries its own
// decoder.
const fetchBootstrapJS = `(function() {
	globalThis.__fetch_pending = {};

	var b64chars = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	globalThis.__b64decode = function(s) {
		var out = '', buf = 0, bits = 0;
		for (var i = 0; i < s.length; i++) {
			var c = b64chars.indexOf(s[i]);
			if (c < 0) continue;
			buf = (buf << 6) | c;
			bits += 6;
			if (bits >= 8) {
				bits -= 8;
				out += String.fromCharCode((buf >> bits) & 0xff);
			}
		}
		return out;
	};

	// Decodes a byte string (one char per byte) as UTF-8 text. The engine
	// has no TextDecoder.
	globalThis.__utf8decode = function(b) {
		var out = '', i = 0;
		while (i < b.length) {
			var c = b.charCodeAt(i++);
			if (c < 0x80) {
				out += String.fromCharCode(c);
			} else if (c < 0xe0) {
				out += String.fromCharCode(((c & 0x1f) << 6) | (b.charCodeAt(i++) & 0x3f));
			} else if (c < 0xf0) {
				out += String.fromCharCode(((c & 0x0f) << 12) |
					((b.charCodeAt(i++) & 0x3f) << 6) |
					(b.charCodeAt(i++) & 0x3f));
			} else {
				var cp = ((c & 0x07) << 18) |
					((b.charCodeAt(i++) & 0x3f) << 12) |
					((b.charCodeAt(i++) & 0x3f) << 6) |
					(b.charCodeAt(i++) & 0x3f);
				cp -= 0x10000;
				out += String.fromCharCode(0xd800 + (cp >> 10), 0xdc00 + (cp & 0x3ff));
			}
		}
		return out;
	};

	function FetchResponse(status, headers, bodyB64) {
		this.status = status;
		this.ok = status >= 200 && status < 300;
		this.bodyUsed = false;
		this.__hdrs = headers;
		this.__body = globalThis.__b64decode(bodyB64);
		var hdrs = this.__hdrs;
		this.headers = {
			get: function(name) {
				name = String(name).toLowerCase();
				for (var k in hdrs) {
					if (k.toLowerCase() === name) return hdrs[k];
				}
				return null;
			}
		};
	}
	FetchResponse.prototype.text = function() {
		this.bodyUsed = true;
		var body = this.__body;
		return Promise.resolve().then(function() { return globalThis.__utf8decode(body); });
	};
	FetchResponse.prototype.json = function() {
		this.bodyUsed = true;
		var body = this.__body;
		return Promise.resolve().then(function() { return JSON.parse(globalThis.__utf8decode(body)); });
	};
	FetchResponse.prototype.bytes = function() {
		this.bodyUsed = true;
		var body = this.__body;
		return Promise.resolve().then(function() {
			var out = new Array(body.length);
			for (var i = 0; i < body.length; i++) out[i] = body.charCodeAt(i) & 0xff;
			return out;
		});
	};

	globalThis.__fetch_settle = function(id, ok, status, headersJSON, bodyB64, errMsg) {
		var p = globalThis.__fetch_pending[id];
		if (!p) return;
		delete globalThis.__fetch_pending[id];
		if (ok) {
			p.resolve(new FetchResponse(status, JSON.parse(headersJSON), bodyB64));
		} else {
			p.reject(new TypeError(errMsg));
		}
	};

	globalThis.fetch = function(input, init) {
		init = init || {};
		var req = { method: String(init.method || 'GET'), url: String(input), headers: {}, body: '' };
		if (init.headers) {
			for (var k in init.headers) req.headers[k] = String(init.headers[k]);
		}
		if (init.body !== undefined && init.body !== null) req.body = String(init.body);
		return new Promise(function(resolve, reject) {
			var id;
			try {
				id = __fetch_start(JSON.stringify(req));
			} catch (e) {
				reject(e);
				return;
			}
			globalThis.__fetch_pending[id] = { resolve: resolve, reject: reject };
		});
	};
})();`

// installFetch evaluates the fetch shim into a fresh realm. The shim is
// installed unconditionally; without a provider, fetch rejects with the
// feature-unavailable marker.
func (r *Realm) installFetch() error {
	return r.core.Eval(fetchBootstrapJS)
}

// fetchReqWire is the JSON shape the shim sends.
type fetchReqWire struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body"`
}

// hostFetchStart accepts a fetch call, assigns it an ID and schedules the
// provider pull as an event-loop task. The task runs during the post-job
// drain on the worker goroutine, performing the blocking body pull there and
// settling the pending promise by ID.
func (r *Realm) hostFetchStart(reqJSON string) (int, error) {
	provider := r.rt.cfg.fetchProvider
	if provider == nil {
		return 0, errors.New(featureUnavailableMarker + ": no fetch response provider configured")
	}

	var wire fetchReqWire
	if err := json.Unmarshal([]byte(reqJSON), &wire); err != nil {
		return 0, fmt.Errorf("decoding fetch request: %w", err)
	}
	req := &FetchRequest{
		Method:  wire.Method,
		URL:     wire.URL,
		Headers: wire.Headers,
		Body:    []byte(wire.Body),
	}

	r.fetchNext++
	id := r.fetchNext

	r.loop.Push(func(cr core.Realm) {
		r.completeFetch(cr, id, provider, req)
	})
	return int(id), nil
}

// completeFetch runs the provider, pulls the body to completion and settles
// the script-side promise. Runs on the worker goroutine inside a drain.
func (r *Realm) completeFetch(cr core.Realm, id int64, provider ResponseProvider, req *FetchRequest) {
	resp := provider(req)
	if resp == nil {
		r.settleFetchErr(cr, id, fmt.Sprintf("fetch %s: no response", req.URL))
		return
	}

	var body []byte
	for {
		chunk := resp.Read()
		if chunk == nil {
			break
		}
		body = append(body, chunk...)
	}

	headers := resp.GetHeaders()
	if headers == nil {
		headers = map[string]string{}
	}
	hdrJSON, err := json.Marshal(headers)
	if err != nil {
		r.settleFetchErr(cr, id, fmt.Sprintf("fetch %s: encoding headers: %v", req.URL, err))
		return
	}

	// Headers and body go in through globals so arbitrary bytes never meet
	// Go-side string splicing.
	if err := cr.SetGlobal("__fetch_hdrs", string(hdrJSON)); err != nil {
		return
	}
	if err := cr.SetGlobal("__fetch_body", base64.StdEncoding.EncodeToString(body)); err != nil {
		return
	}
	_ = cr.Eval(fmt.Sprintf(
		"__fetch_settle(%d, 1, %d, globalThis.__fetch_hdrs, globalThis.__fetch_body, '');",
		id, resp.GetHTTPStatus()))
}

func (r *Realm) settleFetchErr(cr core.Realm, id int64, msg string) {
	if err := cr.SetGlobal("__fetch_err", msg); err != nil {
		return
	}
	_ = cr.Eval(fmt.Sprintf(
		"__fetch_settle(%d, 0, 0, '{}', '', globalThis.__fetch_err);", id))
}
