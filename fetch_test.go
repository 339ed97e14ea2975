package esrun

import (
	"errors"
	"testing"
	"time"
)

// stubResponse serves a fixed body in chunks through the blocking-pull
// interface.
type stubResponse struct {
	status  int
	headers map[string]string
	chunks  [][]byte
}

func (s *stubResponse) GetHTTPStatus() int            { return s.status }
func (s *stubResponse) GetHeaders() map[string]string { return s.headers }

func (s *stubResponse) Read() []byte {
	if len(s.chunks) == 0 {
		return nil
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c
}

func stubProvider(lastReq **FetchRequest) ResponseProvider {
	return func(req *FetchRequest) FetchResponse {
		if lastReq != nil {
			*lastReq = req
		}
		return &stubResponse{
			status:  200,
			headers: map[string]string{"Content-Type": "text/plain"},
			chunks:  [][]byte{[]byte("Hello "), []byte("world")},
		}
	}
}

func TestFetchText(t *testing.T) {
	var lastReq *FetchRequest
	rt, err := NewBuilder().FetchResponseProvider(stubProvider(&lastReq)).Build()
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}
	defer rt.Close()

	v, err := rt.EvalSync(DefaultRealm,
		`fetch("http://example.test/greet", { headers: { "X-Token": "abc" } }).then(function(r) { return r.text(); })`,
		10*time.Second)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	got, err := v.Promise().AwaitSync(10 * time.Second)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if got.Str() != "Hello world" {
		t.Fatalf("expected Hello world, got %v", got)
	}

	if lastReq == nil || lastReq.URL != "http://example.test/greet" {
		t.Fatalf("provider saw wrong request: %+v", lastReq)
	}
	if lastReq.Method != "GET" || lastReq.Headers["X-Token"] != "abc" {
		t.Fatalf("request fields lost: %+v", lastReq)
	}
}

func TestFetchStatusAndHeaders(t *testing.T) {
	rt, err := NewBuilder().FetchResponseProvider(stubProvider(nil)).Build()
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}
	defer rt.Close()

	v, err := rt.EvalSync(DefaultRealm,
		`fetch("http://x/").then(function(r) { return r.status + "|" + r.ok + "|" + r.headers.get("content-type"); })`,
		10*time.Second)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	got, err := v.Promise().AwaitSync(10 * time.Second)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if got.Str() != "200|true|text/plain" {
		t.Fatalf("unexpected response view: %v", got)
	}
}

func TestFetchJSON(t *testing.T) {
	provider := func(req *FetchRequest) FetchResponse {
		return &stubResponse{
			status:  200,
			headers: map[string]string{"Content-Type": "application/json"},
			chunks:  [][]byte{[]byte(`{"n": 123}`)},
		}
	}
	rt, err := NewBuilder().FetchResponseProvider(provider).Build()
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}
	defer rt.Close()

	v, err := rt.EvalSync(DefaultRealm,
		`fetch("http://x/").then(function(r) { return r.json(); }).then(function(o) { return o.n; })`,
		10*time.Second)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	got, err := v.Promise().AwaitSync(10 * time.Second)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if got.Int() != 123 {
		t.Fatalf("expected 123, got %v", got)
	}
}

func TestFetchUTF8Body(t *testing.T) {
	provider := func(req *FetchRequest) FetchResponse {
		return &stubResponse{
			status:  200,
			headers: map[string]string{"Content-Type": "text/plain; charset=utf-8"},
			chunks:  [][]byte{[]byte("héllo wörld — 你好")},
		}
	}
	rt, err := NewBuilder().FetchResponseProvider(provider).Build()
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}
	defer rt.Close()

	v, err := rt.EvalSync(DefaultRealm,
		`fetch("http://x/").then(function(r) { return r.text(); })`,
		10*time.Second)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	got, err := v.Promise().AwaitSync(10 * time.Second)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if got.Str() != "héllo wörld — 你好" {
		t.Fatalf("non-ASCII body mangled: %q", got.Str())
	}
}

func TestFetchUTF8JSON(t *testing.T) {
	provider := func(req *FetchRequest) FetchResponse {
		return &stubResponse{
			status:  200,
			headers: map[string]string{"Content-Type": "application/json"},
			chunks:  [][]byte{[]byte(`{"name": "José"}`)},
		}
	}
	rt, err := NewBuilder().FetchResponseProvider(provider).Build()
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}
	defer rt.Close()

	v, err := rt.EvalSync(DefaultRealm,
		`fetch("http://x/").then(function(r) { return r.json(); }).then(function(o) { return o.name; })`,
		10*time.Second)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	got, err := v.Promise().AwaitSync(10 * time.Second)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if got.Str() != "José" {
		t.Fatalf("non-ASCII JSON mangled: %q", got.Str())
	}
}

func TestFetchPostBody(t *testing.T) {
	var lastReq *FetchRequest
	rt, err := NewBuilder().FetchResponseProvider(stubProvider(&lastReq)).Build()
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}
	defer rt.Close()

	v, err := rt.EvalSync(DefaultRealm,
		`fetch("http://x/", { method: "POST", body: "payload" }).then(function(r) { return r.status; })`,
		10*time.Second)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if _, err := v.Promise().AwaitSync(10 * time.Second); err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if lastReq.Method != "POST" || string(lastReq.Body) != "payload" {
		t.Fatalf("request body lost: %+v", lastReq)
	}
}

func TestFetchWithoutProvider(t *testing.T) {
	rt := newTestRuntime(t)

	v, err := rt.EvalSync(DefaultRealm, `fetch("http://x/")`, 5*time.Second)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	if v.Kind() != KindPromise {
		t.Fatalf("expected promise, got %v", v)
	}
	_, err = v.Promise().AwaitSync(5 * time.Second)
	if !errors.Is(err, ErrFeatureUnavailable) {
		t.Fatalf("expected ErrFeatureUnavailable, got %v", err)
	}
}

func TestFetchNilResponse(t *testing.T) {
	provider := func(req *FetchRequest) FetchResponse { return nil }
	rt, err := NewBuilder().FetchResponseProvider(provider).Build()
	if err != nil {
		t.Fatalf("building runtime: %v", err)
	}
	defer rt.Close()

	v, err := rt.EvalSync(DefaultRealm, `fetch("http://x/")`, 10*time.Second)
	if err != nil {
		t.Fatalf("eval failed: %v", err)
	}
	_, err = v.Promise().AwaitSync(10 * time.Second)
	var rej *RejectedError
	if !errors.As(err, &rej) {
		t.Fatalf("expected rejection, got %v", err)
	}
}
