package esrun

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"golang.org/x/net/http2"
)

// NewHTTPResponseProvider returns a ResponseProvider backed by net/http with
// HTTP/2 enabled. Automatic transport decompression is disabled so the
// provider can advertise and decode gzip, deflate and brotli itself, which
// keeps the Content-Encoding handling in one place.
func NewHTTPResponseProvider(timeout time.Duration) ResponseProvider {
	transport := &http.Transport{
		DisableCompression: true,
	}
	_ = http2.ConfigureTransport(transport)
	client := &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}

	return func(req *FetchRequest) FetchResponse {
		method := req.Method
		if method == "" {
			method = http.MethodGet
		}
		var body io.Reader
		if len(req.Body) > 0 {
			body = bytes.NewReader(req.Body)
		}
		httpReq, err := http.NewRequest(method, req.URL, body)
		if err != nil {
			return nil
		}
		for k, v := range req.Headers {
			httpReq.Header.Set(k, v)
		}
		if httpReq.Header.Get("Accept-Encoding") == "" {
			httpReq.Header.Set("Accept-Encoding", "gzip, deflate, br")
		}

		resp, err := client.Do(httpReq)
		if err != nil {
			return nil
		}

		reader := resp.Body
		switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
		case "gzip":
			if gz, gerr := gzip.NewReader(resp.Body); gerr == nil {
				reader = gz
			}
		case "deflate":
			reader = flate.NewReader(resp.Body)
		case "br":
			reader = io.NopCloser(brotli.NewReader(resp.Body))
		}

		headers := make(map[string]string, len(resp.Header))
		for k := range resp.Header {
			headers[k] = resp.Header.Get(k)
		}
		// Decoded content no longer matches these.
		delete(headers, "Content-Encoding")
		delete(headers, "Content-Length")

		return &httpFetchResponse{
			status:  resp.StatusCode,
			headers: headers,
			body:    reader,
			raw:     resp.Body,
		}
	}
}

// httpFetchResponse adapts an http.Response to the blocking-pull interface.
type httpFetchResponse struct {
	status  int
	headers map[string]string
	body    io.ReadCloser
	raw     io.Closer
	done    bool
}

func (r *httpFetchResponse) GetHTTPStatus() int { return r.status }

func (r *httpFetchResponse) GetHeaders() map[string]string { return r.headers }

// Read pulls the next decoded chunk, returning nil at end of body. The
// response closes itself on the final pull.
func (r *httpFetchResponse) Read() []byte {
	if r.done {
		return nil
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := r.body.Read(buf)
		if n > 0 {
			return buf[:n]
		}
		if err != nil {
			r.done = true
			r.body.Close()
			if r.raw != nil {
				r.raw.Close()
			}
			return nil
		}
	}
}
