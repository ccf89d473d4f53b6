package mockhttp

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Handler is a function that handles an HTTP request and returns true if it handled it.
type Handler func(w http.ResponseWriter, r *http.Request) bool

// ServerBuilder builds mock HTTP servers with configurable behavior.
type ServerBuilder struct {
	handlers    []Handler
	defaultCode int
	capture     *Capture
}

// New creates a new ServerBuilder. Unmatched requests get 404.
func New() *ServerBuilder {
	return &ServerBuilder{defaultCode: http.StatusNotFound}
}

// DefaultStatus sets the status code returned when no handler matches.
func (b *ServerBuilder) DefaultStatus(code int) *ServerBuilder {
	b.defaultCode = code
	return b
}

// Handler adds a custom handler function.
func (b *ServerBuilder) Handler(h Handler) *ServerBuilder {
	b.handlers = append(b.handlers, h)
	return b
}

// JSON answers requests to path with a 200 JSON response, any method.
func (b *ServerBuilder) JSON(path string, response any) *ServerBuilder {
	return b.RouteJSON("", path, http.StatusOK, response)
}

// RouteJSON answers method+path with a JSON response. An empty method
// matches any method.
func (b *ServerBuilder) RouteJSON(method, path string, code int, response any) *ServerBuilder {
	return b.Route(method, path, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, code, response)
	})
}

// APIError answers method+path with a usufruit error body
// {"error": message, "code": code}.
func (b *ServerBuilder) APIError(method, path string, status int, message, code string) *ServerBuilder {
	return b.RouteJSON(method, path, status, map[string]string{"error": message, "code": code})
}

// Status answers requests to path with an empty body.
func (b *ServerBuilder) Status(path string, code int) *ServerBuilder {
	return b.Route("", path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

// Route adds a handler that matches both method and path. An empty method
// matches any method.
func (b *ServerBuilder) Route(method, path string, handler http.HandlerFunc) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if (method != "" && r.Method != method) || !matchPath(r.URL.Path, path) {
			return false
		}
		handler(w, r)
		return true
	})
}

// Delay sleeps before later handlers run for requests to path, or until
// the client gives up.
func (b *ServerBuilder) Delay(path string, d time.Duration) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if matchPath(r.URL.Path, path) {
			select {
			case <-time.After(d):
			case <-r.Context().Done():
			}
		}
		return false
	})
}

// RequireBearer rejects requests whose Authorization header is not
// "Bearer <token>" with a 401 usufruit error body.
func (b *ServerBuilder) RequireBearer(token string) *ServerBuilder {
	return b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
		if r.Header.Get("Authorization") == "Bearer "+token {
			return false
		}
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error": "authentication required",
			"code":  "unauthorized",
		})
		return true
	})
}

// Capture enables request capture for inspection in tests. Requests are
// recorded in the order handlers were added, so call Capture first to see
// every request.
func (b *ServerBuilder) Capture() *Capture {
	if b.capture == nil {
		b.capture = &Capture{}
		b.Handler(func(w http.ResponseWriter, r *http.Request) bool {
			b.capture.record(r)
			return false
		})
	}
	return b.capture
}

// Build creates the httptest.Server with all configured handlers.
func (b *ServerBuilder) Build() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range b.handlers {
			if h(w, r) {
				return
			}
		}
		w.WriteHeader(b.defaultCode)
	}))
}

// BuildURL creates the server and returns its URL and a close function.
func (b *ServerBuilder) BuildURL() (string, func()) {
	server := b.Build()
	return server.URL, server.Close
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// matchPath supports exact match and prefix match with a "*" suffix.
func matchPath(requestPath, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(requestPath, prefix)
	}
	return requestPath == pattern
}

// Capture stores captured HTTP requests for test assertions.
type Capture struct {
	mu       sync.Mutex
	requests []CapturedRequest
}

// CapturedRequest holds data from a captured HTTP request.
type CapturedRequest struct {
	Method  string
	Path    string
	Headers http.Header
	Body    []byte
	Query   map[string][]string
}

func (c *Capture) record(r *http.Request) {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, CapturedRequest{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: r.Header.Clone(),
		Body:    body,
		Query:   r.URL.Query(),
	})
}

// Count returns the number of captured requests.
func (c *Capture) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Last returns the most recent captured request, or nil if none.
func (c *Capture) Last() *CapturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.requests) == 0 {
		return nil
	}
	req := c.requests[len(c.requests)-1]
	return &req
}

// All returns all captured requests.
func (c *Capture) All() []CapturedRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]CapturedRequest, len(c.requests))
	copy(result, c.requests)
	return result
}

// BodyJSON decodes the request body as JSON into v.
func (r *CapturedRequest) BodyJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}
