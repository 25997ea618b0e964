package kucoin

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// MockHandler answers one mocked request
type MockHandler func(req *Request) (*Response, error)

// MockTransport is an in-memory Transport for dry-run mode and tests. It
// records every request, answers the server time endpoint from the local
// clock and routes everything else to registered handlers.
type MockTransport struct {
	mu       sync.RWMutex
	handlers map[string]MockHandler
	requests []Request
	now      func() time.Time
}

// NewMockTransport creates a MockTransport
func NewMockTransport() *MockTransport {
	return &MockTransport{
		handlers: make(map[string]MockHandler),
		now:      time.Now,
	}
}

// Handle registers h for method and endpoint (no leading slash, no query)
func (t *MockTransport) Handle(method, endpoint string, h MockHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[mockRouteKey(method, endpoint)] = h
}

// HandleJSON registers a fixed status and JSON-encoded body
func (t *MockTransport) HandleJSON(method, endpoint string, status int, body interface{}) {
	t.Handle(method, endpoint, func(*Request) (*Response, error) {
		return jsonResponse(status, body)
	})
}

// Requests returns a copy of the recorded requests
func (t *MockTransport) Requests() []Request {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Request, len(t.requests))
	copy(out, t.requests)
	return out
}

// Calls returns how many requests were recorded
func (t *MockTransport) Calls() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.requests)
}

// Do implements Transport
func (t *MockTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	recorded := *req
	recorded.Header = make(map[string]string, len(req.Header))
	for k, v := range req.Header {
		recorded.Header[k] = v
	}

	t.mu.Lock()
	t.requests = append(t.requests, recorded)
	h, ok := t.handlers[mockRouteKey(req.Method, u.Path)]
	t.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, &TransportError{Sent: true, Err: err}
	}
	if ok {
		return h(&recorded)
	}

	if strings.TrimPrefix(u.Path, "/") == ServerTimeEndpoint {
		return jsonResponse(http.StatusOK, map[string]interface{}{
			"code": string(CodeOK),
			"data": t.now().UnixMilli(),
		})
	}
	return jsonResponse(http.StatusOK, map[string]interface{}{
		"code": string(CodeOK),
		"data": nil,
	})
}

func mockRouteKey(method, path string) string {
	return strings.ToUpper(method) + " " + strings.TrimPrefix(path, "/")
}

func jsonResponse(status int, body interface{}) (*Response, error) {
	var raw []byte
	switch b := body.(type) {
	case []byte:
		raw = b
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = sonic.Marshal(body)
		if err != nil {
			return nil, err
		}
	}
	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	return &Response{StatusCode: status, Header: header, Body: raw}, nil
}
