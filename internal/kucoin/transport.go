package kucoin

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Request is a fully formed outbound call
type Request struct {
	Method string
	URL    string
	Header map[string]string
	Body   string
}

// Response is what came back from the server, whatever the status
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Transport sends a request and returns the server response.
// Failures where no response exists must be returned as *TransportError.
type Transport interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// TransportError is a failure with no response. Sent tells whether the
// request left the process.
type TransportError struct {
	Sent bool
	Err  error
}

func (e *TransportError) Error() string {
	if e.Sent {
		return fmt.Sprintf("request sent, no response: %v", e.Err)
	}
	return fmt.Sprintf("request not sent: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError is the raw form of a non-200 response, returned as-is when
// error normalisation is disabled.
type StatusError struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, string(e.Body))
}

// RestyTransport sends requests through a resty client
type RestyTransport struct {
	client *resty.Client
}

// NewRestyTransport creates a transport with an overall request timeout
func NewRestyTransport(timeout time.Duration) *RestyTransport {
	return &RestyTransport{
		client: resty.New().SetTimeout(timeout),
	}
}

// Do executes req. The query string in req.URL is sent exactly as given.
func (t *RestyTransport) Do(ctx context.Context, req *Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, &TransportError{Err: err}
	}

	r := t.client.R().
		SetContext(ctx).
		SetHeaders(req.Header)
	if req.Body != "" {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(req.Method, req.URL)
	if err != nil {
		// net/http reports round trip failures as *url.Error; anything else
		// failed while the request was being built
		var urlErr *url.Error
		sent := errors.As(err, &urlErr) || (resp != nil && resp.RawResponse != nil)
		return nil, &TransportError{Sent: sent, Err: err}
	}
	if resp == nil || resp.RawResponse == nil {
		return nil, &TransportError{Sent: true, Err: fmt.Errorf("empty response")}
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       resp.Body(),
	}, nil
}

// validateRequest rejects requests net/http would refuse before dialing
func validateRequest(req *Request) error {
	u, err := url.Parse(req.URL)
	if err != nil {
		return err
	}
	if u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid request url %q", req.URL)
	}
	if !validToken(req.Method) {
		return fmt.Errorf("invalid method %q", req.Method)
	}
	for k, v := range req.Header {
		if !validToken(k) {
			return fmt.Errorf("invalid header name %q", k)
		}
		if strings.IndexFunc(v, func(r rune) bool { return (r < ' ' && r != '\t') || r == 0x7f }) >= 0 {
			return fmt.Errorf("invalid value for header %q", k)
		}
	}
	return nil
}

func validToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r > 0x7e || r <= ' ' || strings.ContainsRune(`"(),/:;<=>?@[\]{}`, r) {
			return false
		}
	}
	return true
}
