package kucoin

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/buger/jsonparser"
)

var (
	// ErrMissingCredentials is returned when key, secret or passphrase is unset
	ErrMissingCredentials = errors.New("API key, secret and passphrase are required")
	// ErrInvalidEndpoint is returned for endpoints that start with a slash
	ErrInvalidEndpoint = errors.New("endpoint must not start with a slash")
)

// ErrorKind classifies a failed call
type ErrorKind uint8

const (
	// KindPreflight: rejected before a request was built (credentials, params)
	KindPreflight ErrorKind = iota + 1
	// KindSetup: request never left the process
	KindSetup
	// KindNetwork: request sent, no response; the server may or may not have seen it
	KindNetwork
	// KindApplication: response received with a non-success status
	KindApplication
)

func (k ErrorKind) String() string {
	switch k {
	case KindPreflight:
		return "preflight"
	case KindSetup:
		return "setup"
	case KindNetwork:
		return "network"
	case KindApplication:
		return "application"
	default:
		return "unknown"
	}
}

// RequestError is the single error shape returned by the dispatcher
type RequestError struct {
	Kind ErrorKind

	// Server-declared error code and message, when the body carried them
	Code    string
	Message string

	StatusCode  int
	Body        []byte
	Header      http.Header
	RequestURL  string
	RequestBody string

	// Client options with credentials removed
	Options Options

	Err error
}

func (e *RequestError) Error() string {
	switch e.Kind {
	case KindApplication:
		if e.Code != "" || e.Message != "" {
			return fmt.Sprintf("kucoin %s error: status %d, code %s: %s (%s)", e.Kind, e.StatusCode, e.Code, e.Message, e.RequestURL)
		}
		return fmt.Sprintf("kucoin %s error: status %d: %s (%s)", e.Kind, e.StatusCode, string(e.Body), e.RequestURL)
	case KindNetwork:
		return fmt.Sprintf("kucoin %s error: %v (%s)", e.Kind, e.Err, e.RequestURL)
	default:
		return fmt.Sprintf("kucoin %s error: %v", e.Kind, e.Err)
	}
}

func (e *RequestError) Unwrap() error { return e.Err }

// AsRequestError extracts a *RequestError from err's chain
func AsRequestError(err error) (*RequestError, bool) {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr, true
	}
	return nil, false
}

// IsKind reports whether err is a *RequestError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	reqErr, ok := AsRequestError(err)
	return ok && reqErr.Kind == kind
}

func preflightError(err error) *RequestError {
	return &RequestError{Kind: KindPreflight, Err: err}
}

// normalize turns a transport failure or a non-200 response into a
// *RequestError. Response presence is checked before any response field
// is read.
func (c *RestClient) normalize(requestURL, requestBody string, resp *Response, err error) error {
	if resp == nil {
		if c.opts.DisableErrorNormalization {
			return err
		}

		var tErr *TransportError
		if errors.As(err, &tErr) && !tErr.Sent {
			return &RequestError{
				Kind:        KindSetup,
				RequestURL:  requestURL,
				RequestBody: requestBody,
				Options:     c.opts.redacted(),
				Err:         errors.New(tErr.Err.Error()),
			}
		}
		return &RequestError{
			Kind:        KindNetwork,
			RequestURL:  requestURL,
			RequestBody: requestBody,
			Options:     c.opts.redacted(),
			Err:         err,
		}
	}

	raw := &StatusError{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}
	if c.opts.DisableErrorNormalization {
		return raw
	}

	code, message := parseErrorBody(resp.Body)
	return &RequestError{
		Kind:        KindApplication,
		Code:        code,
		Message:     message,
		StatusCode:  resp.StatusCode,
		Body:        resp.Body,
		Header:      resp.Header,
		RequestURL:  requestURL,
		RequestBody: requestBody,
		Options:     c.opts.redacted(),
		Err:         raw,
	}
}

// envelopeError reports a 200 response whose envelope code is not 200000.
// err, when set, is a body that could not be decoded at all.
func (c *RestClient) envelopeError(ex *exchange, code ResponseCode, message string, err error) error {
	raw := &StatusError{StatusCode: ex.resp.StatusCode, Header: ex.resp.Header, Body: ex.resp.Body}
	if c.opts.DisableErrorNormalization {
		if err != nil {
			return err
		}
		return raw
	}
	if err == nil {
		err = raw
	}
	return &RequestError{
		Kind:        KindApplication,
		Code:        string(code),
		Message:     message,
		StatusCode:  ex.resp.StatusCode,
		Body:        ex.resp.Body,
		Header:      ex.resp.Header,
		RequestURL:  ex.url,
		RequestBody: ex.body,
		Options:     c.opts.redacted(),
		Err:         err,
	}
}

// parseErrorBody pulls code and msg out of a KuCoin error envelope.
// code is a string on most endpoints but a number on some.
func parseErrorBody(body []byte) (code, message string) {
	if len(body) == 0 {
		return "", ""
	}

	if value, dataType, _, err := jsonparser.Get(body, "code"); err == nil {
		code, _ = codeFromJSON(value, dataType)
	}

	if msg, err := jsonparser.GetString(body, "msg"); err == nil {
		message = msg
	}
	return code, message
}
