package kucoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/buger/jsonparser"
	"github.com/rs/zerolog"

	"kucoin-futures-api/internal/timesync"
)

const (
	// DefaultRecvWindow is the receive window in ms when none is configured
	DefaultRecvWindow int64 = 5000
	// DefaultTimeout bounds a whole request, transport included
	DefaultTimeout = 5 * time.Minute

	headerKey        = "KC-API-KEY"
	headerPassphrase = "KC-API-PASSPHRASE"
	headerKeyVersion = "KC-API-KEY-VERSION"
	headerSign       = "KC-API-SIGN"
	headerTimestamp  = "KC-API-TIMESTAMP"
	headerContent    = "Content-Type"

	formContentType = "application/x-www-form-urlencoded"
)

// Options configures a RestClient
type Options struct {
	APIKey        string
	APISecret     string
	APIPassphrase string

	// BaseURL wins over BaseURLKey when both are set
	BaseURL    string
	BaseURLKey BaseURLKey

	// RecvWindow in ms, overridable per call with a recvWindow param
	RecvWindow int64

	SyncInterval    time.Duration
	DisableTimeSync bool

	// StrictParamValidation rejects absent param values before sending
	StrictParamValidation bool
	// DisableErrorNormalization returns raw transport and status errors
	DisableErrorNormalization bool

	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.RecvWindow <= 0 {
		o.RecvWindow = DefaultRecvWindow
	}
	if o.SyncInterval <= 0 {
		o.SyncInterval = timesync.DefaultInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return o
}

// redacted returns a copy safe to attach to errors and logs
func (o Options) redacted() Options {
	o.APIKey = ""
	o.APISecret = ""
	o.APIPassphrase = ""
	return o
}

// SignedRequest is everything derived for one call. It is built fresh per
// call and never reused.
type SignedRequest struct {
	Params     *Params
	Method     string
	Endpoint   string
	Query      string // serialised params
	Path       string // endpoint, plus ?query for GET and DELETE
	Body       string // serialised params for POST and PUT
	Timestamp  int64
	Signature  string
	RecvWindow int64
}

type credentials struct {
	key              string
	secret           string
	passphrase       string
	passphraseHeader string
}

func (c credentials) complete() bool {
	return c.key != "" && c.secret != "" && c.passphrase != ""
}

// RestClient signs and dispatches authenticated REST calls
type RestClient struct {
	opts       Options
	baseURL    string
	baseURLKey BaseURLKey

	credMu sync.RWMutex
	creds  credentials

	transport  Transport
	timeSync   *timesync.Manager
	serverTime timesync.ServerTimeFunc
	metrics    *Metrics
	logger     zerolog.Logger
	now        func() time.Time
}

// ClientOption sets a RestClient collaborator
type ClientOption func(*RestClient)

// WithTransport replaces the default resty transport
func WithTransport(t Transport) ClientOption {
	return func(c *RestClient) { c.transport = t }
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) ClientOption {
	return func(c *RestClient) { c.logger = l }
}

// WithMetrics records calls and clock offsets into m
func WithMetrics(m *Metrics) ClientOption {
	return func(c *RestClient) { c.metrics = m }
}

// WithServerTime replaces the server time source used for clock sync
func WithServerTime(fn timesync.ServerTimeFunc) ClientOption {
	return func(c *RestClient) { c.serverTime = fn }
}

// WithClock replaces time.Now for timestamps and sync measurements
func WithClock(now func() time.Time) ClientOption {
	return func(c *RestClient) {
		if now != nil {
			c.now = now
		}
	}
}

// NewRestClient validates credentials, derives the passphrase header and
// starts clock sync unless disabled. The first sync runs in the background;
// a failure there only leaves the offset at zero.
func NewRestClient(urlKey BaseURLKey, opts Options, extra ...ClientOption) (*RestClient, error) {
	opts = opts.withDefaults()

	creds := newCredentials(opts.APIKey, opts.APISecret, opts.APIPassphrase)
	if !creds.complete() {
		return nil, ErrMissingCredentials
	}

	baseURL, key, err := resolveBaseURL(urlKey, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base url: %w", err)
	}

	c := &RestClient{
		opts:       opts,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		baseURLKey: key,
		creds:      creds,
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, o := range extra {
		o(c)
	}
	c.logger = c.logger.With().Str("component", "kucoin-rest").Logger()

	if c.transport == nil {
		c.transport = NewRestyTransport(opts.Timeout)
	}
	if c.serverTime == nil {
		c.serverTime = c.fetchServerTime
	}

	c.timeSync = timesync.New(c.serverTime,
		timesync.WithInterval(opts.SyncInterval),
		timesync.WithDisabled(opts.DisableTimeSync),
		timesync.WithClock(c.now),
		timesync.WithLogger(c.logger),
		timesync.WithObserver(timesync.Observer{
			OnOffset:  c.metrics.observeOffset,
			OnFailure: c.metrics.observeSyncFailure,
		}),
	)
	c.timeSync.Start(context.Background())

	return c, nil
}

func newCredentials(key, secret, passphrase string) credentials {
	c := credentials{
		key:        strings.TrimSpace(key),
		secret:     strings.TrimSpace(secret),
		passphrase: strings.TrimSpace(passphrase),
	}
	if c.complete() {
		c.passphraseHeader = SignPassphrase(c.passphrase, c.secret)
	}
	return c
}

// UpdateCredentials swaps the credential triple, e.g. after a key rotation.
// Calls made with an incomplete triple fail before reaching the network.
func (c *RestClient) UpdateCredentials(key, secret, passphrase string) {
	creds := newCredentials(key, secret, passphrase)
	c.credMu.Lock()
	c.creds = creds
	c.credMu.Unlock()
}

func (c *RestClient) credentials() credentials {
	c.credMu.RLock()
	defer c.credMu.RUnlock()
	return c.creds
}

// BaseURL returns the resolved REST host
func (c *RestClient) BaseURL() string { return c.baseURL }

// BaseURLKey returns the host key in use
func (c *RestClient) BaseURLKey() BaseURLKey { return c.baseURLKey }

// TimeOffset returns the current clock offset in ms. A positive offset means
// the local clock is behind the server.
func (c *RestClient) TimeOffset() int64 { return c.timeSync.Offset() }

// SetTimeOffset overrides the clock offset
func (c *RestClient) SetTimeOffset(v int64) { c.timeSync.SetOffset(v) }

// LastTimeSync returns when the offset was last measured
func (c *RestClient) LastTimeSync() time.Time { return c.timeSync.LastSync() }

// SyncTime measures the clock offset now, or joins a measurement in flight
func (c *RestClient) SyncTime(ctx context.Context) { c.timeSync.Sync(ctx) }

// Close stops the background clock sync
func (c *RestClient) Close() { c.timeSync.Close() }

// Get issues a signed GET
func (c *RestClient) Get(ctx context.Context, endpoint string, params *Params) (json.RawMessage, error) {
	return c.Call(ctx, http.MethodGet, endpoint, params)
}

// Post issues a signed POST
func (c *RestClient) Post(ctx context.Context, endpoint string, params *Params) (json.RawMessage, error) {
	return c.Call(ctx, http.MethodPost, endpoint, params)
}

// Put issues a signed PUT
func (c *RestClient) Put(ctx context.Context, endpoint string, params *Params) (json.RawMessage, error) {
	return c.Call(ctx, http.MethodPut, endpoint, params)
}

// Delete issues a signed DELETE
func (c *RestClient) Delete(ctx context.Context, endpoint string, params *Params) (json.RawMessage, error) {
	return c.Call(ctx, http.MethodDelete, endpoint, params)
}

// Call signs and sends one request to the client's base URL. On status 200
// it returns the raw body; anything else comes back as an error (normally a
// *RequestError). Nothing is retried.
func (c *RestClient) Call(ctx context.Context, method, endpoint string, params *Params) (json.RawMessage, error) {
	return c.CallWithBaseURL(ctx, method, "", endpoint, params)
}

// CallWithBaseURL is Call against another host. An empty baseURL means the
// client's own.
func (c *RestClient) CallWithBaseURL(ctx context.Context, method, baseURL, endpoint string, params *Params) (json.RawMessage, error) {
	ex, err := c.dispatch(ctx, method, baseURL, endpoint, params)
	if err != nil {
		return nil, err
	}
	return ex.resp.Body, nil
}

// exchange is one dispatched request and its 200 response
type exchange struct {
	url  string
	body string
	resp *Response
}

func (c *RestClient) dispatch(ctx context.Context, method, baseURL, endpoint string, params *Params) (ex *exchange, err error) {
	method = strings.ToUpper(method)
	started := time.Now()
	defer func() {
		c.metrics.observeCall(method, err, time.Since(started))
	}()

	creds := c.credentials()
	if !creds.complete() {
		return nil, preflightError(fmt.Errorf("private endpoints require key, secret and passphrase: %w", ErrMissingCredentials))
	}
	if strings.HasPrefix(endpoint, "/") {
		return nil, &RequestError{
			Kind:    KindSetup,
			Options: c.opts.redacted(),
			Err:     fmt.Errorf("%w: %q", ErrInvalidEndpoint, endpoint),
		}
	}

	timestamp := c.now().UnixMilli() + c.timeSync.Offset()

	signed, err := c.signRequest(creds, method, endpoint, params, timestamp)
	if err != nil {
		return nil, preflightError(err)
	}

	if baseURL == "" {
		baseURL = c.baseURL
	}
	reqURL := strings.TrimSuffix(baseURL, "/") + "/" + signed.Path

	header := map[string]string{
		headerKey:        creds.key,
		headerPassphrase: creds.passphraseHeader,
		headerKeyVersion: apiKeyVersion,
		headerSign:       signed.Signature,
		headerTimestamp:  strconv.FormatInt(signed.Timestamp, 10),
	}
	if hasBody(method) {
		header[headerContent] = formContentType
	}

	c.logger.Debug().
		Str("method", method).
		Str("url", reqURL).
		Int64("timestamp", signed.Timestamp).
		Int64("recv_window", signed.RecvWindow).
		Msg("Dispatching signed request")

	resp, err := c.transport.Do(ctx, &Request{
		Method: method,
		URL:    reqURL,
		Header: header,
		Body:   signed.Body,
	})
	if err != nil {
		c.logger.Debug().Err(err).Str("url", reqURL).Msg("Request failed without response")
		return nil, c.normalize(reqURL, signed.Body, nil, err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug().Int("status", resp.StatusCode).Str("url", reqURL).Msg("Request rejected")
		return nil, c.normalize(reqURL, signed.Body, resp, nil)
	}

	return &exchange{url: reqURL, body: signed.Body, resp: resp}, nil
}

// signRequest serialises params and computes the signature for one call
func (c *RestClient) signRequest(creds credentials, method, endpoint string, params *Params, timestamp int64) (*SignedRequest, error) {
	query, err := EncodeParams(params, c.opts.StrictParamValidation, true)
	if err != nil {
		return nil, err
	}

	signed := &SignedRequest{
		Params:     params,
		Method:     method,
		Endpoint:   endpoint,
		Query:      query,
		Path:       endpoint,
		Timestamp:  timestamp,
		RecvWindow: c.recvWindow(params),
	}

	if hasBody(method) {
		signed.Body = query
	} else if query != "" {
		signed.Path = endpoint + "?" + query
	}

	signed.Signature = Sign(timestamp, method, signed.Path, signed.Body, creds.secret)
	return signed, nil
}

// recvWindow resolves the receive window: per-call param, client option,
// then the default.
func (c *RestClient) recvWindow(params *Params) int64 {
	if v, ok := params.Get("recvWindow"); ok {
		if n, err := strconv.ParseInt(formatParamValue(v), 10, 64); err == nil && n > 0 {
			return n
		}
	}
	if c.opts.RecvWindow > 0 {
		return c.opts.RecvWindow
	}
	return DefaultRecvWindow
}

// fetchServerTime is the default clock sync source: the futures timestamp
// endpoint, whose data field is epoch ms.
func (c *RestClient) fetchServerTime(ctx context.Context) (int64, error) {
	body, err := c.Get(ctx, ServerTimeEndpoint, nil)
	if err != nil {
		return 0, err
	}
	ts, err := jsonparser.GetInt(body, "data")
	if err != nil {
		return 0, fmt.Errorf("error parsing server time: %w", err)
	}
	return ts, nil
}
