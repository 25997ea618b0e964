package kucoin

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey        = "key"
	testSecret     = "secret"
	testPassphrase = "passphrase"
	testNowMs      = int64(1700000000000)
)

func testOptions() Options {
	return Options{
		APIKey:          testKey,
		APISecret:       testSecret,
		APIPassphrase:   testPassphrase,
		DisableTimeSync: true,
	}
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func newTestClient(t *testing.T, opts Options, extra ...ClientOption) (*RestClient, *MockTransport) {
	t.Helper()
	mock := NewMockTransport()
	all := append([]ClientOption{WithTransport(mock), WithClock(fixedClock(testNowMs))}, extra...)
	c, err := NewRestClient(BaseURLFutures, opts, all...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, mock
}

func TestNewRestClientRequiresCredentials(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*Options)
	}{
		{"no key", func(o *Options) { o.APIKey = "" }},
		{"no secret", func(o *Options) { o.APISecret = "" }},
		{"no passphrase", func(o *Options) { o.APIPassphrase = "  " }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			tt.mod(&opts)
			_, err := NewRestClient(BaseURLFutures, opts)
			require.ErrorIs(t, err, ErrMissingCredentials)
		})
	}
}

func TestCallWithoutCredentialsNeverReachesTransport(t *testing.T) {
	c, mock := newTestClient(t, testOptions())
	c.UpdateCredentials("", testSecret, testPassphrase)

	_, err := c.Get(context.Background(), "api/v1/account-overview", nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPreflight))
	assert.ErrorIs(t, err, ErrMissingCredentials)
	assert.Zero(t, mock.Calls())
}

func TestGetSignsQueryString(t *testing.T) {
	c, mock := newTestClient(t, testOptions())
	mock.HandleJSON(http.MethodGet, "api/v1/account-overview", http.StatusOK, `{"code":"200000","data":{"currency":"USDT"}}`)

	body, err := c.Get(context.Background(), "api/v1/account-overview", NewParams().Set("currency", "USDT"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"code":"200000","data":{"currency":"USDT"}}`, string(body))

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	req := reqs[0]

	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "https://api-futures.kucoin.com/api/v1/account-overview?currency=USDT", req.URL)
	assert.Empty(t, req.Body)

	ts := strconv.FormatInt(testNowMs, 10)
	assert.Equal(t, testKey, req.Header["KC-API-KEY"])
	assert.Equal(t, SignPassphrase(testPassphrase, testSecret), req.Header["KC-API-PASSPHRASE"])
	assert.Equal(t, "2", req.Header["KC-API-KEY-VERSION"])
	assert.Equal(t, ts, req.Header["KC-API-TIMESTAMP"])
	assert.Equal(t, Sign(testNowMs, "GET", "api/v1/account-overview?currency=USDT", "", testSecret), req.Header["KC-API-SIGN"])
	assert.NotContains(t, req.Header, "Content-Type")
}

func TestTimestampIncludesOffset(t *testing.T) {
	c, mock := newTestClient(t, testOptions())
	c.SetTimeOffset(550)

	_, err := c.Get(context.Background(), "api/v1/foo", nil)
	require.NoError(t, err)

	req := mock.Requests()[0]
	want := testNowMs + 550
	assert.Equal(t, strconv.FormatInt(want, 10), req.Header["KC-API-TIMESTAMP"])
	assert.Equal(t, Sign(want, "GET", "api/v1/foo", "", testSecret), req.Header["KC-API-SIGN"])
}

func TestPostSendsURLEncodedBody(t *testing.T) {
	c, mock := newTestClient(t, testOptions())

	params := NewParams().Set("clientOid", "abc").Set("side", "buy").Set("remark", "a b")
	_, err := c.Post(context.Background(), "api/v1/orders", params)
	require.NoError(t, err)

	req := mock.Requests()[0]
	wantBody := "clientOid=abc&side=buy&remark=a%20b"

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://api-futures.kucoin.com/api/v1/orders", req.URL)
	assert.Equal(t, wantBody, req.Body)
	assert.Equal(t, "application/x-www-form-urlencoded", req.Header["Content-Type"])
	assert.Equal(t, Sign(testNowMs, "POST", "api/v1/orders", wantBody, testSecret), req.Header["KC-API-SIGN"])
}

func TestDeleteSignsQueryNotBody(t *testing.T) {
	c, mock := newTestClient(t, testOptions())

	_, err := c.Delete(context.Background(), "api/v1/orders", NewParams().Set("symbol", "XBTUSDTM"))
	require.NoError(t, err)

	req := mock.Requests()[0]
	assert.Equal(t, "https://api-futures.kucoin.com/api/v1/orders?symbol=XBTUSDTM", req.URL)
	assert.Empty(t, req.Body)
	assert.Equal(t, Sign(testNowMs, "DELETE", "api/v1/orders?symbol=XBTUSDTM", "", testSecret), req.Header["KC-API-SIGN"])
}

func TestStrictValidationRejectsAbsentParams(t *testing.T) {
	opts := testOptions()
	opts.StrictParamValidation = true
	c, mock := newTestClient(t, opts)

	_, err := c.Get(context.Background(), "api/v1/foo", NewParams().Set("a", 1).SetAbsent("b"))
	require.Error(t, err)
	assert.True(t, IsKind(err, KindPreflight))
	assert.ErrorIs(t, err, ErrMissingParameter)
	assert.Zero(t, mock.Calls())
}

func TestLenientValidationOmitsAbsentParams(t *testing.T) {
	c, mock := newTestClient(t, testOptions())

	_, err := c.Get(context.Background(), "api/v1/foo", NewParams().Set("a", 1).SetAbsent("b"))
	require.NoError(t, err)

	req := mock.Requests()[0]
	assert.Equal(t, "https://api-futures.kucoin.com/api/v1/foo?a=1", req.URL)
	assert.Equal(t, Sign(testNowMs, "GET", "api/v1/foo?a=1", "", testSecret), req.Header["KC-API-SIGN"])
}

func TestLeadingSlashEndpointIsSetupError(t *testing.T) {
	c, mock := newTestClient(t, testOptions())

	_, err := c.Get(context.Background(), "/api/v1/foo", nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSetup))
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
	assert.Zero(t, mock.Calls())
}

func TestApplicationErrorCarriesResponse(t *testing.T) {
	c, mock := newTestClient(t, testOptions())
	mock.Handle(http.MethodGet, "api/v1/foo", func(*Request) (*Response, error) {
		h := http.Header{}
		h.Set("Content-Type", "application/json")
		h.Set("gw-ratelimit-remaining", "0")
		return &Response{
			StatusCode: http.StatusTooManyRequests,
			Header:     h,
			Body:       []byte(`{"code":"429000","msg":"Too Many Requests"}`),
		}, nil
	})

	_, err := c.Get(context.Background(), "api/v1/foo", NewParams().Set("a", 1))
	require.Error(t, err)

	reqErr, ok := AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, KindApplication, reqErr.Kind)
	assert.Equal(t, "429000", reqErr.Code)
	assert.Equal(t, CodeTooManyRequests, ResponseCode(reqErr.Code))
	assert.Equal(t, "Too Many Requests", reqErr.Message)
	assert.Equal(t, http.StatusTooManyRequests, reqErr.StatusCode)
	assert.Equal(t, "0", reqErr.Header.Get("gw-ratelimit-remaining"))
	assert.JSONEq(t, `{"code":"429000","msg":"Too Many Requests"}`, string(reqErr.Body))
	assert.Equal(t, "https://api-futures.kucoin.com/api/v1/foo?a=1", reqErr.RequestURL)

	var statusErr *StatusError
	assert.True(t, errors.As(err, &statusErr))
}

func TestApplicationErrorNumericCode(t *testing.T) {
	c, mock := newTestClient(t, testOptions())
	mock.HandleJSON(http.MethodPost, "api/v1/orders", http.StatusBadRequest, `{"code":400100,"msg":"Parameter Error"}`)

	_, err := c.Post(context.Background(), "api/v1/orders", NewParams().Set("side", "buy"))
	reqErr, ok := AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, "400100", reqErr.Code)
	assert.Equal(t, "side=buy", reqErr.RequestBody)
}

func TestApplicationErrorWithoutEnvelope(t *testing.T) {
	c, mock := newTestClient(t, testOptions())
	mock.HandleJSON(http.MethodGet, "api/v1/foo", http.StatusBadGateway, "<html>bad gateway</html>")

	_, err := c.Get(context.Background(), "api/v1/foo", nil)
	reqErr, ok := AsRequestError(err)
	require.True(t, ok)
	assert.Equal(t, KindApplication, reqErr.Kind)
	assert.Empty(t, reqErr.Code)
	assert.Contains(t, reqErr.Error(), "bad gateway")
}

func TestErrorsNeverCarryCredentials(t *testing.T) {
	c, mock := newTestClient(t, testOptions())
	mock.HandleJSON(http.MethodGet, "api/v1/foo", http.StatusUnauthorized, `{"code":"400005","msg":"Signature error"}`)

	_, err := c.Get(context.Background(), "api/v1/foo", nil)
	reqErr, ok := AsRequestError(err)
	require.True(t, ok)
	assert.True(t, ResponseCode(reqErr.Code).IsAuthError())

	assert.Empty(t, reqErr.Options.APIKey)
	assert.Empty(t, reqErr.Options.APISecret)
	assert.Empty(t, reqErr.Options.APIPassphrase)
	assert.Equal(t, DefaultRecvWindow, reqErr.Options.RecvWindow)
	assert.NotContains(t, reqErr.Error(), testSecret)
}

func TestNetworkError(t *testing.T) {
	c, mock := newTestClient(t, testOptions())
	cause := errors.New("connection reset by peer")
	mock.Handle(http.MethodGet, "api/v1/foo", func(*Request) (*Response, error) {
		return nil, &TransportError{Sent: true, Err: cause}
	})

	_, err := c.Get(context.Background(), "api/v1/foo", nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNetwork))
	assert.ErrorIs(t, err, cause)

	reqErr, _ := AsRequestError(err)
	assert.Equal(t, "https://api-futures.kucoin.com/api/v1/foo", reqErr.RequestURL)
	assert.Zero(t, reqErr.StatusCode)
}

func TestCancelledContextIsNetworkError(t *testing.T) {
	c, _ := newTestClient(t, testOptions())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Get(ctx, "api/v1/foo", nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindNetwork))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSetupError(t *testing.T) {
	c, mock := newTestClient(t, testOptions())
	mock.Handle(http.MethodGet, "api/v1/foo", func(*Request) (*Response, error) {
		return nil, &TransportError{Err: errors.New("invalid header value")}
	})

	_, err := c.Get(context.Background(), "api/v1/foo", nil)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindSetup))
	assert.Contains(t, err.Error(), "invalid header value")
}

func TestDisabledNormalizationReturnsRawErrors(t *testing.T) {
	opts := testOptions()
	opts.DisableErrorNormalization = true
	c, mock := newTestClient(t, opts)

	transportErr := &TransportError{Sent: true, Err: errors.New("timeout")}
	mock.Handle(http.MethodGet, "api/v1/net", func(*Request) (*Response, error) {
		return nil, transportErr
	})
	mock.HandleJSON(http.MethodGet, "api/v1/app", http.StatusInternalServerError, `{"code":"500000","msg":"Internal Server Error"}`)

	_, err := c.Get(context.Background(), "api/v1/net", nil)
	assert.Same(t, transportErr, err)

	_, err = c.Get(context.Background(), "api/v1/app", nil)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
	_, isReqErr := AsRequestError(err)
	assert.False(t, isReqErr)
}

func TestRecvWindowResolution(t *testing.T) {
	c, _ := newTestClient(t, testOptions())
	creds := c.credentials()

	signed, err := c.signRequest(creds, "GET", "api/v1/foo", nil, testNowMs)
	require.NoError(t, err)
	assert.Equal(t, DefaultRecvWindow, signed.RecvWindow)

	signed, err = c.signRequest(creds, "GET", "api/v1/foo", NewParams().Set("recvWindow", 10000), testNowMs)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), signed.RecvWindow)
	assert.Equal(t, "api/v1/foo?recvWindow=10000", signed.Path)

	opts := testOptions()
	opts.RecvWindow = 7000
	c2, _ := newTestClient(t, opts)
	signed, err = c2.signRequest(creds, "GET", "api/v1/foo", NewParams().Set("recvWindow", "not-a-number"), testNowMs)
	require.NoError(t, err)
	assert.Equal(t, int64(7000), signed.RecvWindow)
}

func TestBaseURLResolution(t *testing.T) {
	t.Run("client key", func(t *testing.T) {
		c, _ := newTestClient(t, testOptions())
		assert.Equal(t, "https://api-futures.kucoin.com", c.BaseURL())
		assert.Equal(t, BaseURLFutures, c.BaseURLKey())
	})

	t.Run("configured key wins", func(t *testing.T) {
		opts := testOptions()
		opts.BaseURLKey = BaseURLFuturesTest
		c, _ := newTestClient(t, opts)
		assert.Equal(t, "https://api-sandbox-futures.kucoin.com", c.BaseURL())
	})

	t.Run("explicit url wins", func(t *testing.T) {
		opts := testOptions()
		opts.BaseURLKey = BaseURLFuturesTest
		opts.BaseURL = "http://localhost:9999/"
		c, mock := newTestClient(t, opts)
		assert.Equal(t, "http://localhost:9999", c.BaseURL())

		_, err := c.Get(context.Background(), "api/v1/foo", nil)
		require.NoError(t, err)
		assert.Equal(t, "http://localhost:9999/api/v1/foo", mock.Requests()[0].URL)
	})

	t.Run("unknown key", func(t *testing.T) {
		opts := testOptions()
		opts.BaseURLKey = "spot"
		_, err := NewRestClient(BaseURLFutures, opts)
		require.Error(t, err)
	})

	t.Run("per call override", func(t *testing.T) {
		c, mock := newTestClient(t, testOptions())
		_, err := c.CallWithBaseURL(context.Background(), "get", "https://other.example", "api/v1/foo", nil)
		require.NoError(t, err)
		req := mock.Requests()[0]
		assert.Equal(t, "https://other.example/api/v1/foo", req.URL)
		assert.Equal(t, http.MethodGet, req.Method)
	})
}

func TestSyncTimeFromServerTimeEndpoint(t *testing.T) {
	opts := testOptions()
	opts.DisableTimeSync = false
	mock := NewMockTransport()
	mock.HandleJSON(http.MethodGet, ServerTimeEndpoint, http.StatusOK, `{"code":"200000","data":1700000000500}`)

	c, err := NewRestClient(BaseURLFutures, opts, WithTransport(mock), WithClock(fixedClock(testNowMs)))
	require.NoError(t, err)
	defer c.Close()

	c.SyncTime(context.Background())
	assert.Equal(t, int64(500), c.TimeOffset())
	assert.False(t, c.LastTimeSync().IsZero())
}

func TestSyncFailureKeepsOffset(t *testing.T) {
	opts := testOptions()
	opts.DisableTimeSync = false

	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	c, mock := newTestClient(t, opts,
		WithMetrics(metrics),
		WithServerTime(func(context.Context) (int64, error) {
			return 0, errors.New("exchange unreachable")
		}),
	)
	c.SetTimeOffset(42)

	c.SyncTime(context.Background())
	assert.Equal(t, int64(42), c.TimeOffset())
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.syncFailures), float64(1))

	_, err = c.Get(context.Background(), "api/v1/foo", nil)
	require.NoError(t, err)
	var signedRequests int
	for _, r := range mock.Requests() {
		if r.URL == "https://api-futures.kucoin.com/api/v1/foo" {
			signedRequests++
			assert.Equal(t, strconv.FormatInt(testNowMs+42, 10), r.Header["KC-API-TIMESTAMP"])
		}
	}
	assert.Equal(t, 1, signedRequests)
}

func TestMetricsRecordOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics, err := NewMetrics(registry)
	require.NoError(t, err)

	c, mock := newTestClient(t, testOptions(), WithMetrics(metrics))
	mock.HandleJSON(http.MethodGet, "api/v1/bad", http.StatusBadRequest, `{"code":"400100","msg":"Parameter Error"}`)

	_, err = c.Get(context.Background(), "api/v1/good", nil)
	require.NoError(t, err)
	_, err = c.Get(context.Background(), "api/v1/bad", nil)
	require.Error(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("GET", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.requests.WithLabelValues("GET", "application")))
	assert.Equal(t, 1, testutil.CollectAndCount(metrics.requestDuration))

	_, err = NewMetrics(registry)
	assert.Error(t, err, "registering twice must fail")
}
