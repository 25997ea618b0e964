package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kucoin-futures-api/internal/auth"
	"kucoin-futures-api/internal/kucoin"
	"kucoin-futures-api/internal/vault"
)

type stubClock struct {
	offset int64
	last   time.Time
}

func (s stubClock) TimeOffset() int64       { return s.offset }
func (s stubClock) LastTimeSync() time.Time { return s.last }

const testJWTSecret = "test-jwt-secret"

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	nop := zerolog.Nop()
	deps.Logger = &nop
	if deps.Auth == nil {
		deps.Auth = newTestAuth(t)
	}
	return NewServer(ServerConfig{ProductionMode: true, DefaultAccount: "default"}, deps)
}

func newTestAuth(t *testing.T) *auth.JWTManager {
	t.Helper()
	m, err := auth.NewJWTManager(testJWTSecret, time.Hour)
	require.NoError(t, err)
	return m
}

// testToken is signed with the secret every test server uses
func testToken(t *testing.T, accounts ...string) string {
	t.Helper()
	token, err := newTestAuth(t).GenerateToken("tester", accounts)
	require.NoError(t, err)
	return token
}

func newMockFactory(t *testing.T) *kucoin.ClientFactory {
	t.Helper()
	store := vault.NewMockClient()
	require.NoError(t, store.Store(context.Background(), "alice", vault.Credentials{
		APIKey: "alice-key", APISecret: "alice-secret", APIPassphrase: "alice-pass",
	}))
	f := kucoin.NewClientFactory(store, kucoin.FactoryConfig{
		Base:     kucoin.Options{DisableTimeSync: true},
		MockMode: true,
	})
	t.Cleanup(f.Close)
	return f
}

func doRequest(t *testing.T, s *Server, target string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	return doRequestWithToken(t, s, target, testToken(t, auth.AllAccounts))
}

func doRequestWithToken(t *testing.T, s *Server, target, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set("X-Request-ID", "test-trace")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)

	var body map[string]interface{}
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, sonic.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestHealthz(t *testing.T) {
	last := time.UnixMilli(1700000000000)
	s := newTestServer(t, Deps{Clock: stubClock{offset: 550, last: last}, Vault: vault.NewMockClient()})

	w, body := doRequest(t, s, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "test-trace", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 550, body["time_offset_ms"])
	assert.Equal(t, last.UTC().Format(time.RFC3339Nano), body["last_time_sync"])
	assert.NotContains(t, body, "vault")
}

func TestHealthzBeforeFirstSync(t *testing.T) {
	s := newTestServer(t, Deps{Clock: stubClock{}})

	_, body := doRequest(t, s, "/healthz")
	assert.Contains(t, body, "last_time_sync")
	assert.Nil(t, body["last_time_sync"])
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := kucoin.NewMetrics(reg)
	require.NoError(t, err)

	f := kucoin.NewClientFactory(vault.NewMockClient(), kucoin.FactoryConfig{
		Base:     kucoin.Options{DisableTimeSync: true},
		MockMode: true,
	}, kucoin.WithMetrics(metrics))
	defer f.Close()

	s := newTestServer(t, Deps{Factory: f, Gatherer: reg})

	w, _ := doRequest(t, s, "/api/v1/time")
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = doRequest(t, s, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "kucoin_rest_requests_total")
}

func TestServerTime(t *testing.T) {
	s := newTestServer(t, Deps{Factory: newMockFactory(t)})

	before := time.Now().UnixMilli()
	w, body := doRequest(t, s, "/api/v1/time")
	require.Equal(t, http.StatusOK, w.Code)

	serverTime, ok := body["server_time"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, int64(serverTime), before)
	assert.EqualValues(t, 0, body["time_offset_ms"])
}

func TestFactoryStats(t *testing.T) {
	f := newMockFactory(t)
	_, err := f.GetClient(context.Background(), "default")
	require.NoError(t, err)

	s := newTestServer(t, Deps{Factory: f})
	w, body := doRequest(t, s, "/api/v1/factory/stats")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["cached_clients"])
	assert.Equal(t, true, body["mock_mode"])
}

func TestAccountOverview(t *testing.T) {
	f := newMockFactory(t)
	f.MockTransport().HandleJSON(http.MethodGet, "api/v1/account-overview", http.StatusOK,
		`{"code":"200000","data":{"currency":"USDT","accountEquity":"12.5","availableBalance":"10"}}`)

	s := newTestServer(t, Deps{Factory: f})
	w, body := doRequest(t, s, "/api/v1/accounts/alice/overview?currency=USDT")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "USDT", body["currency"])
	assert.Equal(t, "12.5", body["accountEquity"])

	req := f.MockTransport().Requests()[0]
	assert.Contains(t, req.URL, "currency=USDT")
}

func TestUpstreamErrorMapping(t *testing.T) {
	f := newMockFactory(t)
	f.MockTransport().HandleJSON(http.MethodGet, "api/v1/account-overview", http.StatusTooManyRequests,
		`{"code":"429000","msg":"Too Many Requests"}`)

	s := newTestServer(t, Deps{Factory: f})
	w, body := doRequest(t, s, "/api/v1/accounts/alice/overview")
	require.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, "application", body["kind"])
	assert.Equal(t, "429000", body["code"])
	assert.EqualValues(t, http.StatusTooManyRequests, body["status_code"])
}

func TestUnknownAccountWithoutMockMode(t *testing.T) {
	f := kucoin.NewClientFactory(vault.NewMockClient(), kucoin.FactoryConfig{Base: kucoin.Options{DisableTimeSync: true}})
	defer f.Close()

	s := newTestServer(t, Deps{Factory: f})
	w, _ := doRequest(t, s, "/api/v1/accounts/nobody/overview")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoutesWithoutFactory(t *testing.T) {
	s := newTestServer(t, Deps{})

	for _, target := range []string{"/api/v1/time", "/api/v1/factory/stats", "/api/v1/accounts/a/overview"} {
		w, _ := doRequest(t, s, target)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, target)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	s := newTestServer(t, Deps{Factory: newMockFactory(t)})

	for _, target := range []string{"/api/v1/time", "/api/v1/factory/stats", "/api/v1/accounts/alice/overview"} {
		w, body := doRequestWithToken(t, s, target, "")
		assert.Equal(t, http.StatusUnauthorized, w.Code, target)
		assert.Equal(t, auth.ErrUnauthorized.Code, body["error"], target)
	}

	other, err := auth.NewJWTManager("another-secret", time.Hour)
	require.NoError(t, err)
	forged, err := other.GenerateToken("tester", []string{auth.AllAccounts})
	require.NoError(t, err)
	w, body := doRequestWithToken(t, s, "/api/v1/factory/stats", forged)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, auth.ErrInvalidToken.Code, body["error"])

	// health and metrics stay open
	w, _ = doRequestWithToken(t, s, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = doRequestWithToken(t, s, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAccountRoutesAreScopedByToken(t *testing.T) {
	f := newMockFactory(t)
	s := newTestServer(t, Deps{Factory: f})
	token := testToken(t, "bob")

	w, body := doRequestWithToken(t, s, "/api/v1/accounts/alice/overview", token)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, auth.ErrForbidden.Code, body["error"])
	assert.Zero(t, f.MockTransport().Calls())

	w, _ = doRequestWithToken(t, s, "/api/v1/factory/stats", token)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIWithoutAuthConfigured(t *testing.T) {
	nop := zerolog.Nop()
	s := NewServer(ServerConfig{ProductionMode: true}, Deps{Factory: newMockFactory(t), Logger: &nop})

	w, _ := doRequest(t, s, "/api/v1/factory/stats")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMockModeUnknownAccount(t *testing.T) {
	s := newTestServer(t, Deps{Factory: newMockFactory(t)})

	w, _ := doRequest(t, s, "/api/v1/accounts/nobody/overview")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNilLoggerUsesComponentDefault(t *testing.T) {
	s := NewServer(ServerConfig{ProductionMode: true}, Deps{Auth: newTestAuth(t)})

	w, _ := doRequest(t, s, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}
