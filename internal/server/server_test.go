// ABOUTME: Shared test helpers plus tests for health, routing, metrics and the Run lifecycle
// ABOUTME: Handlers are driven in-process through Server.Handler with httptest recorders

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/ytwatch/internal/auth"
	"github.com/2389/ytwatch/internal/config"
	"github.com/2389/ytwatch/internal/store"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// testClock is a settable clock for handlers.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
database:
  path: ":memory:"
auth:
  jwt_secret: "` + testSecret + `"
rate_limit:
  register_per_hour: 1000
metrics:
  enabled: true
`))
	require.NoError(t, err)
	return cfg
}

type testEnv struct {
	t      *testing.T
	srv    *Server
	store  store.Store
	clock  *testClock
	router http.Handler
}

// newTestEnv builds a server on st (a fresh in-memory SQLite store when nil).
func newTestEnv(t *testing.T, st store.Store, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := testConfig(t)
	if mutate != nil {
		mutate(cfg)
	}
	if st == nil {
		sqlStore, err := store.NewSQLiteStore(":memory:")
		require.NoError(t, err)
		st = sqlStore
	}
	t.Cleanup(func() { _ = st.Close() })

	clock := newTestClock()
	srv, err := NewWithStore(cfg, st, testLogger(), WithClock(clock.Now))
	require.NoError(t, err)
	return &testEnv{t: t, srv: srv, store: st, clock: clock, router: srv.Handler()}
}

// request sends a JSON request through the router. header pairs are name, value.
func (e *testEnv) request(method, path string, body any, header ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	return e.requestFrom("", method, path, body, header...)
}

// requestFrom is request with the socket peer set to remoteAddr.
// An empty remoteAddr keeps httptest's default of 192.0.2.1:1234.
func (e *testEnv) requestFrom(remoteAddr, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	e.t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(b)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// register creates a device and returns its API key.
func (e *testEnv) register(deviceID string) string {
	e.t.Helper()
	rec := e.request(http.MethodPost, "/api/v1/register", map[string]string{
		"device_id":   deviceID,
		"device_name": "Device " + deviceID,
	})
	require.Contains(e.t, []int{http.StatusOK, http.StatusCreated}, rec.Code, rec.Body.String())
	var resp registerResponse
	require.NoError(e.t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp.APIKey
}

func (e *testEnv) managerToken() string {
	e.t.Helper()
	token, err := e.srv.Verifier().Generate(auth.ManagerSubject, time.Hour)
	require.NoError(e.t, err)
	return token
}

func keyHeader(key string) []string {
	return []string{auth.APIKeyHeader, key}
}

func bearerHeader(token string) []string {
	return []string{"Authorization", "Bearer " + token}
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), rec.Body.String())
	return v
}

func assertErrorKind(t *testing.T, rec *httptest.ResponseRecorder, status int, kind string) errorResponse {
	t.Helper()
	require.Equal(t, status, rec.Code, rec.Body.String())
	resp := decodeBody[errorResponse](t, rec)
	assert.Equal(t, kind, resp.Kind)
	assert.NotEmpty(t, resp.Error)
	return resp
}

func TestHealthAndIndex(t *testing.T) {
	env := newTestEnv(t, nil, nil)

	rec := env.request(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	health := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, "2026-03-01T12:00:00Z", health["timestamp"])
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	rec = env.request(http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	index := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ytwatch", index["name"])
	assert.Equal(t, Version, index["version"])
	assert.Equal(t, true, index["management"])
}

func TestUnknownRouteIsJSON(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	assertErrorKind(t, env.request(http.MethodGet, "/api/v1/nope", nil), http.StatusNotFound, kindNotFound)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.register("dev-1")

	rec := env.request(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `ytwatch_registrations_total{result="created"} 1`)
	assert.Contains(t, body, `ytwatch_http_requests_total{method="POST",route="/api/v1/register",status="201"} 1`)
}

func TestMetricsDisabled(t *testing.T) {
	env := newTestEnv(t, nil, func(c *config.Config) { c.Metrics.Enabled = false })
	assert.Equal(t, http.StatusNotFound, env.request(http.MethodGet, "/metrics", nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil, func(c *config.Config) {
		c.Server.CORSOrigins = []string{"https://parent.example"}
	})

	rec := env.request(http.MethodOptions, "/api/v1/blocks", nil,
		"Origin", "https://parent.example",
		"Access-Control-Request-Method", http.MethodGet,
	)
	assert.Equal(t, "https://parent.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.HTTPAddr = "127.0.0.1:0"
	cfg.Database.Path = t.TempDir() + "/ytwatch.db"

	srv, err := New(cfg, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + srv.Addr().String() + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
