package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pagelens/pagelens/internal/config"
	"github.com/pagelens/pagelens/internal/metrics"
	"github.com/pagelens/pagelens/internal/render"
	"github.com/pagelens/pagelens/internal/service"
)

// fakeCapture records the last request and answers from a script.
type fakeCapture struct {
	mu     sync.Mutex
	last   render.CaptureRequest
	result render.CaptureResult
	err    error
	stats  service.Stats
}

func (f *fakeCapture) Capture(_ context.Context, req render.CaptureRequest) (render.CaptureResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.last = req
	if f.err != nil {
		return render.CaptureResult{}, f.err
	}
	return f.result, nil
}

func (f *fakeCapture) Stats() service.Stats {
	return f.stats
}

func (f *fakeCapture) lastRequest() render.CaptureRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 8080},
	}
}

func newTestServer(svc CaptureService, cfg config.Config) http.Handler {
	metrics.Init()
	return NewServer(svc, cfg, nil).Handler()
}

func TestCaptureReturnsImage(t *testing.T) {
	t.Parallel()

	svc := &fakeCapture{result: render.CaptureResult{
		Bytes:       []byte("png-bytes"),
		ContentType: "image/png",
	}}
	h := newTestServer(svc, testConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/capture?url=https%3A%2F%2Fexample.com%2F&width=800&height=600", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	require.Equal(t, "miss", rec.Header().Get("X-Cache"))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	require.Equal(t, "png-bytes", rec.Body.String())

	got := svc.lastRequest()
	require.Equal(t, "https://example.com/", got.URL)
	require.Equal(t, 800, got.Width)
	require.Equal(t, 600, got.Height)
	require.True(t, got.FullPage)
}

func TestCaptureCacheHitHeader(t *testing.T) {
	t.Parallel()

	svc := &fakeCapture{result: render.CaptureResult{
		Bytes:       []byte("img"),
		ContentType: "image/jpeg",
		FromCache:   true,
	}}
	h := newTestServer(svc, testConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/capture?url=https%3A%2F%2Fexample.com%2F&image_type=jpeg", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "hit", rec.Header().Get("X-Cache"))
	require.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
}

func TestCaptureFullPageToggle(t *testing.T) {
	t.Parallel()

	svc := &fakeCapture{result: render.CaptureResult{Bytes: []byte("img"), ContentType: "image/png"}}
	h := newTestServer(svc, testConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/capture?url=https%3A%2F%2Fexample.com%2F&full_page=false", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, svc.lastRequest().FullPage)
}

func TestCaptureRejectsMalformedParams(t *testing.T) {
	t.Parallel()

	svc := &fakeCapture{}
	h := newTestServer(svc, testConfig())

	for _, query := range []string{
		"url=https%3A%2F%2Fexample.com%2F&width=abc",
		"url=https%3A%2F%2Fexample.com%2F&quality=9x",
		"url=https%3A%2F%2Fexample.com%2F&full_page=perhaps",
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/capture?"+query, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestCaptureErrorStatusMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want int
	}{
		{"invalid input", render.ErrInvalidInput, http.StatusBadRequest},
		{"pool exhausted", render.ErrPoolExhausted, http.StatusServiceUnavailable},
		{"render timeout", render.ErrRenderTimeout, http.StatusServiceUnavailable},
		{"renderer crashed", render.ErrRendererCrashed, http.StatusServiceUnavailable},
		{"shutting down", render.ErrShuttingDown, http.StatusServiceUnavailable},
		{"instance creation", render.ErrInstanceCreation, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newTestServer(&fakeCapture{err: tc.err}, testConfig())
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
				"/v1/capture?url=https%3A%2F%2Fexample.com%2F", nil))
			require.Equal(t, tc.want, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			require.NotEmpty(t, body["error"])
		})
	}
}

func TestStatsEndpoint(t *testing.T) {
	t.Parallel()

	svc := &fakeCapture{stats: service.Stats{
		Pool:  render.PoolStats{Total: 2, Available: 1, Capacity: 2},
		Queue: render.QueueStats{Running: 1, MaxConcurrent: 4},
		Cache: render.CacheStats{LiveEntryCount: 3, TTLSeconds: 300},
	}}
	h := newTestServer(svc, testConfig())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got service.Stats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, svc.stats, got)
}

func TestAPIKeyGuardsV1Routes(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	svc := &fakeCapture{result: render.CaptureResult{Bytes: []byte("img"), ContentType: "image/png"}}
	h := newTestServer(svc, cfg)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/capture?url=https%3A%2F%2Fexample.com%2F", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/capture?url=https%3A%2F%2Fexample.com%2F", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/v1/capture?url=https%3A%2F%2Fexample.com%2F&api_key=secret", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// Health endpoints stay open.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	t.Parallel()

	h := newTestServer(&fakeCapture{}, testConfig())
	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rec.Code, path)
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}
