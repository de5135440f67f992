package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/scrapeguard/internal/core/domain"
	"github.com/vietddude/scrapeguard/internal/infra/storage/memory"
	"github.com/vietddude/scrapeguard/internal/resilience"
	"github.com/vietddude/scrapeguard/internal/resilience/breaker"
	"github.com/vietddude/scrapeguard/internal/resilience/classify"
)

// stubFetcher answers by URL path
type stubFetcher struct{}

func (stubFetcher) Operation(rawURL string) resilience.Operation {
	return func(ctx context.Context) (any, error) {
		switch {
		case strings.Contains(rawURL, "/paywall"):
			return nil, &classify.FetchError{URL: rawURL, Body: "Subscribe to continue reading"}
		case strings.Contains(rawURL, "/missing"):
			return nil, &classify.FetchError{URL: rawURL, Status: http.StatusNotFound}
		case strings.Contains(rawURL, "/down"):
			return nil, &classify.FetchError{URL: rawURL, Status: http.StatusInternalServerError}
		}
		return map[string]string{"title": "ok"}, nil
	}
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *memory.FailureRepo) {
	t.Helper()
	b, err := breaker.New(breaker.Config{Threshold: 2, Timeout: time.Minute}, breaker.WithLogger(quiet()))
	require.NoError(t, err)

	repo := memory.NewFailureRepo(100)
	h, err := resilience.NewHandler(
		resilience.WithBreaker(b),
		resilience.WithLogger(quiet()),
		resilience.WithJournal(repo),
		resilience.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	require.NoError(t, err)

	base := []Option{WithLogger(quiet()), WithJournal(repo)}
	return NewServer(h, stubFetcher{}, 0, append(base, opts...)...), repo
}

func do(t *testing.T, s *Server, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func TestScrape_Success(t *testing.T) {
	s, _ := newTestServer(t)

	rec, out := do(t, s, http.MethodGet, "/scrape?url=https://x.com/a", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, map[string]any{"title": "ok"}, out["data"])
	assert.NotContains(t, out, "fallback")
	assert.Equal(t, "x.com", out["metadata"].(map[string]any)["domain"])
}

func TestScrape_FailureStatusAndFallback(t *testing.T) {
	s, _ := newTestServer(t)

	tests := []struct {
		path string
		code int
		kind domain.ErrorKind
	}{
		{"/paywall", http.StatusPaymentRequired, domain.KindPaywall},
		{"/missing", http.StatusBadGateway, domain.KindHTTPError},
	}
	for _, tt := range tests {
		rec, out := do(t, s, http.MethodGet, "/scrape?url=https://y.com"+tt.path, "")
		assert.Equal(t, tt.code, rec.Code, tt.path)
		assert.Equal(t, false, out["success"])
		assert.Equal(t, string(tt.kind), out["error"].(map[string]any)["type"])
		assert.Equal(t, map[string]any{"url": "https://y.com" + tt.path, "title": ""}, out["fallback"])
	}
}

func TestScrape_MissingURL(t *testing.T) {
	s, _ := newTestServer(t)
	rec, _ := do(t, s, http.MethodGet, "/scrape", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatch(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"urls":["https://a.com/1","https://b.com/paywall","https://c.com/2"],"concurrency":2}`
	rec, out := do(t, s, http.MethodPost, "/scrape/batch", body)
	require.Equal(t, http.StatusOK, rec.Code)

	summary := out["summary"].(map[string]any)
	assert.Equal(t, float64(3), summary["total"])
	assert.Equal(t, float64(2), summary["succeeded"])
	assert.Equal(t, float64(1), summary["failed"])
	assert.Equal(t, false, out["success"])
	assert.Equal(t, false, out["aborted"])
	assert.Len(t, out["results"], 2)
	assert.Len(t, out["errors"], 1)
}

func TestBatch_StopOnError(t *testing.T) {
	s, _ := newTestServer(t)

	body := `{"urls":["https://a.com/paywall","https://b.com/1","https://c.com/2"],"concurrency":1,"stop_on_error":true}`
	rec, out := do(t, s, http.MethodPost, "/scrape/batch", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, out["aborted"])
	assert.Equal(t, float64(1), out["summary"].(map[string]any)["total"])
}

func TestBatch_BadRequests(t *testing.T) {
	s, _ := newTestServer(t)

	rec, _ := do(t, s, http.MethodPost, "/scrape/batch", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	urls := make([]string, maxBatchURLs+1)
	for i := range urls {
		urls[i] = "https://x.com/"
	}
	raw, err := json.Marshal(map[string]any{"urls": urls})
	require.NoError(t, err)
	rec, _ = do(t, s, http.MethodPost, "/scrape/batch", string(raw))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBreakerEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	for i := 0; i < 2; i++ {
		do(t, s, http.MethodGet, "/scrape?url=https://z.com/down", "")
	}

	rec, out := do(t, s, http.MethodGet, "/scrape?url=https://z.com/ok", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "circuit breaker open for z.com", out["error"].(map[string]any)["message"])

	rec, out = do(t, s, http.MethodGet, "/breaker", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), out["failures"].(map[string]any)["z.com"])
	assert.Equal(t, []any{"z.com"}, out["open"])

	rec, _ = do(t, s, http.MethodPost, "/breaker/reset?domain=z.com", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/scrape?url=https://z.com/ok", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = do(t, s, http.MethodGet, "/breaker/reset", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBreakerEndpoints_Disabled(t *testing.T) {
	h, err := resilience.NewHandler(resilience.WithBreaker(nil), resilience.WithLogger(quiet()))
	require.NoError(t, err)
	s := NewServer(h, stubFetcher{}, 0, WithLogger(quiet()))

	rec, _ := do(t, s, http.MethodGet, "/breaker", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = do(t, s, http.MethodPost, "/breaker/reset", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestFailures(t *testing.T) {
	s, _ := newTestServer(t)

	do(t, s, http.MethodGet, "/scrape?url=https://p.com/paywall", "")
	do(t, s, http.MethodGet, "/scrape?url=https://q.com/missing", "")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/failures?domain=p.com", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var recs []domain.FailureRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, domain.KindPaywall, recs[0].Kind)

	r, _ := do(t, s, http.MethodGet, "/failures?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, r.Code)

	r, out := do(t, s, http.MethodGet, "/failures/stats?since=1h", "")
	require.Equal(t, http.StatusOK, r.Code)
	counts := out["counts"].(map[string]any)
	assert.Equal(t, float64(1), counts["Paywall"])
	assert.Equal(t, float64(1), counts["HttpError"])
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec, out := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", out["status"])

	s, _ = newTestServer(t, WithHealthCheck("redis", func(context.Context) error {
		return errors.New("connection refused")
	}))
	rec, out = do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "degraded", out["status"])
	assert.Equal(t, "connection refused", out["dependencies"].(map[string]any)["redis"])
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)
	do(t, s, http.MethodGet, "/scrape?url=https://m.com/a", "")

	rec, _ := do(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scrapeguard_operations_total")
}
