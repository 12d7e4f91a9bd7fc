package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/aberth"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/history"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/service"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/middleware"
)

type fakeHistory struct {
	records []history.Record
	err     error
	limit   int
	outcome rootfinder.Outcome
}

func (f *fakeHistory) List(ctx context.Context, limit int, outcome rootfinder.Outcome) ([]history.Record, error) {
	f.limit, f.outcome = limit, outcome
	return f.records, f.err
}

type fakeCache struct {
	hits, misses int64
	deleted      int64
	err          error
}

func (f *fakeCache) Stats() (int64, int64) { return f.hits, f.misses }

func (f *fakeCache) Invalidate(ctx context.Context) (int64, error) { return f.deleted, f.err }

func newServer(t *testing.T, hist HistoryLister, cache CacheAdmin) http.Handler {
	t.Helper()
	svc := service.New(config.SolverConfig{
		Tolerance:         1e-10,
		MaxTolerance:      1e-2,
		MaxIterations:     500,
		IterationLimit:    10000,
		Workers:           1,
		ParallelThreshold: 64,
		PhaseOffset:       aberth.DefaultPhaseOffset,
		Timeout:           5 * time.Second,
		MaxDegree:         16,
	}, service.Deps{})
	t.Cleanup(svc.Close)

	mux := http.NewServeMux()
	New(svc, hist, cache).Register(mux)
	return middleware.RequestID(mux)
}

func post(t *testing.T, srv http.Handler, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/roots", strings.NewReader(body))
	req.Header.Set(middleware.RequestIDHeader, "req-test")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return rec, out
}

func TestSolve_Converged(t *testing.T) {
	srv := newServer(t, nil, nil)

	rec, out := post(t, srv, `{"coefficients":[-6,11,-6,1]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-test", rec.Header().Get(middleware.RequestIDHeader))
	assert.Equal(t, "req-test", out["request_id"])
	assert.Equal(t, "converged", out["outcome"])
	assert.Len(t, out["roots"], 3)
}

func TestSolve_ComplexCoefficients(t *testing.T) {
	srv := newServer(t, nil, nil)

	// x^2 + 1 written with explicit complex values.
	rec, out := post(t, srv, `{"coefficients":[{"re":1},{"re":0,"im":0},{"re":1,"im":0}],"tolerance":1e-8}`)
	require.Equal(t, http.StatusOK, rec.Code)
	roots := out["roots"].([]any)
	require.Len(t, roots, 2)
	for _, r := range roots {
		root := r.(map[string]any)
		assert.InDelta(t, 0, root["re"].(float64), 1e-8)
		assert.InDelta(t, 1, abs(root["im"].(float64)), 1e-8)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func TestSolve_ClientErrors(t *testing.T) {
	srv := newServer(t, nil, nil)

	rec, out := post(t, srv, `{"coefficients":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, out["error"], "invalid JSON body")

	rec, _ = post(t, srv, `{"coefficients":[1,1],"order":"descending"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, out = post(t, srv, `{"coefficients":[1,1],"tolerance":-1,"max_iterations":20000}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation failed", out["error"])
	fields := out["fields"].(map[string]any)
	assert.Contains(t, fields, "tolerance")
	assert.Contains(t, fields, "max_iterations")
}

func TestSolve_UnsolvableOutcomes(t *testing.T) {
	srv := newServer(t, nil, nil)

	rec, out := post(t, srv, `{"coefficients":[5]}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "degenerate", out["outcome"])
	assert.NotEmpty(t, out["error"])

	rec, out = post(t, srv, `{"coefficients":[-6,11,-6,1],"max_iterations":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "not_converged", out["outcome"])
	assert.Len(t, out["roots"], 3, "best estimates are returned")
	assert.Equal(t, float64(1), out["iterations"])
}

func TestHistory(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(t, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/roots/history", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	hist := &fakeHistory{records: []history.Record{{ID: 1, RequestID: "a", Outcome: rootfinder.OutcomeConverged}}}
	srv := newServer(t, hist, nil)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/roots/history?limit=5&outcome=converged", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, hist.limit)
	assert.Equal(t, rootfinder.OutcomeConverged, hist.outcome)
	var body struct {
		Count   int              `json:"count"`
		Records []history.Record `json:"records"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "a", body.Records[0].RequestID)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/roots/history?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	hist.err = errors.New("circuit breaker is open")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/roots/history", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, defaultHistoryLimit, hist.limit)
}

func TestCacheEndpoints(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(t, nil, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	cache := &fakeCache{hits: 3, misses: 1, deleted: 4}
	srv := newServer(t, nil, cache)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cache/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"hits":3,"misses":1,"total":4,"hit_rate":"75.0%"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"invalidated","keys_deleted":4}`, rec.Body.String())

	cache.err = errors.New("scan failed")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/cache/invalidate", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
