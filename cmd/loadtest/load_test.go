package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder"
)

func TestWorkload_DeterministicAndInRange(t *testing.T) {
	a := Workload(20, 3, 7, 42)
	b := Workload(20, 3, 7, 42)
	require.Len(t, a, 20)
	assert.Equal(t, a, b)

	for _, req := range a {
		degree := len(req.Coefficients) - 1
		assert.GreaterOrEqual(t, degree, 3)
		assert.LessOrEqual(t, degree, 7)
		assert.NotZero(t, req.Coefficients[degree])
	}
	assert.NotEqual(t, a, Workload(20, 3, 7, 43))
}

func TestRun_CountsOutcomesAndCacheHits(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/roots", r.URL.Path)
		var req rootfinder.SolveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		n := calls.Add(1)
		resp := rootfinder.SolveResponse{
			Outcome:  rootfinder.OutcomeConverged,
			Degree:   len(req.Coefficients) - 1,
			CacheHit: n%2 == 0,
		}
		status := http.StatusOK
		if n%5 == 0 {
			resp.Outcome = rootfinder.OutcomeNotConverged
			status = http.StatusUnprocessableEntity
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	cfg := Config{
		BaseURL:     srv.URL,
		Concurrency: 4,
		Duration:    200 * time.Millisecond,
		Workload:    Workload(5, 2, 4, 1),
	}
	stats, err := Run(context.Background(), cfg, srv.Client())
	require.NoError(t, err)

	r := stats.Report(cfg.Duration)
	require.Positive(t, r.Total)
	assert.Equal(t, r.Total, r.Success+r.Errors)
	assert.Equal(t, r.Errors, r.StatusCodes[http.StatusUnprocessableEntity])
	assert.Equal(t, r.Total, r.Outcomes[rootfinder.OutcomeConverged]+r.Outcomes[rootfinder.OutcomeNotConverged])
	assert.Positive(t, r.CacheHits)
	assert.LessOrEqual(t, r.Min, r.P50)
	assert.LessOrEqual(t, r.P99, r.Max)
}

func TestRun_EmptyWorkload(t *testing.T) {
	_, err := Run(context.Background(), Config{Concurrency: 1, Duration: time.Millisecond}, http.DefaultClient)
	assert.Error(t, err)
}

func TestPercentile(t *testing.T) {
	sorted := []time.Duration{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	assert.Equal(t, time.Duration(5), percentile(sorted, 50))
	assert.Equal(t, time.Duration(10), percentile(sorted, 99))
	assert.Equal(t, time.Duration(0), percentile(nil, 50))
}
