// Package integration contains tests that verify the interaction between
// the root solver components. They run the real handler, service, cache
// and analytics wiring behind httptest servers, with Redis and Kafka
// replaced by in-memory stand-ins. Solve history uses a real PostgreSQL
// database when one is reachable.
//
// Run with:
//
//	go test -v ./test/integration/...
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/cache"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/handler"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/history"
	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder/service"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/ratelimit"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/tracing"
)

// memRedis implements cache.Backend.
type memRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func (m *memRedis) Get(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (m *memRedis) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = string(value.([]byte))
	return nil
}

func (m *memRedis) FlushByPattern(ctx context.Context, pattern string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.data))
	m.data = map[string]string{}
	return n, nil
}

// loopback delivers published analytics events straight to an aggregator,
// standing in for the Kafka topic between the two.
type loopback struct {
	handle kafka.MessageHandler
}

func (l loopback) Publish(ctx context.Context, event kafka.Event) error {
	value, err := json.Marshal(event.Value)
	if err != nil {
		return err
	}
	return l.handle(ctx, []byte(event.Key), value)
}

type stack struct {
	server *httptest.Server
	agg    *analytics.Aggregator
	svc    *service.Service
}

func newStack(t *testing.T, ratePerMinute int, pg *postgres.Client) *stack {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	agg := analytics.NewAggregator(nil)
	collector := analytics.NewCollector(loopback{handle: analytics.HandleEvent(agg)}, 100)
	collector.Start(ctx)

	resultCache := cache.New(&memRedis{data: map[string]string{}}, time.Minute)
	deps := service.Deps{
		Cache:   resultCache,
		Events:  collector,
		Metrics: m,
		Tracer:  tracing.New(false, nil),
	}
	var hist handler.HistoryLister
	if pg != nil {
		store := history.NewStore(pg.DB, nil)
		deps.History = store
		hist = store
	}
	svc := service.New(cfg.Solver, deps)

	mux := http.NewServeMux()
	handler.New(svc, hist, resultCache).Register(mux)
	mux.HandleFunc("GET /api/v1/analytics", analytics.NewHandler(agg, nil).Stats)

	limiter := ratelimit.New(ratePerMinute, time.Minute)
	t.Cleanup(limiter.Stop)

	var chain http.Handler = mux
	chain = middleware.Timeout(5 * time.Second)(chain)
	chain = middleware.RateLimit(limiter, nil)(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	srv := httptest.NewServer(chain)
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
		collector.Close()
	})
	return &stack{server: srv, agg: agg, svc: svc}
}

func (s *stack) solve(t *testing.T, body string) (*http.Response, rootfinder.SolveResponse) {
	t.Helper()
	resp, err := http.Post(s.server.URL+"/api/v1/roots", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	var out rootfinder.SolveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp, out
}

func TestSolve_CachesAndAggregates(t *testing.T) {
	s := newStack(t, 100, nil)
	body := `{"coefficients":[-6,11,-6,1]}`

	resp, first := s.solve(t, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, rootfinder.OutcomeConverged, first.Outcome)
	assert.False(t, first.CacheHit)
	assert.Equal(t, resp.Header.Get(middleware.RequestIDHeader), first.RequestID)

	resp, second := s.solve(t, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Roots, second.Roots)
	assert.NotEqual(t, first.RequestID, second.RequestID)

	assert.Eventually(t, func() bool {
		st := s.agg.Stats()
		return st.TotalSolves == 2 && st.CacheHits == 1
	}, 2*time.Second, 10*time.Millisecond)

	statsResp, err := http.Get(s.server.URL + "/api/v1/cache/stats")
	require.NoError(t, err)
	defer statsResp.Body.Close()
	var stats map[string]any
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.Equal(t, 1.0, stats["hits"])
}

func TestSolve_OutcomesMapToStatus(t *testing.T) {
	s := newStack(t, 100, nil)

	tests := []struct {
		name    string
		body    string
		status  int
		outcome rootfinder.Outcome
	}{
		{"converged", `{"coefficients":[1,0,1]}`, http.StatusOK, rootfinder.OutcomeConverged},
		{"complex coefficients", `{"coefficients":[{"re":0,"im":-1},1]}`, http.StatusOK, rootfinder.OutcomeConverged},
		{"constant", `{"coefficients":[5]}`, http.StatusUnprocessableEntity, rootfinder.OutcomeDegenerate},
		{"all zero", `{"coefficients":[0,0,0]}`, http.StatusUnprocessableEntity, rootfinder.OutcomeDegenerate},
		{"iteration cap", `{"coefficients":[-1,0,0,0,0,0,0,0,1],"max_iterations":1}`, http.StatusUnprocessableEntity, rootfinder.OutcomeNotConverged},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, out := s.solve(t, tt.body)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Equal(t, tt.outcome, out.Outcome)
		})
	}
}

func TestSolve_ValidationErrors(t *testing.T) {
	s := newStack(t, 100, nil)
	resp, err := http.Post(s.server.URL+"/api/v1/roots", "application/json",
		bytes.NewBufferString(`{"coefficients":[],"tolerance":-1}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Fields, "coefficients")
	assert.Contains(t, body.Fields, "tolerance")
}

func TestRateLimit_AppliesToSolveAPI(t *testing.T) {
	s := newStack(t, 2, nil)
	for i := 0; i < 2; i++ {
		resp, _ := s.solve(t, `{"coefficients":[-1,1]}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp, err := http.Post(s.server.URL+"/api/v1/roots", "application/json", bytes.NewBufferString(`{"coefficients":[-1,1]}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestHistory_RecordsSolves(t *testing.T) {
	pg := skipIfNoPostgres(t)
	ctx := context.Background()
	require.NoError(t, pg.EnsureSchema(ctx, history.Schema...))

	s := newStack(t, 100, pg)
	_, out := s.solve(t, `{"coefficients":[-2,0,1],"tolerance":1.5e-9}`)
	require.Equal(t, rootfinder.OutcomeConverged, out.Outcome)

	// History writes are asynchronous; Close waits for them.
	s.svc.Close()

	resp, err := http.Get(s.server.URL + "/api/v1/roots/history?limit=50&outcome=converged")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Records []history.Record `json:"records"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	found := false
	for _, r := range body.Records {
		if r.RequestID == out.RequestID {
			found = true
			assert.Equal(t, 2, r.Degree)
		}
	}
	assert.True(t, found, "request %s missing from history", out.RequestID)
}

func skipIfNoPostgres(t *testing.T) *postgres.Client {
	t.Helper()
	cfg := config.PostgresConfig{
		Host:            envOrDefault("TEST_POSTGRES_HOST", "localhost"),
		Port:            envOrDefaultInt("TEST_POSTGRES_PORT", 5432),
		Database:        envOrDefault("TEST_POSTGRES_DB", "polyroots_test"),
		User:            envOrDefault("TEST_POSTGRES_USER", "polyroots"),
		Password:        envOrDefault("TEST_POSTGRES_PASSWORD", "localdev"),
		SSLMode:         "disable",
		MaxOpenConns:    5,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
	db, err := postgres.New(cfg)
	if err != nil {
		t.Skipf("skipping integration test: postgres unavailable: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
