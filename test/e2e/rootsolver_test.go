// Package e2e contains end-to-end tests against running services: the root
// solver HTTP API, the solve worker over Kafka, and the analytics service,
// backed by real Kafka, PostgreSQL and Redis. Tests skip when a service is
// unreachable.
//
// Run with:
//
//	go test -v -timeout=120s ./test/e2e/...
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/cmplx"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder"
)

type e2eConfig struct {
	SolverURL    string
	AnalyticsURL string
	Brokers      []string
	JobsTopic    string
	ResultsTopic string
}

func loadE2EConfig() e2eConfig {
	return e2eConfig{
		SolverURL:    envOrDefault("E2E_SOLVER_URL", "http://localhost:8080"),
		AnalyticsURL: envOrDefault("E2E_ANALYTICS_URL", "http://localhost:8082"),
		Brokers:      strings.Split(envOrDefault("E2E_KAFKA_BROKERS", "localhost:9092"), ","),
		JobsTopic:    envOrDefault("E2E_JOBS_TOPIC", "solve-requests"),
		ResultsTopic: envOrDefault("E2E_RESULTS_TOPIC", "solve-results"),
	}
}

func TestServiceHealth(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}

	for _, url := range []string{
		cfg.SolverURL + "/health/live",
		cfg.SolverURL + "/health/ready",
		cfg.AnalyticsURL + "/health/ready",
	} {
		t.Run(url, func(t *testing.T) {
			resp, err := client.Get(url)
			if err != nil {
				t.Skipf("service unavailable: %v", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("expected 200, got %d: %s", resp.StatusCode, body)
			}
		})
	}
}

// TestSolveThenCacheHit solves (x-1)(x-2)(x-3) twice. The first call
// computes and the second is served from the cache when Redis is up.
func TestSolveThenCacheHit(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 10 * time.Second}
	if _, err := client.Get(cfg.SolverURL + "/health/live"); err != nil {
		t.Skipf("root solver unavailable: %v", err)
	}

	// A per-run tolerance keeps the cache key unique across runs.
	tol := 1e-9 + float64(time.Now().UnixNano()%1000)*1e-15
	req := rootfinder.SolveRequest{
		Coefficients: []rootfinder.Complex{-6, 11, -6, 1},
		Tolerance:    tol,
	}

	first := solve(t, client, cfg.SolverURL, req, http.StatusOK)
	assert.Equal(t, rootfinder.OutcomeConverged, first.Outcome)
	assert.Equal(t, 3, first.Degree)
	assert.False(t, first.CacheHit)
	assertRootsNear(t, []complex128{1, 2, 3}, first.Roots)

	second := solve(t, client, cfg.SolverURL, req, http.StatusOK)
	assert.Equal(t, first.Roots, second.Roots)
	t.Logf("second solve cache_hit=%v duration_us=%d", second.CacheHit, second.DurationUs)
}

func TestSolveRejectsInvalid(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}
	if _, err := client.Get(cfg.SolverURL + "/health/live"); err != nil {
		t.Skipf("root solver unavailable: %v", err)
	}

	resp, err := client.Post(cfg.SolverURL+"/api/v1/roots", "application/json",
		strings.NewReader(`{"coefficients":[],"tolerance":-1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHistoryListsSolves(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(cfg.SolverURL + "/api/v1/roots/history?limit=5")
	if err != nil {
		t.Skipf("root solver unavailable: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusServiceUnavailable {
		t.Skip("solve history disabled")
	}
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Count   int              `json:"count"`
		Records []map[string]any `json:"records"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.LessOrEqual(t, body.Count, 5)
	assert.Len(t, body.Records, body.Count)
}

// TestWorkerSolvesQueuedJob publishes a job and waits for its result event.
func TestWorkerSolvesQueuedJob(t *testing.T) {
	cfg := loadE2EConfig()
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers[0])
	if err != nil {
		t.Skipf("kafka unavailable: %v", err)
	}
	conn.Close()

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.ResultsTopic,
		GroupID:     "e2e-" + uuid.NewString(),
		StartOffset: kafka.LastOffset,
		MaxWait:     500 * time.Millisecond,
	})
	defer reader.Close()

	job := rootfinder.SolveJob{
		ID:          uuid.NewString(),
		Request:     rootfinder.SolveRequest{Coefficients: []rootfinder.Complex{1, 0, 1}},
		SubmittedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(job)
	require.NoError(t, err)

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.JobsTopic,
		AllowAutoTopicCreation: true,
	}
	defer writer.Close()
	require.NoError(t, writer.WriteMessages(ctx, kafka.Message{Key: []byte(job.ID), Value: payload}))

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			t.Skipf("no result for job %s (is the solve worker running?): %v", job.ID, err)
		}
		var event rootfinder.SolveResultEvent
		if json.Unmarshal(msg.Value, &event) != nil || event.JobID != job.ID {
			continue
		}
		require.Equal(t, "ok", event.Status, event.Error)
		require.NotNil(t, event.Response)
		assertRootsNear(t, []complex128{1i, -1i}, event.Response.Roots)
		return
	}
}

func TestAnalyticsReportsSolves(t *testing.T) {
	cfg := loadE2EConfig()
	client := &http.Client{Timeout: 5 * time.Second}
	if _, err := client.Get(cfg.AnalyticsURL + "/health/live"); err != nil {
		t.Skipf("analytics service unavailable: %v", err)
	}
	if _, err := client.Get(cfg.SolverURL + "/health/live"); err != nil {
		t.Skipf("root solver unavailable: %v", err)
	}

	solve(t, client, cfg.SolverURL, rootfinder.SolveRequest{Coefficients: []rootfinder.Complex{-2, 0, 1}}, http.StatusOK)

	var stats struct {
		TotalSolves int64            `json:"total_solves"`
		Outcomes    map[string]int64 `json:"outcomes"`
	}
	for attempt := 0; attempt < 10; attempt++ {
		time.Sleep(time.Second)
		resp, err := client.Get(cfg.AnalyticsURL + "/api/v1/analytics")
		require.NoError(t, err)
		err = json.NewDecoder(resp.Body).Decode(&stats)
		resp.Body.Close()
		require.NoError(t, err)
		if stats.TotalSolves > 0 {
			break
		}
	}
	if stats.TotalSolves == 0 {
		t.Log("no solves aggregated after 10s; the analytics pipeline may not be connected")
		return
	}
	assert.Positive(t, stats.Outcomes[string(rootfinder.OutcomeConverged)])
}

func solve(t *testing.T, client *http.Client, baseURL string, req rootfinder.SolveRequest, wantStatus int) rootfinder.SolveResponse {
	t.Helper()
	body, err := json.Marshal(req)
	require.NoError(t, err)

	resp, err := client.Post(baseURL+"/api/v1/roots", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, wantStatus, resp.StatusCode, string(raw))

	var out rootfinder.SolveResponse
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func assertRootsNear(t *testing.T, want []complex128, got []rootfinder.Complex) {
	t.Helper()
	require.Len(t, got, len(want))
	for _, w := range want {
		found := false
		for _, g := range got {
			if cmplx.Abs(complex128(g)-w) < 1e-6 {
				found = true
				break
			}
		}
		assert.True(t, found, fmt.Sprintf("root %v not found in %v", w, got))
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
