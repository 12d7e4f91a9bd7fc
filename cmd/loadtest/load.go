package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder"
)

// Config describes one load run against POST /api/v1/roots.
type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Workload    []rootfinder.SolveRequest
}

// Workload builds n random polynomials with degrees in [minDegree, maxDegree].
// Coefficients are complex with parts drawn uniformly from [-1, 1). Cycling a
// small workload exercises the result cache.
func Workload(n, minDegree, maxDegree int, seed uint64) []rootfinder.SolveRequest {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]rootfinder.SolveRequest, n)
	for i := range out {
		degree := minDegree
		if maxDegree > minDegree {
			degree += rng.IntN(maxDegree - minDegree + 1)
		}
		coeffs := make([]rootfinder.Complex, degree+1)
		for j := range coeffs {
			coeffs[j] = rootfinder.Complex(complex(2*rng.Float64()-1, 2*rng.Float64()-1))
		}
		if coeffs[degree] == 0 {
			coeffs[degree] = 1
		}
		out[i] = rootfinder.SolveRequest{Coefficients: coeffs}
	}
	return out
}

// Stats accumulates results across workers.
type Stats struct {
	totalRequests atomic.Int64
	successCount  atomic.Int64
	errorCount    atomic.Int64
	cacheHits     atomic.Int64

	mu          sync.Mutex
	latencies   []time.Duration
	statusCodes map[int]int64
	outcomes    map[rootfinder.Outcome]int64
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]int64),
		outcomes:    make(map[rootfinder.Outcome]int64),
	}
}

// RecordRequest counts one request. resp may be nil when the body could not
// be decoded.
func (s *Stats) RecordRequest(duration time.Duration, statusCode int, resp *rootfinder.SolveResponse, err error) {
	s.totalRequests.Add(1)
	if err != nil {
		s.errorCount.Add(1)
		return
	}
	if statusCode >= 200 && statusCode < 300 {
		s.successCount.Add(1)
	} else {
		s.errorCount.Add(1)
	}
	if resp != nil && resp.CacheHit {
		s.cacheHits.Add(1)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, duration)
	s.statusCodes[statusCode]++
	if resp != nil && resp.Outcome != "" {
		s.outcomes[resp.Outcome]++
	}
}

// Run drives cfg.Concurrency workers until cfg.Duration elapses or ctx ends.
func Run(ctx context.Context, cfg Config, client *http.Client) (*Stats, error) {
	if len(cfg.Workload) == 0 {
		return nil, fmt.Errorf("empty workload")
	}
	bodies := make([][]byte, len(cfg.Workload))
	for i, req := range cfg.Workload {
		b, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("encoding request %d: %w", i, err)
		}
		bodies[i] = b
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	stats := NewStats()
	target := cfg.BaseURL + "/api/v1/roots"

	var wg sync.WaitGroup
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for ctx.Err() == nil {
				body := bodies[idx%len(bodies)]
				idx++

				start := time.Now()
				status, resp, err := post(ctx, client, target, body)
				if ctx.Err() != nil {
					return
				}
				stats.RecordRequest(time.Since(start), status, resp, err)
			}
		}(w)
	}
	wg.Wait()
	return stats, nil
}

func post(ctx context.Context, client *http.Client, url string, body []byte) (int, *rootfinder.SolveResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	httpResp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer httpResp.Body.Close()

	var resp rootfinder.SolveResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		io.Copy(io.Discard, httpResp.Body)
		return httpResp.StatusCode, nil, nil
	}
	return httpResp.StatusCode, &resp, nil
}

// Report summarises a finished run.
type Report struct {
	Total, Success, Errors, CacheHits int64
	RequestsPerSec                    float64
	Min, Avg, P50, P90, P99, Max      time.Duration
	StatusCodes                       map[int]int64
	Outcomes                          map[rootfinder.Outcome]int64
}

func (s *Stats) Report(elapsed time.Duration) Report {
	r := Report{
		Total:     s.totalRequests.Load(),
		Success:   s.successCount.Load(),
		Errors:    s.errorCount.Load(),
		CacheHits: s.cacheHits.Load(),
	}
	if elapsed > 0 {
		r.RequestsPerSec = float64(r.Total) / elapsed.Seconds()
	}

	s.mu.Lock()
	latencies := append([]time.Duration(nil), s.latencies...)
	r.StatusCodes = make(map[int]int64, len(s.statusCodes))
	for k, v := range s.statusCodes {
		r.StatusCodes[k] = v
	}
	r.Outcomes = make(map[rootfinder.Outcome]int64, len(s.outcomes))
	for k, v := range s.outcomes {
		r.Outcomes[k] = v
	}
	s.mu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		r.Min = latencies[0]
		r.Max = latencies[len(latencies)-1]
		r.Avg = sum / time.Duration(len(latencies))
		r.P50 = percentile(latencies, 50)
		r.P90 = percentile(latencies, 90)
		r.P99 = percentile(latencies, 99)
	}
	return r
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
