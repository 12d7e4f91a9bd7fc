package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/kafka"
)

// maxLatencySamples bounds the window used for latency percentiles.
const maxLatencySamples = 10000

type AggregatedStats struct {
	TotalSolves   int64            `json:"total_solves"`
	Outcomes      map[string]int64 `json:"outcomes"`
	CacheHits     int64            `json:"cache_hits"`
	CacheMisses   int64            `json:"cache_misses"`
	TotalRestarts int64            `json:"total_restarts"`
	AvgIterations float64          `json:"avg_iterations"`
	AvgLatencyUs  float64          `json:"avg_latency_us"`
	P50LatencyUs  int64            `json:"p50_latency_us"`
	P95LatencyUs  int64            `json:"p95_latency_us"`
	P99LatencyUs  int64            `json:"p99_latency_us"`
	TopDegrees    []DegreeCount    `json:"top_degrees"`
	JobsProcessed int64            `json:"jobs_processed"`
	JobsFailed    int64            `json:"jobs_failed"`
	// SolvesPerMinute covers solves recorded by this process since it
	// started; restored totals are excluded.
	SolvesPerMinute float64 `json:"solves_per_minute"`
	Restored        bool    `json:"restored,omitempty"`
	// DegreeCounts is the full degree histogram. Only snapshots carry it.
	DegreeCounts map[int]int64 `json:"degree_counts,omitempty"`
}

type DegreeCount struct {
	Degree int   `json:"degree"`
	Count  int64 `json:"count"`
}

// Consumer is satisfied by *kafka.Consumer.
type Consumer interface {
	Start(ctx context.Context) error
}

type Aggregator struct {
	mu              sync.RWMutex
	totalSolves     int64
	outcomes        map[string]int64
	cacheHits       int64
	cacheMisses     int64
	totalRestarts   int64
	iterationSum    int64
	convergedSolves int64
	jobsProcessed   int64
	jobsFailed      int64
	latencies       []int64
	degreeCounts    map[int]int64
	restored        bool
	sessionSolves   int64
	startTime       time.Time
	now             func() time.Time

	consumer Consumer
	logger   *slog.Logger
}

func NewAggregator(consumer Consumer) *Aggregator {
	return &Aggregator{
		outcomes:     make(map[string]int64),
		latencies:    make([]int64, 0, 1024),
		degreeCounts: make(map[int]int64),
		startTime:    time.Now(),
		now:          time.Now,
		consumer:     consumer,
		logger:       slog.Default().With("component", "analytics-aggregator"),
	}
}

// SetConsumer attaches the consumer feeding this aggregator. The consumer's
// handler usually closes over the aggregator, so it is built afterwards.
func (a *Aggregator) SetConsumer(consumer Consumer) {
	a.consumer = consumer
}

func (a *Aggregator) Start(ctx context.Context) error {
	if a.consumer == nil {
		return fmt.Errorf("analytics aggregator has no consumer")
	}
	a.logger.Info("analytics aggregator starting")
	return a.consumer.Start(ctx)
}

// HandleEvent decodes analytics messages by their type field. Malformed
// messages are logged and skipped so they do not block the partition.
func HandleEvent(agg *Aggregator) kafka.MessageHandler {
	return func(ctx context.Context, key []byte, value []byte) error {
		var env envelope
		if err := json.Unmarshal(value, &env); err != nil {
			agg.logger.Error("failed to decode analytics event", "error", err)
			return nil
		}
		switch env.Type {
		case EventSolve:
			event, err := kafka.DecodeJSON[SolveEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode solve event", "error", err)
				return nil
			}
			agg.RecordSolve(event)
		case EventJob:
			event, err := kafka.DecodeJSON[JobEvent](value)
			if err != nil {
				agg.logger.Error("failed to decode job event", "error", err)
				return nil
			}
			agg.RecordJob(event)
		default:
			agg.logger.Warn("unknown analytics event type", "type", env.Type)
		}
		return nil
	}
}

func (a *Aggregator) RecordSolve(event SolveEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalSolves++
	a.sessionSolves++
	a.outcomes[event.Outcome]++
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
		a.totalRestarts += int64(event.Restarts)
	}
	if event.Outcome == "converged" {
		a.convergedSolves++
		a.iterationSum += int64(event.Iterations)
	}
	a.degreeCounts[event.Degree]++

	if len(a.latencies) == maxLatencySamples {
		copy(a.latencies, a.latencies[1:])
		a.latencies = a.latencies[:maxLatencySamples-1]
	}
	a.latencies = append(a.latencies, event.LatencyUs)
}

func (a *Aggregator) RecordJob(event JobEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobsProcessed++
	if event.Status != "ok" {
		a.jobsFailed++
	}
}

// Restore seeds the counters from a persisted snapshot. Latency samples are
// not part of a snapshot and start empty. Snapshots without a full degree
// histogram restore only their top degrees.
func (a *Aggregator) Restore(stats AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.totalSolves = stats.TotalSolves
	a.outcomes = make(map[string]int64, len(stats.Outcomes))
	for k, v := range stats.Outcomes {
		a.outcomes[k] = v
	}
	a.cacheHits = stats.CacheHits
	a.cacheMisses = stats.CacheMisses
	a.totalRestarts = stats.TotalRestarts
	a.convergedSolves = a.outcomes["converged"]
	a.iterationSum = int64(stats.AvgIterations * float64(a.convergedSolves))
	a.jobsProcessed = stats.JobsProcessed
	a.jobsFailed = stats.JobsFailed
	a.degreeCounts = make(map[int]int64, max(len(stats.DegreeCounts), len(stats.TopDegrees)))
	if len(stats.DegreeCounts) > 0 {
		for degree, count := range stats.DegreeCounts {
			a.degreeCounts[degree] = count
		}
	} else {
		for _, dc := range stats.TopDegrees {
			a.degreeCounts[dc.Degree] = dc.Count
		}
	}
	a.restored = true
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return a.statsLocked()
}

// Snapshot is Stats plus the full degree histogram, for persistence.
func (a *Aggregator) Snapshot() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := a.statsLocked()
	stats.DegreeCounts = make(map[int]int64, len(a.degreeCounts))
	for degree, count := range a.degreeCounts {
		stats.DegreeCounts[degree] = count
	}
	return stats
}

func (a *Aggregator) statsLocked() AggregatedStats {
	stats := AggregatedStats{
		TotalSolves:   a.totalSolves,
		Outcomes:      make(map[string]int64, len(a.outcomes)),
		CacheHits:     a.cacheHits,
		CacheMisses:   a.cacheMisses,
		TotalRestarts: a.totalRestarts,
		JobsProcessed: a.jobsProcessed,
		JobsFailed:    a.jobsFailed,
		Restored:      a.restored,
	}
	for k, v := range a.outcomes {
		stats.Outcomes[k] = v
	}
	if a.convergedSolves > 0 {
		stats.AvgIterations = float64(a.iterationSum) / float64(a.convergedSolves)
	}
	if len(a.latencies) > 0 {
		sorted := make([]int64, len(a.latencies))
		copy(sorted, a.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyUs = float64(sum) / float64(len(sorted))
		stats.P50LatencyUs = percentile(sorted, 50)
		stats.P95LatencyUs = percentile(sorted, 95)
		stats.P99LatencyUs = percentile(sorted, 99)
	}
	stats.TopDegrees = topDegrees(a.degreeCounts, 10)
	if elapsed := a.now().Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.SolvesPerMinute = float64(a.sessionSolves) / elapsed
	}
	return stats
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topDegrees orders by count, then by degree for equal counts.
func topDegrees(counts map[int]int64, n int) []DegreeCount {
	result := make([]DegreeCount, 0, len(counts))
	for degree, count := range counts {
		result = append(result, DegreeCount{Degree: degree, Count: count})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Degree < result[j].Degree
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
