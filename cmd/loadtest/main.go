// Command loadtest drives concurrent random solve requests against a running
// root solver and prints latency, status code and outcome breakdowns.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -concurrency 16 -duration 30s
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"time"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the root solver")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	distinct := flag.Int("distinct", 50, "number of distinct polynomials to cycle through")
	minDegree := flag.Int("min-degree", 2, "smallest polynomial degree")
	maxDegree := flag.Int("max-degree", 64, "largest polynomial degree")
	seed := flag.Uint64("seed", 1, "workload seed")
	flag.Parse()

	if *minDegree < 1 || *maxDegree < *minDegree || *distinct < 1 {
		fmt.Fprintln(os.Stderr, "need 1 <= min-degree <= max-degree and distinct >= 1")
		os.Exit(2)
	}

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Workload:    Workload(*distinct, *minDegree, *maxDegree, *seed),
	}

	fmt.Println("=== Root Solver Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Workload:    %d polynomials, degree %d-%d\n", len(cfg.Workload), *minDegree, *maxDegree)
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	start := time.Now()
	stats, err := Run(ctx, cfg, client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}
	report := stats.Report(time.Since(start))
	printReport(report)
	if report.Total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the service running?")
		os.Exit(1)
	}
}

func printReport(r Report) {
	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", r.Total)
	fmt.Printf("Successful:      %d\n", r.Success)
	fmt.Printf("Errors:          %d\n", r.Errors)
	fmt.Printf("Cache Hits:      %d\n", r.CacheHits)
	if r.Total > 0 {
		fmt.Printf("Error Rate:      %.2f%%\n", float64(r.Errors)/float64(r.Total)*100)
		fmt.Printf("Requests/sec:    %.2f\n", r.RequestsPerSec)
	}

	fmt.Println()
	fmt.Println("=== Latency ===")
	fmt.Printf("Min:    %s\n", r.Min)
	fmt.Printf("Avg:    %s\n", r.Avg)
	fmt.Printf("P50:    %s\n", r.P50)
	fmt.Printf("P90:    %s\n", r.P90)
	fmt.Printf("P99:    %s\n", r.P99)
	fmt.Printf("Max:    %s\n", r.Max)

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	codes := make([]int, 0, len(r.StatusCodes))
	for code := range r.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, r.StatusCodes[code])
	}

	fmt.Println()
	fmt.Println("=== Outcomes ===")
	outcomes := make([]string, 0, len(r.Outcomes))
	for o := range r.Outcomes {
		outcomes = append(outcomes, string(o))
	}
	sort.Strings(outcomes)
	for _, o := range outcomes {
		fmt.Printf("  %s: %d\n", o, r.Outcomes[rootfinder.Outcome(o)])
	}
}
