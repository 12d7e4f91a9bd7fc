// Package health runs dependency checks for the liveness and readiness
// probes. Checks run in parallel, each under its own deadline, and the
// overall status is the worst component status.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Status represents the health state of a component or the service.
type Status string

const (
	StatusUp       Status = "up"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

func (s Status) severity() int {
	switch s {
	case StatusUp:
		return 0
	case StatusDegraded:
		return 1
	default:
		return 2
	}
}

// Check probes a single dependency.
type Check func(ctx context.Context) ComponentHealth

// PingCheck adapts a ping function. Failures of a required dependency mark
// the service down; optional ones (cache, history) only degrade it.
func PingCheck(ping func(ctx context.Context) error, required bool) Check {
	return func(ctx context.Context) ComponentHealth {
		if ping == nil {
			return ComponentHealth{Status: StatusDegraded, Message: "not configured"}
		}
		if err := ping(ctx); err != nil {
			if required {
				return ComponentHealth{Status: StatusDown, Message: err.Error()}
			}
			return ComponentHealth{Status: StatusDegraded, Message: err.Error()}
		}
		return ComponentHealth{Status: StatusUp}
	}
}

// ComponentHealth holds the result of a single component check.
type ComponentHealth struct {
	Status    Status `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMs int64  `json:"latency_ms"`
}

// Report is the aggregated result of all component checks.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Uptime     string                     `json:"uptime"`
	Timestamp  time.Time                  `json:"timestamp"`
}

type namedCheck struct {
	name  string
	check Check
}

// Checker holds registered checks.
type Checker struct {
	mu      sync.RWMutex
	checks  []namedCheck
	timeout time.Duration
	started time.Time
	logger  *slog.Logger

	lastMu sync.Mutex
	last   Status
}

// NewChecker returns a Checker whose checks each get two seconds.
func NewChecker() *Checker {
	return &Checker{
		timeout: 2 * time.Second,
		started: time.Now(),
		logger:  slog.Default().With("component", "health"),
		last:    StatusUp,
	}
}

// Register adds a named check, replacing any earlier check with that name.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.checks {
		if c.checks[i].name == name {
			c.checks[i].check = check
			return
		}
	}
	c.checks = append(c.checks, namedCheck{name: name, check: check})
}

// Run executes every check concurrently. A check that panics or outlives
// its deadline reports down.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := append([]namedCheck(nil), c.checks...)
	c.mu.RUnlock()

	results := make([]ComponentHealth, len(checks))
	var wg sync.WaitGroup
	for i, nc := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.runOne(ctx, nc.check)
		}()
	}
	wg.Wait()

	report := Report{
		Status:     StatusUp,
		Components: make(map[string]ComponentHealth, len(checks)),
		Uptime:     time.Since(c.started).Round(time.Second).String(),
		Timestamp:  time.Now().UTC(),
	}
	for i, nc := range checks {
		report.Components[nc.name] = results[i]
		if results[i].Status.severity() > report.Status.severity() {
			report.Status = results[i].Status
		}
	}
	c.noteStatus(report)
	return report
}

func (c *Checker) runOne(ctx context.Context, check Check) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan ComponentHealth, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- ComponentHealth{Status: StatusDown, Message: fmt.Sprintf("check panicked: %v", r)}
			}
		}()
		done <- check(ctx)
	}()

	var result ComponentHealth
	select {
	case result = <-done:
	case <-ctx.Done():
		result = ComponentHealth{Status: StatusDown, Message: "check timed out"}
	}
	result.LatencyMs = time.Since(start).Milliseconds()
	return result
}

// noteStatus logs changes of the overall status.
func (c *Checker) noteStatus(report Report) {
	c.lastMu.Lock()
	prev := c.last
	c.last = report.Status
	c.lastMu.Unlock()
	if prev == report.Status {
		return
	}
	attrs := []any{"from", prev, "to", report.Status}
	for name, comp := range report.Components {
		if comp.Status != StatusUp {
			attrs = append(attrs, name, comp.Message)
		}
	}
	if report.Status == StatusUp {
		c.logger.Info("health recovered", attrs...)
	} else {
		c.logger.Warn("health changed", attrs...)
	}
}

// LiveHandler answers liveness probes; it never runs checks.
func (c *Checker) LiveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status": "alive",
			"uptime": time.Since(c.started).Round(time.Second).String(),
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// ReadyHandler answers readiness probes. A degraded report is still ready;
// only a down component fails the probe.
func (c *Checker) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report := c.Run(r.Context())
		status := http.StatusOK
		if report.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, report)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
