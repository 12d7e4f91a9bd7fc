package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"
)

// RetryConfig controls Retry. Zero fields take the defaults noted.
type RetryConfig struct {
	MaxAttempts    int           // 3
	InitialDelay   time.Duration // 100ms
	MaxDelay       time.Duration // 10s
	Multiplier     float64       // 2
	JitterFraction float64       // 0.1; each delay varies by up to ± this share
	// Retryable reports whether err is worth another attempt. Nil retries
	// every error.
	Retryable func(error) bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2
	}
	if c.JitterFraction <= 0 {
		c.JitterFraction = 0.1
	}
	return c
}

// RetryError reports how many attempts ran before Retry gave up.
type RetryError struct {
	Operation string
	Attempts  int
	Permanent bool
	Err       error
}

func (e *RetryError) Error() string {
	if e.Permanent {
		return fmt.Sprintf("%s: permanent failure after %d attempt(s): %v", e.Operation, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s: all %d attempts failed: %v", e.Operation, e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error { return e.Err }

// Retry calls fn until it succeeds, attempts run out, the error is not
// retryable, or ctx ends. Delays grow geometrically with jitter.
func Retry(ctx context.Context, name string, cfg RetryConfig, fn func() error) error {
	cfg = cfg.withDefaults()
	logger := slog.Default().With("component", "retry", "operation", name)

	delay := cfg.InitialDelay
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			if attempt > 1 {
				logger.Info("succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return &RetryError{Operation: name, Attempts: attempt, Permanent: true, Err: err}
		}
		if attempt >= cfg.MaxAttempts {
			return &RetryError{Operation: name, Attempts: attempt, Err: err}
		}

		wait := jitter(delay, cfg.JitterFraction)
		logger.Warn("operation failed, retrying",
			"attempt", attempt, "max_attempts", cfg.MaxAttempts, "error", err, "next_delay", wait)

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: retry aborted after %d attempt(s): %w", name, attempt, ctx.Err())
		}
		delay = min(time.Duration(float64(delay)*cfg.Multiplier), cfg.MaxDelay)
	}
}

func jitter(d time.Duration, fraction float64) time.Duration {
	j := time.Duration(float64(d) * fraction * (2*rand.Float64() - 1))
	if d+j <= 0 {
		return d
	}
	return d + j
}
