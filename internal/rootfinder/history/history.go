// Package history records every solve in the solve_history table. Writes go
// through a circuit breaker and a short retry so a struggling database
// slows the service down as little as possible.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/polyroots/internal/rootfinder"
	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/resilience"
)

// Schema creates the history table.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS solve_history (
		id             BIGSERIAL PRIMARY KEY,
		request_id     TEXT NOT NULL,
		degree         INTEGER NOT NULL,
		outcome        TEXT NOT NULL,
		iterations     INTEGER NOT NULL,
		max_correction DOUBLE PRECISION NOT NULL,
		restarts       INTEGER NOT NULL,
		tolerance      DOUBLE PRECISION NOT NULL,
		coefficients   JSONB NOT NULL,
		roots          JSONB,
		duration_us    BIGINT NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS solve_history_created_at_idx
		ON solve_history (created_at DESC)`,
}

// Record is one row of solve_history.
type Record struct {
	ID            int64                `json:"id"`
	RequestID     string               `json:"request_id"`
	Degree        int                  `json:"degree"`
	Outcome       rootfinder.Outcome   `json:"outcome"`
	Iterations    int                  `json:"iterations"`
	MaxCorrection float64              `json:"max_correction"`
	Restarts      int                  `json:"restarts"`
	Tolerance     float64              `json:"tolerance"`
	Coefficients  []rootfinder.Complex `json:"coefficients"`
	Roots         []rootfinder.Complex `json:"roots,omitempty"`
	DurationUs    int64                `json:"duration_us"`
	CreatedAt     time.Time            `json:"created_at"`
}

// DB is satisfied by *sql.DB.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Store struct {
	db      DB
	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	logger  *slog.Logger
}

// NewStore wraps db with the given breaker. A nil breaker gets the default
// thresholds and counts only Transient errors.
func NewStore(db DB, breaker *resilience.CircuitBreaker) *Store {
	if breaker == nil {
		breaker = resilience.NewCircuitBreaker("solve-history", resilience.CircuitBreakerConfig{
			IsFailure: Transient,
		})
	}
	return &Store{
		db:      db,
		breaker: breaker,
		retry: resilience.RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
			Retryable:    Transient,
		},
		logger: slog.Default().With("component", "solve-history"),
	}
}

// Record inserts rec. It fails fast with resilience.ErrCircuitOpen while
// the breaker is open.
func (s *Store) Record(ctx context.Context, rec Record) error {
	coeffs, err := json.Marshal(rec.Coefficients)
	if err != nil {
		return fmt.Errorf("marshaling coefficients: %w", err)
	}
	var roots any
	if len(rec.Roots) > 0 {
		data, err := json.Marshal(rec.Roots)
		if err != nil {
			return fmt.Errorf("marshaling roots: %w", err)
		}
		roots = data
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	return s.breaker.Execute(func() error {
		return resilience.Retry(ctx, "solve-history-insert", s.retry, func() error {
			_, err := s.db.ExecContext(ctx,
				`INSERT INTO solve_history
					(request_id, degree, outcome, iterations, max_correction, restarts,
					 tolerance, coefficients, roots, duration_us, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
				rec.RequestID, rec.Degree, string(rec.Outcome), rec.Iterations,
				rec.MaxCorrection, rec.Restarts, rec.Tolerance, coeffs, roots,
				rec.DurationUs, createdAt,
			)
			if err != nil {
				return fmt.Errorf("inserting solve history: %w", err)
			}
			return nil
		})
	})
}

// List returns the most recent records, newest first, optionally filtered
// by outcome.
func (s *Store) List(ctx context.Context, limit int, outcome rootfinder.Outcome) ([]Record, error) {
	var records []Record
	err := s.breaker.Execute(func() error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT id, request_id, degree, outcome, iterations, max_correction, restarts,
			        tolerance, coefficients, roots, duration_us, created_at
			   FROM solve_history
			  WHERE $2::text = '' OR outcome = $2::text
			  ORDER BY created_at DESC, id DESC
			  LIMIT $1`,
			limit, string(outcome),
		)
		if err != nil {
			return fmt.Errorf("querying solve history: %w", err)
		}
		defer rows.Close()

		records = records[:0]
		for rows.Next() {
			var (
				rec           Record
				out           string
				coeffs, roots []byte
			)
			if err := rows.Scan(&rec.ID, &rec.RequestID, &rec.Degree, &out, &rec.Iterations,
				&rec.MaxCorrection, &rec.Restarts, &rec.Tolerance, &coeffs, &roots,
				&rec.DurationUs, &rec.CreatedAt); err != nil {
				return fmt.Errorf("scanning solve history row: %w", err)
			}
			rec.Outcome = rootfinder.Outcome(out)
			if err := json.Unmarshal(coeffs, &rec.Coefficients); err != nil {
				s.logger.Warn("skipping corrupt history row", "id", rec.ID, "error", err)
				continue
			}
			if len(roots) > 0 {
				if err := json.Unmarshal(roots, &rec.Roots); err != nil {
					s.logger.Warn("dropping corrupt roots", "id", rec.ID, "error", err)
				}
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Transient reports whether err looks like a database availability problem
// worth retrying and counting against the circuit breaker. Data, constraint
// and syntax errors reported by Postgres, and caller cancellations, are not.
func Transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return false
		}
	}
	return true
}
