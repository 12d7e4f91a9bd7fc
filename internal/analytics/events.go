// Package analytics collects solve events, ships them through Kafka and
// aggregates them into the statistics served at /api/v1/analytics.
package analytics

import "time"

type EventType string

const (
	EventSolve EventType = "solve"
	EventJob   EventType = "job"
)

// SolveEvent is emitted once per Service.Solve call.
type SolveEvent struct {
	Type       EventType `json:"type"`
	RequestID  string    `json:"request_id"`
	Degree     int       `json:"degree"`
	Outcome    string    `json:"outcome"`
	Iterations int       `json:"iterations"`
	Restarts   int       `json:"restarts"`
	LatencyUs  int64     `json:"latency_us"`
	CacheHit   bool      `json:"cache_hit"`
	Timestamp  time.Time `json:"timestamp"`
}

// JobEvent is emitted by the solve worker for each queued job.
type JobEvent struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id"`
	Status    string    `json:"status"`
	LatencyUs int64     `json:"latency_us"`
	Timestamp time.Time `json:"timestamp"`
}

type envelope struct {
	Type EventType `json:"type"`
}
