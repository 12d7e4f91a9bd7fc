// Package tracing records timed spans for the phases of a solve request
// (validation, cache lookup, iteration, persistence) and logs each finished
// trace as a tree of slog records keyed by the request ID.
package tracing

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/logger"
)

type contextKey struct{}

// Span represents a timed operation within a trace.
type Span struct {
	Name      string
	TraceID   string
	StartTime time.Time
	Duration  time.Duration
	Children  []*Span
	Attrs     map[string]any

	root bool
	mu   sync.Mutex
}

// Tracer starts spans. A nil or disabled Tracer still returns usable spans
// but never logs them.
type Tracer struct {
	enabled bool
	logger  *slog.Logger
}

// New returns a Tracer that logs finished root spans to log when enabled.
func New(enabled bool, log *slog.Logger) *Tracer {
	if log == nil {
		log = slog.Default()
	}
	return &Tracer{enabled: enabled, logger: log.With("component", "tracing")}
}

// Start opens a span under the span stored in ctx, or a new root span whose
// trace ID is the request ID (or a fresh UUID when there is none).
func (t *Tracer) Start(ctx context.Context, name string) (context.Context, *Span) {
	span := &Span{
		Name:      name,
		StartTime: time.Now(),
		Attrs:     make(map[string]any),
	}
	if parent := SpanFromContext(ctx); parent != nil {
		span.TraceID = parent.TraceID
		parent.mu.Lock()
		parent.Children = append(parent.Children, span)
		parent.mu.Unlock()
	} else {
		span.root = true
		span.TraceID = logger.RequestID(ctx)
		if span.TraceID == "" {
			span.TraceID = uuid.NewString()
		}
	}
	return context.WithValue(ctx, contextKey{}, span), span
}

// Finish ends span and, for a root span on an enabled tracer, logs the tree.
func (t *Tracer) Finish(span *Span) {
	span.End()
	if t == nil || !t.enabled || !span.root {
		return
	}
	span.log(t.logger, 0)
}

// End records the span duration.
func (s *Span) End() {
	s.mu.Lock()
	s.Duration = time.Since(s.StartTime)
	s.mu.Unlock()
}

// SetAttr attaches a key-value attribute to the span.
func (s *Span) SetAttr(key string, value any) {
	s.mu.Lock()
	s.Attrs[key] = value
	s.mu.Unlock()
}

// SpanFromContext extracts the current Span from ctx, or nil if none.
func SpanFromContext(ctx context.Context) *Span {
	if span, ok := ctx.Value(contextKey{}).(*Span); ok {
		return span
	}
	return nil
}

func (s *Span) log(log *slog.Logger, depth int) {
	s.mu.Lock()
	attrs := []any{
		"trace_id", s.TraceID,
		"span", s.Name,
		"duration_us", s.Duration.Microseconds(),
		"depth", depth,
	}
	for k, v := range s.Attrs {
		attrs = append(attrs, k, v)
	}
	children := append([]*Span(nil), s.Children...)
	s.mu.Unlock()

	log.Info("span", attrs...)
	for _, child := range children {
		child.log(log, depth+1)
	}
}
