package tracing

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/polyroots/pkg/logger"
)

func TestTracer_ChildSpansShareTraceID(t *testing.T) {
	var buf bytes.Buffer
	tr := New(true, slog.New(slog.NewTextHandler(&buf, nil)))

	ctx := logger.WithRequestID(context.Background(), "req-42")
	ctx, root := tr.Start(ctx, "solve")
	_, child := tr.Start(ctx, "iterate")
	child.SetAttr("iterations", 7)
	tr.Finish(child)

	assert.Empty(t, buf.String(), "child spans are logged with their root")

	tr.Finish(root)
	require.Len(t, root.Children, 1)
	assert.Equal(t, "req-42", root.TraceID)
	assert.Equal(t, "req-42", child.TraceID)

	out := buf.String()
	assert.Equal(t, 2, strings.Count(out, "msg=span"))
	assert.Contains(t, out, "iterations=7")
}

func TestTracer_GeneratesTraceIDWithoutRequest(t *testing.T) {
	_, span := New(false, nil).Start(context.Background(), "solve")
	assert.NotEmpty(t, span.TraceID)
}

func TestTracer_DisabledAndNilDoNotLog(t *testing.T) {
	var buf bytes.Buffer
	tr := New(false, slog.New(slog.NewTextHandler(&buf, nil)))
	_, span := tr.Start(context.Background(), "solve")
	tr.Finish(span)
	assert.Empty(t, buf.String())

	var nilTracer *Tracer
	nilTracer.Finish(span)
}
