// Package tracing bridges workflow execution into OpenTelemetry. The
// Listener opens one span per run and annotates it with step, retry,
// and interrupt events, so a run's full trajectory shows up as a
// single trace in whatever backend the application exports to.
package tracing

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowgraph-go/flowgraph/graph"
)

const tracerName = "github.com/flowgraph-go/flowgraph"

// Listener emits one span per run. Attach it through Config.Listeners.
type Listener struct {
	graph.BaseListener

	tracer trace.Tracer

	mu    sync.Mutex
	spans map[string]trace.Span // runID -> open span
}

var _ graph.RunListener = (*Listener)(nil)

// New creates a listener over the given tracer. A nil tracer falls
// back to the globally registered provider.
func New(tracer trace.Tracer) *Listener {
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Listener{
		tracer: tracer,
		spans:  make(map[string]trace.Span),
	}
}

func (l *Listener) OnRunStart(runID string, state graph.State) {
	_, span := l.tracer.Start(context.Background(), "workflow.run",
		trace.WithAttributes(attribute.String("run.id", runID)))

	l.mu.Lock()
	defer l.mu.Unlock()
	// A resumed run reuses its id; close any span left from the
	// interrupted segment before opening the next one.
	if prev, ok := l.spans[runID]; ok {
		prev.End()
	}
	l.spans[runID] = span
}

func (l *Listener) OnStep(runID string, seq int, nodes []string, state graph.State, elapsed time.Duration) {
	span, ok := l.span(runID)
	if !ok {
		return
	}
	span.AddEvent("step", trace.WithAttributes(
		attribute.Int("step.seq", seq),
		attribute.String("step.nodes", strings.Join(nodes, ",")),
		attribute.Int64("step.elapsed_ms", elapsed.Milliseconds()),
	))
}

func (l *Listener) OnRetry(runID, node string, attempt int, err error) {
	span, ok := l.span(runID)
	if !ok {
		return
	}
	span.AddEvent("retry", trace.WithAttributes(
		attribute.String("node", node),
		attribute.Int("attempt", attempt),
		attribute.String("error", err.Error()),
	))
}

func (l *Listener) OnInterrupt(runID, node string, state graph.State) {
	l.mu.Lock()
	span, ok := l.spans[runID]
	delete(l.spans, runID)
	l.mu.Unlock()
	if !ok {
		return
	}
	span.AddEvent("interrupt", trace.WithAttributes(attribute.String("pending.node", node)))
	span.SetAttributes(attribute.String("run.status", string(graph.StatusInterrupted)))
	span.End()
}

func (l *Listener) OnRunEnd(runID string, status graph.RunStatus, err error) {
	l.mu.Lock()
	span, ok := l.spans[runID]
	delete(l.spans, runID)
	l.mu.Unlock()
	if !ok {
		return
	}
	span.SetAttributes(attribute.String("run.status", string(status)))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (l *Listener) span(runID string) (trace.Span, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	span, ok := l.spans[runID]
	return span, ok
}
