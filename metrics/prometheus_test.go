package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph-go/flowgraph/graph"
	"github.com/flowgraph-go/flowgraph/log"
)

func TestListener_CompletedRun(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := New(reg)

	g := graph.New()
	g.AddNode("work", "", func(ctx context.Context, s graph.State) (graph.State, error) {
		return graph.State{"done": true}, nil
	})
	g.SetEntryPoint("work")
	g.AddEdge("work", graph.End)
	cg, err := g.Compile()
	require.NoError(t, err)

	e := graph.NewEngine(cg, graph.Config{
		Logger:    log.NoOpLogger{},
		Listeners: []graph.RunListener{l},
	})
	res, err := e.Start(context.Background(), graph.State{})
	require.NoError(t, err)
	require.Equal(t, graph.StatusCompleted, res.Status)

	assert.Equal(t, float64(0), testutil.ToFloat64(l.runsActive))
	assert.Equal(t, float64(1), testutil.ToFloat64(l.runsTotal.WithLabelValues("completed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(l.stepsTotal))
}

func TestListener_InterruptAndResume(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := New(reg)

	g := graph.New()
	g.AddNode("draft", "", func(ctx context.Context, s graph.State) (graph.State, error) {
		return graph.State{"draft": "v1"}, nil
	})
	g.AddNode("approve", "", func(ctx context.Context, s graph.State) (graph.State, error) {
		return nil, nil
	})
	g.SetEntryPoint("draft")
	g.AddEdge("draft", "approve")
	g.AddEdge("approve", graph.End)
	g.MarkInterrupt("approve")
	cg, err := g.Compile()
	require.NoError(t, err)

	e := graph.NewEngine(cg, graph.Config{
		Logger:    log.NoOpLogger{},
		Listeners: []graph.RunListener{l},
	})
	res, err := e.Start(context.Background(), graph.State{})
	require.NoError(t, err)
	require.Equal(t, graph.StatusInterrupted, res.Status)

	assert.Equal(t, float64(1), testutil.ToFloat64(l.interrupts.WithLabelValues("approve")))
	assert.Equal(t, float64(0), testutil.ToFloat64(l.runsActive))

	_, err = e.Resume(context.Background(), res.RunID, graph.State{"approved": true})
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(l.runsTotal.WithLabelValues("completed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(l.runsActive))
}

func TestListener_RetriesCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	l := New(reg)

	calls := 0
	g := graph.New()
	g.AddNode("flaky", "", func(ctx context.Context, s graph.State) (graph.State, error) {
		calls++
		if calls < 3 {
			return nil, graph.Transient(assert.AnError)
		}
		return nil, nil
	})
	g.SetEntryPoint("flaky")
	g.AddEdge("flaky", graph.End)
	cg, err := g.Compile()
	require.NoError(t, err)

	e := graph.NewEngine(cg, graph.Config{
		Retry:     graph.RetryPolicy{MaxAttempts: 3},
		Logger:    log.NoOpLogger{},
		Listeners: []graph.RunListener{l},
	})
	res, err := e.Start(context.Background(), graph.State{})
	require.NoError(t, err)
	require.Equal(t, graph.StatusCompleted, res.Status)

	assert.Equal(t, float64(2), testutil.ToFloat64(l.retries.WithLabelValues("flaky")))
}
