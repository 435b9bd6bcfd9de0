package graph

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph-go/flowgraph/log"
	"github.com/flowgraph-go/flowgraph/store/memory"
)

// approvalGraph models a human-in-the-loop flow: draft produces
// content, approve waits for external input, publish runs after.
func approvalGraph(t *testing.T, approveCalls *atomic.Int32) *CompiledGraph {
	t.Helper()
	g := New()
	g.AddNode("draft", "", func(ctx context.Context, s State) (State, error) {
		return State{"draft": "v1"}, nil
	})
	g.AddNode("approve", "", func(ctx context.Context, s State) (State, error) {
		if approveCalls != nil {
			approveCalls.Add(1)
		}
		return nil, nil
	})
	g.AddNode("publish", "", func(ctx context.Context, s State) (State, error) {
		return State{"published": true}, nil
	})
	g.SetEntryPoint("draft")
	g.AddEdge("draft", "approve")
	g.AddEdge("approve", "publish")
	g.AddEdge("publish", End)
	g.MarkInterrupt("approve")

	cg, err := g.Compile()
	require.NoError(t, err)
	return cg
}

func TestEngine_InterruptSuspendsBeforeExecution(t *testing.T) {
	var approveCalls atomic.Int32
	cg := approvalGraph(t, &approveCalls)
	e := NewEngine(cg, Config{Logger: log.NoOpLogger{}})

	res, err := e.Start(context.Background(), State{})
	require.NoError(t, err)

	assert.Equal(t, StatusInterrupted, res.Status)
	assert.Equal(t, "approve", res.PendingNode)
	assert.Equal(t, "v1", res.State["draft"])
	// The interrupt node itself has not run.
	assert.Equal(t, int32(0), approveCalls.Load())
}

func TestEngine_ResumeMergesAmendmentsAndContinues(t *testing.T) {
	var approveCalls atomic.Int32
	cg := approvalGraph(t, &approveCalls)
	e := NewEngine(cg, Config{Logger: log.NoOpLogger{}})

	res, err := e.Start(context.Background(), State{})
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, res.Status)

	final, err := e.Resume(context.Background(), res.RunID, State{"approved": true})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "v1", final.State["draft"])
	assert.Equal(t, true, final.State["approved"])
	assert.Equal(t, true, final.State["published"])
	assert.Equal(t, int32(1), approveCalls.Load())
}

func TestEngine_ResumeOnCompletedRunRejected(t *testing.T) {
	cg := approvalGraph(t, nil)
	e := NewEngine(cg, Config{Logger: log.NoOpLogger{}})

	res, err := e.Start(context.Background(), State{})
	require.NoError(t, err)

	final, err := e.Resume(context.Background(), res.RunID, State{"approved": true})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, final.Status)

	// Resuming again must not re-execute the completed step.
	again, err := e.Resume(context.Background(), res.RunID, State{"approved": true})
	assert.Nil(t, again)
	assert.ErrorIs(t, err, ErrNotInterrupted)
}

func TestEngine_ResumeUnknownRun(t *testing.T) {
	cg := approvalGraph(t, nil)
	e := NewEngine(cg, Config{Logger: log.NoOpLogger{}})

	_, err := e.Resume(context.Background(), "run_missing", State{})
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestEngine_ResumeAfterRestartViaCheckpoint(t *testing.T) {
	st := memory.New()
	cg := approvalGraph(t, nil)

	e1 := NewEngine(cg, Config{Store: st, Logger: log.NoOpLogger{}})
	res, err := e1.Start(context.Background(), State{})
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, res.Status)

	// A fresh engine over the same store stands in for a restarted
	// process; the run is rebuilt from its latest checkpoint.
	e2 := NewEngine(cg, Config{Store: st, Logger: log.NoOpLogger{}})
	final, err := e2.Resume(context.Background(), res.RunID, State{"approved": true})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, "v1", final.State["draft"])
	assert.Equal(t, true, final.State["published"])
}

func TestEngine_RecoveryPreservesIterationCounters(t *testing.T) {
	st := memory.New()

	g := New()
	g.AddNode("loop", "", func(ctx context.Context, s State) (State, error) {
		n, _ := s["n"].(float64)
		return State{"n": n + 1}, nil
	})
	g.AddNode("gate", "", noop)
	g.SetEntryPoint("loop")
	g.AddConditionalEdge("loop", func(ctx context.Context, s State) string {
		if n, _ := s["n"].(float64); n < 2 {
			return "loop"
		}
		return "gate"
	}, "loop", "gate")
	g.AddConditionalEdge("gate", func(ctx context.Context, s State) string {
		if approved, _ := s["approved"].(bool); approved {
			return End
		}
		return "loop"
	}, "loop", End)
	g.MarkInterrupt("gate")
	cg, err := g.Compile()
	require.NoError(t, err)

	e1 := NewEngine(cg, Config{Store: st, MaxIterationsPerNode: 3, Logger: log.NoOpLogger{}})
	res, err := e1.Start(context.Background(), State{"n": float64(0)})
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, res.Status)
	require.Equal(t, "gate", res.PendingNode)

	// "loop" has executed twice so far. A restarted engine must pick
	// that counter up from the checkpoint: one more iteration fits
	// under the ceiling of 3, the next exceeds it.
	e2 := NewEngine(cg, Config{Store: st, MaxIterationsPerNode: 3, Logger: log.NoOpLogger{}})
	res2, err := e2.Resume(context.Background(), res.RunID, State{"approved": false})
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, res2.Status)

	e3 := NewEngine(cg, Config{Store: st, MaxIterationsPerNode: 3, Logger: log.NoOpLogger{}})
	final, err := e3.Resume(context.Background(), res.RunID, State{"approved": false})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, final.Status)
	var nt *NonTerminationError
	require.ErrorAs(t, final.Err, &nt)
	assert.Equal(t, "loop", nt.Node)
}

func TestEngine_ListenerObservesLifecycle(t *testing.T) {
	events := &recordingListener{}
	cg := approvalGraph(t, nil)
	e := NewEngine(cg, Config{Logger: log.NoOpLogger{}, Listeners: []RunListener{events}})

	res, err := e.Start(context.Background(), State{})
	require.NoError(t, err)
	require.Equal(t, StatusInterrupted, res.Status)

	_, err = e.Resume(context.Background(), res.RunID, State{"approved": true})
	require.NoError(t, err)

	assert.Equal(t, int32(2), events.starts.Load()) // start + resume
	assert.Equal(t, int32(1), events.interrupts.Load())
	assert.Equal(t, int32(1), events.ends.Load())
	assert.Greater(t, events.steps.Load(), int32(0))
}

type recordingListener struct {
	BaseListener
	starts     atomic.Int32
	steps      atomic.Int32
	interrupts atomic.Int32
	ends       atomic.Int32
}

func (l *recordingListener) OnRunStart(string, State) { l.starts.Add(1) }

func (l *recordingListener) OnStep(string, int, []string, State, time.Duration) {
	l.steps.Add(1)
}

func (l *recordingListener) OnInterrupt(string, string, State) { l.interrupts.Add(1) }

func (l *recordingListener) OnRunEnd(string, RunStatus, error) { l.ends.Add(1) }
