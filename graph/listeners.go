package graph

import (
	"time"

	"github.com/flowgraph-go/flowgraph/log"
)

// RunListener observes run lifecycle events. Implementations must be
// safe for concurrent use; one engine may advance several runs at
// once. Embed BaseListener to implement only the events you need.
type RunListener interface {
	// OnRunStart fires when a run begins or is resumed.
	OnRunStart(runID string, state State)

	// OnStep fires after a superstep's updates are merged, with the
	// nodes that executed and how long the slowest of them took.
	OnStep(runID string, seq int, nodes []string, state State, elapsed time.Duration)

	// OnRetry fires before a transient step failure is retried.
	OnRetry(runID, node string, attempt int, err error)

	// OnInterrupt fires when a run suspends at an interrupt node.
	OnInterrupt(runID, node string, state State)

	// OnRunEnd fires when a run reaches Completed or Failed.
	OnRunEnd(runID string, status RunStatus, err error)
}

// BaseListener is a no-op RunListener for embedding.
type BaseListener struct{}

func (BaseListener) OnRunStart(string, State)                           {}
func (BaseListener) OnStep(string, int, []string, State, time.Duration) {}
func (BaseListener) OnRetry(string, string, int, error)                 {}
func (BaseListener) OnInterrupt(string, string, State)                  {}
func (BaseListener) OnRunEnd(string, RunStatus, error)                  {}

// LogListener writes run events to a Logger.
type LogListener struct {
	Logger log.Logger
}

// NewLogListener creates a listener over the given logger, defaulting
// to log.Default().
func NewLogListener(logger log.Logger) *LogListener {
	if logger == nil {
		logger = log.Default()
	}
	return &LogListener{Logger: logger}
}

func (l *LogListener) OnRunStart(runID string, state State) {
	l.Logger.Info("run %s started", runID)
}

func (l *LogListener) OnStep(runID string, seq int, nodes []string, state State, elapsed time.Duration) {
	l.Logger.Debug("run %s step %d executed %v in %s", runID, seq, nodes, elapsed)
}

func (l *LogListener) OnRetry(runID, node string, attempt int, err error) {
	l.Logger.Warn("run %s node %s retrying after attempt %d: %v", runID, node, attempt, err)
}

func (l *LogListener) OnInterrupt(runID, node string, state State) {
	l.Logger.Info("run %s interrupted at node %s", runID, node)
}

func (l *LogListener) OnRunEnd(runID string, status RunStatus, err error) {
	if err != nil {
		l.Logger.Error("run %s ended with status %s: %v", runID, status, err)
		return
	}
	l.Logger.Info("run %s ended with status %s", runID, status)
}
