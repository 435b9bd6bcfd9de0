package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowgraph-go/flowgraph/log"
	"github.com/flowgraph-go/flowgraph/store"
	"github.com/flowgraph-go/flowgraph/store/memory"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning     RunStatus = "running"
	StatusInterrupted RunStatus = "interrupted"
	StatusCompleted   RunStatus = "completed"
	StatusFailed      RunStatus = "failed"
)

// HistoryEntry records one completed superstep: which nodes executed
// and the merged state they produced.
type HistoryEntry struct {
	Seq       int
	Nodes     []string
	State     State
	Timestamp time.Time
}

// RunResult is what Start and Resume hand back to the caller.
type RunResult struct {
	RunID  string
	Status RunStatus
	State  State
	// PendingNode names the interrupt node awaiting input, set only
	// when Status is Interrupted.
	PendingNode string
	// Err records the failure cause, set only when Status is Failed.
	Err     error
	History []HistoryEntry
}

// run is the engine's mutable per-run record. It is owned exclusively
// by the goroutine advancing the run; the engine map and status
// transitions are guarded by the engine mutex.
type run struct {
	id         string
	status     RunStatus
	state      State
	frontier   []int
	seq        int
	iterations map[int]int // executions per cyclic node
	history    []HistoryEntry
}

// Engine executes runs of one compiled graph. A single engine may
// advance many runs concurrently; the graph itself is immutable and
// shared.
type Engine struct {
	graph     *CompiledGraph
	cfg       Config
	store     store.Store
	logger    log.Logger
	listeners []RunListener

	mu   sync.Mutex
	runs map[string]*run
}

// NewEngine creates an engine for the compiled graph. Zero-value
// config fields get defaults: in-memory checkpoints, the package
// logger, and DefaultMaxIterationsPerNode.
func NewEngine(g *CompiledGraph, cfg Config) *Engine {
	if cfg.MaxIterationsPerNode <= 0 {
		cfg.MaxIterationsPerNode = DefaultMaxIterationsPerNode
	}
	st := cfg.Store
	if st == nil {
		st = memory.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{
		graph:     g,
		cfg:       cfg,
		store:     st,
		logger:    logger,
		listeners: cfg.Listeners,
		runs:      make(map[string]*run),
	}
}

// Start creates a new run over the initial state and drives it until
// it completes, fails, or suspends at an interrupt node.
func (e *Engine) Start(ctx context.Context, initial State) (*RunResult, error) {
	r := &run{
		id:         "run_" + uuid.NewString(),
		status:     StatusRunning,
		state:      CloneState(initial),
		frontier:   []int{e.graph.entry},
		iterations: make(map[int]int),
	}

	if err := e.checkpoint(ctx, r); err != nil {
		return nil, fmt.Errorf("persist initial checkpoint: %w", err)
	}

	e.mu.Lock()
	e.runs[r.id] = r
	e.mu.Unlock()

	e.logger.Info("run %s starting at node %s", r.id, e.graph.EntryPoint())
	return e.loop(ctx, r, false)
}

// Resume continues an interrupted run. The amendments are merged into
// the checkpointed state through the graph's schema, then execution
// re-enters the loop at the frontier that was pending at interruption.
// Calling Resume on a run in any other status returns
// ErrNotInterrupted with the run unchanged.
func (e *Engine) Resume(ctx context.Context, runID string, amendments State) (*RunResult, error) {
	e.mu.Lock()
	r, ok := e.runs[runID]
	if !ok {
		recovered, err := e.recover(ctx, runID)
		if err != nil {
			e.mu.Unlock()
			return nil, err
		}
		r = recovered
		e.runs[runID] = r
	}
	if r.status != StatusInterrupted {
		e.mu.Unlock()
		return nil, fmt.Errorf("run %s has status %s: %w", runID, r.status, ErrNotInterrupted)
	}
	// Claim the run under the lock so a racing Resume sees it as
	// already running.
	r.status = StatusRunning
	e.mu.Unlock()

	if len(amendments) > 0 {
		merged, err := e.graph.schema.mergeStepUpdates(r.state, []stepUpdate{{node: "resume", update: amendments}})
		if err != nil {
			e.mu.Lock()
			r.status = StatusInterrupted
			e.mu.Unlock()
			return nil, fmt.Errorf("merge amendments: %w", err)
		}
		r.state = merged
	}

	e.logger.Info("run %s resuming at %v", runID, e.frontierNames(r.frontier))
	return e.loop(ctx, r, true)
}

// recover rebuilds a run from its latest checkpoint after a process
// restart. Only interrupted runs are worth rebuilding; anything else
// cannot be resumed anyway.
func (e *Engine) recover(ctx context.Context, runID string) (*run, error) {
	cp, err := e.store.LoadLatest(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("run %s: %w", runID, ErrRunNotFound)
		}
		return nil, fmt.Errorf("load checkpoint for run %s: %w", runID, err)
	}

	r := &run{
		id:         runID,
		status:     RunStatus(cp.Status),
		state:      CloneState(cp.State),
		seq:        cp.Seq,
		iterations: make(map[int]int),
	}
	for _, name := range cp.Frontier {
		idx, ok := e.graph.index[name]
		if !ok {
			return nil, fmt.Errorf("checkpoint of run %s references unknown node %q", runID, name)
		}
		r.frontier = append(r.frontier, idx)
	}
	// Iteration counters ride along in checkpoint metadata; after a
	// JSON round-trip the counts come back as float64.
	if raw, ok := cp.Metadata["iterations"].(map[string]any); ok {
		for name, v := range raw {
			idx, ok := e.graph.index[name]
			if !ok {
				continue
			}
			switch n := v.(type) {
			case float64:
				r.iterations[idx] = int(n)
			case int:
				r.iterations[idx] = n
			}
		}
	}
	return r, nil
}

// loop drives the run superstep by superstep. skipInterrupt suppresses
// the interrupt check for the first iteration so Resume does not
// immediately re-suspend on the node it is resuming.
func (e *Engine) loop(ctx context.Context, r *run, skipInterrupt bool) (*RunResult, error) {
	for _, l := range e.listeners {
		l.OnRunStart(r.id, r.state)
	}

	for {
		if len(r.frontier) == 0 {
			return e.finish(ctx, r, StatusCompleted, nil)
		}

		if !skipInterrupt {
			if pending, ok := e.pendingInterrupt(r.frontier); ok {
				return e.suspend(ctx, r, pending)
			}
		}
		skipInterrupt = false

		// Liveness guard: cyclic nodes carry an iteration counter
		// that fails the run instead of looping forever.
		for _, idx := range r.frontier {
			if !e.graph.cyclic[idx] {
				continue
			}
			r.iterations[idx]++
			if r.iterations[idx] > e.cfg.MaxIterationsPerNode {
				err := &NonTerminationError{Node: e.graph.names[idx], Iterations: e.cfg.MaxIterationsPerNode}
				return e.finish(ctx, r, StatusFailed, err)
			}
		}

		started := time.Now()
		updates, err := e.executeFrontier(ctx, r)
		if err != nil {
			// Persist the pre-failure state so partial progress
			// stays recoverable for diagnosis.
			return e.finish(ctx, r, StatusFailed, err)
		}

		merged, err := e.graph.schema.mergeStepUpdates(r.state, updates)
		if err != nil {
			return e.finish(ctx, r, StatusFailed, err)
		}

		executed := e.frontierNames(r.frontier)
		next, err := e.resolveNext(ctx, r.frontier, merged)
		if err != nil {
			r.state = merged
			return e.finish(ctx, r, StatusFailed, err)
		}

		r.state = merged
		r.seq++
		r.frontier = next
		e.appendHistory(r, executed)

		if err := e.checkpoint(ctx, r); err != nil {
			return e.finish(ctx, r, StatusFailed, fmt.Errorf("persist checkpoint: %w", err))
		}

		elapsed := time.Since(started)
		e.logger.Debug("run %s step %d executed %v in %s", r.id, r.seq, executed, elapsed)
		for _, l := range e.listeners {
			l.OnStep(r.id, r.seq, executed, r.state, elapsed)
		}
	}
}

// pendingInterrupt returns the first interrupt node in the frontier,
// by name order, so suspension is deterministic when several interrupt
// nodes land in one frontier.
func (e *Engine) pendingInterrupt(frontier []int) (int, bool) {
	pending := -1
	for _, idx := range frontier {
		if !e.graph.nodes[idx].interrupt {
			continue
		}
		if pending == -1 || e.graph.names[idx] < e.graph.names[pending] {
			pending = idx
		}
	}
	return pending, pending != -1
}

// suspend parks the run in the Interrupted status and returns control
// to the caller with the pending node name.
func (e *Engine) suspend(ctx context.Context, r *run, pending int) (*RunResult, error) {
	e.mu.Lock()
	r.status = StatusInterrupted
	e.mu.Unlock()

	if err := e.checkpoint(ctx, r); err != nil {
		return e.finish(ctx, r, StatusFailed, fmt.Errorf("persist interrupt checkpoint: %w", err))
	}

	name := e.graph.names[pending]
	e.logger.Info("run %s awaiting input at node %s", r.id, name)
	for _, l := range e.listeners {
		l.OnInterrupt(r.id, name, r.state)
	}

	res := e.result(r)
	res.PendingNode = name
	return res, nil
}

// executeFrontier runs every frontier node concurrently under the
// configured parallelism bound and collects their partial updates.
// Each node gets its own state copy; nothing observes a sibling's
// in-progress update. All members resolve before the step reports,
// even when one of them fails.
func (e *Engine) executeFrontier(ctx context.Context, r *run) ([]stepUpdate, error) {
	limit := e.cfg.Parallelism
	if limit <= 0 || limit > len(r.frontier) {
		limit = len(r.frontier)
	}
	sem := make(chan struct{}, limit)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		updates []stepUpdate
		firstEr error
	)

	for _, idx := range r.frontier {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			n := e.graph.nodes[idx]
			update, err := e.runStep(ctx, n.name, n.step, CloneState(r.state), r.id)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstEr == nil {
					firstEr = err
				}
				return
			}
			if len(update) > 0 {
				updates = append(updates, stepUpdate{node: n.name, update: update})
			}
		}(idx)
	}
	wg.Wait()

	if firstEr != nil {
		return nil, firstEr
	}
	return updates, nil
}

// resolveNext evaluates the outgoing edges of every executed node
// against the merged state and returns the next frontier, deduplicated
// and sorted for determinism.
func (e *Engine) resolveNext(ctx context.Context, frontier []int, state State) ([]int, error) {
	seen := make(map[int]bool)
	var next []int

	for _, idx := range frontier {
		if ce := e.graph.conds[idx]; ce != nil {
			target := ce.route(ctx, CloneState(state))
			if !contains(ce.candidates, target) {
				return nil, &RouteError{Node: e.graph.names[idx], Target: target}
			}
			if target == End {
				continue
			}
			t := e.graph.index[target]
			if !seen[t] {
				seen[t] = true
				next = append(next, t)
			}
			continue
		}
		for _, t := range e.graph.static[idx] {
			if t == endIndex || seen[t] {
				continue
			}
			seen[t] = true
			next = append(next, t)
		}
	}
	sort.Ints(next)
	return next, nil
}

// finish moves the run to a terminal status, persists the final
// checkpoint, and notifies listeners.
func (e *Engine) finish(ctx context.Context, r *run, status RunStatus, cause error) (*RunResult, error) {
	e.mu.Lock()
	r.status = status
	e.mu.Unlock()

	if err := e.checkpoint(ctx, r); err != nil {
		e.logger.Error("run %s: persist final checkpoint: %v", r.id, err)
	}

	if cause != nil {
		e.logger.Error("run %s failed: %v", r.id, cause)
	} else {
		e.logger.Info("run %s completed after %d step(s)", r.id, r.seq)
	}
	for _, l := range e.listeners {
		l.OnRunEnd(r.id, status, cause)
	}

	res := e.result(r)
	res.Err = cause
	return res, nil
}

// checkpoint persists the run's current position: merged state, the
// frontier due to execute next, and the iteration counters needed to
// keep the liveness guard honest across a restart.
func (e *Engine) checkpoint(ctx context.Context, r *run) error {
	iterations := make(map[string]any, len(r.iterations))
	for idx, count := range r.iterations {
		iterations[e.graph.names[idx]] = count
	}
	cp := &store.Checkpoint{
		RunID:     r.id,
		Seq:       r.seq,
		State:     CloneState(r.state),
		Frontier:  e.frontierNames(r.frontier),
		Status:    string(r.status),
		Timestamp: time.Now().UTC(),
	}
	if len(iterations) > 0 {
		cp.Metadata = map[string]any{"iterations": iterations}
	}
	return e.store.Save(ctx, cp)
}

func (e *Engine) appendHistory(r *run, executed []string) {
	r.history = append(r.history, HistoryEntry{
		Seq:       r.seq,
		Nodes:     executed,
		State:     CloneState(r.state),
		Timestamp: time.Now().UTC(),
	})
	if limit := e.cfg.HistoryLimit; limit > 0 && len(r.history) > limit {
		r.history = r.history[len(r.history)-limit:]
	}
}

func (e *Engine) frontierNames(frontier []int) []string {
	names := make([]string, 0, len(frontier))
	for _, idx := range frontier {
		names = append(names, e.graph.names[idx])
	}
	return names
}

func (e *Engine) result(r *run) *RunResult {
	return &RunResult{
		RunID:   r.id,
		Status:  r.status,
		State:   CloneState(r.state),
		History: append([]HistoryEntry(nil), r.history...),
	}
}

// StateAt returns the checkpointed state at an exact sequence number,
// supporting audit and undo over a run's history.
func (e *Engine) StateAt(ctx context.Context, runID string, seq int) (State, error) {
	cp, err := e.store.LoadAt(ctx, runID, seq)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("run %s seq %d: %w", runID, seq, ErrRunNotFound)
		}
		return nil, err
	}
	return State(cp.State), nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
