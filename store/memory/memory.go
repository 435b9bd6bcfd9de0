package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/flowgraph-go/flowgraph/store"
)

// Store is an in-memory checkpoint store. It is the engine default and
// is safe for concurrent use. Checkpoints survive only for the lifetime
// of the process.
type Store struct {
	mu   sync.RWMutex
	runs map[string]map[int]*store.Checkpoint
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory checkpoint store.
func New() *Store {
	return &Store{
		runs: make(map[string]map[int]*store.Checkpoint),
	}
}

// Save persists a checkpoint, replacing any existing entry at the same
// (RunID, Seq).
func (s *Store) Save(ctx context.Context, cp *store.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("nil checkpoint")
	}
	if cp.RunID == "" {
		return fmt.Errorf("checkpoint has empty run id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byRun, ok := s.runs[cp.RunID]
	if !ok {
		byRun = make(map[int]*store.Checkpoint)
		s.runs[cp.RunID] = byRun
	}
	clone := *cp
	byRun[cp.Seq] = &clone
	return nil
}

// LoadLatest returns the checkpoint with the highest sequence number.
func (s *Store) LoadLatest(ctx context.Context, runID string) (*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byRun, ok := s.runs[runID]
	if !ok || len(byRun) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}

	var latest *store.Checkpoint
	for _, cp := range byRun {
		if latest == nil || cp.Seq > latest.Seq {
			latest = cp
		}
	}
	clone := *latest
	return &clone, nil
}

// LoadAt returns the checkpoint at an exact sequence number.
func (s *Store) LoadAt(ctx context.Context, runID string, seq int) (*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cp, ok := s.runs[runID][seq]
	if !ok {
		return nil, fmt.Errorf("run %s seq %d: %w", runID, seq, store.ErrNotFound)
	}
	clone := *cp
	return &clone, nil
}

// List returns all checkpoints for a run ordered by sequence ascending.
func (s *Store) List(ctx context.Context, runID string) ([]*store.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byRun := s.runs[runID]
	out := make([]*store.Checkpoint, 0, len(byRun))
	for _, cp := range byRun {
		clone := *cp
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// Clear removes every checkpoint belonging to the run.
func (s *Store) Clear(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
	return nil
}
