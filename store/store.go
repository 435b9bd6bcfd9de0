package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no checkpoint exists for the requested
// run id or sequence number.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is a durable snapshot of a run, written after every
// completed step. The (RunID, Seq) pair is the unit of resume: Seq is
// strictly increasing within a run, and Frontier holds the node names
// that are due to execute next.
type Checkpoint struct {
	RunID     string         `json:"run_id"`
	Seq       int            `json:"seq"`
	State     map[string]any `json:"state"`
	Frontier  []string       `json:"frontier"`
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Store persists checkpoints. Implementations must guarantee that a
// successful Save for sequence N is visible to any subsequent
// LoadLatest call, even when Save calls race across goroutines; this
// is what makes resume-after-interrupt and resume-after-crash correct.
type Store interface {
	// Save persists a checkpoint, replacing any existing checkpoint
	// with the same (RunID, Seq).
	Save(ctx context.Context, cp *Checkpoint) error

	// LoadLatest returns the checkpoint with the highest sequence
	// number for the run, or ErrNotFound.
	LoadLatest(ctx context.Context, runID string) (*Checkpoint, error)

	// LoadAt returns the checkpoint at an exact sequence number, or
	// ErrNotFound. It supports point-in-time retrieval for audit and
	// undo.
	LoadAt(ctx context.Context, runID string, seq int) (*Checkpoint, error)

	// List returns all checkpoints for a run ordered by sequence
	// number ascending.
	List(ctx context.Context, runID string) ([]*Checkpoint, error)

	// Clear removes every checkpoint belonging to the run.
	Clear(ctx context.Context, runID string) error
}
