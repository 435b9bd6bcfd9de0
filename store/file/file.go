// Package file implements a checkpoint store backed by the local
// filesystem. Each run gets its own directory and each checkpoint is a
// single JSON document, which keeps checkpoints inspectable with
// nothing more than a text editor.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/flowgraph-go/flowgraph/store"
)

// Store persists checkpoints as JSON files under a base directory,
// one subdirectory per run and one file per sequence number.
type Store struct {
	dir string
}

var _ store.Store = (*Store)(nil)

// New creates a file store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) runDir(runID string) string {
	return filepath.Join(s.dir, runID)
}

func (s *Store) path(runID string, seq int) string {
	return filepath.Join(s.runDir(runID), fmt.Sprintf("%08d.json", seq))
}

// Save writes the checkpoint atomically: the JSON document is written
// to a temp file in the run directory and renamed into place, so a
// crash mid-write never leaves a truncated checkpoint behind.
func (s *Store) Save(ctx context.Context, cp *store.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("nil checkpoint")
	}
	if cp.RunID == "" {
		return fmt.Errorf("checkpoint has empty run id")
	}

	dir := s.runDir(cp.RunID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cp-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path(cp.RunID, cp.Seq)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("commit checkpoint: %w", err)
	}
	return nil
}

// LoadLatest returns the checkpoint with the highest sequence number.
func (s *Store) LoadLatest(ctx context.Context, runID string) (*store.Checkpoint, error) {
	seqs, err := s.seqs(runID)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	return s.LoadAt(ctx, runID, seqs[len(seqs)-1])
}

// LoadAt returns the checkpoint at an exact sequence number.
func (s *Store) LoadAt(ctx context.Context, runID string, seq int) (*store.Checkpoint, error) {
	data, err := os.ReadFile(s.path(runID, seq))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %s seq %d: %w", runID, seq, store.ErrNotFound)
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	var cp store.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s/%d: %w", runID, seq, err)
	}
	return &cp, nil
}

// List returns all checkpoints for a run ordered by sequence ascending.
func (s *Store) List(ctx context.Context, runID string) ([]*store.Checkpoint, error) {
	seqs, err := s.seqs(runID)
	if err != nil {
		return nil, err
	}
	out := make([]*store.Checkpoint, 0, len(seqs))
	for _, seq := range seqs {
		cp, err := s.LoadAt(ctx, runID, seq)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Clear removes the run directory and everything in it.
func (s *Store) Clear(ctx context.Context, runID string) error {
	if err := os.RemoveAll(s.runDir(runID)); err != nil {
		return fmt.Errorf("clear run %s: %w", runID, err)
	}
	return nil
}

func (s *Store) seqs(runID string) ([]int, error) {
	entries, err := os.ReadDir(s.runDir(runID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read run dir: %w", err)
	}
	seqs := make([]int, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		var seq int
		if _, err := fmt.Sscanf(e.Name(), "%08d.json", &seq); err != nil {
			continue
		}
		seqs = append(seqs, seq)
	}
	sort.Ints(seqs)
	return seqs, nil
}
