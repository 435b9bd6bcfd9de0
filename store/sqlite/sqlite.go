// Package sqlite implements a checkpoint store on SQLite. It suits
// single-process deployments that want durable checkpoints without
// running a database server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/flowgraph-go/flowgraph/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	run_id    TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	state     TEXT NOT NULL,
	frontier  TEXT NOT NULL,
	status    TEXT NOT NULL,
	timestamp TEXT NOT NULL,
	metadata  TEXT,
	PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON checkpoints (run_id, seq DESC);
`

// Store persists checkpoints in a SQLite database.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// New opens (or creates) the SQLite database at path and ensures the
// checkpoint table exists. Pass ":memory:" for an ephemeral store.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY under the engine's concurrent saves.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create checkpoint table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts the checkpoint at (RunID, Seq).
func (s *Store) Save(ctx context.Context, cp *store.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("nil checkpoint")
	}
	if cp.RunID == "" {
		return fmt.Errorf("checkpoint has empty run id")
	}

	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	frontier, err := json.Marshal(cp.Frontier)
	if err != nil {
		return fmt.Errorf("marshal frontier: %w", err)
	}
	metadata, err := json.Marshal(cp.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (run_id, seq, state, frontier, status, timestamp, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id, seq) DO UPDATE SET
			state = excluded.state,
			frontier = excluded.frontier,
			status = excluded.status,
			timestamp = excluded.timestamp,
			metadata = excluded.metadata`,
		cp.RunID, cp.Seq, string(state), string(frontier), cp.Status,
		cp.Timestamp.UTC().Format(time.RFC3339Nano), string(metadata))
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadLatest returns the checkpoint with the highest sequence number.
func (s *Store) LoadLatest(ctx context.Context, runID string) (*store.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, seq, state, frontier, status, timestamp, metadata
		FROM checkpoints WHERE run_id = ?
		ORDER BY seq DESC LIMIT 1`, runID)
	cp, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	return cp, err
}

// LoadAt returns the checkpoint at an exact sequence number.
func (s *Store) LoadAt(ctx context.Context, runID string, seq int) (*store.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, seq, state, frontier, status, timestamp, metadata
		FROM checkpoints WHERE run_id = ? AND seq = ?`, runID, seq)
	cp, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s seq %d: %w", runID, seq, store.ErrNotFound)
	}
	return cp, err
}

// List returns all checkpoints for a run ordered by sequence ascending.
func (s *Store) List(ctx context.Context, runID string) ([]*store.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, state, frontier, status, timestamp, metadata
		FROM checkpoints WHERE run_id = ?
		ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var out []*store.Checkpoint
	for rows.Next() {
		cp, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	return out, nil
}

// Clear removes every checkpoint belonging to the run.
func (s *Store) Clear(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("clear run %s: %w", runID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scan(row rowScanner) (*store.Checkpoint, error) {
	var (
		cp       store.Checkpoint
		state    string
		frontier string
		ts       string
		metadata sql.NullString
	)
	if err := row.Scan(&cp.RunID, &cp.Seq, &state, &frontier, &cp.Status, &ts, &metadata); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(state), &cp.State); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if err := json.Unmarshal([]byte(frontier), &cp.Frontier); err != nil {
		return nil, fmt.Errorf("decode frontier: %w", err)
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &cp.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	parsed, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("decode timestamp: %w", err)
	}
	cp.Timestamp = parsed
	return &cp, nil
}
