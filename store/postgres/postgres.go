// Package postgres implements a checkpoint store on PostgreSQL,
// suitable for multi-process deployments that share checkpoint
// history. State, frontier, and metadata are stored as JSONB.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowgraph-go/flowgraph/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS checkpoints (
	run_id    TEXT NOT NULL,
	seq       INTEGER NOT NULL,
	state     JSONB NOT NULL,
	frontier  JSONB NOT NULL,
	status    TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	metadata  JSONB,
	PRIMARY KEY (run_id, seq)
)`

// DBPool is the subset of pgxpool.Pool the store uses. It exists so
// tests can substitute a mock connection.
type DBPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Store persists checkpoints in a PostgreSQL table.
type Store struct {
	pool DBPool
}

var _ store.Store = (*Store)(nil)

// New connects to PostgreSQL with the given connection string and
// ensures the checkpoint table exists.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create checkpoint table: %w", err)
	}
	return s, nil
}

// NewWithPool wraps an existing pool. The caller owns table creation.
func NewWithPool(pool DBPool) *Store {
	return &Store{pool: pool}
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
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

	_, err = s.pool.Exec(ctx, `
		INSERT INTO checkpoints (run_id, seq, state, frontier, status, timestamp, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (run_id, seq) DO UPDATE SET
			state = EXCLUDED.state,
			frontier = EXCLUDED.frontier,
			status = EXCLUDED.status,
			timestamp = EXCLUDED.timestamp,
			metadata = EXCLUDED.metadata`,
		cp.RunID, cp.Seq, state, frontier, cp.Status, cp.Timestamp, metadata)
	if err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadLatest returns the checkpoint with the highest sequence number.
func (s *Store) LoadLatest(ctx context.Context, runID string) (*store.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, seq, state, frontier, status, timestamp, metadata
		FROM checkpoints WHERE run_id = $1
		ORDER BY seq DESC LIMIT 1`, runID)
	cp, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	return cp, err
}

// LoadAt returns the checkpoint at an exact sequence number.
func (s *Store) LoadAt(ctx context.Context, runID string, seq int) (*store.Checkpoint, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT run_id, seq, state, frontier, status, timestamp, metadata
		FROM checkpoints WHERE run_id = $1 AND seq = $2`, runID, seq)
	cp, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("run %s seq %d: %w", runID, seq, store.ErrNotFound)
	}
	return cp, err
}

// List returns all checkpoints for a run ordered by sequence ascending.
func (s *Store) List(ctx context.Context, runID string) ([]*store.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, seq, state, frontier, status, timestamp, metadata
		FROM checkpoints WHERE run_id = $1
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
	if _, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("clear run %s: %w", runID, err)
	}
	return nil
}

func scan(row pgx.Row) (*store.Checkpoint, error) {
	var (
		cp       store.Checkpoint
		state    []byte
		frontier []byte
		metadata []byte
	)
	if err := row.Scan(&cp.RunID, &cp.Seq, &state, &frontier, &cp.Status, &cp.Timestamp, &metadata); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(state, &cp.State); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if err := json.Unmarshal(frontier, &cp.Frontier); err != nil {
		return nil, fmt.Errorf("decode frontier: %w", err)
	}
	if len(metadata) > 0 && string(metadata) != "null" {
		if err := json.Unmarshal(metadata, &cp.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return &cp, nil
}
