// Package redis implements a checkpoint store on Redis. Each
// checkpoint is a JSON value and every run keeps a sorted-set index
// scored by sequence number, so LoadLatest is a single ZREVRANGE away.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flowgraph-go/flowgraph/store"
)

// Options configures the Redis connection and key layout.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // key prefix, default "flowgraph:"
	TTL      time.Duration // checkpoint expiration, default 0 (keep forever)
}

// Store persists checkpoints in Redis.
type Store struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ store.Store = (*Store)(nil)

// New connects to Redis with the given options.
func New(opts Options) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewWithClient(client, opts.Prefix, opts.TTL)
}

// NewWithClient wraps an existing client. Useful for tests and for
// callers that manage their own connection options.
func NewWithClient(client *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "flowgraph:"
	}
	return &Store{client: client, prefix: prefix, ttl: ttl}
}

// Close releases the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) checkpointKey(runID string, seq int) string {
	return fmt.Sprintf("%scp:%s:%d", s.prefix, runID, seq)
}

func (s *Store) indexKey(runID string) string {
	return fmt.Sprintf("%srun:%s:seqs", s.prefix, runID)
}

// Save stores the checkpoint and records its sequence number in the
// run's index. Both writes go through one pipeline.
func (s *Store) Save(ctx context.Context, cp *store.Checkpoint) error {
	if cp == nil {
		return fmt.Errorf("nil checkpoint")
	}
	if cp.RunID == "" {
		return fmt.Errorf("checkpoint has empty run id")
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.checkpointKey(cp.RunID, cp.Seq), data, s.ttl)
	pipe.ZAdd(ctx, s.indexKey(cp.RunID), redis.Z{Score: float64(cp.Seq), Member: cp.Seq})
	if s.ttl > 0 {
		pipe.Expire(ctx, s.indexKey(cp.RunID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save checkpoint to redis: %w", err)
	}
	return nil
}

// LoadLatest returns the checkpoint with the highest sequence number.
func (s *Store) LoadLatest(ctx context.Context, runID string) (*store.Checkpoint, error) {
	entries, err := s.client.ZRevRangeWithScores(ctx, s.indexKey(runID), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("read run index: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, store.ErrNotFound)
	}
	return s.LoadAt(ctx, runID, int(entries[0].Score))
}

// LoadAt returns the checkpoint at an exact sequence number.
func (s *Store) LoadAt(ctx context.Context, runID string, seq int) (*store.Checkpoint, error) {
	data, err := s.client.Get(ctx, s.checkpointKey(runID, seq)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("run %s seq %d: %w", runID, seq, store.ErrNotFound)
		}
		return nil, fmt.Errorf("load checkpoint from redis: %w", err)
	}
	var cp store.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s/%d: %w", runID, seq, err)
	}
	return &cp, nil
}

// List returns all checkpoints for a run ordered by sequence
// ascending. Checkpoints whose value expired are skipped.
func (s *Store) List(ctx context.Context, runID string) ([]*store.Checkpoint, error) {
	entries, err := s.client.ZRangeWithScores(ctx, s.indexKey(runID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read run index: %w", err)
	}
	if len(entries) == 0 {
		return []*store.Checkpoint{}, nil
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, s.checkpointKey(runID, int(e.Score)))
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch checkpoints: %w", err)
	}

	out := make([]*store.Checkpoint, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var cp store.Checkpoint
		if err := json.Unmarshal([]byte(raw), &cp); err != nil {
			return nil, fmt.Errorf("decode checkpoint: %w", err)
		}
		out = append(out, &cp)
	}
	return out, nil
}

// Clear removes every checkpoint belonging to the run plus its index.
func (s *Store) Clear(ctx context.Context, runID string) error {
	entries, err := s.client.ZRangeWithScores(ctx, s.indexKey(runID), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("read run index: %w", err)
	}

	pipe := s.client.Pipeline()
	for _, e := range entries {
		pipe.Del(ctx, s.checkpointKey(runID, int(e.Score)))
	}
	pipe.Del(ctx, s.indexKey(runID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("clear checkpoints: %w", err)
	}
	return nil
}
