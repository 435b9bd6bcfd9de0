package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowgraph-go/flowgraph/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	cp := &store.Checkpoint{
		RunID:     "run-file",
		Seq:       1,
		State:     map[string]any{"count": float64(3), "label": "draft"},
		Frontier:  []string{"refine", "score"},
		Status:    "running",
		Timestamp: time.Now().UTC().Truncate(time.Second),
		Metadata:  map[string]any{"iterations": map[string]any{"refine": float64(2)}},
	}
	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.LoadAt(ctx, "run-file", 1)
	if err != nil {
		t.Fatalf("LoadAt: %v", err)
	}
	if loaded.Status != "running" {
		t.Errorf("status = %q, want running", loaded.Status)
	}
	if loaded.State["count"] != float64(3) || loaded.State["label"] != "draft" {
		t.Errorf("state round-trip mangled: %v", loaded.State)
	}
	if len(loaded.Frontier) != 2 {
		t.Errorf("frontier round-trip mangled: %v", loaded.Frontier)
	}
	if !loaded.Timestamp.Equal(cp.Timestamp) {
		t.Errorf("timestamp = %v, want %v", loaded.Timestamp, cp.Timestamp)
	}
}

func TestFileStore_LoadLatestPicksHighestSeq(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, seq := range []int{2, 10, 1} {
		if err := s.Save(ctx, &store.Checkpoint{RunID: "run-order", Seq: seq}); err != nil {
			t.Fatalf("Save seq %d: %v", seq, err)
		}
	}

	latest, err := s.LoadLatest(ctx, "run-order")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if latest.Seq != 10 {
		t.Errorf("LoadLatest seq = %d, want 10", latest.Seq)
	}
}

func TestFileStore_NotFound(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadLatest(ctx, "no-such-run"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LoadLatest: want ErrNotFound, got %v", err)
	}
	if _, err := s.LoadAt(ctx, "no-such-run", 7); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("LoadAt: want ErrNotFound, got %v", err)
	}
}

func TestFileStore_ListAndClear(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for seq := 1; seq <= 3; seq++ {
		if err := s.Save(ctx, &store.Checkpoint{RunID: "run-list", Seq: seq}); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	list, err := s.List(ctx, "run-list")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("List returned %d entries, want 3", len(list))
	}
	for i, cp := range list {
		if cp.Seq != i+1 {
			t.Errorf("List[%d].Seq = %d, want %d", i, cp.Seq, i+1)
		}
	}

	if err := s.Clear(ctx, "run-list"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.dir, "run-list")); !os.IsNotExist(err) {
		t.Errorf("run directory survived Clear: %v", err)
	}
}

func TestFileStore_NoTempFilesLeftBehind(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, &store.Checkpoint{RunID: "run-tmp", Seq: 1}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, "run-tmp"))
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}
