package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/flowgraph-go/flowgraph/store"
)

func TestStore_SaveAndLoad(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	cp := &store.Checkpoint{
		RunID:     "run-abc",
		Seq:       1,
		State:     map[string]any{"draft": "v1"},
		Frontier:  []string{"review"},
		Status:    "running",
		Timestamp: time.Now(),
	}

	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := s.LoadAt(ctx, "run-abc", 1)
	if err != nil {
		t.Fatalf("LoadAt: %v", err)
	}
	if loaded.RunID != cp.RunID || loaded.Seq != cp.Seq {
		t.Errorf("identity mismatch: got (%s,%d), want (%s,%d)", loaded.RunID, loaded.Seq, cp.RunID, cp.Seq)
	}
	if loaded.State["draft"] != "v1" {
		t.Errorf("state not preserved: %v", loaded.State)
	}
	if len(loaded.Frontier) != 1 || loaded.Frontier[0] != "review" {
		t.Errorf("frontier not preserved: %v", loaded.Frontier)
	}
}

func TestStore_LoadLatest(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	for seq := 1; seq <= 5; seq++ {
		cp := &store.Checkpoint{
			RunID:  "run-seq",
			Seq:    seq,
			State:  map[string]any{"step": seq},
			Status: "running",
		}
		if err := s.Save(ctx, cp); err != nil {
			t.Fatalf("Save seq %d: %v", seq, err)
		}
	}

	latest, err := s.LoadLatest(ctx, "run-seq")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if latest.Seq != 5 {
		t.Errorf("LoadLatest returned seq %d, want 5", latest.Seq)
	}
}

func TestStore_LoadLatestRacingSaves(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	// Saves racing across goroutines must never make LoadLatest return
	// a sequence lower than one it already observed committed.
	var wg sync.WaitGroup
	for seq := 1; seq <= 50; seq++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			_ = s.Save(ctx, &store.Checkpoint{RunID: "run-race", Seq: seq})
		}(seq)
	}
	wg.Wait()

	latest, err := s.LoadLatest(ctx, "run-race")
	if err != nil {
		t.Fatalf("LoadLatest: %v", err)
	}
	if latest.Seq != 50 {
		t.Errorf("LoadLatest returned seq %d, want 50", latest.Seq)
	}
}

func TestStore_MissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	tests := []struct {
		name string
		call func() error
	}{
		{"LoadLatest", func() error { _, err := s.LoadLatest(ctx, "ghost"); return err }},
		{"LoadAt", func() error { _, err := s.LoadAt(ctx, "ghost", 3); return err }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if err == nil {
				t.Fatal("expected error for missing run")
			}
			if !errorsIs(err, store.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_ListOrderedAndClear(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	// Save out of order; List must still come back sorted by seq.
	for _, seq := range []int{3, 1, 2} {
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
	if _, err := s.LoadLatest(ctx, "run-list"); err == nil {
		t.Error("expected error after Clear")
	}
}

func TestStore_SaveIsolatesCaller(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	cp := &store.Checkpoint{RunID: "run-iso", Seq: 1, Status: "running"}
	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// Mutating the caller's record after Save must not affect the store.
	cp.Status = "mangled"

	loaded, err := s.LoadAt(ctx, "run-iso", 1)
	if err != nil {
		t.Fatalf("LoadAt: %v", err)
	}
	if loaded.Status != "running" {
		t.Errorf("store shares memory with caller: status = %q", loaded.Status)
	}
}

// errorsIs avoids importing errors just for one assertion helper.
func errorsIs(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

func ExampleStore() {
	s := New()
	ctx := context.Background()

	_ = s.Save(ctx, &store.Checkpoint{RunID: "run-1", Seq: 1, Status: "running"})
	_ = s.Save(ctx, &store.Checkpoint{RunID: "run-1", Seq: 2, Status: "interrupted"})

	latest, _ := s.LoadLatest(ctx, "run-1")
	fmt.Println(latest.Seq, latest.Status)
	// Output: 2 interrupted
}
