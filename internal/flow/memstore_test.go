package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestMemStore_PutGetRoundTrip(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()

	state := baseState()
	state.Keywords = []string{"goroutines"}
	if err := s.Put(ctx, state); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.SessionID != state.SessionID || got.CurrentDifficulty != state.CurrentDifficulty {
		t.Errorf("got %+v, want %+v", got, state)
	}
}

func TestMemStore_GetMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemStore_DeleteMissingReturnsNotFound(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	if err := s.Delete(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestMemStore_DeleteRemoves(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()

	state := baseState()
	if err := s.Put(ctx, state); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete(ctx, state.SessionID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, state.SessionID); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound after delete", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, want 0", s.Len())
	}
}

func TestMemStore_PutReplacesWholeDocument(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()

	state := baseState()
	state.Keywords = []string{"a", "b"}
	if err := s.Put(ctx, state); err != nil {
		t.Fatalf("Put: %v", err)
	}

	state.Keywords = []string{"c"}
	state.CurrentDifficulty = 7
	if err := s.Put(ctx, state); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := s.Get(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Keywords) != 1 || got.Keywords[0] != "c" {
		t.Errorf("keywords = %v, want [c]", got.Keywords)
	}
	if got.CurrentDifficulty != 7 {
		t.Errorf("difficulty = %d, want 7", got.CurrentDifficulty)
	}
}

func TestMemStore_StoredStateIsIsolatedFromCaller(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()

	state := baseState()
	state.Keywords = []string{"original"}
	if err := s.Put(ctx, state); err != nil {
		t.Fatalf("Put: %v", err)
	}

	// Mutating the caller's slice must not reach the stored copy.
	state.Keywords[0] = "mutated"

	got, err := s.Get(ctx, state.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Keywords[0] != "original" {
		t.Errorf("stored keyword = %q, caller mutation leaked in", got.Keywords[0])
	}

	// Mutating a returned copy must not reach the store either.
	got.Keywords[0] = "mutated-read"
	again, _ := s.Get(ctx, state.SessionID)
	if again.Keywords[0] != "original" {
		t.Errorf("stored keyword = %q, reader mutation leaked in", again.Keywords[0])
	}
}

func TestMemStore_ZeroValueIsUsable(t *testing.T) {
	t.Parallel()

	var s MemStore
	if err := s.Put(context.Background(), baseState()); err != nil {
		t.Fatalf("Put on zero value: %v", err)
	}
}

func TestMemStore_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	s := NewMemStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			state := baseState()
			state.SessionID = fmt.Sprintf("sess-%d", n)
			if err := s.Put(ctx, state); err != nil {
				t.Errorf("Put: %v", err)
			}
			if _, err := s.Get(ctx, state.SessionID); err != nil {
				t.Errorf("Get: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if s.Len() != 20 {
		t.Errorf("Len = %d, want 20", s.Len())
	}
}
