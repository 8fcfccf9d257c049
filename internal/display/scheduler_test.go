package display

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"testing"
	"time"

	"framecast/internal/playlist"
)

func rec(id string) playlist.Record {
	return playlist.Record{
		ID:         id,
		URL:        "/videos/submission_" + id + ".mp4",
		EffectMode: playlist.EffectNormal,
		CreatedAt:  time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC),
	}
}

func recs(ids ...string) []playlist.Record {
	out := make([]playlist.Record, len(ids))
	for i, id := range ids {
		out[i] = rec(id)
	}
	return out
}

// staticSource returns a fixed listing or a fixed error.
type staticSource struct {
	mu      sync.Mutex
	records []playlist.Record
	err     error
}

func (s *staticSource) ListAll(ctx context.Context) ([]playlist.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]playlist.Record(nil), s.records...), nil
}

func (s *staticSource) set(records []playlist.Record, err error) {
	s.mu.Lock()
	s.records, s.err = records, err
	s.mu.Unlock()
}

func snapString(s Snapshot) string {
	cur := "-"
	if s.Current != nil {
		cur = s.Current.ID
	}
	return fmt.Sprintf("%s cur=%s queue=%v lib=%d refills=%d", s.State, cur, s.Queue, s.LibrarySize, s.Refills)
}

func seeded() *Scheduler {
	return NewScheduler(rand.New(rand.NewPCG(1, 2)))
}

func TestScheduler_starts_empty(t *testing.T) {
	s := seeded()
	if _, _, ok := s.Advance(); ok {
		t.Fatal("Advance on an empty scheduler must not select anything")
	}
	if got := s.Snapshot().State; got != StateEmpty {
		t.Errorf("expected EMPTY, got %s", got)
	}
}

func TestScheduler_first_reconcile_queues_listing_order(t *testing.T) {
	s := seeded()
	src := &staticSource{records: recs("a", "b", "c")}

	n, err := s.Reconcile(context.Background(), src)
	if err != nil || n != 3 {
		t.Fatalf("Reconcile: n=%d err=%v", n, err)
	}
	snap := s.Snapshot()
	if snap.State != StateQueued {
		t.Errorf("expected QUEUED, got %s", snap.State)
	}
	if fmt.Sprint(snap.Queue) != "[a b c]" || snap.LibrarySize != 3 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestScheduler_new_record_goes_to_front(t *testing.T) {
	s := seeded()
	s.Merge(recs("a", "b"))

	s.Merge(recs("a", "b", "c"))
	if got := fmt.Sprint(s.Snapshot().Queue); got != "[c a b]" {
		t.Errorf("expected [c a b], got %s", got)
	}
}

func TestScheduler_several_new_records_keep_listing_order(t *testing.T) {
	s := seeded()
	s.Merge(recs("a"))
	s.Merge(recs("a", "d", "e"))
	if got := fmt.Sprint(s.Snapshot().Queue); got != "[d e a]" {
		t.Errorf("expected [d e a], got %s", got)
	}
}

func TestScheduler_reconcile_is_idempotent(t *testing.T) {
	s := seeded()
	src := &staticSource{records: recs("a", "b")}
	s.Reconcile(context.Background(), src)
	before := s.Snapshot()

	n, err := s.Reconcile(context.Background(), src)
	if err != nil || n != 0 {
		t.Fatalf("second Reconcile: n=%d err=%v", n, err)
	}
	after := s.Snapshot()
	if snapString(before) != snapString(after) {
		t.Errorf("state changed:\nbefore %s\nafter  %s", snapString(before), snapString(after))
	}
}

func TestScheduler_reconcile_failure_keeps_state(t *testing.T) {
	s := seeded()
	src := &staticSource{records: recs("a", "b")}
	s.Reconcile(context.Background(), src)
	s.Advance()
	before := s.Snapshot()

	src.set(nil, playlist.ErrStoreUnavailable)
	if _, err := s.Reconcile(context.Background(), src); !errors.Is(err, playlist.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if snapString(before) != snapString(s.Snapshot()) {
		t.Errorf("failed reconcile changed state: %s", snapString(s.Snapshot()))
	}
}

func TestScheduler_new_record_does_not_preempt_current(t *testing.T) {
	s := seeded()
	s.Merge(recs("a", "b"))
	cur, _, _ := s.Advance()

	s.Merge(recs("a", "b", "c"))
	snap := s.Snapshot()
	if snap.State != StatePlaying || snap.Current == nil || snap.Current.ID != cur.ID {
		t.Errorf("current item was displaced: %+v", snap)
	}
	if next, _, _ := s.Advance(); next.ID != "c" {
		t.Errorf("expected c next, got %s", next.ID)
	}
}

func TestScheduler_refill_is_permutation_of_library(t *testing.T) {
	s := seeded()
	s.Merge(recs("x", "y", "z"))
	for i := 0; i < 3; i++ {
		s.Advance()
	}

	var picked []string
	for i := 0; i < 3; i++ {
		r, refilled, ok := s.Advance()
		if !ok {
			t.Fatal("Advance stalled with a non-empty library")
		}
		if refilled != (i == 0) {
			t.Errorf("step %d: refilled=%v", i, refilled)
		}
		picked = append(picked, r.ID)
	}
	sort.Strings(picked)
	if fmt.Sprint(picked) != "[x y z]" {
		t.Errorf("refill is not a permutation of the library: %v", picked)
	}
	if s.Snapshot().Refills != 1 {
		t.Errorf("expected one refill, got %d", s.Snapshot().Refills)
	}
}

func TestScheduler_refill_shuffle_is_uniform(t *testing.T) {
	s := NewScheduler(rand.New(rand.NewPCG(7, 11)))
	s.Merge(recs("a", "b", "c"))
	for i := 0; i < 3; i++ {
		s.Advance()
	}

	counts := map[string]int{}
	const rounds = 6000
	for i := 0; i < rounds; i++ {
		var order string
		for j := 0; j < 3; j++ {
			r, _, _ := s.Advance()
			order += r.ID
		}
		counts[order]++
	}
	if len(counts) != 6 {
		t.Fatalf("expected all 6 orders, got %v", counts)
	}
	for order, n := range counts {
		if n < rounds/6*8/10 || n > rounds/6*12/10 {
			t.Errorf("order %s appeared %d times out of %d", order, n, rounds)
		}
	}
}

func TestScheduler_single_item_loops(t *testing.T) {
	s := seeded()
	s.Merge(recs("x"))
	for i := 0; i < 10; i++ {
		r, _, ok := s.Advance()
		if !ok || r.ID != "x" {
			t.Fatalf("iteration %d: got %q ok=%v", i, r.ID, ok)
		}
		if st := s.Snapshot().State; st == StateEmpty {
			t.Fatal("single-item library fell back to EMPTY")
		}
	}
}

func TestScheduler_release(t *testing.T) {
	s := seeded()
	s.Merge(recs("a"))
	s.Advance()
	s.Release()
	snap := s.Snapshot()
	if snap.Current != nil || snap.State != StateRefilling {
		t.Errorf("unexpected snapshot after release %+v", snap)
	}
}

func TestScheduler_ready_signal(t *testing.T) {
	s := seeded()
	select {
	case <-s.Ready():
		t.Fatal("ready before any record")
	default:
	}
	s.Merge(recs("a"))
	select {
	case <-s.Ready():
	default:
		t.Fatal("Merge with new records must signal")
	}
}

func TestScheduler_concurrent_merge_and_advance(t *testing.T) {
	s := seeded()
	const total = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		var listing []playlist.Record
		for i := 0; i < total; i++ {
			listing = append(listing, rec(fmt.Sprintf("r%03d", i)))
			s.Merge(listing)
		}
	}()

	seen := map[string]bool{}
	for len(seen) < total {
		r, refilled, ok := s.Advance()
		if !ok {
			time.Sleep(time.Millisecond)
			continue
		}
		if refilled {
			// Everything not yet seen is in the library and will come back.
			continue
		}
		seen[r.ID] = true
	}
	wg.Wait()

	if got := s.Snapshot().LibrarySize; got != total {
		t.Errorf("library lost records: %d", got)
	}
}
