package display

import (
	"context"
	"math/rand/v2"
	"sync"

	"framecast/internal/playlist"
)

// State is the playback state of a display.
type State string

const (
	StateEmpty     State = "EMPTY"     // no record ever seen
	StateQueued    State = "QUEUED"    // queue non-empty, nothing playing
	StatePlaying   State = "PLAYING"   // one record on the surface
	StateRefilling State = "REFILLING" // queue reshuffled from the library
)

// States lists every State, for metrics labels.
var States = []State{StateEmpty, StateQueued, StatePlaying, StateRefilling}

// Snapshot is a consistent copy of the scheduler state.
type Snapshot struct {
	State       State            `json:"state"`
	Current     *playlist.Record `json:"current,omitempty"`
	Queue       []string         `json:"queue"`
	LibrarySize int              `json:"librarySize"`
	Refills     int              `json:"refills"`
}

// Scheduler owns the playback queue and the library of every record this
// process has seen. Reconcile and Advance are safe to call from different
// goroutines; one mutex orders all mutations of both structures.
type Scheduler struct {
	mu      sync.Mutex
	queue   []playlist.Record
	library []playlist.Record
	seen    map[string]struct{}
	current *playlist.Record
	state   State
	refills int
	rng     *rand.Rand

	ready chan struct{}
}

// NewScheduler returns an empty scheduler. rng drives the refill shuffle; nil
// seeds one from the process-level random source.
func NewScheduler(rng *rand.Rand) *Scheduler {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Scheduler{
		seen:  make(map[string]struct{}),
		state: StateEmpty,
		rng:   rng,
		ready: make(chan struct{}, 1),
	}
}

// Reconcile fetches the full listing from src and merges it. The fetch runs
// without holding the lock so a slow source never stalls Advance. On error
// the queue and library are left untouched.
func (s *Scheduler) Reconcile(ctx context.Context, src Source) (int, error) {
	records, err := src.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	return s.Merge(records), nil
}

// Merge adds every record whose id is not yet in the library, in listing
// order, to the library and to the front of the queue. The record currently
// playing is never displaced. It returns the number of new records.
func (s *Scheduler) Merge(records []playlist.Record) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []playlist.Record
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		if _, ok := s.seen[rec.ID]; ok {
			continue
		}
		s.seen[rec.ID] = struct{}{}
		s.library = append(s.library, rec)
		fresh = append(fresh, rec)
	}
	if len(fresh) == 0 {
		return 0
	}

	queue := make([]playlist.Record, 0, len(fresh)+len(s.queue))
	queue = append(queue, fresh...)
	s.queue = append(queue, s.queue...)

	if s.current == nil {
		s.state = StateQueued
	}
	s.signal()
	return len(fresh)
}

// Advance ends the current item and selects the next one. When the queue is
// exhausted it is rebuilt as a uniform shuffle of the whole library, so the
// display only waits while the library is empty. ok is false in that case and
// the state is EMPTY.
func (s *Scheduler) Advance() (rec playlist.Record, refilled bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	if len(s.queue) == 0 {
		if len(s.library) == 0 {
			s.state = StateEmpty
			return playlist.Record{}, false, false
		}
		s.state = StateRefilling
		s.queue = s.shuffledLibrary()
		s.refills++
		refilled = true
	}

	rec = s.queue[0]
	s.queue[0] = playlist.Record{}
	s.queue = s.queue[1:]
	s.current = &rec
	s.state = StatePlaying
	return rec, refilled, true
}

// Release marks the current item as no longer playing without selecting a
// new one, e.g. on shutdown.
func (s *Scheduler) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = nil
	switch {
	case len(s.queue) > 0:
		s.state = StateQueued
	case len(s.library) > 0:
		s.state = StateRefilling
	default:
		s.state = StateEmpty
	}
}

// Ready is signalled whenever Merge adds records. The signal may be stale;
// callers re-check with Advance.
func (s *Scheduler) Ready() <-chan struct{} {
	return s.ready
}

// Snapshot returns a copy of the current state.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		State:       s.state,
		Queue:       make([]string, len(s.queue)),
		LibrarySize: len(s.library),
		Refills:     s.refills,
	}
	for i, rec := range s.queue {
		snap.Queue[i] = rec.ID
	}
	if s.current != nil {
		cur := *s.current
		snap.Current = &cur
	}
	return snap
}

// shuffledLibrary returns a Fisher-Yates permutation of the library.
// Caller must hold s.mu.
func (s *Scheduler) shuffledLibrary() []playlist.Record {
	out := make([]playlist.Record, len(s.library))
	copy(out, s.library)
	for i := len(out) - 1; i > 0; i-- {
		j := s.rng.IntN(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// signal wakes a waiting playback loop. Caller must hold s.mu.
func (s *Scheduler) signal() {
	select {
	case s.ready <- struct{}{}:
	default:
	}
}
