package playlist

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrStoreUnavailable wraps any failure of the backing engine. It is
	// transient from the caller's point of view.
	ErrStoreUnavailable = errors.New("playlist store unavailable")

	// ErrDuplicateID is returned by Append when a record with the same id
	// already exists.
	ErrDuplicateID = errors.New("record id already exists")

	// ErrInvalidRecord is returned by Append for records missing required
	// fields.
	ErrInvalidRecord = errors.New("invalid record")
)

// Store is the append-only, insertion-ordered collection of published records.
// Append is durable and visible to every subsequent ListAll once it returns.
// Implementations must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, rec Record) error
	ListAll(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id string) (Record, bool, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// InMemoryStore is a process-local Store. It does not survive restarts and is
// meant for tests and throwaway runs.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
	index   map[string]int
}

// NewInMemoryStore returns a new empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{index: make(map[string]int)}
}

// Append implements Store.Append.
func (s *InMemoryStore) Append(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.index[rec.ID]; exists {
		return ErrDuplicateID
	}
	s.index[rec.ID] = len(s.records)
	s.records = append(s.records, rec)
	return nil
}

// ListAll implements Store.ListAll. The returned slice is a copy.
func (s *InMemoryStore) ListAll(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}

// Get implements Store.Get.
func (s *InMemoryStore) Get(ctx context.Context, id string) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return Record{}, false, nil
	}
	return s.records[i], true, nil
}

// Count implements Store.Count.
func (s *InMemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Close implements Store.Close.
func (s *InMemoryStore) Close() error { return nil }
