package state

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store keyed by Ref.Identifier(). It is safe for
// concurrent use and stamps saves the same way persistent stores do.
type MemoryStore[T any] struct {
	mu      sync.RWMutex
	records map[string]memoryRecord[T]
	now     func() time.Time
}

type memoryRecord[T any] struct {
	ref      Ref
	snapshot T
	meta     Meta
}

func NewMemoryStore[T any]() *MemoryStore[T] {
	return &MemoryStore[T]{records: map[string]memoryRecord[T]{}, now: time.Now}
}

func (s *MemoryStore[T]) Load(_ context.Context, ref Ref) (T, Meta, bool, error) {
	var zero T
	key, err := ref.Identifier()
	if err != nil {
		return zero, Meta{}, false, err
	}

	s.mu.RLock()
	record, ok := s.records[key]
	s.mu.RUnlock()
	if !ok {
		return zero, Meta{}, false, nil
	}
	return record.snapshot, cloneMeta(record.meta), true, nil
}

func (s *MemoryStore[T]) Save(_ context.Context, ref Ref, snapshot T, meta Meta) (Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return Meta{}, err
	}
	stamped, err := Stamp(snapshot, meta, s.now())
	if err != nil {
		return Meta{}, err
	}

	s.mu.Lock()
	s.records[key] = memoryRecord[T]{ref: ref, snapshot: snapshot, meta: cloneMeta(stamped)}
	s.mu.Unlock()
	return stamped, nil
}

func (s *MemoryStore[T]) Delete(_ context.Context, ref Ref) error {
	key, err := ref.Identifier()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return ErrNotFound
	}
	delete(s.records, key)
	return nil
}

// List returns the refs of the given kind ordered by identifier. An empty kind
// lists everything.
func (s *MemoryStore[T]) List(_ context.Context, kind Kind) ([]Ref, error) {
	s.mu.RLock()
	keys := make([]string, 0, len(s.records))
	for key, record := range s.records {
		if kind == "" || record.ref.Kind == kind {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	refs := make([]Ref, 0, len(keys))
	for _, key := range keys {
		refs = append(refs, s.records[key].ref)
	}
	s.mu.RUnlock()
	return refs, nil
}
