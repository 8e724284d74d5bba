package recordstore

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// MemoryStore is an in-process Backend. It is safe for concurrent use and
// intended for tests and single-instance development.
type MemoryStore struct {
	mu      sync.RWMutex
	ns      streak.Namespace
	records map[streak.Address][]byte
}

// NewMemoryStore returns an empty store bound to ns.
func NewMemoryStore(ns streak.Namespace) *MemoryStore {
	return &MemoryStore{ns: ns, records: make(map[streak.Address][]byte)}
}

// Namespace implements Backend.
func (s *MemoryStore) Namespace() streak.Namespace { return s.ns }

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, owner streak.Identity) (*streak.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("get record", err)
	}
	s.mu.RLock()
	data, ok := s.records[streak.DeriveAddress(s.ns, owner)]
	s.mu.RUnlock()
	if !ok {
		return nil, streak.ErrNotFound
	}
	rec, err := streak.Decode(data)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Create implements Store.
func (s *MemoryStore) Create(ctx context.Context, owner streak.Identity, rec streak.Record) error {
	if err := ctx.Err(); err != nil {
		return unavailable("create record", err)
	}
	if err := checkWrite(owner, rec); err != nil {
		return err
	}
	addr := streak.DeriveAddress(s.ns, owner)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[addr]; ok {
		return streak.ErrAlreadyExists
	}
	s.records[addr] = streak.Encode(rec)
	return nil
}

// Put implements Store.
func (s *MemoryStore) Put(ctx context.Context, owner streak.Identity, expected, next streak.Record) error {
	if err := ctx.Err(); err != nil {
		return unavailable("put record", err)
	}
	if err := checkWrite(owner, next); err != nil {
		return err
	}
	addr := streak.DeriveAddress(s.ns, owner)

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[addr]
	if !ok {
		return streak.ErrNotFound
	}
	if !bytes.Equal(current, streak.Encode(expected)) {
		return ErrConflict
	}
	s.records[addr] = streak.Encode(next)
	return nil
}

// Scan implements Scanner. Records are visited in address order over a
// snapshot taken when Scan starts, so fn may write to the store.
func (s *MemoryStore) Scan(ctx context.Context, fn func(streak.Address, streak.Record) error) error {
	type item struct {
		addr streak.Address
		data []byte
	}
	s.mu.RLock()
	items := make([]item, 0, len(s.records))
	for addr, data := range s.records {
		items = append(items, item{addr, data})
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		return bytes.Compare(items[i].addr[:], items[j].addr[:]) < 0
	})
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return unavailable("scan records", err)
		}
		rec, err := streak.Decode(it.data)
		if err != nil {
			return err
		}
		if err := fn(it.addr, rec); err != nil {
			return err
		}
	}
	return nil
}

// Count implements Scanner.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

// Close implements Backend.
func (s *MemoryStore) Close() error { return nil }
