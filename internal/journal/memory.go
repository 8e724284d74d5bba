package journal

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// MemoryJournal is an in-process Journal. It is lost on restart.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []*Entry
}

// NewMemory returns a journal holding only the genesis entry.
func NewMemory() *MemoryJournal {
	return &MemoryJournal{entries: []*Entry{genesisEntry()}}
}

// Append implements Journal.
func (j *MemoryJournal) Append(_ context.Context, owner streak.Identity, action Action, rec streak.Record, detail string) (*Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	prev := j.entries[len(j.entries)-1]
	e := newEntry(len(j.entries), prev.Hash, owner, action, rec, detail)
	j.entries = append(j.entries, e)
	return e, nil
}

// Get implements Journal.
func (j *MemoryJournal) Get(_ context.Context, index int) (*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if index < 0 || index >= len(j.entries) {
		return nil, fmt.Errorf("%w: index %d", ErrEntryNotFound, index)
	}
	e := *j.entries[index]
	return &e, nil
}

// List implements Journal.
func (j *MemoryJournal) List(_ context.Context, offset, limit int) ([]*Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if offset < 0 || offset >= len(j.entries) || limit <= 0 {
		return nil, nil
	}
	end := min(offset+limit, len(j.entries))
	out := make([]*Entry, 0, end-offset)
	for _, e := range j.entries[offset:end] {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

// Len implements Journal.
func (j *MemoryJournal) Len(_ context.Context) (int, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries), nil
}

// Verify implements Journal.
func (j *MemoryJournal) Verify(_ context.Context) error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var prev *Entry
	for _, curr := range j.entries {
		if err := verifyLink(prev, curr); err != nil {
			return err
		}
		prev = curr
	}
	return nil
}

// Root implements Journal.
func (j *MemoryJournal) Root(_ context.Context) (string, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.entries[len(j.entries)-1].Hash, nil
}
