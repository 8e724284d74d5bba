package recordstore

import (
	"context"
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// CachedStore decorates a Backend with an in-process LRU read cache.
// Concurrent misses for the same owner share one backend read.
//
// A cached record may be stale when other processes write the same backend.
// That is safe for the ledger: a stale record carries an older
// LastInteractionTS, so any write derived from it fails the compare-and-write
// with ErrConflict, which evicts the entry before the caller re-reads.
type CachedStore struct {
	Backend
	cache  *lru.Cache
	group  singleflight.Group
	logger *zap.Logger
}

// NewCachedStore wraps inner with a cache holding up to size records.
func NewCachedStore(inner Backend, size int, logger *zap.Logger) (*CachedStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, fmt.Errorf("create record cache: %w", err)
	}
	return &CachedStore{Backend: inner, cache: cache, logger: logger}, nil
}

// Get implements Store.
func (s *CachedStore) Get(ctx context.Context, owner streak.Identity) (*streak.Record, error) {
	if v, ok := s.cache.Get(owner); ok {
		rec := v.(streak.Record)
		return &rec, nil
	}

	v, err, _ := s.group.Do(owner.String(), func() (any, error) {
		rec, err := s.Backend.Get(ctx, owner)
		if err != nil {
			return nil, err
		}
		s.cache.Add(owner, *rec)
		return *rec, nil
	})
	if err != nil {
		return nil, err
	}
	rec := v.(streak.Record)
	return &rec, nil
}

// Create implements Store.
func (s *CachedStore) Create(ctx context.Context, owner streak.Identity, rec streak.Record) error {
	err := s.Backend.Create(ctx, owner, rec)
	if err != nil {
		s.cache.Remove(owner)
		return err
	}
	s.cache.Add(owner, rec)
	return nil
}

// Put implements Store.
func (s *CachedStore) Put(ctx context.Context, owner streak.Identity, expected, next streak.Record) error {
	err := s.Backend.Put(ctx, owner, expected, next)
	if err != nil {
		s.cache.Remove(owner)
		if errors.Is(err, ErrConflict) {
			s.logger.Debug("evicted stale cached record", zap.String("owner", owner.String()))
		}
		return err
	}
	s.cache.Add(owner, next)
	return nil
}

// Len returns the number of cached records.
func (s *CachedStore) Len() int { return s.cache.Len() }
