// Package recordstore persists streak records keyed by their derived address.
//
// Every store is bound to one namespace. Records are stored in the tagged
// binary layout produced by streak.Encode, and updates are compare-and-write:
// Put succeeds only when the stored bytes still equal the encoding of the
// record the caller read.
package recordstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// ErrConflict is returned by Put when the stored record no longer matches the
// expected one. Callers re-read and retry.
var ErrConflict = errors.New("record modified concurrently")

// Store is the record store contract used by the ledger service.
type Store interface {
	// Get returns the record of owner, or streak.ErrNotFound.
	Get(ctx context.Context, owner streak.Identity) (*streak.Record, error)

	// Create stores rec as the first record of owner, or returns
	// streak.ErrAlreadyExists without touching the existing record.
	Create(ctx context.Context, owner streak.Identity, rec streak.Record) error

	// Put replaces expected with next. It returns streak.ErrNotFound when owner
	// has no record and ErrConflict when the stored record differs from expected.
	Put(ctx context.Context, owner streak.Identity, expected, next streak.Record) error
}

// Scanner iterates every record of a store's namespace.
type Scanner interface {
	Scan(ctx context.Context, fn func(streak.Address, streak.Record) error) error
	Count(ctx context.Context) (int, error)
}

// Backend is a complete store substrate.
type Backend interface {
	Store
	Scanner
	Namespace() streak.Namespace
	Close() error
}

// unavailable wraps a substrate failure so it matches streak.ErrStorageUnavailable.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, streak.ErrStorageUnavailable, err)
}

// checkWrite validates a record before it is written for owner.
func checkWrite(owner streak.Identity, rec streak.Record) error {
	if rec.Owner != owner {
		return fmt.Errorf("record owner %s does not match %s", rec.Owner, owner)
	}
	return rec.Validate()
}
