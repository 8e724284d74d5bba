// Package journal keeps an append-only SHA-256 hash chain of accepted streak
// transitions. The fixed-width ledger record only holds the latest state; the
// journal holds how it got there.
package journal

import (
	"context"
	"errors"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// Action names a journalled transition.
type Action string

const (
	ActionGenesis          Action = "genesis"
	ActionInitialize       Action = "initialize"
	ActionStreakContinued  Action = "streak_continued"
	ActionStreakReset      Action = "streak_reset"
	ActionMilestoneReached Action = "milestone_reached"
)

// ActionFor maps an engine event kind to its journal action.
func ActionFor(kind streak.EventKind) Action {
	switch kind {
	case streak.EventStreakContinued:
		return ActionStreakContinued
	case streak.EventStreakReset:
		return ActionStreakReset
	case streak.EventMilestoneReached:
		return ActionMilestoneReached
	}
	return Action(kind)
}

// ErrEntryNotFound is returned by Get for an index outside the chain.
var ErrEntryNotFound = errors.New("journal entry not found")

// Journal is implemented by MemoryJournal and PostgresJournal.
type Journal interface {
	// Append chains a new entry for a transition of owner that produced rec.
	// The entry timestamp is rec.LastInteractionTS, the time the ledger
	// accepted the transition.
	Append(ctx context.Context, owner streak.Identity, action Action, rec streak.Record, detail string) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// List returns up to limit entries starting at offset, oldest first.
	List(ctx context.Context, offset, limit int) ([]*Entry, error)

	// Len returns the number of entries including genesis.
	Len(ctx context.Context) (int, error)

	// Verify walks the chain and returns nil when every link is intact.
	Verify(ctx context.Context) error

	// Root returns the hash of the chain tip.
	Root(ctx context.Context) (string, error)
}
