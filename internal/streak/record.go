package streak

import (
	"fmt"
)

// Record is the per-owner ledger record.
type Record struct {
	Owner             Identity `json:"owner"`
	StreakCount       uint64   `json:"streak_count"`
	LastInteractionTS int64    `json:"last_interaction_ts"`
	CreatedTS         int64    `json:"created_ts"`
	MilestonesClaimed uint8    `json:"milestones_claimed"`
}

// Validate checks the record invariants that hold for every stored record.
func (r Record) Validate() error {
	if r.StreakCount == 0 {
		return fmt.Errorf("streak count must be at least 1")
	}
	if r.LastInteractionTS < r.CreatedTS {
		return fmt.Errorf("last interaction %d precedes creation %d", r.LastInteractionTS, r.CreatedTS)
	}
	return nil
}

// HasMilestone reports whether the milestone in slot has been claimed.
func (r Record) HasMilestone(slot int) bool {
	if slot < 0 || slot >= MaxMilestones {
		return false
	}
	return r.MilestonesClaimed&(1<<uint(slot)) != 0
}

// NextEligibleAt returns the earliest timestamp at which an engagement
// would be accepted.
func (r Record) NextEligibleAt() int64 { return r.LastInteractionTS + MinInterval }

// ExpiresAt returns the last timestamp at which an engagement still continues
// the streak instead of resetting it.
func (r Record) ExpiresAt() int64 { return r.LastInteractionTS + MaxInterval }
