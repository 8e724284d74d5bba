package streak

import "math"

const (
	// MinInterval is the minimum number of seconds between accepted engagements.
	MinInterval int64 = 24 * 60 * 60

	// MaxInterval is the largest gap, in seconds, that still continues a streak.
	MaxInterval int64 = 48 * 60 * 60
)

// EventKind identifies an event emitted by an accepted engagement.
type EventKind string

const (
	EventStreakContinued  EventKind = "streak_continued"
	EventStreakReset      EventKind = "streak_reset"
	EventMilestoneReached EventKind = "milestone_reached"
)

// Event is emitted by an accepted engagement. Milestone fields are set only
// for EventMilestoneReached.
type Event struct {
	Kind         EventKind `json:"kind"`
	Label        string    `json:"label,omitempty"`
	BadgeID      string    `json:"badge_id,omitempty"`
	RewardPoints uint64    `json:"reward_points,omitempty"`
	Threshold    uint64    `json:"threshold,omitempty"`
	Slot         int       `json:"-"`
}

// Outcome is the result of a state transition.
type Outcome struct {
	Record Record
	Events []Event
}

// Milestones returns the MilestoneReached events of the outcome.
func (o Outcome) Milestones() []Event {
	var out []Event
	for _, ev := range o.Events {
		if ev.Kind == EventMilestoneReached {
			out = append(out, ev)
		}
	}
	return out
}

// Initialize returns the first record of owner, created at now.
func Initialize(owner Identity, now int64) Record {
	return Record{
		Owner:             owner,
		StreakCount:       1,
		LastInteractionTS: now,
		CreatedTS:         now,
	}
}

// Engage applies an engagement at now to rec.
//
// An engagement less than MinInterval after rec.LastInteractionTS returns a
// *TooSoonError and no outcome. A timestamp earlier than the last interaction
// is treated the same way, so LastInteractionTS never moves backwards.
func Engage(rec Record, now int64, table *MilestoneTable) (Outcome, error) {
	elapsed := subSat(now, rec.LastInteractionTS)
	if elapsed < MinInterval {
		return Outcome{}, &TooSoonError{Elapsed: elapsed, Remaining: subSat(MinInterval, elapsed)}
	}

	next := rec
	next.LastInteractionTS = now

	var events []Event
	if elapsed <= MaxInterval {
		if next.StreakCount < math.MaxUint64 {
			next.StreakCount++
		}
		events = append(events, Event{Kind: EventStreakContinued})
	} else {
		next.StreakCount = 1
		events = append(events, Event{Kind: EventStreakReset})
	}

	for slot, m := range table.All() {
		bit := uint8(1) << uint(slot)
		if next.MilestonesClaimed&bit != 0 || m.Threshold != next.StreakCount {
			continue
		}
		next.MilestonesClaimed |= bit
		events = append(events, Event{
			Kind:         EventMilestoneReached,
			Label:        m.Label,
			BadgeID:      m.BadgeID,
			RewardPoints: m.RewardPoints,
			Threshold:    m.Threshold,
			Slot:         slot,
		})
	}

	return Outcome{Record: next, Events: events}, nil
}

// Transition dispatches on whether a record exists: a nil existing record is
// initialized for owner, otherwise the engagement is applied to it.
func Transition(existing *Record, owner Identity, now int64, table *MilestoneTable) (Outcome, error) {
	if existing == nil {
		return Outcome{Record: Initialize(owner, now)}, nil
	}
	return Engage(*existing, now, table)
}

// subSat returns a-b, saturated to the int64 range.
func subSat(a, b int64) int64 {
	d := a - b
	switch {
	case b > 0 && d > a:
		return math.MinInt64
	case b < 0 && d < a:
		return math.MaxInt64
	}
	return d
}
