package client

import (
	"time"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// Prediction is the expected outcome of an engagement. It is computed
// locally and may differ from the server's result, which always wins.
type Prediction struct {
	Record Record
	Events []Event
}

// PredictEngagement applies an engagement at now to rec using the given
// milestone table (as returned by Milestones). It returns an error matching
// ErrTooSoon when the server would reject the engagement.
func PredictEngagement(rec Record, now time.Time, milestones []Milestone) (*Prediction, error) {
	owner, err := streak.ParseIdentity(rec.Owner)
	if err != nil {
		return nil, err
	}
	ms := make([]streak.Milestone, len(milestones))
	for i, m := range milestones {
		ms[i] = streak.Milestone{Threshold: m.Threshold, Label: m.Label, RewardPoints: m.RewardPoints, BadgeID: m.BadgeID}
	}
	table, err := streak.NewMilestoneTable(ms)
	if err != nil {
		return nil, err
	}

	out, err := streak.Engage(streak.Record{
		Owner:             owner,
		StreakCount:       rec.StreakCount,
		LastInteractionTS: rec.LastInteractionTS,
		CreatedTS:         rec.CreatedTS,
		MilestonesClaimed: rec.MilestonesClaimed,
	}, now.Unix(), table)
	if err != nil {
		return nil, err
	}

	p := &Prediction{Record: Record{
		Owner:             rec.Owner,
		StreakCount:       out.Record.StreakCount,
		LastInteractionTS: out.Record.LastInteractionTS,
		CreatedTS:         out.Record.CreatedTS,
		MilestonesClaimed: out.Record.MilestonesClaimed,
	}}
	for _, ev := range out.Events {
		p.Events = append(p.Events, Event{
			Kind:         string(ev.Kind),
			Label:        ev.Label,
			BadgeID:      ev.BadgeID,
			RewardPoints: ev.RewardPoints,
			Threshold:    ev.Threshold,
		})
	}
	return p, nil
}
