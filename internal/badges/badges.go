// Package badges delivers milestone notifications to whatever issues the
// actual badge or reward. Delivery is at-most-once from the ledger's point of
// view: the ledger notifies after its write commits and never retries.
package badges

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// Issuer receives milestone notifications.
type Issuer interface {
	Notify(ctx context.Context, n Notification) error
}

// Notification describes one milestone reached by one owner.
type Notification struct {
	ID           uuid.UUID       `json:"id"`
	Owner        streak.Identity `json:"owner"`
	Label        string          `json:"label"`
	BadgeID      string          `json:"badge_id"`
	RewardPoints uint64          `json:"reward_points"`
	Threshold    uint64          `json:"threshold"`
	StreakCount  uint64          `json:"streak_count"`
	IssuedAt     time.Time       `json:"issued_at"`
}

var notificationSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:civicstreak:badges"))

// NotificationID is stable for an (owner, badge) pair, so a consumer that
// sees the same id twice can drop the duplicate.
func NotificationID(owner streak.Identity, badgeID string) uuid.UUID {
	name := make([]byte, 0, len(owner)+1+len(badgeID))
	name = append(name, owner[:]...)
	name = append(name, '/')
	name = append(name, badgeID...)
	return uuid.NewSHA1(notificationSpace, name)
}

// NewNotification builds the notification for a MilestoneReached event that
// produced rec.
func NewNotification(rec streak.Record, ev streak.Event) Notification {
	return Notification{
		ID:           NotificationID(rec.Owner, ev.BadgeID),
		Owner:        rec.Owner,
		Label:        ev.Label,
		BadgeID:      ev.BadgeID,
		RewardPoints: ev.RewardPoints,
		Threshold:    ev.Threshold,
		StreakCount:  rec.StreakCount,
		IssuedAt:     time.Unix(rec.LastInteractionTS, 0).UTC(),
	}
}
