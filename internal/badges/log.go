package badges

import (
	"context"

	"go.uber.org/zap"
)

// LogIssuer logs notifications instead of delivering them.
type LogIssuer struct {
	logger *zap.Logger
}

// NewLogIssuer creates a LogIssuer.
func NewLogIssuer(logger *zap.Logger) *LogIssuer {
	return &LogIssuer{logger: logger}
}

// Notify implements Issuer.
func (l *LogIssuer) Notify(_ context.Context, n Notification) error {
	l.logger.Info("milestone badge (log only, not delivered)",
		zap.String("id", n.ID.String()),
		zap.String("owner", n.Owner.String()),
		zap.String("badge_id", n.BadgeID),
		zap.String("label", n.Label),
		zap.Uint64("reward_points", n.RewardPoints),
		zap.Uint64("streak_count", n.StreakCount),
	)
	return nil
}
