// Package ledger applies owner intents to the record store through the streak
// engine and forwards committed events to the journal, metrics and badge
// issuer.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/badges"
	"github.com/jmerrifield20/civicstreak/internal/journal"
	"github.com/jmerrifield20/civicstreak/internal/recordstore"
	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// DefaultMaxCASAttempts bounds compare-and-write retries per engagement.
const DefaultMaxCASAttempts = 5

// ErrOwnerMismatch is returned when the authenticated caller tries to create
// a record for a different owner.
var ErrOwnerMismatch = errors.New("caller is not the record owner")

// Operation names used for tracing and metrics.
const (
	OpInitialize       = "initialize"
	OpRecordEngagement = "record_engagement"
)

// OutcomeAccepted is reported for operations that committed.
const OutcomeAccepted = "accepted"

// Recorder receives operation outcomes and committed events.
type Recorder interface {
	ObserveOperation(op, outcome string, d time.Duration)
	ObserveEvent(ev streak.Event)
}

// Result is returned by a committed operation.
type Result struct {
	Record  streak.Record  `json:"record"`
	Events  []streak.Event `json:"events"`
	Address streak.Address `json:"address"`
}

// Service is the ledger's single entry point for mutations.
type Service struct {
	store       recordstore.Store
	table       *streak.MilestoneTable
	clock       Clock
	ns          streak.Namespace
	issuer      badges.Issuer
	journal     journal.Journal
	recorder    Recorder
	maxAttempts int
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewService creates a Service. Records are addressed under ns, which must be
// the namespace store is bound to.
func NewService(store recordstore.Store, table *streak.MilestoneTable, clock Clock, ns streak.Namespace, logger *zap.Logger) *Service {
	return &Service{
		store:       store,
		table:       table,
		clock:       clock,
		ns:          ns,
		maxAttempts: DefaultMaxCASAttempts,
		tracer:      otel.Tracer("github.com/jmerrifield20/civicstreak/internal/ledger"),
		logger:      logger,
	}
}

// SetIssuer configures the badge issuer notified of reached milestones.
func (s *Service) SetIssuer(is badges.Issuer) { s.issuer = is }

// SetJournal configures the journal that records committed transitions.
func (s *Service) SetJournal(j journal.Journal) { s.journal = j }

// SetRecorder configures the metrics recorder.
func (s *Service) SetRecorder(r Recorder) { s.recorder = r }

// SetMaxCASAttempts overrides DefaultMaxCASAttempts. Values below 1 are ignored.
func (s *Service) SetMaxCASAttempts(n int) {
	if n >= 1 {
		s.maxAttempts = n
	}
}

// Namespace returns the namespace records are addressed under.
func (s *Service) Namespace() streak.Namespace { return s.ns }

// Milestones returns the milestone table.
func (s *Service) Milestones() *streak.MilestoneTable { return s.table }

// Address returns the derived storage address of owner's record.
func (s *Service) Address(owner streak.Identity) streak.Address {
	return streak.DeriveAddress(s.ns, owner)
}

// Get returns the record of owner.
func (s *Service) Get(ctx context.Context, owner streak.Identity) (*streak.Record, error) {
	return s.store.Get(ctx, owner)
}

// Initialize creates the record of owner. caller is the authenticated
// identity making the request and must equal owner.
func (s *Service) Initialize(ctx context.Context, caller, owner streak.Identity) (res Result, err error) {
	ctx, done := s.begin(ctx, OpInitialize, owner)
	defer func() { done(err) }()

	if caller != owner {
		return Result{}, ErrOwnerMismatch
	}

	now := s.clock.Now()
	out, err := streak.Transition(nil, owner, now, s.table)
	if err != nil {
		return Result{}, err
	}
	if err := s.store.Create(ctx, owner, out.Record); err != nil {
		return Result{}, err
	}

	s.logger.Info("streak record initialized",
		zap.String("owner", owner.String()),
		zap.Int64("created_ts", now),
	)
	s.appendJournal(ctx, owner, journal.ActionInitialize, out.Record, "")
	return Result{Record: out.Record, Events: []streak.Event{}, Address: s.Address(owner)}, nil
}

// RecordEngagement applies an engagement by owner at the current clock time.
// The clock is read once; conflicting concurrent writes are retried against
// that same time, so at most one engagement per window is accepted.
func (s *Service) RecordEngagement(ctx context.Context, owner streak.Identity) (res Result, err error) {
	ctx, done := s.begin(ctx, OpRecordEngagement, owner)
	defer func() { done(err) }()

	now := s.clock.Now()
	for attempt := 1; ; attempt++ {
		current, err := s.store.Get(ctx, owner)
		if err != nil {
			return Result{}, err
		}
		out, err := streak.Engage(*current, now, s.table)
		if err != nil {
			return Result{}, err
		}

		err = s.store.Put(ctx, owner, *current, out.Record)
		if errors.Is(err, recordstore.ErrConflict) {
			if attempt >= s.maxAttempts {
				return Result{}, fmt.Errorf("%w: %d compare-and-write attempts conflicted", streak.ErrStorageUnavailable, attempt)
			}
			s.logger.Debug("record changed concurrently, retrying",
				zap.String("owner", owner.String()),
				zap.Int("attempt", attempt),
			)
			continue
		}
		if err != nil {
			return Result{}, err
		}

		s.committed(ctx, out)
		return Result{Record: out.Record, Events: out.Events, Address: s.Address(owner)}, nil
	}
}

// committed runs the post-commit side effects of an engagement. Failures are
// logged and never undo the write.
func (s *Service) committed(ctx context.Context, out streak.Outcome) {
	rec := out.Record
	s.logger.Info("engagement recorded",
		zap.String("owner", rec.Owner.String()),
		zap.Uint64("streak_count", rec.StreakCount),
		zap.Int64("last_interaction_ts", rec.LastInteractionTS),
		zap.Int("events", len(out.Events)),
	)

	for _, ev := range out.Events {
		if s.recorder != nil {
			s.recorder.ObserveEvent(ev)
		}
		s.appendJournal(ctx, rec.Owner, journal.ActionFor(ev.Kind), rec, ev.BadgeID)

		if ev.Kind != streak.EventMilestoneReached || s.issuer == nil {
			continue
		}
		n := badges.NewNotification(rec, ev)
		if err := s.issuer.Notify(ctx, n); err != nil {
			s.logger.Error("badge notification failed",
				zap.String("owner", rec.Owner.String()),
				zap.String("badge_id", ev.BadgeID),
				zap.String("notification_id", n.ID.String()),
				zap.Error(err),
			)
		}
	}
}

func (s *Service) appendJournal(ctx context.Context, owner streak.Identity, action journal.Action, rec streak.Record, detail string) {
	if s.journal == nil {
		return
	}
	if _, err := s.journal.Append(ctx, owner, action, rec, detail); err != nil {
		s.logger.Warn("journal append failed",
			zap.String("owner", owner.String()),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
}

// begin starts the span for op and returns a func that ends it and records
// the outcome.
func (s *Service) begin(ctx context.Context, op string, owner streak.Identity) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "ledger."+op,
		trace.WithAttributes(attribute.String("civicstreak.owner", owner.String())),
	)
	return ctx, func(err error) {
		outcome := Outcome(err)
		span.SetAttributes(attribute.String("civicstreak.outcome", outcome))
		if errors.Is(err, streak.ErrStorageUnavailable) || outcome == streak.ReasonInternal {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if s.recorder != nil {
			s.recorder.ObserveOperation(op, outcome, time.Since(start))
		}
	}
}

// Outcome labels the result of an operation: OutcomeAccepted, "owner_mismatch"
// or the reason code of err.
func Outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeAccepted
	case errors.Is(err, ErrOwnerMismatch):
		return "owner_mismatch"
	default:
		return streak.Reason(err)
	}
}
