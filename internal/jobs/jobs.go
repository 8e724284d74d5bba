// Package jobs runs the daemon's periodic background work on a gocron
// scheduler: record gauges, snapshot exports and journal verification.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/journal"
	"github.com/jmerrifield20/civicstreak/internal/metrics"
	"github.com/jmerrifield20/civicstreak/internal/snapshot"
	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// Counter reports how many records a store holds.
type Counter interface {
	Count(ctx context.Context) (int, error)
}

// Exporter writes a snapshot.
type Exporter interface {
	Export(ctx context.Context) (*snapshot.Manifest, error)
}

// Scheduler wraps a gocron scheduler. Jobs run in singleton mode: a run that
// is still going when the next is due causes that next run to be skipped.
type Scheduler struct {
	sched  gocron.Scheduler
	ctx    context.Context
	logger *zap.Logger
}

// New creates a Scheduler whose jobs run with ctx.
func New(ctx context.Context, logger *zap.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{sched: sched, ctx: ctx, logger: logger}, nil
}

func (s *Scheduler) add(name string, every time.Duration, fn func(context.Context)) error {
	_, err := s.sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() { fn(s.ctx) }),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	s.logger.Info("job scheduled", zap.String("job", name), zap.Duration("every", every))
	return nil
}

// AddRecordGauge refreshes the record count gauge of ns every interval.
func (s *Scheduler) AddRecordGauge(every time.Duration, c Counter, ns streak.Namespace) error {
	return s.add("record_gauge", every, func(ctx context.Context) {
		RecordGauge(ctx, c, ns, s.logger)
	})
}

// AddSnapshot exports a snapshot every interval.
func (s *Scheduler) AddSnapshot(every time.Duration, e Exporter) error {
	return s.add("snapshot", every, func(ctx context.Context) {
		Snapshot(ctx, e, s.logger)
	})
}

// AddJournalVerify verifies the journal chain every interval.
func (s *Scheduler) AddJournalVerify(every time.Duration, j journal.Journal) error {
	return s.add("journal_verify", every, func(ctx context.Context) {
		VerifyJournal(ctx, j, s.logger)
	})
}

// Len returns the number of scheduled jobs.
func (s *Scheduler) Len() int { return len(s.sched.Jobs()) }

// Start starts the scheduler.
func (s *Scheduler) Start() { s.sched.Start() }

// Shutdown stops the scheduler and waits for running jobs.
func (s *Scheduler) Shutdown() error { return s.sched.Shutdown() }

// RecordGauge sets the record count gauge of ns.
func RecordGauge(ctx context.Context, c Counter, ns streak.Namespace, logger *zap.Logger) {
	n, err := c.Count(ctx)
	if err != nil {
		logger.Warn("count records", zap.Error(err))
		return
	}
	metrics.SetRecords(ns, n)
}

// Snapshot exports one snapshot and records the result.
func Snapshot(ctx context.Context, e Exporter, logger *zap.Logger) {
	m, err := e.Export(ctx)
	metrics.RecordSnapshot(err == nil)
	if err != nil {
		logger.Error("scheduled snapshot failed", zap.Error(err))
		return
	}
	logger.Info("scheduled snapshot exported",
		zap.String("key", m.DataKey),
		zap.Int("records", m.Records),
	)
}

// VerifyJournal walks the journal chain and records the result.
func VerifyJournal(ctx context.Context, j journal.Journal, logger *zap.Logger) {
	err := j.Verify(ctx)
	metrics.RecordJournalVerify(err == nil)
	if err != nil {
		logger.Error("journal integrity check failed", zap.Error(err))
	}
}
