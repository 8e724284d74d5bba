package streak_test

import (
	"errors"
	"math"
	"testing"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

const hour = int64(60 * 60)

func owner(b byte) streak.Identity {
	var id streak.Identity
	for i := range id {
		id[i] = b
	}
	return id
}

func sevenDayTable(t *testing.T) *streak.MilestoneTable {
	t.Helper()
	table, err := streak.NewMilestoneTable([]streak.Milestone{
		{Threshold: 7, Label: "Civic Starter", RewardPoints: 100},
		{Threshold: 14, Label: "Consistent Citizen", RewardPoints: 150},
	})
	if err != nil {
		t.Fatal(err)
	}
	return table
}

func mustEngage(t *testing.T, rec streak.Record, now int64, table *streak.MilestoneTable) streak.Outcome {
	t.Helper()
	out, err := streak.Engage(rec, now, table)
	if err != nil {
		t.Fatalf("Engage(now=%d): %v", now, err)
	}
	return out
}

func TestInitialize_scenarioA(t *testing.T) {
	out, err := streak.Transition(nil, owner(1), 1000, sevenDayTable(t))
	if err != nil {
		t.Fatal(err)
	}
	want := streak.Record{Owner: owner(1), StreakCount: 1, LastInteractionTS: 1000, CreatedTS: 1000}
	if out.Record != want {
		t.Errorf("record = %+v, want %+v", out.Record, want)
	}
	if len(out.Events) != 0 {
		t.Errorf("expected no events, got %v", out.Events)
	}
}

func TestEngage_tooSoon_scenarioB(t *testing.T) {
	rec := streak.Initialize(owner(1), 1000)

	_, err := streak.Engage(rec, 1000+23*hour, sevenDayTable(t))
	if !errors.Is(err, streak.ErrTooSoon) {
		t.Fatalf("expected ErrTooSoon, got %v", err)
	}
	var tooSoon *streak.TooSoonError
	if !errors.As(err, &tooSoon) {
		t.Fatalf("expected *TooSoonError, got %T", err)
	}
	if tooSoon.Remaining != hour {
		t.Errorf("Remaining = %d, want %d", tooSoon.Remaining, hour)
	}
	if rec.StreakCount != 1 || rec.LastInteractionTS != 1000 {
		t.Errorf("record mutated: %+v", rec)
	}
}

func TestEngage_continues_scenarioC(t *testing.T) {
	rec := streak.Initialize(owner(1), 1000)
	out := mustEngage(t, rec, 1000+30*hour, sevenDayTable(t))

	if out.Record.StreakCount != 2 {
		t.Errorf("StreakCount = %d, want 2", out.Record.StreakCount)
	}
	if len(out.Events) != 1 || out.Events[0].Kind != streak.EventStreakContinued {
		t.Errorf("events = %v, want [StreakContinued]", out.Events)
	}
	if out.Record.LastInteractionTS != 1000+30*hour {
		t.Errorf("LastInteractionTS = %d", out.Record.LastInteractionTS)
	}
	if out.Record.CreatedTS != 1000 {
		t.Errorf("CreatedTS changed to %d", out.Record.CreatedTS)
	}
}

func TestEngage_milestoneOnExactThreshold_scenarioD(t *testing.T) {
	table := sevenDayTable(t)
	now := int64(1000)
	rec := streak.Initialize(owner(1), now)

	now += 30 * hour
	rec = mustEngage(t, rec, now, table).Record

	var milestoneAt []uint64
	for i := 0; i < 6; i++ {
		now += 30 * hour
		out := mustEngage(t, rec, now, table)
		for _, ev := range out.Milestones() {
			if ev.Label != "Civic Starter" || ev.RewardPoints != 100 || ev.BadgeID != "civic-starter" {
				t.Errorf("unexpected milestone event %+v", ev)
			}
			milestoneAt = append(milestoneAt, out.Record.StreakCount)
		}
		rec = out.Record
	}

	if rec.StreakCount != 8 {
		t.Fatalf("StreakCount = %d, want 8", rec.StreakCount)
	}
	if len(milestoneAt) != 1 || milestoneAt[0] != 7 {
		t.Errorf("milestone emitted at counts %v, want [7]", milestoneAt)
	}
	if !rec.HasMilestone(0) {
		t.Error("slot 0 should be claimed")
	}
}

func TestEngage_resetKeepsMilestones_scenarioE(t *testing.T) {
	table := sevenDayTable(t)
	rec := streak.Record{Owner: owner(1), StreakCount: 8, CreatedTS: 1000, LastInteractionTS: 1000 + 200*hour, MilestonesClaimed: 0b1}

	out := mustEngage(t, rec, rec.LastInteractionTS+50*hour, table)
	if out.Record.StreakCount != 1 {
		t.Errorf("StreakCount = %d, want 1", out.Record.StreakCount)
	}
	if len(out.Events) != 1 || out.Events[0].Kind != streak.EventStreakReset {
		t.Errorf("events = %v, want [StreakReset]", out.Events)
	}
	if out.Record.MilestonesClaimed != 0b1 {
		t.Errorf("MilestonesClaimed = %08b, want 00000001", out.Record.MilestonesClaimed)
	}
	if out.Record.CreatedTS != 1000 {
		t.Errorf("CreatedTS = %d, want 1000", out.Record.CreatedTS)
	}
}

func TestEngage_windowBoundaries(t *testing.T) {
	rec := streak.Initialize(owner(2), 0)
	cases := []struct {
		name    string
		elapsed int64
		tooSoon bool
		count   uint64
	}{
		{"one second short of min", streak.MinInterval - 1, true, 0},
		{"exactly min", streak.MinInterval, false, 2},
		{"exactly max", streak.MaxInterval, false, 2},
		{"one second past max", streak.MaxInterval + 1, false, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out, err := streak.Engage(rec, tc.elapsed, nil)
			if tc.tooSoon {
				if !errors.Is(err, streak.ErrTooSoon) {
					t.Fatalf("expected ErrTooSoon, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if out.Record.StreakCount != tc.count {
				t.Errorf("StreakCount = %d, want %d", out.Record.StreakCount, tc.count)
			}
		})
	}
}

func TestEngage_monotonicIncrementLaw(t *testing.T) {
	gaps := []int64{24 * hour, 48 * hour, 36 * hour, 25 * hour, 47 * hour, 24 * hour, 30 * hour, 40 * hour, 33 * hour}
	now := int64(5000)
	rec := streak.Initialize(owner(3), now)
	for i, gap := range gaps {
		now += gap
		rec = mustEngage(t, rec, now, streak.DefaultMilestoneTable()).Record
		if want := uint64(i + 2); rec.StreakCount != want {
			t.Fatalf("after %d engagements StreakCount = %d, want %d", i+1, rec.StreakCount, want)
		}
	}
}

func TestEngage_resetLaw(t *testing.T) {
	for _, prior := range []uint64{1, 2, 7, 99, 1 << 40} {
		rec := streak.Record{Owner: owner(4), StreakCount: prior, CreatedTS: 0, LastInteractionTS: 10}
		out := mustEngage(t, rec, 10+streak.MaxInterval+1, streak.DefaultMilestoneTable())
		if out.Record.StreakCount != 1 {
			t.Errorf("prior %d: StreakCount = %d, want 1", prior, out.Record.StreakCount)
		}
	}
}

func TestEngage_overshootDoesNotClaim(t *testing.T) {
	table := sevenDayTable(t)
	// A streak that passed 7 without the slot being set (e.g. the table gained
	// the milestone later) does not claim it retroactively.
	rec := streak.Record{Owner: owner(5), StreakCount: 9, LastInteractionTS: 100}
	out := mustEngage(t, rec, 100+30*hour, table)
	if out.Record.StreakCount != 10 {
		t.Fatalf("StreakCount = %d", out.Record.StreakCount)
	}
	if out.Record.MilestonesClaimed != 0 || len(out.Milestones()) != 0 {
		t.Errorf("overshoot claimed a milestone: %+v", out)
	}
}

func TestEngage_claimedMilestoneNotReissued(t *testing.T) {
	table := sevenDayTable(t)
	// Reset after claiming 7, then climb back to 7.
	now := int64(0)
	rec := streak.Record{Owner: owner(6), StreakCount: 1, LastInteractionTS: now, MilestonesClaimed: 0b1}
	for i := 0; i < 6; i++ {
		now += 30 * hour
		out := mustEngage(t, rec, now, table)
		if len(out.Milestones()) != 0 {
			t.Fatalf("milestone re-emitted at count %d", out.Record.StreakCount)
		}
		rec = out.Record
	}
	if rec.StreakCount != 7 {
		t.Fatalf("StreakCount = %d, want 7", rec.StreakCount)
	}
}

func TestEngage_bitmaskNeverCleared(t *testing.T) {
	table := streak.DefaultMilestoneTable()
	now := int64(0)
	rec := streak.Initialize(owner(7), now)
	var mask uint8
	gaps := []int64{30, 30, 30, 30, 30, 30, 60, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30, 30}
	for _, g := range gaps {
		now += g * hour
		rec = mustEngage(t, rec, now, table).Record
		if rec.MilestonesClaimed&mask != mask {
			t.Fatalf("bit cleared: before %08b after %08b", mask, rec.MilestonesClaimed)
		}
		mask = rec.MilestonesClaimed
	}
	if !rec.HasMilestone(0) || !rec.HasMilestone(1) {
		t.Errorf("expected slots 0 and 1 claimed, mask %08b", rec.MilestonesClaimed)
	}
}

func TestEngage_retryWithSameOrEarlierNowStaysRejected(t *testing.T) {
	rec := streak.Initialize(owner(8), 1000)
	for _, now := range []int64{1000 + 23*hour, 1000 + 23*hour, 1000, 999, -5} {
		if _, err := streak.Engage(rec, now, nil); !errors.Is(err, streak.ErrTooSoon) {
			t.Errorf("now=%d: expected ErrTooSoon, got %v", now, err)
		}
	}
}

func TestReason(t *testing.T) {
	cases := map[error]string{
		nil:                          "",
		streak.ErrAlreadyExists:      streak.ReasonAlreadyExists,
		streak.ErrNotFound:           streak.ReasonNotFound,
		&streak.TooSoonError{}:       streak.ReasonTooSoon,
		streak.ErrStorageUnavailable: streak.ReasonStorageUnavailable,
		errors.New("boom"):           streak.ReasonInternal,
	}
	for err, want := range cases {
		if got := streak.Reason(err); got != want {
			t.Errorf("Reason(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestEngage_extremeTimestampsSaturate(t *testing.T) {
	t.Run("far future resets", func(t *testing.T) {
		rec := streak.Record{Owner: owner(9), StreakCount: 3, LastInteractionTS: -1, CreatedTS: -1}
		out, err := streak.Engage(rec, math.MaxInt64, nil)
		if err != nil {
			t.Fatalf("Engage: %v", err)
		}
		if out.Record.StreakCount != 1 || out.Record.LastInteractionTS != math.MaxInt64 {
			t.Errorf("expected reset at MaxInt64, got %+v", out.Record)
		}
	})

	t.Run("far past stays rejected", func(t *testing.T) {
		rec := streak.Record{Owner: owner(9), StreakCount: 3, LastInteractionTS: math.MaxInt64, CreatedTS: 0}
		_, err := streak.Engage(rec, math.MinInt64, nil)
		var tooSoon *streak.TooSoonError
		if !errors.As(err, &tooSoon) {
			t.Fatalf("expected TooSoonError, got %v", err)
		}
		if tooSoon.Elapsed != math.MinInt64 || tooSoon.Remaining != math.MaxInt64 {
			t.Errorf("expected saturated values, got elapsed=%d remaining=%d", tooSoon.Elapsed, tooSoon.Remaining)
		}
		if tooSoon.RetryAfter() <= 0 {
			t.Errorf("RetryAfter overflowed: %v", tooSoon.RetryAfter())
		}
	})
}
