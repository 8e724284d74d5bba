package streak_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

func TestDefaultMilestoneTable(t *testing.T) {
	table := streak.DefaultMilestoneTable()
	if table.Len() != 6 {
		t.Fatalf("Len = %d, want 6", table.Len())
	}
	all := table.All()
	if all[0].Threshold != 7 || all[5].Threshold != 100 {
		t.Errorf("unexpected ladder %+v", all)
	}
	if all[3].BadgeID != "democracy-hero" {
		t.Errorf("BadgeID = %q, want democracy-hero", all[3].BadgeID)
	}

	all[0].Label = "changed"
	if table.All()[0].Label != "Civic Starter" {
		t.Error("All must return a copy")
	}
}

func TestNewMilestoneTable_validation(t *testing.T) {
	nine := make([]streak.Milestone, 9)
	for i := range nine {
		nine[i] = streak.Milestone{Threshold: uint64(i + 2), Label: string(rune('a' + i))}
	}

	cases := map[string][]streak.Milestone{
		"too many":       nine,
		"empty label":    {{Threshold: 7, Label: "  "}},
		"threshold one":  {{Threshold: 1, Label: "first"}},
		"duplicate":      {{Threshold: 7, Label: "a"}, {Threshold: 7, Label: "b"}},
		"descending":     {{Threshold: 14, Label: "a"}, {Threshold: 7, Label: "b"}},
		"same badge id":  {{Threshold: 7, Label: "Civic Star"}, {Threshold: 14, Label: "civic star"}},
		"explicit clash": {{Threshold: 7, Label: "a", BadgeID: "x"}, {Threshold: 14, Label: "b", BadgeID: "x"}},
	}
	for name, ms := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := streak.NewMilestoneTable(ms); !errors.Is(err, streak.ErrInvalidMilestones) {
				t.Errorf("expected ErrInvalidMilestones, got %v", err)
			}
		})
	}

	empty, err := streak.NewMilestoneTable(nil)
	if err != nil || empty.Len() != 0 {
		t.Errorf("empty table: len=%d err=%v", empty.Len(), err)
	}
}

func TestParseMilestoneTable(t *testing.T) {
	doc := `
[[milestone]]
threshold = 3
label = "Warm Up"
reward_points = 10

[[milestone]]
threshold = 10
label = "Regular"
reward_points = 40
badge_id = "regular-voter"
`
	table, err := streak.ParseMilestoneTable([]byte(doc))
	if err != nil {
		t.Fatalf("ParseMilestoneTable: %v", err)
	}
	all := table.All()
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}
	if all[0].BadgeID != "warm-up" || all[1].BadgeID != "regular-voter" {
		t.Errorf("badge ids = %q, %q", all[0].BadgeID, all[1].BadgeID)
	}
	if all[1].RewardPoints != 40 {
		t.Errorf("RewardPoints = %d, want 40", all[1].RewardPoints)
	}

	if _, err := streak.ParseMilestoneTable([]byte("[[milestone]]\nthreshold = 3\nlabel = \"x\"\ncolour = \"red\"\n")); !errors.Is(err, streak.ErrInvalidMilestones) {
		t.Errorf("unknown field: expected ErrInvalidMilestones, got %v", err)
	}
}

func TestLoadMilestoneTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "milestones.toml")
	if err := os.WriteFile(path, []byte("[[milestone]]\nthreshold = 5\nlabel = \"Five\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	table, err := streak.LoadMilestoneTable(path)
	if err != nil {
		t.Fatal(err)
	}
	if m, ok := table.Next(1); !ok || m.Threshold != 5 {
		t.Errorf("Next(1) = %+v, %v", m, ok)
	}
	if _, ok := table.Next(5); ok {
		t.Error("Next(5) should report no further milestone")
	}

	if _, err := streak.LoadMilestoneTable(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("missing file should fail")
	}
}

func TestMilestoneTable_Claimed(t *testing.T) {
	table := streak.DefaultMilestoneTable()
	got := table.Claimed(0b100101)
	if len(got) != 3 || got[0].Threshold != 7 || got[1].Threshold != 21 || got[2].Threshold != 100 {
		t.Errorf("Claimed = %+v", got)
	}
}
