package journal

import (
	"context"
	"testing"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

func TestVerify_detectsTampering(t *testing.T) {
	j := NewMemory()
	var id streak.Identity
	id[0] = 7
	rec := streak.Initialize(id, 100)
	if _, err := j.Append(context.Background(), id, ActionInitialize, rec, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := j.Append(context.Background(), id, ActionMilestoneReached, rec, "civic-starter"); err != nil {
		t.Fatal(err)
	}

	j.entries[1].StreakCount = 99
	if err := j.Verify(context.Background()); err == nil {
		t.Fatal("Verify() should fail after an entry is modified")
	}

	j.entries[1].StreakCount = rec.StreakCount
	if err := j.Verify(context.Background()); err != nil {
		t.Fatalf("Verify() after restoring entry: %v", err)
	}

	j.entries[2].PrevHash = GenesisHash
	if err := j.Verify(context.Background()); err == nil {
		t.Fatal("Verify() should fail on a broken link")
	}
}
