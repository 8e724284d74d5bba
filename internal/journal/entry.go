package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// GenesisHash is the fixed hash of entry 0. Every chain starts from it.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// SystemActor is recorded as the owner of the genesis entry.
const SystemActor = "civicstreak-system"

// Entry is one link of the journal.
type Entry struct {
	Index       int       `json:"index"`
	Timestamp   time.Time `json:"timestamp"`
	Owner       string    `json:"owner"`
	Action      Action    `json:"action"`
	StreakCount uint64    `json:"streak_count"`
	RecordHash  string    `json:"record_hash"` // SHA-256 of the tagged record bytes after the transition
	Detail      string    `json:"detail,omitempty"`
	PrevHash    string    `json:"prev_hash"`
	Hash        string    `json:"hash"`
}

func genesisEntry() *Entry {
	return &Entry{
		Index:      0,
		Timestamp:  time.Unix(0, 0).UTC(),
		Owner:      SystemActor,
		Action:     ActionGenesis,
		RecordHash: GenesisHash,
		PrevHash:   GenesisHash,
		Hash:       GenesisHash,
	}
}

func newEntry(index int, prevHash string, owner streak.Identity, action Action, rec streak.Record, detail string) *Entry {
	e := &Entry{
		Index:       index,
		Timestamp:   time.Unix(rec.LastInteractionTS, 0).UTC(),
		Owner:       owner.String(),
		Action:      action,
		StreakCount: rec.StreakCount,
		RecordHash:  RecordHash(rec),
		Detail:      detail,
		PrevHash:    prevHash,
	}
	e.Hash = hashEntry(e)
	return e
}

// RecordHash returns the hex SHA-256 of the stored encoding of rec.
func RecordHash(rec streak.Record) string {
	sum := sha256.Sum256(streak.Encode(rec))
	return hex.EncodeToString(sum[:])
}

// hashEntry is never called on the genesis entry.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%d|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.Owner, e.Action, e.StreakCount, e.RecordHash, e.Detail, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// verifyLink checks curr against its predecessor.
func verifyLink(prev, curr *Entry) error {
	if prev == nil {
		if curr.Hash != GenesisHash {
			return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
		}
		return nil
	}
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	if curr.Hash != hashEntry(curr) {
		return fmt.Errorf("entry %d has invalid hash", curr.Index)
	}
	return nil
}
