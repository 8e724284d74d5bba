package streak

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/gosimple/slug"
	"github.com/pelletier/go-toml/v2"
)

// MaxMilestones is the number of slots in Record.MilestonesClaimed.
const MaxMilestones = 8

// Milestone is a streak-count threshold that issues a badge the first time it
// is reached exactly.
type Milestone struct {
	Threshold    uint64 `json:"threshold"     toml:"threshold"`
	Label        string `json:"label"         toml:"label"`
	RewardPoints uint64 `json:"reward_points" toml:"reward_points"`
	BadgeID      string `json:"badge_id"      toml:"badge_id"`
}

// MilestoneTable is an immutable, ascending list of milestones. The slot of a
// milestone (its bit in MilestonesClaimed) is its position in the table.
// A table is safe for concurrent use.
type MilestoneTable struct {
	milestones []Milestone
}

// DefaultMilestones returns the standard civic milestone ladder.
func DefaultMilestones() []Milestone {
	return []Milestone{
		{Threshold: 7, Label: "Civic Starter", RewardPoints: 100},
		{Threshold: 14, Label: "Consistent Citizen", RewardPoints: 150},
		{Threshold: 21, Label: "Civic Champion", RewardPoints: 200},
		{Threshold: 30, Label: "Democracy Hero", RewardPoints: 250},
		{Threshold: 50, Label: "Civic Legend", RewardPoints: 500},
		{Threshold: 100, Label: "Civic Grandmaster", RewardPoints: 1000},
	}
}

// DefaultMilestoneTable returns a table built from DefaultMilestones.
func DefaultMilestoneTable() *MilestoneTable {
	t, err := NewMilestoneTable(DefaultMilestones())
	if err != nil {
		panic(err)
	}
	return t
}

// NewMilestoneTable validates ms and returns a table holding a copy of it.
// Thresholds must be strictly ascending and greater than 1; badge ids default
// to the slug of the label and must be unique.
func NewMilestoneTable(ms []Milestone) (*MilestoneTable, error) {
	if len(ms) > MaxMilestones {
		return nil, fmt.Errorf("%w: %d milestones exceed the %d available slots", ErrInvalidMilestones, len(ms), MaxMilestones)
	}

	out := make([]Milestone, len(ms))
	seenBadges := make(map[string]int, len(ms))
	for i, m := range ms {
		m.Label = strings.TrimSpace(m.Label)
		if m.Label == "" {
			return nil, fmt.Errorf("%w: milestone %d has no label", ErrInvalidMilestones, i)
		}
		if m.Threshold <= 1 {
			return nil, fmt.Errorf("%w: milestone %q threshold must be greater than 1", ErrInvalidMilestones, m.Label)
		}
		if i > 0 {
			prev := out[i-1].Threshold
			if m.Threshold == prev {
				return nil, fmt.Errorf("%w: duplicate threshold %d", ErrInvalidMilestones, m.Threshold)
			}
			if m.Threshold < prev {
				return nil, fmt.Errorf("%w: threshold %d listed after %d", ErrInvalidMilestones, m.Threshold, prev)
			}
		}
		if m.BadgeID == "" {
			m.BadgeID = slug.Make(m.Label)
		}
		if j, dup := seenBadges[m.BadgeID]; dup {
			return nil, fmt.Errorf("%w: badge id %q used by milestones %d and %d", ErrInvalidMilestones, m.BadgeID, j, i)
		}
		seenBadges[m.BadgeID] = i
		out[i] = m
	}
	return &MilestoneTable{milestones: out}, nil
}

// milestoneFile is the TOML shape of a milestone table:
//
//	[[milestone]]
//	threshold = 7
//	label = "Civic Starter"
//	reward_points = 100
type milestoneFile struct {
	Milestones []Milestone `toml:"milestone"`
}

// ParseMilestoneTable decodes a TOML milestone table.
func ParseMilestoneTable(data []byte) (*MilestoneTable, error) {
	var f milestoneFile
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMilestones, err)
	}
	return NewMilestoneTable(f.Milestones)
}

// LoadMilestoneTable reads a TOML milestone table from path.
func LoadMilestoneTable(path string) (*MilestoneTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read milestone table: %w", err)
	}
	return ParseMilestoneTable(data)
}

// Len returns the number of milestones.
func (t *MilestoneTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.milestones)
}

// All returns a copy of the milestones in slot order.
func (t *MilestoneTable) All() []Milestone {
	if t == nil {
		return nil
	}
	out := make([]Milestone, len(t.milestones))
	copy(out, t.milestones)
	return out
}

// Claimed returns the milestones whose bits are set in mask.
func (t *MilestoneTable) Claimed(mask uint8) []Milestone {
	var out []Milestone
	for i, m := range t.All() {
		if mask&(1<<uint(i)) != 0 {
			out = append(out, m)
		}
	}
	return out
}

// Next returns the first milestone with a threshold above count.
func (t *MilestoneTable) Next(count uint64) (Milestone, bool) {
	if t == nil {
		return Milestone{}, false
	}
	for _, m := range t.milestones {
		if m.Threshold > count {
			return m, true
		}
	}
	return Milestone{}, false
}
