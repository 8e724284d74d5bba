// Package streak implements the civic engagement streak state machine.
//
// A Record is the single persisted state object per owner identity. Records are
// created once by Initialize and mutated only by Engage; both are pure functions
// of the previous record, the operation timestamp and the milestone table, so the
// same inputs always produce the same record and the same events.
//
// Engagement policy:
//   - an engagement less than MinInterval after the last accepted one is rejected
//     with a *TooSoonError and changes nothing;
//   - an engagement within MaxInterval continues the streak;
//   - anything later resets the streak to 1.
//
// Milestones are claimed only on the engagement that brings the streak count to
// exactly the milestone threshold. Claimed milestones are tracked in an 8-bit
// mask whose bits are never cleared.
package streak
