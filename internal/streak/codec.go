package streak

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

const (
	// TagSize is the width of the record-type tag that prefixes stored records.
	TagSize = 8

	// RecordSize is the width of the untagged record layout:
	// owner[32] | streak_count u64 | last_interaction_ts i64 | created_ts i64 | milestones_claimed u8.
	RecordSize = IdentitySize + 8 + 8 + 8 + 1

	// EncodedSize is the width of a tagged record.
	EncodedSize = TagSize + RecordSize
)

// RecordTag disambiguates streak records from other record kinds sharing an
// address space: the first eight bytes of SHA-256("account:UserStreak").
var RecordTag = recordTag("UserStreak")

func recordTag(kind string) [TagSize]byte {
	sum := sha256.Sum256([]byte("account:" + kind))
	var tag [TagSize]byte
	copy(tag[:], sum[:TagSize])
	return tag
}

// MarshalBinary encodes the record in the untagged little-endian layout.
func (r Record) MarshalBinary() ([]byte, error) {
	buf := make([]byte, RecordSize)
	putRecord(buf, r)
	return buf, nil
}

// UnmarshalBinary decodes a tagged or untagged record.
func (r *Record) UnmarshalBinary(data []byte) error {
	rec, err := Decode(data)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// Encode returns the tagged storage form of r.
func Encode(r Record) []byte {
	buf := make([]byte, EncodedSize)
	copy(buf, RecordTag[:])
	putRecord(buf[TagSize:], r)
	return buf
}

// Decode parses a stored record. Tagged records must carry RecordTag; untagged
// payloads of exactly RecordSize bytes are accepted as well. The decoded record
// must satisfy Validate.
func Decode(data []byte) (Record, error) {
	var body []byte
	switch len(data) {
	case EncodedSize:
		var tag [TagSize]byte
		copy(tag[:], data[:TagSize])
		if tag != RecordTag {
			return Record{}, fmt.Errorf("%w: unexpected record tag %x", ErrMalformedRecord, tag)
		}
		body = data[TagSize:]
	case RecordSize:
		body = data
	default:
		return Record{}, fmt.Errorf("%w: %d bytes", ErrMalformedRecord, len(data))
	}

	var r Record
	copy(r.Owner[:], body[:IdentitySize])
	off := IdentitySize
	r.StreakCount = binary.LittleEndian.Uint64(body[off:])
	off += 8
	r.LastInteractionTS = int64(binary.LittleEndian.Uint64(body[off:]))
	off += 8
	r.CreatedTS = int64(binary.LittleEndian.Uint64(body[off:]))
	off += 8
	r.MilestonesClaimed = body[off]

	if err := r.Validate(); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return r, nil
}

func putRecord(buf []byte, r Record) {
	copy(buf[:IdentitySize], r.Owner[:])
	off := IdentitySize
	binary.LittleEndian.PutUint64(buf[off:], r.StreakCount)
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(r.LastInteractionTS))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:], uint64(r.CreatedTS))
	off += 8
	buf[off] = r.MilestonesClaimed
}
