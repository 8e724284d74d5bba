package streak

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Business rejections. They are ordinary outcomes the caller branches on with
// errors.Is; none of them leaves a partial write behind.
var (
	// ErrAlreadyExists is returned when Initialize targets an owner that already
	// has a record.
	ErrAlreadyExists = errors.New("streak record already exists")

	// ErrNotFound is returned when an owner has no record.
	ErrNotFound = errors.New("streak record not found")

	// ErrTooSoon is matched by every *TooSoonError.
	ErrTooSoon = errors.New("engagement already recorded in the current window")
)

// Faults.
var (
	// ErrStorageUnavailable wraps every failure of the record store to complete
	// an atomic read or write. Retrying is safe.
	ErrStorageUnavailable = errors.New("record store unavailable")

	// ErrMalformedRecord is returned when stored bytes do not decode to a valid record.
	ErrMalformedRecord = errors.New("malformed streak record")

	// ErrInvalidMilestones is returned when a milestone table fails validation.
	ErrInvalidMilestones = errors.New("invalid milestone table")
)

// TooSoonError reports an engagement inside the minimum interval.
type TooSoonError struct {
	Elapsed   int64 // seconds since the last accepted engagement
	Remaining int64 // seconds until the next engagement is accepted
}

func (e *TooSoonError) Error() string {
	return fmt.Sprintf("%s: come back in %d hours (%ds)", ErrTooSoon.Error(), e.Remaining/3600, e.Remaining)
}

// Is makes errors.Is(err, ErrTooSoon) hold.
func (e *TooSoonError) Is(target error) bool { return target == ErrTooSoon }

// RetryAfter returns Remaining as a duration, capped at the largest Duration.
func (e *TooSoonError) RetryAfter() time.Duration {
	if e.Remaining > int64(math.MaxInt64/time.Second) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(e.Remaining) * time.Second
}

// Reason codes reported by transports.
const (
	ReasonAlreadyExists      = "already_exists"
	ReasonNotFound           = "not_found"
	ReasonTooSoon            = "too_soon"
	ReasonStorageUnavailable = "storage_unavailable"
	ReasonInternal           = "internal"
)

// Reason maps an error to its stable reason code. nil maps to "".
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAlreadyExists):
		return ReasonAlreadyExists
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	case errors.Is(err, ErrTooSoon):
		return ReasonTooSoon
	case errors.Is(err, ErrStorageUnavailable):
		return ReasonStorageUnavailable
	default:
		return ReasonInternal
	}
}
