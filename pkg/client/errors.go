package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// Errors reported by the ledger. Match them with errors.Is.
var (
	ErrAlreadyExists      = streak.ErrAlreadyExists
	ErrNotFound           = streak.ErrNotFound
	ErrTooSoon            = streak.ErrTooSoon
	ErrStorageUnavailable = streak.ErrStorageUnavailable
	ErrOwnerMismatch      = errors.New("caller is not the record owner")
	ErrUnauthenticated    = errors.New("owner identity required")
)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
	Reason     string
	// RetryAfter is set on too_soon rejections.
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("streak api %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("streak api %d: %s", e.StatusCode, e.Message)
}

// Is maps the reason code to the package sentinels.
func (e *APIError) Is(target error) bool {
	switch e.Reason {
	case streak.ReasonAlreadyExists:
		return target == ErrAlreadyExists
	case streak.ReasonNotFound:
		return target == ErrNotFound
	case streak.ReasonTooSoon:
		return target == ErrTooSoon
	case streak.ReasonStorageUnavailable:
		return target == ErrStorageUnavailable
	case "owner_mismatch":
		return target == ErrOwnerMismatch
	case "unauthenticated":
		return target == ErrUnauthenticated
	}
	return false
}
