package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/jmerrifield20/civicstreak/internal/ledger"
	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// ReasonOwnerMismatch is reported when the caller targets another owner.
const ReasonOwnerMismatch = "owner_mismatch"

// statusFor maps a ledger error to its HTTP status and reason code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ledger.ErrOwnerMismatch):
		return http.StatusForbidden, ReasonOwnerMismatch
	case errors.Is(err, streak.ErrAlreadyExists):
		return http.StatusConflict, streak.ReasonAlreadyExists
	case errors.Is(err, streak.ErrNotFound):
		return http.StatusNotFound, streak.ReasonNotFound
	case errors.Is(err, streak.ErrTooSoon):
		return http.StatusTooManyRequests, streak.ReasonTooSoon
	case errors.Is(err, streak.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, streak.ReasonStorageUnavailable
	default:
		return http.StatusInternalServerError, streak.ReasonInternal
	}
}

// respondError writes the {"error", "reason"} body for err. Faults are logged
// and their details withheld from the client.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	status, reason := statusFor(err)
	body := gin.H{"error": err.Error(), "reason": reason}

	var tooSoon *streak.TooSoonError
	if errors.As(err, &tooSoon) {
		c.Header("Retry-After", strconv.FormatInt(tooSoon.Remaining, 10))
		body["retry_after_seconds"] = tooSoon.Remaining
	}

	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("path", c.FullPath()),
			zap.String("reason", reason),
			zap.Error(err),
		)
		if status == http.StatusServiceUnavailable {
			body["error"] = "record store unavailable, retry later"
		} else {
			body["error"] = "internal error"
		}
	}
	c.AbortWithStatusJSON(status, body)
}

// Reason codes reported by handlers outside the ledger error mapping.
const (
	ReasonInvalidRequest = "invalid_request"
	ReasonNotConfigured  = "not_configured"
	ReasonRateLimited    = "rate_limited"
)

func abortJSON(c *gin.Context, status int, reason, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg, "reason": reason})
}

func badRequest(c *gin.Context, msg string) {
	abortJSON(c, http.StatusBadRequest, ReasonInvalidRequest, msg)
}
