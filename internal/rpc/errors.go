package rpc

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/protoadapt"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/jmerrifield20/civicstreak/internal/ledger"
	"github.com/jmerrifield20/civicstreak/internal/streak"
)

// ErrorDomain is reported in google.rpc.ErrorInfo details.
const ErrorDomain = "civicstreak"

// codeFor maps a ledger error to its gRPC code.
func codeFor(err error) codes.Code {
	switch {
	case errors.Is(err, ledger.ErrOwnerMismatch):
		return codes.PermissionDenied
	case errors.Is(err, streak.ErrAlreadyExists):
		return codes.AlreadyExists
	case errors.Is(err, streak.ErrNotFound):
		return codes.NotFound
	case errors.Is(err, streak.ErrTooSoon):
		return codes.FailedPrecondition
	case errors.Is(err, streak.ErrStorageUnavailable):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// toStatus converts err to a status carrying an ErrorInfo with the reason
// code and, for rejected engagements, a RetryInfo.
func (s *Server) toStatus(err error) error {
	code := codeFor(err)
	msg := err.Error()
	if code == codes.Internal || code == codes.Unavailable {
		s.logger.Error("rpc failed", zap.Error(err))
		msg = "record store unavailable, retry later"
		if code == codes.Internal {
			msg = "internal error"
		}
	}

	st := status.New(code, msg)
	details := []protoadapt.MessageV1{&errdetails.ErrorInfo{Reason: ledger.Outcome(err), Domain: ErrorDomain}}
	var tooSoon *streak.TooSoonError
	if errors.As(err, &tooSoon) {
		details = append(details, &errdetails.RetryInfo{RetryDelay: durationpb.New(tooSoon.RetryAfter())})
	}
	if withDetails, derr := st.WithDetails(details...); derr == nil {
		st = withDetails
	}
	return st.Err()
}

// ErrorFromStatus maps a status returned by the service back to the
// matching ledger error, so callers can use errors.Is. The RetryInfo delay is
// restored on too-soon rejections.
func ErrorFromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var retry time.Duration
	for _, d := range st.Details() {
		if ri, ok := d.(*errdetails.RetryInfo); ok {
			retry = ri.GetRetryDelay().AsDuration()
		}
	}
	switch st.Code() {
	case codes.AlreadyExists:
		return streak.ErrAlreadyExists
	case codes.NotFound:
		return streak.ErrNotFound
	case codes.FailedPrecondition:
		return &streak.TooSoonError{Remaining: int64(retry / time.Second)}
	case codes.Unavailable:
		return streak.ErrStorageUnavailable
	case codes.PermissionDenied:
		return ledger.ErrOwnerMismatch
	default:
		return err
	}
}
