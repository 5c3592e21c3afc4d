package server

import (
	"context"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/izio7/tensorboard/src/internal/errors"
)

// ErrNotAuthorized is returned when a caller is not allowed to act as the
// requested subject user.
type ErrNotAuthorized struct {
	Caller  string
	Subject string
}

func (err ErrNotAuthorized) Error() string {
	return fmt.Sprintf("caller %q is not authorized to act as user %q", err.Caller, err.Subject)
}

func (err ErrNotAuthorized) Is(other error) bool {
	_, ok := other.(ErrNotAuthorized)
	return ok
}

func (err ErrNotAuthorized) GRPCStatus() *status.Status {
	return status.New(codes.PermissionDenied, err.Error())
}

// grpcStatus extracts a grpc status from anywhere in err's chain.
func grpcStatus(err error) (*status.Status, bool) {
	var se interface{ GRPCStatus() *status.Status }
	if errors.As(err, &se) {
		return se.GRPCStatus(), true
	}
	return nil, false
}

// asTransient passes through errors that already carry a status code,
// preserves cancellation, and classifies everything else as a retryable
// backend failure.
func asTransient(err error, msg string) error {
	if err == nil {
		return nil
	}
	if _, ok := grpcStatus(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return status.Errorf(codes.Canceled, "%s: %v", msg, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Errorf(codes.DeadlineExceeded, "%s: %v", msg, err)
	}
	return status.Errorf(codes.Unavailable, "%s: %v", msg, err)
}
