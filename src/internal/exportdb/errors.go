package exportdb

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrExperimentNotFound is returned when an experiment does not exist at the
// requested timestamp.  An experiment ingested after the snapshot is not
// found at that snapshot.
type ErrExperimentNotFound struct {
	ID string
}

func (err ErrExperimentNotFound) Error() string {
	return fmt.Sprintf("experiment %q not found", err.ID)
}

func (err ErrExperimentNotFound) Is(other error) bool {
	_, ok := other.(ErrExperimentNotFound)
	return ok
}

func (err ErrExperimentNotFound) GRPCStatus() *status.Status {
	return status.New(codes.NotFound, err.Error())
}

// ErrTagNotFound is returned when a (run, tag) pair does not exist in an
// experiment at the requested timestamp.
type ErrTagNotFound struct {
	ExperimentID string
	Run          string
	Tag          string
}

func (err ErrTagNotFound) Error() string {
	return fmt.Sprintf("tag %s/%s not found in experiment %q", err.Run, err.Tag, err.ExperimentID)
}

func (err ErrTagNotFound) Is(other error) bool {
	_, ok := other.(ErrTagNotFound)
	return ok
}

func (err ErrTagNotFound) GRPCStatus() *status.Status {
	return status.New(codes.NotFound, err.Error())
}

// ErrUserNotFound is returned when a user id does not exist.  It maps to
// InvalidArgument rather than NotFound: the only path that looks up users is
// subject-override resolution, where an unknown subject is a malformed
// request.
type ErrUserNotFound struct {
	ID string
}

func (err ErrUserNotFound) Error() string {
	return fmt.Sprintf("user %q not found", err.ID)
}

func (err ErrUserNotFound) Is(other error) bool {
	_, ok := other.(ErrUserNotFound)
	return ok
}

func (err ErrUserNotFound) GRPCStatus() *status.Status {
	return status.New(codes.InvalidArgument, err.Error())
}

// ErrExperimentAlreadyExists is returned by CreateExperiment on an id
// collision.
type ErrExperimentAlreadyExists struct {
	ID string
}

func (err ErrExperimentAlreadyExists) Error() string {
	return fmt.Sprintf("experiment %q already exists", err.ID)
}

func (err ErrExperimentAlreadyExists) Is(other error) bool {
	_, ok := other.(ErrExperimentAlreadyExists)
	return ok
}

func (err ErrExperimentAlreadyExists) GRPCStatus() *status.Status {
	return status.New(codes.AlreadyExists, err.Error())
}
