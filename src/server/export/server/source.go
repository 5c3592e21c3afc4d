package server

import (
	"context"
	"time"

	"github.com/izio7/tensorboard/src/export"
	"github.com/izio7/tensorboard/src/internal/stream"
)

// Tag names one (run, tag) pair of an experiment together with the tag's
// fixed metadata.
type Tag struct {
	Run      string
	Name     string
	Metadata *export.TagMetadata
}

// Point is one (step, wall-time, value) triple.  Exactly one of Scalar,
// Tensor and BlobIDs is meaningful, according to the owning tag's data class.
type Point struct {
	Step     int64
	WallTime time.Time
	Scalar   float64
	Tensor   []byte
	BlobIDs  []string
}

// Store is the storage/query collaborator.  Every read is parameterized by an
// asOf timestamp and must only observe data ingested at or before that
// instant; two reads at the same asOf over unchanged data must return
// identical results.  Implementations signal unknown ids with errors whose
// GRPCStatus is NotFound.
type Store interface {
	// GetExperiment returns one experiment's full record as of asOf.
	GetExperiment(ctx context.Context, asOf time.Time, experimentID string) (*export.Experiment, error)
	// GetExperiments returns the records for the given ids as of asOf, in
	// storage order.  Ids unknown at asOf are omitted.
	GetExperiments(ctx context.Context, asOf time.Time, experimentIDs []string) ([]*export.Experiment, error)
	// ListTags returns every (run, tag) pair of the experiment as of asOf.
	ListTags(ctx context.Context, asOf time.Time, experimentID string) ([]*Tag, error)
	// ListPoints returns a cursor over the points of one (run, tag) pair as
	// of asOf, in ascending step order.  The cursor must release its
	// resources when ctx is canceled.
	ListPoints(ctx context.Context, asOf time.Time, experimentID, run, tag string) stream.Iterator[Point]
}

// Authorizer is the authorization collaborator.
type Authorizer interface {
	// WhoAmI resolves the caller's identity from transport credentials.
	WhoAmI(ctx context.Context) (string, error)
	// ResolveSubject authorizes caller to act as subject and returns the
	// effective user.  An unknown subject is an InvalidArgument-class
	// error; a caller without impersonation rights is a
	// PermissionDenied-class error.
	ResolveSubject(ctx context.Context, caller, subject string) (string, error)
	// OwnedExperimentIDs returns the ids of every experiment owned by
	// userID as of asOf.
	OwnedExperimentIDs(ctx context.Context, asOf time.Time, userID string) ([]string, error)
}
