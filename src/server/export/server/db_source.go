package server

import (
	"context"
	"database/sql"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/izio7/tensorboard/src/export"
	"github.com/izio7/tensorboard/src/internal/dbutil"
	"github.com/izio7/tensorboard/src/internal/exportdb"
	"github.com/izio7/tensorboard/src/internal/stream"
	"github.com/izio7/tensorboard/src/internal/tbsql"
)

// DBStore implements Store over the exportdb metadata database.  Each read
// runs in its own read-only transaction; snapshot consistency comes from the
// asOf parameter on every query, not from transaction lifetime.
type DBStore struct {
	DB *tbsql.DB
}

var _ Store = &DBStore{}

func (s *DBStore) GetExperiment(ctx context.Context, asOf time.Time, experimentID string) (*export.Experiment, error) {
	var e *export.Experiment
	if err := dbutil.WithTx(ctx, s.DB, func(ctx context.Context, tx *tbsql.Tx) error {
		var err error
		e, err = exportdb.GetExperiment(ctx, tx, experimentID, asOf)
		return err
	}, dbutil.WithReadOnly()); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *DBStore) GetExperiments(ctx context.Context, asOf time.Time, experimentIDs []string) ([]*export.Experiment, error) {
	var exps []*export.Experiment
	if err := dbutil.WithTx(ctx, s.DB, func(ctx context.Context, tx *tbsql.Tx) error {
		var err error
		exps, err = exportdb.GetExperiments(ctx, tx, experimentIDs, asOf)
		return err
	}, dbutil.WithReadOnly()); err != nil {
		return nil, err
	}
	return exps, nil
}

func (s *DBStore) ListTags(ctx context.Context, asOf time.Time, experimentID string) ([]*Tag, error) {
	var tags []*Tag
	if err := dbutil.WithTx(ctx, s.DB, func(ctx context.Context, tx *tbsql.Tx) error {
		infos, err := exportdb.ListTags(ctx, tx, experimentID, asOf)
		if err != nil {
			return err
		}
		tags = make([]*Tag, len(infos))
		for i, info := range infos {
			tags[i] = &Tag{Run: info.Run, Name: info.Name, Metadata: info.Metadata}
		}
		return nil
	}, dbutil.WithReadOnly()); err != nil {
		return nil, err
	}
	return tags, nil
}

func (s *DBStore) ListPoints(ctx context.Context, asOf time.Time, experimentID, run, tag string) stream.Iterator[Point] {
	// The cursor holds a repeatable-read transaction for its lifetime; it is
	// released when the stream ends or ctx is canceled.
	return stream.NewFromForEach(ctx, func(cb func(Point) error) error {
		return dbutil.WithTx(ctx, s.DB, func(ctx context.Context, tx *tbsql.Tx) error {
			info, err := exportdb.GetTag(ctx, tx, experimentID, run, tag, asOf)
			if err != nil {
				return err
			}
			it := exportdb.NewPointIterator(tx, info.ID, asOf)
			return stream.ForEach[exportdb.Point](ctx, it, func(p exportdb.Point) error {
				return cb(Point{
					Step:     p.Step,
					WallTime: p.WallTime,
					Scalar:   p.Scalar,
					Tensor:   p.Tensor,
					BlobIDs:  p.BlobIDs,
				})
			})
		}, dbutil.WithReadOnly(), dbutil.WithIsolationLevel(sql.LevelRepeatableRead))
	})
}

type callerKey struct{}

// WithCaller attaches the authenticated caller identity to the context.  The
// transport's authentication middleware is responsible for calling this; the
// engine only reads it.
func WithCaller(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, callerKey{}, userID)
}

// CallerFromContext returns the authenticated caller identity, if any.
func CallerFromContext(ctx context.Context) (string, bool) {
	caller, ok := ctx.Value(callerKey{}).(string)
	return caller, ok
}

// DBAuthorizer implements Authorizer over the exportdb user and experiment
// tables.  Impersonation is restricted to a fixed set of trusted internal
// service identities.
type DBAuthorizer struct {
	DB *tbsql.DB
	// TrustedCallers are identities allowed to act as any user.
	TrustedCallers map[string]bool
}

var _ Authorizer = &DBAuthorizer{}

func (a *DBAuthorizer) WhoAmI(ctx context.Context) (string, error) {
	caller, ok := CallerFromContext(ctx)
	if !ok || caller == "" {
		return "", status.Error(codes.PermissionDenied, "no caller identity")
	}
	return caller, nil
}

func (a *DBAuthorizer) ResolveSubject(ctx context.Context, caller, subject string) (string, error) {
	if caller == subject {
		return subject, nil
	}
	if !a.TrustedCallers[caller] {
		return "", ErrNotAuthorized{Caller: caller, Subject: subject}
	}
	if err := dbutil.WithTx(ctx, a.DB, func(ctx context.Context, tx *tbsql.Tx) error {
		exists, err := exportdb.UserExists(ctx, tx, subject)
		if err != nil {
			return err
		}
		if !exists {
			return exportdb.ErrUserNotFound{ID: subject}
		}
		return nil
	}, dbutil.WithReadOnly()); err != nil {
		return "", err
	}
	return subject, nil
}

func (a *DBAuthorizer) OwnedExperimentIDs(ctx context.Context, asOf time.Time, userID string) ([]string, error) {
	var ids []string
	if err := dbutil.WithTx(ctx, a.DB, func(ctx context.Context, tx *tbsql.Tx) error {
		var err error
		ids, err = exportdb.ListExperimentIDsByOwner(ctx, tx, userID, asOf)
		return err
	}, dbutil.WithReadOnly()); err != nil {
		return nil, err
	}
	return ids, nil
}
