package exportdb

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/izio7/tensorboard/src/export"
	"github.com/izio7/tensorboard/src/internal/errors"
	"github.com/izio7/tensorboard/src/internal/stream"
	"github.com/izio7/tensorboard/src/internal/tbsql"
)

const experimentFields = "id, owner, name, description, num_runs, num_tags, num_scalars, num_tensors, num_blob_sequences, created_at"

type experimentRow struct {
	ID               string    `db:"id"`
	Owner            string    `db:"owner"`
	Name             string    `db:"name"`
	Description      string    `db:"description"`
	NumRuns          int64     `db:"num_runs"`
	NumTags          int64     `db:"num_tags"`
	NumScalars       int64     `db:"num_scalars"`
	NumTensors       int64     `db:"num_tensors"`
	NumBlobSequences int64     `db:"num_blob_sequences"`
	CreatedAt        time.Time `db:"created_at"`
}

func (row *experimentRow) toExperiment() *export.Experiment {
	return &export.Experiment{
		ID:               row.ID,
		Name:             row.Name,
		Description:      row.Description,
		CreateTime:       row.CreatedAt,
		NumRuns:          row.NumRuns,
		NumTags:          row.NumTags,
		NumScalars:       row.NumScalars,
		NumTensors:       row.NumTensors,
		NumBlobSequences: row.NumBlobSequences,
	}
}

// ExperimentInfo pairs an experiment record with its owner.
type ExperimentInfo struct {
	Experiment *export.Experiment
	Owner      string
}

// CreateExperiment creates an entry in the tb.experiments table.  If the
// experiment has no id, a server-assigned one is generated and set on the
// record.
func CreateExperiment(ctx context.Context, tx *tbsql.Tx, info *ExperimentInfo) error {
	e := info.Experiment
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := tx.ExecContext(ctx,
		"INSERT INTO tb.experiments (id, owner, name, description) VALUES ($1, $2, $3, $4)",
		e.ID, info.Owner, e.Name, e.Description)
	if err != nil && strings.Contains(err.Error(), "SQLSTATE 23505") {
		return ErrExperimentAlreadyExists{ID: e.ID}
	}
	return errors.Wrap(err, "create experiment")
}

// GetExperiment returns the experiment with the given id as it existed at
// asOf.  It returns ErrExperimentNotFound if the experiment does not exist at
// that instant.
func GetExperiment(ctx context.Context, tx *tbsql.Tx, id string, asOf time.Time) (*export.Experiment, error) {
	var row experimentRow
	err := tx.GetContext(ctx, &row,
		"SELECT "+experimentFields+" FROM tb.experiments WHERE id = $1 AND created_at <= $2", id, asOf)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrExperimentNotFound{ID: id}
		}
		return nil, errors.Wrap(err, "get experiment")
	}
	return row.toExperiment(), nil
}

// GetExperiments returns the experiments with the given ids as they existed
// at asOf.  Ids unknown at asOf are omitted from the result; the result is
// ordered by internal storage sequence, not by the order of ids.
func GetExperiments(ctx context.Context, tx *tbsql.Tx, ids []string, asOf time.Time) ([]*export.Experiment, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(
		"SELECT "+experimentFields+" FROM tb.experiments WHERE id IN (?) AND created_at <= ? ORDER BY seq ASC", ids, asOf)
	if err != nil {
		return nil, errors.Wrap(err, "expand experiment id list")
	}
	var rows []experimentRow
	if err := tx.SelectContext(ctx, &rows, tx.Rebind(query), args...); err != nil {
		return nil, errors.Wrap(err, "get experiments")
	}
	result := make([]*export.Experiment, len(rows))
	for i := range rows {
		result[i] = rows[i].toExperiment()
	}
	return result, nil
}

// ListExperimentIDsByOwner returns the ids of every experiment owned by
// owner at asOf, ordered by internal storage sequence.
func ListExperimentIDsByOwner(ctx context.Context, tx *tbsql.Tx, owner string, asOf time.Time) ([]string, error) {
	var ids []string
	err := tx.SelectContext(ctx, &ids,
		"SELECT id FROM tb.experiments WHERE owner = $1 AND created_at <= $2 ORDER BY seq ASC", owner, asOf)
	if err != nil {
		return nil, errors.Wrap(err, "list experiment ids by owner")
	}
	return ids, nil
}

// ExperimentIterator iterates over the experiments owned by a user,
// fetching a page of rows at a time.  Entries are retrieved with Next().
type ExperimentIterator struct {
	limit  int
	offset int
	page   []experimentRow
	index  int
	tx     *tbsql.Tx
	owner  string
	asOf   time.Time
}

var _ stream.Iterator[*export.Experiment] = &ExperimentIterator{}

// Next advances the iterator by one row.  It returns a stream.EOS when there
// are no more entries.
func (iter *ExperimentIterator) Next(ctx context.Context, dst **export.Experiment) error {
	if dst == nil {
		return errors.New("experiment destination is nil")
	}
	if iter.index >= len(iter.page) {
		iter.index = 0
		iter.offset += iter.limit
		var err error
		iter.page, err = listExperimentPage(ctx, iter.tx, iter.owner, iter.asOf, iter.limit, iter.offset)
		if err != nil {
			return errors.Wrap(err, "list experiment page")
		}
		if len(iter.page) == 0 {
			return stream.EOS()
		}
	}
	*dst = iter.page[iter.index].toExperiment()
	iter.index++
	return nil
}

// ListExperimentsByOwner returns an ExperimentIterator over every experiment
// owned by owner at asOf.  Iteration order is internal storage sequence.
func ListExperimentsByOwner(ctx context.Context, tx *tbsql.Tx, owner string, asOf time.Time) (*ExperimentIterator, error) {
	limit := 100
	page, err := listExperimentPage(ctx, tx, owner, asOf, limit, 0)
	if err != nil {
		return nil, errors.Wrap(err, "list experiments")
	}
	return &ExperimentIterator{
		page:  page,
		limit: limit,
		tx:    tx,
		owner: owner,
		asOf:  asOf,
	}, nil
}

func listExperimentPage(ctx context.Context, tx *tbsql.Tx, owner string, asOf time.Time, limit, offset int) ([]experimentRow, error) {
	var page []experimentRow
	err := tx.SelectContext(ctx, &page,
		"SELECT "+experimentFields+" FROM tb.experiments WHERE owner = $1 AND created_at <= $2 ORDER BY seq ASC LIMIT $3 OFFSET $4",
		owner, asOf, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "could not get experiment page")
	}
	return page, nil
}

// CreateUser creates an entry in the tb.users table.
func CreateUser(ctx context.Context, tx *tbsql.Tx, id, name string) error {
	_, err := tx.ExecContext(ctx, "INSERT INTO tb.users (id, name) VALUES ($1, $2)", id, name)
	return errors.Wrap(err, "create user")
}

// UserExists reports whether the user id exists.
func UserExists(ctx context.Context, tx *tbsql.Tx, id string) (bool, error) {
	var exists bool
	if err := tx.GetContext(ctx, &exists, "SELECT EXISTS (SELECT 1 FROM tb.users WHERE id = $1)", id); err != nil {
		return false, errors.Wrap(err, "check user exists")
	}
	return exists, nil
}
