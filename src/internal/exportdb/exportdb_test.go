package exportdb

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/izio7/tensorboard/src/export"
	"github.com/izio7/tensorboard/src/internal/dbutil"
	"github.com/izio7/tensorboard/src/internal/errors"
	"github.com/izio7/tensorboard/src/internal/pctx"
	"github.com/izio7/tensorboard/src/internal/require"
	"github.com/izio7/tensorboard/src/internal/stream"
	"github.com/izio7/tensorboard/src/internal/tbsql"
)

var experimentColumns = []string{"id", "owner", "name", "description", "num_runs", "num_tags", "num_scalars", "num_tensors", "num_blob_sequences", "created_at"}

func newMockDB(t *testing.T) (*tbsql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
	})
	return sqlx.NewDb(db, "sqlmock"), mock
}

func TestGetExperiment(t *testing.T) {
	ctx := pctx.TestContext(t)
	db, mock := newMockDB(t)
	asOf := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	created := asOf.Add(-time.Hour)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT "+experimentFields+" FROM tb.experiments WHERE id = $1 AND created_at <= $2").
		WithArgs("e1", asOf).
		WillReturnRows(sqlmock.NewRows(experimentColumns).
			AddRow("e1", "alice", "mnist", "a test", 2, 4, 100, 0, 3, created))
	mock.ExpectCommit()

	require.NoError(t, dbutil.WithTx(ctx, db, func(ctx context.Context, tx *tbsql.Tx) error {
		e, err := GetExperiment(ctx, tx, "e1", asOf)
		require.NoError(t, err)
		require.Equal(t, "e1", e.ID)
		require.Equal(t, "mnist", e.Name)
		require.Equal(t, int64(100), e.NumScalars)
		require.Equal(t, created, e.CreateTime.UTC())
		return nil
	}))
}

func TestGetExperimentNotFound(t *testing.T) {
	ctx := pctx.TestContext(t)
	db, mock := newMockDB(t)
	asOf := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT "+experimentFields+" FROM tb.experiments WHERE id = $1 AND created_at <= $2").
		WithArgs("nope", asOf).
		WillReturnRows(sqlmock.NewRows(experimentColumns))
	mock.ExpectRollback()

	err := dbutil.WithTx(ctx, db, func(ctx context.Context, tx *tbsql.Tx) error {
		_, err := GetExperiment(ctx, tx, "nope", asOf)
		return err
	})
	require.YesError(t, err)
	require.True(t, errors.Is(err, ErrExperimentNotFound{}))
}

func TestExperimentIteratorPagination(t *testing.T) {
	ctx := pctx.TestContext(t)
	db, mock := newMockDB(t)
	asOf := time.Now()
	created := asOf.Add(-time.Minute)

	query := "SELECT " + experimentFields + " FROM tb.experiments WHERE owner = $1 AND created_at <= $2 ORDER BY seq ASC LIMIT $3 OFFSET $4"
	firstPage := sqlmock.NewRows(experimentColumns)
	for i := 0; i < 100; i++ {
		firstPage.AddRow(fmt.Sprintf("e%03d", i), "alice", "", "", 0, 0, 0, 0, 0, created)
	}
	secondPage := sqlmock.NewRows(experimentColumns)
	for i := 100; i < 150; i++ {
		secondPage.AddRow(fmt.Sprintf("e%03d", i), "alice", "", "", 0, 0, 0, 0, 0, created)
	}
	mock.ExpectBegin()
	mock.ExpectQuery(query).WithArgs("alice", asOf, 100, 0).WillReturnRows(firstPage)
	mock.ExpectQuery(query).WithArgs("alice", asOf, 100, 100).WillReturnRows(secondPage)
	mock.ExpectQuery(query).WithArgs("alice", asOf, 100, 200).WillReturnRows(sqlmock.NewRows(experimentColumns))
	mock.ExpectCommit()

	require.NoError(t, dbutil.WithTx(ctx, db, func(ctx context.Context, tx *tbsql.Tx) error {
		iter, err := ListExperimentsByOwner(ctx, tx, "alice", asOf)
		require.NoError(t, err)
		all, err := stream.Collect[*export.Experiment](ctx, iter, 1000)
		require.NoError(t, err)
		require.Len(t, all, 150)
		require.Equal(t, "e000", all[0].ID)
		require.Equal(t, "e149", all[149].ID)
		return nil
	}))
}

func TestPointIterator(t *testing.T) {
	ctx := pctx.TestContext(t)
	db, mock := newMockDB(t)
	asOf := time.Now()
	t0 := asOf.Add(-2 * time.Minute)
	t1 := asOf.Add(-time.Minute)

	pointColumns := []string{"id", "step", "wall_time", "scalar", "tensor", "blob_ids"}
	page := sqlmock.NewRows(pointColumns).
		AddRow(1, 0, t0, nil, nil, "{b1,b2}").
		AddRow(2, 5, t1, nil, nil, noBlobs)
	mock.ExpectBegin()
	mock.ExpectQuery(listPointsQuery).WithArgs(int64(7), asOf, 1000, 0).WillReturnRows(page)
	mock.ExpectQuery(listPointsQuery).WithArgs(int64(7), asOf, 1000, 1000).WillReturnRows(sqlmock.NewRows(pointColumns))
	mock.ExpectCommit()

	require.NoError(t, dbutil.WithTx(ctx, db, func(ctx context.Context, tx *tbsql.Tx) error {
		points, err := stream.Collect[Point](ctx, NewPointIterator(tx, 7, asOf), 100)
		require.NoError(t, err)
		require.Len(t, points, 2)
		require.Equal(t, []string{"b1", "b2"}, points[0].BlobIDs)
		require.Equal(t, int64(5), points[1].Step)
		require.Nil(t, points[1].BlobIDs)
		return nil
	}))
}

func TestParseTextArray(t *testing.T) {
	require.Nil(t, parseTextArray(""))
	require.Nil(t, parseTextArray("{}"))
	require.Nil(t, parseTextArray(noBlobs))
	require.Equal(t, []string{"a"}, parseTextArray("{a}"))
	require.Equal(t, []string{"a", "b", "c"}, parseTextArray(`{a,"b",c}`))
}
