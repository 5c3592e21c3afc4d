package exportdb

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/izio7/tensorboard/src/internal/errors"
	"github.com/izio7/tensorboard/src/internal/stream"
	"github.com/izio7/tensorboard/src/internal/tbsql"
)

// noBlobs is what array_agg returns when a point has no blob_refs rows.
const noBlobs = "{NULL}"

// Point is one (step, wall-time, value) triple of a tag.  Exactly one of
// Scalar, Tensor and BlobIDs is meaningful, according to the owning tag's
// data class.
type Point struct {
	Step     int64
	WallTime time.Time
	Scalar   float64
	Tensor   []byte
	BlobIDs  []string
}

type pointRow struct {
	ID       int64           `db:"id"`
	Step     int64           `db:"step"`
	WallTime time.Time       `db:"wall_time"`
	Scalar   sql.NullFloat64 `db:"scalar"`
	Tensor   []byte          `db:"tensor"`
	// BlobIDs is a postgres array literal produced by array_agg, ordered by
	// blob_refs.idx.  "{NULL}" means the point references no blobs.
	BlobIDs string `db:"blob_ids"`
}

func (row *pointRow) toPoint() Point {
	return Point{
		Step:     row.Step,
		WallTime: row.WallTime,
		Scalar:   row.Scalar.Float64,
		Tensor:   row.Tensor,
		BlobIDs:  parseTextArray(row.BlobIDs),
	}
}

// parseTextArray parses a postgres text[] literal.  Blob ids are opaque
// server-assigned identifiers without commas, quotes or braces, so a simple
// split is sufficient.
func parseTextArray(s string) []string {
	if s == "" || s == "{}" || s == noBlobs {
		return nil
	}
	s = strings.TrimPrefix(s, "{")
	s = strings.TrimSuffix(s, "}")
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, `"`)
		if p == "NULL" || p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// AddScalarPoint appends one scalar point to a tag.
func AddScalarPoint(ctx context.Context, tx *tbsql.Tx, tagID int64, step int64, wallTime time.Time, value float64) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO tb.points (tag_id, step, wall_time, scalar) VALUES ($1, $2, $3, $4)",
		tagID, step, wallTime, value)
	if err != nil {
		return errors.Wrap(err, "add scalar point")
	}
	return bumpCount(ctx, tx, tagID, "num_scalars")
}

// AddTensorPoint appends one tensor point to a tag.  The tensor is an opaque
// serialized value.
func AddTensorPoint(ctx context.Context, tx *tbsql.Tx, tagID int64, step int64, wallTime time.Time, tensor []byte) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO tb.points (tag_id, step, wall_time, tensor) VALUES ($1, $2, $3, $4)",
		tagID, step, wallTime, tensor)
	if err != nil {
		return errors.Wrap(err, "add tensor point")
	}
	return bumpCount(ctx, tx, tagID, "num_tensors")
}

// AddBlobSequencePoint appends one blob-sequence point to a tag.  blobIDs may
// be empty; the point then references no blobs.
func AddBlobSequencePoint(ctx context.Context, tx *tbsql.Tx, tagID int64, step int64, wallTime time.Time, blobIDs []string) error {
	var pointID int64
	err := tx.GetContext(ctx, &pointID,
		"INSERT INTO tb.points (tag_id, step, wall_time) VALUES ($1, $2, $3) RETURNING id",
		tagID, step, wallTime)
	if err != nil {
		return errors.Wrap(err, "add blob sequence point")
	}
	for i, blobID := range blobIDs {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO tb.blob_refs (point_id, idx, blob_id) VALUES ($1, $2, $3)",
			pointID, i, blobID); err != nil {
			return errors.Wrap(err, "add blob ref")
		}
	}
	return bumpCount(ctx, tx, tagID, "num_blob_sequences")
}

func bumpCount(ctx context.Context, tx *tbsql.Tx, tagID int64, column string) error {
	_, err := tx.ExecContext(ctx,
		"UPDATE tb.experiments SET "+column+" = "+column+" + 1 WHERE id = (SELECT experiment_id FROM tb.tags WHERE id = $1)",
		tagID)
	return errors.Wrapf(err, "update experiment %s", column)
}

const listPointsQuery = "SELECT p.id, p.step, p.wall_time, p.scalar, p.tensor, " +
	"array_agg(br.blob_id ORDER BY br.idx) AS blob_ids " +
	"FROM tb.points p LEFT JOIN tb.blob_refs br ON br.point_id = p.id " +
	"WHERE p.tag_id = $1 AND p.created_at <= $2 " +
	"GROUP BY p.id ORDER BY p.step ASC, p.id ASC LIMIT $3 OFFSET $4"

// PointIterator iterates over a tag's points in ascending step order,
// fetching a page of rows at a time.  Points sharing a step come out in
// ingestion order, which keeps iteration deterministic under a fixed asOf.
type PointIterator struct {
	limit  int
	offset int
	page   []pointRow
	index  int
	tx     *tbsql.Tx
	tagID  int64
	asOf   time.Time
}

var _ stream.Iterator[Point] = &PointIterator{}

// NewPointIterator returns a PointIterator over the points of the given tag
// as of asOf.
func NewPointIterator(tx *tbsql.Tx, tagID int64, asOf time.Time) *PointIterator {
	return &PointIterator{
		limit: 1000,
		tx:    tx,
		tagID: tagID,
		asOf:  asOf,
	}
}

// Next advances the iterator by one point.  It returns a stream.EOS when
// there are no more points.
func (iter *PointIterator) Next(ctx context.Context, dst *Point) error {
	if iter.index >= len(iter.page) {
		iter.index = 0
		var err error
		iter.page, err = iter.listPointPage(ctx)
		if err != nil {
			return errors.Wrap(err, "list point page")
		}
		iter.offset += iter.limit
		if len(iter.page) == 0 {
			return stream.EOS()
		}
	}
	*dst = iter.page[iter.index].toPoint()
	iter.index++
	return nil
}

func (iter *PointIterator) listPointPage(ctx context.Context) ([]pointRow, error) {
	var page []pointRow
	err := iter.tx.SelectContext(ctx, &page, listPointsQuery, iter.tagID, iter.asOf, iter.limit, iter.offset)
	if err != nil {
		return nil, errors.Wrap(err, "could not get point page")
	}
	return page, nil
}
