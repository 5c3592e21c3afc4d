package exportdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/izio7/tensorboard/src/export"
	"github.com/izio7/tensorboard/src/internal/errors"
	"github.com/izio7/tensorboard/src/internal/tbsql"
)

type tagRow struct {
	ID          int64  `db:"id"`
	Run         string `db:"run"`
	Tag         string `db:"tag"`
	DataClass   int16  `db:"data_class"`
	DisplayName string `db:"display_name"`
	Description string `db:"description"`
}

func (row *tagRow) toTagInfo() *TagInfo {
	return &TagInfo{
		ID:   row.ID,
		Run:  row.Run,
		Name: row.Tag,
		Metadata: &export.TagMetadata{
			DataClass:   export.DataClass(row.DataClass),
			DisplayName: row.DisplayName,
			Description: row.Description,
		},
	}
}

// TagInfo describes one (run, tag) pair of an experiment.
type TagInfo struct {
	ID       int64
	Run      string
	Name     string
	Metadata *export.TagMetadata
}

// AddTag creates a tag under an experiment and returns its storage id.  The
// data class is fixed for the tag's lifetime.  The parent experiment's tag
// and run summary counts are maintained here so that reads never have to
// aggregate them.
func AddTag(ctx context.Context, tx *tbsql.Tx, experimentID, run, tag string, md *export.TagMetadata) (int64, error) {
	var newRun bool
	err := tx.GetContext(ctx, &newRun,
		"SELECT NOT EXISTS (SELECT 1 FROM tb.tags WHERE experiment_id = $1 AND run = $2)", experimentID, run)
	if err != nil {
		return 0, errors.Wrap(err, "check run exists")
	}
	var id int64
	err = tx.GetContext(ctx, &id,
		"INSERT INTO tb.tags (experiment_id, run, tag, data_class, display_name, description) VALUES ($1, $2, $3, $4, $5, $6) RETURNING id",
		experimentID, run, tag, int16(md.DataClass), md.DisplayName, md.Description)
	if err != nil {
		return 0, errors.Wrap(err, "add tag")
	}
	runDelta := 0
	if newRun {
		runDelta = 1
	}
	_, err = tx.ExecContext(ctx,
		"UPDATE tb.experiments SET num_tags = num_tags + 1, num_runs = num_runs + $2 WHERE id = $1",
		experimentID, runDelta)
	return id, errors.Wrap(err, "update experiment tag counts")
}

// GetTag returns the (run, tag) pair of an experiment as of asOf, or
// ErrTagNotFound.
func GetTag(ctx context.Context, tx *tbsql.Tx, experimentID, run, tag string, asOf time.Time) (*TagInfo, error) {
	var row tagRow
	err := tx.GetContext(ctx, &row,
		"SELECT id, run, tag, data_class, display_name, description FROM tb.tags WHERE experiment_id = $1 AND run = $2 AND tag = $3 AND created_at <= $4",
		experimentID, run, tag, asOf)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTagNotFound{ExperimentID: experimentID, Run: run, Tag: tag}
		}
		return nil, errors.Wrap(err, "get tag")
	}
	return row.toTagInfo(), nil
}

// ListTags returns every (run, tag) pair of an experiment as of asOf,
// ordered by run then tag.
func ListTags(ctx context.Context, tx *tbsql.Tx, experimentID string, asOf time.Time) ([]*TagInfo, error) {
	var rows []tagRow
	err := tx.SelectContext(ctx, &rows,
		"SELECT id, run, tag, data_class, display_name, description FROM tb.tags WHERE experiment_id = $1 AND created_at <= $2 ORDER BY run ASC, tag ASC",
		experimentID, asOf)
	if err != nil {
		return nil, errors.Wrap(err, "list tags")
	}
	tags := make([]*TagInfo, len(rows))
	for i := range rows {
		tags[i] = rows[i].toTagInfo()
	}
	return tags, nil
}
