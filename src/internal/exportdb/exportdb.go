// Package exportdb provides postgres-backed storage for the experiment
// metadata that the export engine reads: experiments, tags, points and
// blob-sequence references.
//
// Every read is parameterized by an "as of" timestamp and only observes rows
// ingested at or before that instant, which is how the engine offers a
// consistent view over a continuously-ingested dataset without blocking
// writers.  Writes (CreateExperiment, AddTag, the AddXxxPoint functions) are
// the ingestion path's concern; the engine itself is a read-only consumer.
package exportdb

import (
	"context"

	"github.com/izio7/tensorboard/src/internal/errors"
	"github.com/izio7/tensorboard/src/internal/tbsql"
)

var schema = []string{
	`CREATE SCHEMA IF NOT EXISTS tb`,
	`CREATE TABLE IF NOT EXISTS tb.users (
		id text PRIMARY KEY,
		name text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS tb.experiments (
		id text PRIMARY KEY,
		seq bigserial NOT NULL,
		owner text NOT NULL,
		name text NOT NULL DEFAULT '',
		description text NOT NULL DEFAULT '',
		num_runs bigint NOT NULL DEFAULT 0,
		num_tags bigint NOT NULL DEFAULT 0,
		num_scalars bigint NOT NULL DEFAULT 0,
		num_tensors bigint NOT NULL DEFAULT 0,
		num_blob_sequences bigint NOT NULL DEFAULT 0,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS experiments_owner_idx ON tb.experiments (owner, seq)`,
	`CREATE TABLE IF NOT EXISTS tb.tags (
		id bigserial PRIMARY KEY,
		experiment_id text NOT NULL REFERENCES tb.experiments (id),
		run text NOT NULL,
		tag text NOT NULL,
		data_class smallint NOT NULL,
		display_name text NOT NULL DEFAULT '',
		description text NOT NULL DEFAULT '',
		created_at timestamptz NOT NULL DEFAULT now(),
		UNIQUE (experiment_id, run, tag)
	)`,
	`CREATE TABLE IF NOT EXISTS tb.points (
		id bigserial PRIMARY KEY,
		tag_id bigint NOT NULL REFERENCES tb.tags (id),
		step bigint NOT NULL,
		wall_time timestamptz NOT NULL,
		scalar double precision,
		tensor bytea,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS points_tag_step_idx ON tb.points (tag_id, step, id)`,
	`CREATE TABLE IF NOT EXISTS tb.blob_refs (
		point_id bigint NOT NULL REFERENCES tb.points (id),
		idx int NOT NULL,
		blob_id text NOT NULL,
		PRIMARY KEY (point_id, idx)
	)`,
}

// SetupSchema creates the export metadata tables if they do not exist.
func SetupSchema(ctx context.Context, tx *tbsql.Tx) error {
	for _, stmt := range schema {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "apply schema statement %q", stmt[:40])
		}
	}
	return nil
}
