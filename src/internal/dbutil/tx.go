package dbutil

import (
	"context"
	"database/sql"

	"github.com/izio7/tensorboard/src/internal/errors"
	"github.com/izio7/tensorboard/src/internal/log"
	"github.com/izio7/tensorboard/src/internal/tbsql"
)

type withTxConfig struct {
	sql.TxOptions
}

// WithTxOption parameterizes the WithTx function.
type WithTxOption func(c *withTxConfig)

// WithReadOnly causes WithTx to run the transaction as read-only.
func WithReadOnly() WithTxOption {
	return func(c *withTxConfig) {
		c.ReadOnly = true
	}
}

// WithIsolationLevel runs the transaction with the specified isolation level.
func WithIsolationLevel(x sql.IsolationLevel) WithTxOption {
	return func(c *withTxConfig) {
		c.Isolation = x
	}
}

// WithTx calls cb with a transaction.  The transaction is committed IFF cb
// returns nil.  If cb returns an error the transaction is rolled back.
func WithTx(ctx context.Context, db *tbsql.DB, cb func(ctx context.Context, tx *tbsql.Tx) error, opts ...WithTxOption) error {
	c := &withTxConfig{
		TxOptions: sql.TxOptions{
			Isolation: sql.LevelReadCommitted,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	tx, err := db.BeginTxx(ctx, &c.TxOptions)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	return tryTxFunc(ctx, tx, cb)
}

func tryTxFunc(ctx context.Context, tx *tbsql.Tx, cb func(ctx context.Context, tx *tbsql.Tx) error) error {
	if err := cb(ctx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error(ctx, "failed to rollback transaction")
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "commit tx")
}
