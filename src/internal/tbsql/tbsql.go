// Package tbsql is the layer for interacting with SQL databases.  All code
// that touches the metadata database goes through these types so that the
// driver and sqlx usage stay in one place.
package tbsql

import (
	"github.com/jmoiron/sqlx"
)

type (
	// DB is a database handle.
	DB = sqlx.DB
	// Tx is a database transaction.
	Tx = sqlx.Tx
	// Row is a row returned by a single-row query.
	Row = sqlx.Row
)
