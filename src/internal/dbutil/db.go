package dbutil

import (
	"context"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/izio7/tensorboard/src/internal/errors"
	"github.com/izio7/tensorboard/src/internal/log"
	"github.com/izio7/tensorboard/src/internal/tbsql"
)

const (
	// DefaultMaxOpenConns is the default maximum number of open connections.
	DefaultMaxOpenConns = 10
	// DefaultMaxIdleConns is the default number of idle database connections
	// to maintain.  (2 comes from the default in database/sql.go.)
	DefaultMaxIdleConns = 2
	// DefaultSSLMode disables SSL, matching an in-cluster database.
	DefaultSSLMode = "disable"
)

type dbConfig struct {
	host            string
	port            int
	user, password  string
	name            string
	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration
	connMaxIdleTime time.Duration
	sslMode         string
}

// Option configures the database connection.
type Option func(*dbConfig)

// WithHostPort sets the host and port of the database.
func WithHostPort(host string, port int) Option {
	return func(dbc *dbConfig) {
		dbc.host = host
		dbc.port = port
	}
}

// WithUserPassword sets the credentials for the database connection.
func WithUserPassword(user, password string) Option {
	return func(dbc *dbConfig) {
		dbc.user = user
		dbc.password = password
	}
}

// WithDBName sets the name of the database to connect to.
func WithDBName(name string) Option {
	return func(dbc *dbConfig) {
		dbc.name = name
	}
}

// WithSSLMode sets the postgres sslmode parameter.
func WithSSLMode(mode string) Option {
	return func(dbc *dbConfig) {
		dbc.sslMode = mode
	}
}

// WithMaxOpenConns sets the pool's maximum number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(dbc *dbConfig) {
		dbc.maxOpenConns = n
	}
}

func newConfig(opts ...Option) *dbConfig {
	dbc := &dbConfig{
		maxOpenConns: DefaultMaxOpenConns,
		maxIdleConns: DefaultMaxIdleConns,
		sslMode:      DefaultSSLMode,
	}
	for _, opt := range opts {
		opt(dbc)
	}
	return dbc
}

func getDSN(dbc *dbConfig) string {
	fields := map[string]string{
		"connect_timeout": "30",
		"sslmode":         dbc.sslMode,
	}
	if dbc.host != "" {
		fields["host"] = dbc.host
	}
	if dbc.port != 0 {
		fields["port"] = strconv.Itoa(dbc.port)
	}
	if dbc.name != "" {
		fields["dbname"] = dbc.name
	}
	if dbc.user != "" {
		fields["user"] = dbc.user
	}
	if dbc.password != "" {
		fields["password"] = dbc.password
	}
	var dsnParts []string
	for k, v := range fields {
		dsnParts = append(dsnParts, k+"="+v)
	}
	return strings.Join(dsnParts, " ")
}

// NewDB creates a new DB.
func NewDB(opts ...Option) (*tbsql.DB, error) {
	dbc := newConfig(opts...)
	if dbc.name == "" {
		panic("must specify database name")
	}
	if dbc.host == "" {
		panic("must specify database host")
	}
	if dbc.user == "" {
		panic("must specify user")
	}
	db, err := sqlx.Open("pgx", getDSN(dbc))
	if err != nil {
		return nil, errors.EnsureStack(err)
	}
	if dbc.maxOpenConns != 0 {
		db.SetMaxOpenConns(dbc.maxOpenConns)
	}
	// Always set these; 0 does not mean "use the default", it means "use zero".
	db.SetMaxIdleConns(dbc.maxIdleConns)
	db.SetConnMaxLifetime(dbc.connMaxLifetime)
	db.SetConnMaxIdleTime(dbc.connMaxIdleTime)
	return db, nil
}

// WaitUntilReady attempts to ping the database until the context is canceled.
func WaitUntilReady(ctx context.Context, db *tbsql.DB) error {
	const period = time.Second
	log.Info(ctx, "waiting for db to be ready...")
	return errors.EnsureStack(backoff.Retry(func() error {
		log.Debug(ctx, "pinging db...")
		pingCtx, cancel := context.WithTimeout(ctx, period)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			log.Debug(ctx, "db is not ready", zap.Error(err))
			return errors.EnsureStack(err)
		}
		log.Info(ctx, "db is ready")
		return nil
	}, backoff.WithContext(backoff.NewConstantBackOff(period), ctx)))
}
