package db

import (
	"context"
	_ "embed"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmhodges/clock"
	"github.com/pkg/errors"
)

const DefaultTimeout = 5 * time.Second

//go:embed schema.sql
var schema string

var repeatableReadIsoLevel = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}

// PgxIface is the part of pgxpool.Pool the stores use.
type PgxIface interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Database keeps delivery tokens, reminder policies, claimed reminder slots and
// delivery outcomes in Postgres. It also reads notes owned by the note store.
type Database struct {
	Conn    PgxIface
	Timeout time.Duration
	clk     clock.Clock
}

// NewDatabase connects to Postgres. The connection string should look like
// postgresql://localhost:5432/notepush?user=admn&password=passwd
func NewDatabase(ctx context.Context, connStr string, clk clock.Clock) (*Database, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, errors.Wrap(err, "failed creating connection pool")
	}

	pingCtx, cancel := context.WithTimeout(ctx, DefaultTimeout)
	defer cancel()
	if err = pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed pinging database")
	}

	return NewWithConn(pool, clk), nil
}

// NewWithConn wraps an existing connection, tests pass a pgxmock pool here.
func NewWithConn(conn PgxIface, clk clock.Clock) *Database {
	if clk == nil {
		clk = clock.New()
	}
	return &Database{Conn: conn, Timeout: DefaultTimeout, clk: clk}
}

// Migrate creates missing tables and indexes.
func (d *Database) Migrate(ctx context.Context) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	if _, err := d.Conn.Exec(ctx, schema); err != nil {
		return errors.Wrap(err, "failed applying schema")
	}
	return nil
}

func (d *Database) Close() {
	d.Conn.Close()
}

func (d *Database) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.Timeout)
}
