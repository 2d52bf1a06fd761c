// Package db provides the PostgreSQL-backed entitlement store. The repository
// accepts a narrow DB interface satisfied by *pgxpool.Pool (through WrapPool)
// so tests can substitute mocks without a live database.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the minimal query interface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Tx is the transaction subset the repository needs. pgx.Tx satisfies it.
type Tx interface {
	DBTX
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// DB combines plain queries with the ability to open a transaction. The
// repository uses transactions for its atomic read-modify-write updates
// (SELECT ... FOR UPDATE) and plain queries for everything else.
type DB interface {
	DBTX
	Begin(ctx context.Context) (Tx, error)
}

// pgxDB adapts *pgxpool.Pool to the DB interface. The adaptation is needed
// only because pgxpool's Begin returns the concrete pgx.Tx type.
type pgxDB struct {
	pool *pgxpool.Pool
}

// WrapPool wraps a pgx connection pool as a DB.
func WrapPool(pool *pgxpool.Pool) DB {
	return &pgxDB{pool: pool}
}

func (d *pgxDB) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return d.pool.Exec(ctx, sql, arguments...)
}

func (d *pgxDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return d.pool.Query(ctx, sql, args...)
}

func (d *pgxDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return d.pool.QueryRow(ctx, sql, args...)
}

func (d *pgxDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
