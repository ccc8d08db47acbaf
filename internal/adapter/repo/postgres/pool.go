// Package postgres provides PostgreSQL database adapters.
//
// It implements the job-engine repository ports for durable persistence.
// Repositories depend on the minimal PgxPool subset below rather than the
// concrete pgxpool.Pool type, so unit tests can stub Exec/QueryRow/Query
// without a database.
package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is a minimal subset of pgxpool used by the repos for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}
