package postgres

import (
	"context"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// poolStub is a hand-rolled PgxPool stand-in used instead of a real
// database or a mocking library: each test supplies the Exec/QueryRow/Query
// behavior it needs via closures.
type poolStub struct {
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (p *poolStub) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if p.execFn != nil {
		return p.execFn(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

func (p *poolStub) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if p.queryRowFn != nil {
		return p.queryRowFn(ctx, sql, args...)
	}
	return &rowStub{err: pgx.ErrNoRows}
}

func (p *poolStub) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if p.queryFn != nil {
		return p.queryFn(ctx, sql, args...)
	}
	return &rowsStub{}, nil
}

func (p *poolStub) BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error) {
	return nil, pgx.ErrTxClosed
}

// rowStub implements pgx.Row, scanning a fixed set of values or returning a
// fixed error.
type rowStub struct {
	values []any
	err    error
}

func (r *rowStub) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(dest, r.values)
}

// rowsStub implements pgx.Rows over an in-memory slice of row values.
type rowsStub struct {
	rows [][]any
	idx  int
	err  error
}

func (r *rowsStub) Close()                                       {}
func (r *rowsStub) Err() error                                   { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag                 { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}
func (r *rowsStub) Scan(dest ...any) error {
	return scanInto(dest, r.rows[r.idx-1])
}
func (r *rowsStub) Values() ([]any, error) { return r.rows[r.idx-1], nil }
func (r *rowsStub) RawValues() [][]byte    { return nil }
func (r *rowsStub) Conn() *pgx.Conn         { return nil }

// scanInto copies src values into dest pointers via reflection, handling
// the named string/int types (domain.JobStatus, domain.ResultType, ...) and
// the *T/* *T nullable-column shapes this package's repos scan into.
func scanInto(dest []any, src []any) error {
	if len(dest) != len(src) {
		return pgx.ErrNoRows
	}
	for i := range dest {
		if src[i] == nil {
			continue
		}
		dv := reflect.ValueOf(dest[i])
		if dv.Kind() != reflect.Ptr || dv.IsNil() {
			continue
		}
		elem := dv.Elem()
		sv := reflect.ValueOf(src[i])

		if elem.Kind() == reflect.Ptr {
			// destination is a nullable column (**T): allocate a T and
			// assign, converting named types as needed.
			target := reflect.New(elem.Type().Elem())
			if sv.Type().ConvertibleTo(elem.Type().Elem()) {
				target.Elem().Set(sv.Convert(elem.Type().Elem()))
			}
			elem.Set(target)
			continue
		}
		if sv.Type().ConvertibleTo(elem.Type()) {
			elem.Set(sv.Convert(elem.Type()))
		}
	}
	return nil
}
