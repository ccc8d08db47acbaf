package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

func TestJobRepo_Create_NewRow(t *testing.T) {
	pool := &poolStub{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &rowStub{values: []any{"job-1"}}
		},
	}
	repo := NewJobRepo(pool)

	id, err := repo.Create(context.Background(), domain.Job{
		ID: "job-1", ClusterID: "c1", Service: "svc", TargetFn: "fn",
		TargetArgs: []byte(`{}`), IdempotencyKey: "idem-1", RemainingAttempts: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "job-1", id)
}

func TestJobRepo_Create_Conflict(t *testing.T) {
	calls := 0
	pool := &poolStub{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			calls++
			if calls == 1 {
				return &rowStub{err: pgx.ErrNoRows}
			}
			return &rowStub{values: []any{
				"existing-id", "c1", "svc", "fn", []byte(`{}`), domain.JobPending, []byte(nil),
				nil, "idem-1", nil, nil, 2,
				nil, nil, false, nil,
				time.Now(), time.Now(), nil, nil, nil,
			}}
		},
	}
	repo := NewJobRepo(pool)

	id, err := repo.Create(context.Background(), domain.Job{
		ID: "job-2", ClusterID: "c1", Service: "svc", TargetFn: "fn",
		TargetArgs: []byte(`{}`), IdempotencyKey: "idem-1", RemainingAttempts: 2,
	})
	require.ErrorIs(t, err, domain.ErrConflict)
	assert.Equal(t, "existing-id", id)
}

func TestJobRepo_ClaimNext(t *testing.T) {
	now := time.Now()
	pool := &poolStub{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &rowsStub{rows: [][]any{
				{
					"job-1", "c1", "svc", "fn", []byte(`{}`), domain.JobRunning, []byte(nil),
					nil, "idem-1", nil, nil, 1,
					nil, "m1", false, nil,
					now, now, nil, nil, nil,
				},
			}}, nil
		},
	}
	repo := NewJobRepo(pool)

	jobs, err := repo.ClaimNext(context.Background(), "c1", "svc", "m1", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-1", jobs[0].ID)
	assert.Equal(t, domain.JobRunning, jobs[0].Status)
}

func TestJobRepo_ClaimNext_ZeroLimit(t *testing.T) {
	repo := NewJobRepo(&poolStub{})
	jobs, err := repo.ClaimNext(context.Background(), "c1", "svc", "m1", 0)
	require.NoError(t, err)
	assert.Nil(t, jobs)
}

func TestJobRepo_PersistResult_NotFound(t *testing.T) {
	pool := &poolStub{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	repo := NewJobRepo(pool)
	err := repo.PersistResult(context.Background(), "c1", "job-404", []byte("x"), domain.ResultResolution, nil)
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJobRepo_CountPending(t *testing.T) {
	pool := &poolStub{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &rowStub{values: []any{int64(3)}}
		},
	}
	repo := NewJobRepo(pool)
	count, err := repo.CountPending(context.Background(), "c1", "svc")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
