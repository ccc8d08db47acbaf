package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// ClusterRepo is the tenant boundary lookup: every admission, dispatch, and
// status call is scoped to a cluster whose shared secret gates worker polls.
type ClusterRepo struct{ Pool PgxPool }

// NewClusterRepo constructs a ClusterRepo.
func NewClusterRepo(p PgxPool) *ClusterRepo { return &ClusterRepo{Pool: p} }

// Get loads a cluster by id.
func (r *ClusterRepo) Get(ctx domain.Context, id string) (domain.Cluster, error) {
	tracer := otel.Tracer("repo.clusters")
	ctx, span := tracer.Start(ctx, "clusters.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))

	q := `SELECT id, secret_hash, predictive_retries, auto_retry_on_stall, operational, created_at
		FROM clusters WHERE id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var c domain.Cluster
	if err := row.Scan(&c.ID, &c.SecretHash, &c.PredictiveRetries, &c.AutoRetryOnStall, &c.Operational, &c.CreatedAt); err != nil {
		if err == pgx.ErrNoRows {
			return domain.Cluster{}, fmt.Errorf("op=cluster.get: %w", domain.ErrNotFound)
		}
		return domain.Cluster{}, fmt.Errorf("op=cluster.get: %w", err)
	}
	return c, nil
}

// VerifySecret checks a bearer secret against the cluster's stored Argon2id
// hash in constant time, used to authenticate both admission calls and
// worker polls (spec §6's bearer-token requirement).
func (r *ClusterRepo) VerifySecret(ctx domain.Context, id, secret string) (bool, error) {
	c, err := r.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !c.Operational {
		return false, fmt.Errorf("op=cluster.verify_secret: %w", domain.ErrForbidden)
	}
	return httpserver.VerifyPassword(secret, c.SecretHash), nil
}
