package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// DeploymentRepo tracks packaged worker images bound to (cluster, service).
// ActiveFor returns only the newest Active row for (cluster, service), but
// the repo does not keep other rows from being Active: Create stores
// whatever status it is given, Release deactivates only the row it names,
// and no row is promoted to Active here.
type DeploymentRepo struct{ Pool PgxPool }

// NewDeploymentRepo constructs a DeploymentRepo.
func NewDeploymentRepo(p PgxPool) *DeploymentRepo { return &DeploymentRepo{Pool: p} }

// Create inserts a new deployment with d.Status, or in the Uploading state
// when d.Status is empty.
func (r *DeploymentRepo) Create(ctx domain.Context, d domain.Deployment) (string, error) {
	tracer := otel.Tracer("repo.deployments")
	ctx, span := tracer.Start(ctx, "deployments.Create")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "INSERT"))

	now := time.Now().UTC()
	status := d.Status
	if status == "" {
		status = domain.DeploymentUploading
	}
	q := `INSERT INTO deployments (id, cluster_id, service, provider, status, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$6) RETURNING id`
	row := r.Pool.QueryRow(ctx, q, d.ID, d.ClusterID, d.Service, d.Provider, status, now)
	var id string
	if err := row.Scan(&id); err != nil {
		return "", fmt.Errorf("op=deployment.create: %w", err)
	}
	return id, nil
}

// Get loads a deployment by id, scoped to cluster.
func (r *DeploymentRepo) Get(ctx domain.Context, clusterID, id string) (domain.Deployment, error) {
	tracer := otel.Tracer("repo.deployments")
	ctx, span := tracer.Start(ctx, "deployments.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))

	q := `SELECT id, cluster_id, service, provider, status, created_at, updated_at
		FROM deployments WHERE id=$1 AND cluster_id=$2`
	d, err := scanDeployment(r.Pool.QueryRow(ctx, q, id, clusterID))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Deployment{}, fmt.Errorf("op=deployment.get: %w", domain.ErrNotFound)
		}
		return domain.Deployment{}, fmt.Errorf("op=deployment.get: %w", err)
	}
	return d, nil
}

// ActiveFor returns the currently active deployment for (cluster, service).
func (r *DeploymentRepo) ActiveFor(ctx domain.Context, clusterID, service string) (domain.Deployment, error) {
	tracer := otel.Tracer("repo.deployments")
	ctx, span := tracer.Start(ctx, "deployments.ActiveFor")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))

	q := `SELECT id, cluster_id, service, provider, status, created_at, updated_at
		FROM deployments WHERE cluster_id=$1 AND service=$2 AND status=$3
		ORDER BY created_at DESC LIMIT 1`
	d, err := scanDeployment(r.Pool.QueryRow(ctx, q, clusterID, service, domain.DeploymentActive))
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Deployment{}, fmt.Errorf("op=deployment.active_for: %w", domain.ErrNotFound)
		}
		return domain.Deployment{}, fmt.Errorf("op=deployment.active_for: %w", err)
	}
	return d, nil
}

// Release transitions a deployment to Inactive. It records no event.
func (r *DeploymentRepo) Release(ctx domain.Context, clusterID, id string) error {
	tracer := otel.Tracer("repo.deployments")
	ctx, span := tracer.Start(ctx, "deployments.Release")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPDATE"))

	q := `UPDATE deployments SET status=$1, updated_at=$2 WHERE id=$3 AND cluster_id=$4`
	tag, err := r.Pool.Exec(ctx, q, domain.DeploymentInactive, time.Now().UTC(), id, clusterID)
	if err != nil {
		return fmt.Errorf("op=deployment.release: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=deployment.release: %w", domain.ErrNotFound)
	}
	return nil
}

func scanDeployment(row pgx.Row) (domain.Deployment, error) {
	var d domain.Deployment
	if err := row.Scan(&d.ID, &d.ClusterID, &d.Service, &d.Provider, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return domain.Deployment{}, err
	}
	return d, nil
}
