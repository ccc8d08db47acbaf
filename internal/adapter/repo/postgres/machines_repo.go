package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// MachineRepo tracks worker liveness, upserted on every poll (spec §4.8).
type MachineRepo struct{ Pool PgxPool }

// NewMachineRepo constructs a MachineRepo.
func NewMachineRepo(p PgxPool) *MachineRepo { return &MachineRepo{Pool: p} }

// Upsert records a machine's latest ping.
func (r *MachineRepo) Upsert(ctx domain.Context, m domain.Machine) error {
	tracer := otel.Tracer("repo.machines")
	ctx, span := tracer.Start(ctx, "machines.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPSERT"))

	q := `INSERT INTO machines (id, cluster_id, ip, deployment_id, last_ping_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id, cluster_id) DO UPDATE SET
			ip = EXCLUDED.ip,
			deployment_id = EXCLUDED.deployment_id,
			last_ping_at = EXCLUDED.last_ping_at`
	now := m.LastPingAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if _, err := r.Pool.Exec(ctx, q, m.ID, m.ClusterID, m.IP, m.DeploymentID, now); err != nil {
		return fmt.Errorf("op=machine.upsert: %w", err)
	}
	return nil
}

// CountRunning counts machines for (cluster, service) that pinged within
// the last `since` duration. A machine is tied to a service only through
// its deployment_id, so machines without a deployment are never counted. Used by the wake-up notifier to decide whether
// any worker is already active before paging a serverless provider.
func (r *MachineRepo) CountRunning(ctx domain.Context, clusterID, service string, since time.Duration) (int64, error) {
	tracer := otel.Tracer("repo.machines")
	ctx, span := tracer.Start(ctx, "machines.CountRunning")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "COUNT"))

	cutoff := time.Now().UTC().Add(-since)
	q := `SELECT COUNT(*) FROM machines m
		JOIN deployments d ON d.id = m.deployment_id
		WHERE m.cluster_id=$1 AND d.service=$2 AND m.last_ping_at >= $3`
	row := r.Pool.QueryRow(ctx, q, clusterID, service, cutoff)
	var count int64
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("op=machine.count_running: %w", err)
	}
	return count, nil
}
