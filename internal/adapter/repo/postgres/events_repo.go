package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// EventRepo is the append-only audit trail for job-lifecycle and
// deployment-lifecycle transitions (supplemented feature: no module in
// spec.md names this table, but every state machine it describes implies
// one for operability).
type EventRepo struct{ Pool PgxPool }

// NewEventRepo constructs an EventRepo.
func NewEventRepo(p PgxPool) *EventRepo { return &EventRepo{Pool: p} }

// Emit records a single audit event.
func (r *EventRepo) Emit(ctx domain.Context, e domain.Event) error {
	tracer := otel.Tracer("repo.events")
	ctx, span := tracer.Start(ctx, "events.Emit")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("event.kind", string(e.Kind)),
	)

	now := e.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	q := `INSERT INTO events (id, cluster_id, kind, job_id, machine_id, deployment_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err := r.Pool.Exec(ctx, q, e.ID, e.ClusterID, e.Kind, e.JobID, e.MachineID, e.DeploymentID, now); err != nil {
		return fmt.Errorf("op=event.emit: %w", err)
	}
	return nil
}
