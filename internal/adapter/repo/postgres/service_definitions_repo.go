package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// ServiceDefinitionRepo persists the per-cluster function registry a worker
// declares at startup from its definition file (spec §4.1's admission-time function validation reads
// from this table).
type ServiceDefinitionRepo struct{ Pool PgxPool }

// NewServiceDefinitionRepo constructs a ServiceDefinitionRepo.
func NewServiceDefinitionRepo(p PgxPool) *ServiceDefinitionRepo {
	return &ServiceDefinitionRepo{Pool: p}
}

// Upsert replaces the declared function set for (cluster, service).
// Functions are stored as a JSON blob since the set is always read and
// written whole, never queried per-function at the SQL level.
func (r *ServiceDefinitionRepo) Upsert(ctx domain.Context, def domain.ServiceDefinition) error {
	tracer := otel.Tracer("repo.service_definitions")
	ctx, span := tracer.Start(ctx, "service_definitions.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "UPSERT"))

	payload, err := json.Marshal(def.Functions)
	if err != nil {
		return fmt.Errorf("op=service_definition.upsert.marshal: %w", err)
	}
	now := def.UpdatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	q := `INSERT INTO service_definitions (cluster_id, service, functions, updated_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (cluster_id, service) DO UPDATE SET
			functions = EXCLUDED.functions,
			updated_at = EXCLUDED.updated_at`
	if _, err := r.Pool.Exec(ctx, q, def.ClusterID, def.Service, payload, now); err != nil {
		return fmt.Errorf("op=service_definition.upsert: %w", err)
	}
	return nil
}

// Get loads the declared function set for (cluster, service).
func (r *ServiceDefinitionRepo) Get(ctx domain.Context, clusterID, service string) (domain.ServiceDefinition, error) {
	tracer := otel.Tracer("repo.service_definitions")
	ctx, span := tracer.Start(ctx, "service_definitions.Get")
	defer span.End()
	span.SetAttributes(attribute.String("db.system", "postgresql"), attribute.String("db.operation", "SELECT"))

	q := `SELECT cluster_id, service, functions, updated_at FROM service_definitions WHERE cluster_id=$1 AND service=$2`
	row := r.Pool.QueryRow(ctx, q, clusterID, service)
	var def domain.ServiceDefinition
	var payload []byte
	if err := row.Scan(&def.ClusterID, &def.Service, &payload, &def.UpdatedAt); err != nil {
		return domain.ServiceDefinition{}, fmt.Errorf("op=service_definition.get: %w", domain.ErrNotFound)
	}
	if err := json.Unmarshal(payload, &def.Functions); err != nil {
		return domain.ServiceDefinition{}, fmt.Errorf("op=service_definition.get.unmarshal: %w", err)
	}
	return def, nil
}
