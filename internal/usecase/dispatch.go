package usecase

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	obsctx "github.com/fairyhunter13/ai-cv-evaluator/internal/observability"

	"github.com/fairyhunter13/ai-cv-evaluator/internal/domain"
)

// DispatchService implements the worker-facing poll/claim operation (spec
// §4.2), the server side of the polling agent's (C8) request.
type DispatchService struct {
	Jobs     domain.JobRepository
	Machines domain.MachineRepository
	Events   domain.EventSink
}

// NextJobs claims up to limit jobs for (clusterID, service) on behalf of
// machineID, recording the machine's liveness ping in the same call so a
// poll doubles as a heartbeat.
func (s *DispatchService) NextJobs(ctx domain.Context, clusterID, service, machineID, machineIP string, limit int) ([]domain.Job, error) {
	tracer := otel.Tracer("usecase.dispatch")
	ctx, span := tracer.Start(ctx, "usecase.NextJobs")
	defer span.End()
	span.SetAttributes(
		attribute.String("cluster.id", clusterID),
		attribute.String("service.name", service),
		attribute.String("machine.id", machineID),
		attribute.Int("limit", limit),
	)

	if s.Machines != nil {
		if err := s.Machines.Upsert(ctx, domain.Machine{ID: machineID, ClusterID: clusterID, IP: machineIP}); err != nil {
			obsctx.LoggerFromContext(ctx).Warn("machine upsert failed", "error", err)
		}
	}

	jobs, err := s.Jobs.ClaimNext(ctx, clusterID, service, machineID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=dispatch.next_jobs: %w", err)
	}

	if s.Events != nil {
		for i := range jobs {
			_ = s.Events.Emit(ctx, domain.Event{ID: jobs[i].ID + ":received", ClusterID: clusterID, Kind: domain.EventJobReceived, JobID: &jobs[i].ID, MachineID: &machineID})
		}
	}

	span.SetAttributes(attribute.Int("claimed.count", len(jobs)))
	return jobs, nil
}
