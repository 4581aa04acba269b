package reporter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/renderstack/renderd/internal/interfaces"
	"github.com/renderstack/renderd/internal/models"
)

// Service is the worker callback boundary. Every report writes the Job Store
// first and then publishes to the Notification Bus: the store is the source
// of truth, the bus a best-effort fast path. A failed publish is invisible to
// the worker by design; a failed store write is returned so the worker can
// fail the job rather than continue against lost state.
type Service struct {
	storage interfaces.JobStorage
	bus     interfaces.NotificationBus
	logger  arbor.ILogger
}

// NewService creates a new reporter service
func NewService(storage interfaces.JobStorage, bus interfaces.NotificationBus, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		bus:     bus,
		logger:  logger,
	}
}

// ReportProgress marks the job running at the given progress.
func (s *Service) ReportProgress(ctx context.Context, jobID string, progress int) error {
	status := models.JobStatusRunning
	update := models.JobUpdate{
		Status:   &status,
		Progress: &progress,
	}
	if _, err := s.storage.Update(ctx, jobID, update); err != nil {
		return fmt.Errorf("failed to record progress: %w", err)
	}

	s.bus.Publish(models.Topic(jobID), models.Notification{
		JobID:    jobID,
		Status:   models.JobStatusRunning,
		Progress: progress,
	})
	return nil
}

// ReportDone stores the final result and publishes the completion event.
// The result payload is opaque to this service; its top-level fields are
// flattened into the notification so subscribers see the same shape pollers
// get from the status query.
func (s *Service) ReportDone(ctx context.Context, jobID string, result json.RawMessage) error {
	status := models.JobStatusDone
	progress := 100
	update := models.JobUpdate{
		Status:   &status,
		Progress: &progress,
		Result:   result,
	}
	if _, err := s.storage.Update(ctx, jobID, update); err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}

	extra := map[string]interface{}{}
	if err := json.Unmarshal(result, &extra); err != nil {
		s.logger.Warn().Str("job_id", jobID).Err(err).Msg("Result payload is not a JSON object, publishing without fields")
		extra = nil
	}

	s.bus.Publish(models.Topic(jobID), models.Notification{
		JobID:    jobID,
		Status:   models.JobStatusDone,
		Progress: 100,
		Extra:    extra,
	})

	s.logger.Info().Str("job_id", jobID).Msg("Job completed")
	return nil
}

// ReportError stores the failure and publishes the error event. Failures are
// local to the job: nothing here may affect another job or connection.
func (s *Service) ReportError(ctx context.Context, jobID string, message string) error {
	status := models.JobStatusError
	update := models.JobUpdate{
		Status: &status,
		Error:  &message,
	}
	if _, err := s.storage.Update(ctx, jobID, update); err != nil {
		return fmt.Errorf("failed to record error: %w", err)
	}

	s.bus.Publish(models.Topic(jobID), models.Notification{
		JobID:  jobID,
		Status: models.JobStatusError,
		Extra:  map[string]interface{}{"message": message},
	})

	s.logger.Warn().Str("job_id", jobID).Str("error", message).Msg("Job failed")
	return nil
}
