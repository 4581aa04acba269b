package queue

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/renderstack/renderd/internal/common"
	"github.com/renderstack/renderd/internal/interfaces"
	"github.com/renderstack/renderd/internal/models"
)

// Dispatcher routes submissions to the queue matching the workload kind.
// Submit returns a job handle as soon as the store record and queue entry
// exist; it never waits for execution.
type Dispatcher struct {
	queues  map[models.JobKind]interfaces.QueueManager
	storage interfaces.JobStorage
	logger  arbor.ILogger
}

// NewDispatcher creates a dispatcher over the given per-kind queues.
func NewDispatcher(queues map[models.JobKind]interfaces.QueueManager, storage interfaces.JobStorage, logger arbor.ILogger) *Dispatcher {
	return &Dispatcher{
		queues:  queues,
		storage: storage,
		logger:  logger,
	}
}

// Submit generates a fresh job id, writes the initial store record
// (queued, progress 0) and enqueues the execution request. Exactly one queue
// entry and one store record per call.
//
// If the enqueue fails after the record was written, the record is removed
// best-effort so a failed dispatch never leaves a queryable job behind; the
// caller gets models.ErrDispatch either way.
func (d *Dispatcher) Submit(ctx context.Context, kind models.JobKind, params map[string]string) (string, error) {
	if !kind.IsValid() {
		return "", fmt.Errorf("%w: unknown job kind %q", models.ErrDispatch, kind)
	}

	q, ok := d.queues[kind]
	if !ok {
		return "", fmt.Errorf("%w: no queue for kind %q", models.ErrDispatch, kind)
	}

	jobID := common.NewJobID()

	if err := d.storage.Create(ctx, models.NewJob(jobID, kind)); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrDispatch, err)
	}

	msg := models.QueueMessage{
		JobID:  jobID,
		Kind:   kind,
		Params: params,
	}
	if err := q.Enqueue(ctx, msg); err != nil {
		// Roll back the store record so the job never becomes queryable.
		if delErr := d.storage.Delete(ctx, jobID); delErr != nil {
			d.logger.Warn().
				Str("job_id", jobID).
				Err(delErr).
				Msg("Failed to remove store record after enqueue failure")
		}
		return "", fmt.Errorf("%w: %v", models.ErrDispatch, err)
	}

	d.logger.Info().
		Str("job_id", jobID).
		Str("kind", kind.String()).
		Str("queue", q.Name()).
		Msg("Job dispatched")

	return jobID, nil
}
