package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/renderstack/renderd/internal/interfaces"
	"github.com/renderstack/renderd/internal/models"
)

// JobStorage implements the JobStorage interface for Badger.
//
// Each job is one badgerhold record keyed by job id. Get and Upsert run in
// their own Badger transactions, so a concurrent reader observes either the
// previous or the new record, never a torn one. The single-writer-per-job
// invariant belongs to the worker pipeline, not to this store.
type JobStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewJobStorage creates a new JobStorage instance
func NewJobStorage(db *BadgerDB, logger arbor.ILogger) interfaces.JobStorage {
	return &JobStorage{
		db:     db,
		logger: logger,
	}
}

// Create writes the initial record for a submitted job.
func (s *JobStorage) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		return fmt.Errorf("job ID is required")
	}

	if err := s.db.Store().Upsert(job.ID, *job); err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Trace().
		Str("job_id", job.ID).
		Str("kind", job.Kind.String()).
		Msg("Job record created")
	return nil
}

// Update applies a partial update with merge semantics and returns the
// resulting record.
func (s *JobStorage) Update(ctx context.Context, jobID string, update models.JobUpdate) (*models.Job, error) {
	var job models.Job
	err := s.db.Store().Get(jobID, &job)
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job for update: %w", err)
	}

	update.Apply(&job)

	if err := s.db.Store().Upsert(jobID, job); err != nil {
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	s.logger.Trace().
		Str("job_id", jobID).
		Str("status", string(job.Status)).
		Int("progress", job.Progress).
		Msg("Job record updated")
	return &job, nil
}

// Get returns the current record or models.ErrJobNotFound.
func (s *JobStorage) Get(ctx context.Context, jobID string) (*models.Job, error) {
	var job models.Job
	err := s.db.Store().Get(jobID, &job)
	if err == badgerhold.ErrNotFound {
		return nil, models.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return &job, nil
}

// Delete removes a record. Deleting an unknown id is not an error.
func (s *JobStorage) Delete(ctx context.Context, jobID string) error {
	err := s.db.Store().Delete(jobID, &models.Job{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// DeleteTerminalBefore removes terminal jobs last updated before the cutoff.
func (s *JobStorage) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var jobs []models.Job
	query := badgerhold.Where("Status").In(models.JobStatusDone, models.JobStatusError).
		And("UpdatedAt").Lt(cutoff)
	if err := s.db.Store().Find(&jobs, query); err != nil {
		return 0, fmt.Errorf("failed to find expired jobs: %w", err)
	}

	deleted := 0
	for _, job := range jobs {
		if err := s.db.Store().Delete(job.ID, &models.Job{}); err != nil {
			s.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Failed to delete expired job")
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.Info().Int("count", deleted).Msg("Deleted expired job records")
	}
	return deleted, nil
}
