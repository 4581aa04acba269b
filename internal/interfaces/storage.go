package interfaces

import (
	"context"
	"time"

	"github.com/renderstack/renderd/internal/models"
)

// JobStorage is the shared job metadata store. Update must be safe to call
// concurrently with Get without exposing partially-written records;
// single-writer-per-job is the workers' contract, not the store's.
type JobStorage interface {
	// Create writes the initial record for a submitted job.
	Create(ctx context.Context, job *models.Job) error

	// Update applies a partial update with merge semantics.
	// Returns models.ErrJobNotFound for unknown ids.
	Update(ctx context.Context, jobID string, update models.JobUpdate) (*models.Job, error)

	// Get returns the current record or models.ErrJobNotFound.
	Get(ctx context.Context, jobID string) (*models.Job, error)

	// Delete removes a record. Deleting an unknown id is not an error.
	Delete(ctx context.Context, jobID string) error

	// DeleteTerminalBefore removes terminal jobs last updated before the
	// cutoff and returns how many were removed. Used by the retention sweep.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// StorageManager provides access to all storage backends.
type StorageManager interface {
	JobStorage() JobStorage

	// DB returns the underlying database handle for components that need
	// direct access (the queue shares the Badger instance).
	DB() interface{}

	Close() error
}
