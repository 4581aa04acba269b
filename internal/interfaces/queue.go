package interfaces

import (
	"context"

	"github.com/renderstack/renderd/internal/models"
)

// QueueManager is one named hand-off channel between submission and workers.
// Receive claims a message exclusively until its visibility timeout elapses;
// the returned delete function releases it permanently after processing.
type QueueManager interface {
	Name() string
	Enqueue(ctx context.Context, msg models.QueueMessage) error
	Receive(ctx context.Context) (*models.QueueMessage, func() error, error)
	Close() error
}

// Dispatcher accepts job submissions and hands them to the queue matching the
// workload kind. Submit returns as soon as the job is queued.
type Dispatcher interface {
	Submit(ctx context.Context, kind models.JobKind, params map[string]string) (string, error)
}
