package interfaces

import (
	"context"
	"encoding/json"

	"github.com/renderstack/renderd/internal/models"
)

// Reporter is the worker callback boundary. Each call updates the Job Store
// and then publishes to the Notification Bus. These three calls are the only
// state transitions a worker may perform, always running* -> (done|error).
type Reporter interface {
	ReportProgress(ctx context.Context, jobID string, progress int) error
	ReportDone(ctx context.Context, jobID string, result json.RawMessage) error
	ReportError(ctx context.Context, jobID string, message string) error
}

// JobExecutor runs one claimed job to completion, reporting progress and the
// terminal state through the Reporter. An executor owns its job exclusively
// for the job's entire lifetime.
type JobExecutor interface {
	Kind() models.JobKind
	Execute(ctx context.Context, msg *models.QueueMessage) error
}

// Renderer is the opaque generation collaborator. Implementations produce an
// artifact for the given parameters; everything about how is out of scope.
type Renderer interface {
	Render(ctx context.Context, jobID string, params map[string]string) (string, error)
}
