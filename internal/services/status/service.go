package status

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ternarybob/arbor"

	"github.com/renderstack/renderd/internal/interfaces"
	"github.com/renderstack/renderd/internal/models"
)

// Service answers on-demand status queries for polling clients. Pure read
// path: safe to call arbitrarily often, concurrently with worker updates.
type Service struct {
	storage interfaces.JobStorage
	logger  arbor.ILogger
}

// NewService creates a new status query service
func NewService(storage interfaces.JobStorage, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		logger:  logger,
	}
}

// Query resolves a job id to its wire representation:
//   - done  -> the stored result payload, verbatim
//   - error -> {status:"error", message}
//   - else  -> {status, progress}
//   - unknown or expired -> {status:"error", message:"not found"}
//
// The not-found case is a structured answer, not an error: expiry of old jobs
// is normal operation.
func (s *Service) Query(ctx context.Context, jobID string) (map[string]interface{}, error) {
	job, err := s.storage.Get(ctx, jobID)
	if errors.Is(err, models.ErrJobNotFound) {
		return map[string]interface{}{
			"status":  string(models.JobStatusError),
			"message": "not found",
		}, nil
	}
	if err != nil {
		return nil, err
	}

	return Render(job), nil
}

// Render converts a job record to its wire shape. Shared with the
// connection manager's replay so pollers and subscribers see identical
// snapshots.
func Render(job *models.Job) map[string]interface{} {
	switch job.Status {
	case models.JobStatusDone:
		out := map[string]interface{}{}
		if err := json.Unmarshal(job.Result, &out); err != nil {
			// Result should always be an object; fall back to wrapping it.
			return map[string]interface{}{
				"status": string(models.JobStatusDone),
				"result": string(job.Result),
			}
		}
		if _, ok := out["status"]; !ok {
			out["status"] = string(models.JobStatusDone)
		}
		return out
	case models.JobStatusError:
		return map[string]interface{}{
			"status":  string(models.JobStatusError),
			"message": job.Error,
		}
	default:
		return map[string]interface{}{
			"status":   string(job.Status),
			"progress": job.Progress,
		}
	}
}
