package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/renderstack/renderd/internal/interfaces"
	"github.com/renderstack/renderd/internal/models"
)

// ImageWorker executes image generation jobs. Progress is reported at fixed
// checkpoints around the generation phases; the final result carries the
// artifact URL in the same shape the status query returns.
type ImageWorker struct {
	renderer interfaces.Renderer
	reporter interfaces.Reporter
	logger   arbor.ILogger
}

// NewImageWorker creates an image job executor.
func NewImageWorker(renderer interfaces.Renderer, reporter interfaces.Reporter, logger arbor.ILogger) *ImageWorker {
	return &ImageWorker{
		renderer: renderer,
		reporter: reporter,
		logger:   logger,
	}
}

// Kind returns the workload kind this executor handles.
func (w *ImageWorker) Kind() models.JobKind {
	return models.JobKindImage
}

// Execute runs one image job to a terminal state. Checkpoints: 5 on claim,
// 20 entering generation, 85 after generation, then done with the artifact.
func (w *ImageWorker) Execute(ctx context.Context, msg *models.QueueMessage) error {
	started := time.Now()

	if err := w.reporter.ReportProgress(ctx, msg.JobID, 5); err != nil {
		return err
	}
	if err := w.reporter.ReportProgress(ctx, msg.JobID, 20); err != nil {
		return err
	}

	url, err := w.renderer.Render(ctx, msg.JobID, msg.Params)
	if err != nil {
		return w.fail(ctx, msg.JobID, fmt.Sprintf("image generation failed: %v", err))
	}

	if err := w.reporter.ReportProgress(ctx, msg.JobID, 85); err != nil {
		return err
	}

	result, err := json.Marshal(map[string]interface{}{
		"status":   string(models.JobStatusDone),
		"imageUrl": url,
		"meta": map[string]interface{}{
			"kind":      models.JobKindImage.String(),
			"params":    msg.Params,
			"elapsedMs": time.Since(started).Milliseconds(),
		},
	})
	if err != nil {
		return w.fail(ctx, msg.JobID, fmt.Sprintf("failed to encode result: %v", err))
	}

	return w.reporter.ReportDone(ctx, msg.JobID, result)
}

func (w *ImageWorker) fail(ctx context.Context, jobID, message string) error {
	if err := w.reporter.ReportError(ctx, jobID, message); err != nil {
		return fmt.Errorf("%s (and failed to report: %w)", message, err)
	}
	return nil
}
