package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/renderstack/renderd/internal/interfaces"
	"github.com/renderstack/renderd/internal/models"
)

// VideoWorker executes video generation jobs. Video jobs animate from an
// already generated image, so the source artifact URL is a required
// parameter; a missing or malformed reference fails the job before any
// generation work starts.
type VideoWorker struct {
	renderer interfaces.Renderer
	reporter interfaces.Reporter
	logger   arbor.ILogger
}

// NewVideoWorker creates a video job executor.
func NewVideoWorker(renderer interfaces.Renderer, reporter interfaces.Reporter, logger arbor.ILogger) *VideoWorker {
	return &VideoWorker{
		renderer: renderer,
		reporter: reporter,
		logger:   logger,
	}
}

// Kind returns the workload kind this executor handles.
func (w *VideoWorker) Kind() models.JobKind {
	return models.JobKindVideo
}

// Execute runs one video job to a terminal state. Checkpoints: 5 on claim,
// 10 after input validation, 20 preparing, 30 entering generation, 95 after
// generation, then done with the artifact.
func (w *VideoWorker) Execute(ctx context.Context, msg *models.QueueMessage) error {
	started := time.Now()

	if err := w.reporter.ReportProgress(ctx, msg.JobID, 5); err != nil {
		return err
	}

	source := msg.Params["imageUrl"]
	if strings.TrimSpace(source) == "" {
		return w.fail(ctx, msg.JobID, "missing imageUrl parameter")
	}
	if !strings.HasPrefix(source, "/") && !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://") {
		return w.fail(ctx, msg.JobID, fmt.Sprintf("invalid imageUrl %q", source))
	}

	if err := w.reporter.ReportProgress(ctx, msg.JobID, 10); err != nil {
		return err
	}
	if err := w.reporter.ReportProgress(ctx, msg.JobID, 20); err != nil {
		return err
	}
	if err := w.reporter.ReportProgress(ctx, msg.JobID, 30); err != nil {
		return err
	}

	url, err := w.renderer.Render(ctx, msg.JobID, msg.Params)
	if err != nil {
		return w.fail(ctx, msg.JobID, fmt.Sprintf("video generation failed: %v", err))
	}

	if err := w.reporter.ReportProgress(ctx, msg.JobID, 95); err != nil {
		return err
	}

	result, err := json.Marshal(map[string]interface{}{
		"status":   string(models.JobStatusDone),
		"videoUrl": url,
		"meta": map[string]interface{}{
			"kind":      models.JobKindVideo.String(),
			"source":    source,
			"elapsedMs": time.Since(started).Milliseconds(),
		},
	})
	if err != nil {
		return w.fail(ctx, msg.JobID, fmt.Sprintf("failed to encode result: %v", err))
	}

	return w.reporter.ReportDone(ctx, msg.JobID, result)
}

func (w *VideoWorker) fail(ctx context.Context, jobID, message string) error {
	if err := w.reporter.ReportError(ctx, jobID, message); err != nil {
		return fmt.Errorf("%s (and failed to report: %w)", message, err)
	}
	return nil
}
