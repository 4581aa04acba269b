package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
)

// VideoRenderer is the built-in video generator counterpart to ImageRenderer.
// It animates from a source image referenced by the job parameters and writes
// a placeholder MP4 container.
type VideoRenderer struct {
	outputDir string
	urlPrefix string
	logger    arbor.ILogger
}

// NewVideoRenderer creates a video renderer writing artifacts under outputDir.
func NewVideoRenderer(outputDir, urlPrefix string, logger arbor.ILogger) *VideoRenderer {
	return &VideoRenderer{
		outputDir: outputDir,
		urlPrefix: urlPrefix,
		logger:    logger,
	}
}

// mp4Header is a minimal ftyp box so the artifact is recognizable as MP4.
var mp4Header = []byte{
	0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p',
	'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00,
	'i', 's', 'o', 'm', 'm', 'p', '4', '1',
}

// Render writes an MP4 artifact for the job and returns its public URL path.
func (r *VideoRenderer) Render(ctx context.Context, jobID string, params map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	filename := jobID + ".mp4"
	path := filepath.Join(r.outputDir, filename)

	if err := os.WriteFile(path, mp4Header, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}

	r.logger.Debug().
		Str("job_id", jobID).
		Str("path", path).
		Msg("Video artifact written")

	return r.urlPrefix + "/" + filename, nil
}
