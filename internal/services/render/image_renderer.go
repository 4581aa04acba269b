package render

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
)

// ImageRenderer is the built-in image generator. It produces a deterministic
// placeholder PNG derived from the job parameters, which keeps the full
// pipeline exercisable without an external model backend. Swapping in a real
// backend only means providing another Renderer.
type ImageRenderer struct {
	outputDir string
	urlPrefix string
	logger    arbor.ILogger
}

// NewImageRenderer creates an image renderer writing artifacts under outputDir.
func NewImageRenderer(outputDir, urlPrefix string, logger arbor.ILogger) *ImageRenderer {
	return &ImageRenderer{
		outputDir: outputDir,
		urlPrefix: urlPrefix,
		logger:    logger,
	}
}

// Render writes a PNG artifact for the job and returns its public URL path.
func (r *ImageRenderer) Render(ctx context.Context, jobID string, params map[string]string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	filename := jobID + ".png"
	path := filepath.Join(r.outputDir, filename)

	img := placeholderImage(512, 512, params)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create artifact: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("failed to encode artifact: %w", err)
	}

	r.logger.Debug().
		Str("job_id", jobID).
		Str("path", path).
		Msg("Image artifact written")

	return r.urlPrefix + "/" + filename, nil
}

// placeholderImage fills a canvas with a color derived from the parameters so
// distinct prompts produce visibly distinct artifacts.
func placeholderImage(w, h int, params map[string]string) image.Image {
	hash := fnv.New32a()
	for k, v := range params {
		hash.Write([]byte(k))
		hash.Write([]byte(v))
	}
	sum := hash.Sum32()

	fill := color.RGBA{
		R: uint8(sum >> 16),
		G: uint8(sum >> 8),
		B: uint8(sum),
		A: 255,
	}

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, fill)
		}
	}
	return img
}
