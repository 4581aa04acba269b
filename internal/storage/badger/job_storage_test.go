package badger

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/renderstack/renderd/internal/common"
	"github.com/renderstack/renderd/internal/interfaces"
	"github.com/renderstack/renderd/internal/models"
)

func newTestStorage(t *testing.T) interfaces.JobStorage {
	t.Helper()

	db, err := NewBadgerDB(arbor.NewLogger(), &common.BadgerConfig{
		Path: filepath.Join(t.TempDir(), "db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewJobStorage(db, arbor.NewLogger())
}

func TestJobStorageCreateAndGet(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	job := models.NewJob("job_1", models.JobKindImage)
	require.NoError(t, storage.Create(ctx, job))

	got, err := storage.Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, "job_1", got.ID)
	assert.Equal(t, models.JobKindImage, got.Kind)
	assert.Equal(t, models.JobStatusQueued, got.Status)
	assert.Equal(t, 0, got.Progress)
}

func TestJobStorageGetUnknownID(t *testing.T) {
	storage := newTestStorage(t)

	_, err := storage.Get(context.Background(), "job_missing")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestJobStorageUpdateMergesFields(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.Create(ctx, models.NewJob("job_1", models.JobKindImage)))

	running := models.JobStatusRunning
	progress := 20
	updated, err := storage.Update(ctx, "job_1", models.JobUpdate{Status: &running, Progress: &progress})
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, updated.Status)
	assert.Equal(t, 20, updated.Progress)

	// A later partial update must not clobber unrelated fields.
	done := models.JobStatusDone
	full := 100
	result := json.RawMessage(`{"status":"done","imageUrl":"/outputs/job_1.png"}`)
	updated, err = storage.Update(ctx, "job_1", models.JobUpdate{Status: &done, Progress: &full, Result: result})
	require.NoError(t, err)
	assert.Equal(t, models.JobKindImage, updated.Kind)
	assert.JSONEq(t, string(result), string(updated.Result))

	got, err := storage.Get(ctx, "job_1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusDone, got.Status)
	assert.Equal(t, 100, got.Progress)
}

func TestJobStorageUpdateUnknownID(t *testing.T) {
	storage := newTestStorage(t)

	running := models.JobStatusRunning
	_, err := storage.Update(context.Background(), "job_missing", models.JobUpdate{Status: &running})
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestJobStorageDeleteIsIdempotent(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.Create(ctx, models.NewJob("job_1", models.JobKindImage)))
	require.NoError(t, storage.Delete(ctx, "job_1"))
	require.NoError(t, storage.Delete(ctx, "job_1"))

	_, err := storage.Get(ctx, "job_1")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
}

func TestJobStorageDeleteTerminalBefore(t *testing.T) {
	storage := newTestStorage(t)
	ctx := context.Background()

	// Terminal and old: removed.
	oldDone := models.NewJob("job_old_done", models.JobKindImage)
	oldDone.Status = models.JobStatusDone
	oldDone.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, storage.Create(ctx, oldDone))

	oldError := models.NewJob("job_old_error", models.JobKindVideo)
	oldError.Status = models.JobStatusError
	oldError.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, storage.Create(ctx, oldError))

	// Old but still queued: retention never touches non-terminal jobs.
	oldQueued := models.NewJob("job_old_queued", models.JobKindImage)
	oldQueued.UpdatedAt = time.Now().Add(-48 * time.Hour)
	require.NoError(t, storage.Create(ctx, oldQueued))

	// Terminal but fresh: kept.
	freshDone := models.NewJob("job_fresh_done", models.JobKindImage)
	freshDone.Status = models.JobStatusDone
	require.NoError(t, storage.Create(ctx, freshDone))

	removed, err := storage.DeleteTerminalBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	_, err = storage.Get(ctx, "job_old_done")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
	_, err = storage.Get(ctx, "job_old_error")
	assert.ErrorIs(t, err, models.ErrJobNotFound)

	_, err = storage.Get(ctx, "job_old_queued")
	assert.NoError(t, err)
	_, err = storage.Get(ctx, "job_fresh_done")
	assert.NoError(t, err)
}
