package retention

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/renderstack/renderd/internal/models"
)

type memStorage struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
}

func newMemStorage() *memStorage {
	return &memStorage{jobs: make(map[string]*models.Job)}
}

func (m *memStorage) Create(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *memStorage) Update(ctx context.Context, jobID string, update models.JobUpdate) (*models.Job, error) {
	return nil, models.ErrJobNotFound
}

func (m *memStorage) Get(ctx context.Context, jobID string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok {
		return nil, models.ErrJobNotFound
	}
	copied := *job
	return &copied, nil
}

func (m *memStorage) Delete(ctx context.Context, jobID string) error { return nil }

func (m *memStorage) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, job := range m.jobs {
		if job.Status.IsTerminal() && job.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed, nil
}

func TestSweepRemovesOnlyExpiredTerminalJobs(t *testing.T) {
	storage := newMemStorage()
	ctx := context.Background()

	expired := models.NewJob("job_expired", models.JobKindImage)
	expired.Status = models.JobStatusDone
	expired.UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, storage.Create(ctx, expired))

	active := models.NewJob("job_active", models.JobKindImage)
	active.Status = models.JobStatusRunning
	active.UpdatedAt = time.Now().Add(-2 * time.Hour)
	require.NoError(t, storage.Create(ctx, active))

	fresh := models.NewJob("job_fresh", models.JobKindImage)
	fresh.Status = models.JobStatusDone
	require.NoError(t, storage.Create(ctx, fresh))

	svc := NewService(storage, time.Hour, "@every 10m", arbor.NewLogger())

	removed, err := svc.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = storage.Get(ctx, "job_expired")
	assert.ErrorIs(t, err, models.ErrJobNotFound)
	_, err = storage.Get(ctx, "job_active")
	assert.NoError(t, err)
	_, err = storage.Get(ctx, "job_fresh")
	assert.NoError(t, err)
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	svc := NewService(newMemStorage(), time.Hour, "not a schedule", arbor.NewLogger())
	assert.Error(t, svc.Start())
}

func TestStartAndStop(t *testing.T) {
	svc := NewService(newMemStorage(), time.Hour, "@every 1h", arbor.NewLogger())
	require.NoError(t, svc.Start())
	svc.Stop()
}
