package workers

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

// stubQueue serves a fixed backlog and records deletions.
type stubQueue struct {
	mu      sync.Mutex
	backlog []models.QueueMessage
	deleted []string
}

func (q *stubQueue) Name() string { return "stub" }

func (q *stubQueue) Enqueue(ctx context.Context, msg models.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.backlog = append(q.backlog, msg)
	return nil
}

func (q *stubQueue) Receive(ctx context.Context) (*models.QueueMessage, func() error, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.backlog) == 0 {
		return nil, nil, models.ErrNoMessage
	}
	msg := q.backlog[0]
	q.backlog = q.backlog[1:]
	deleteFn := func() error {
		q.mu.Lock()
		defer q.mu.Unlock()
		q.deleted = append(q.deleted, msg.JobID)
		return nil
	}
	return &msg, deleteFn, nil
}

func (q *stubQueue) Close() error { return nil }

// funcExecutor adapts a function to the executor interface.
type funcExecutor struct {
	kind models.JobKind
	fn   func(ctx context.Context, msg *models.QueueMessage) error
}

func (e *funcExecutor) Kind() models.JobKind { return e.kind }

func (e *funcExecutor) Execute(ctx context.Context, msg *models.QueueMessage) error {
	return e.fn(ctx, msg)
}

func TestProcessorDrainsBacklogAndDeletesMessages(t *testing.T) {
	queue := &stubQueue{}
	ctx := context.Background()
	for _, id := range []string{"job_a", "job_b", "job_c"} {
		require.NoError(t, queue.Enqueue(ctx, models.QueueMessage{JobID: id, Kind: models.JobKindImage}))
	}

	var processed []string
	var mu sync.Mutex
	executor := &funcExecutor{kind: models.JobKindImage, fn: func(ctx context.Context, msg *models.QueueMessage) error {
		mu.Lock()
		defer mu.Unlock()
		processed = append(processed, msg.JobID)
		return nil
	}}

	reporter := &recordingReporter{}
	p := NewProcessor(queue, executor, reporter, 1, 10*time.Millisecond, arbor.NewLogger())
	p.Start(ctx)

	assert.Eventually(t, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return len(queue.deleted) == 3
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"job_a", "job_b", "job_c"}, processed)
	assert.ElementsMatch(t, []string{"job_a", "job_b", "job_c"}, queue.deleted)
}

func TestProcessorRecoversFromPanicAndFailsOnlyThatJob(t *testing.T) {
	queue := &stubQueue{}
	ctx := context.Background()
	require.NoError(t, queue.Enqueue(ctx, models.QueueMessage{JobID: "job_bad", Kind: models.JobKindImage}))
	require.NoError(t, queue.Enqueue(ctx, models.QueueMessage{JobID: "job_good", Kind: models.JobKindImage}))

	executor := &funcExecutor{kind: models.JobKindImage, fn: func(ctx context.Context, msg *models.QueueMessage) error {
		if msg.JobID == "job_bad" {
			panic("renderer blew up")
		}
		return nil
	}}

	reporter := &recordingReporter{}
	p := NewProcessor(queue, executor, reporter, 1, 10*time.Millisecond, arbor.NewLogger())
	p.Start(ctx)

	assert.Eventually(t, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return len(queue.deleted) == 2
	}, 2*time.Second, 10*time.Millisecond)

	p.Stop()

	reporter.mu.Lock()
	defer reporter.mu.Unlock()
	require.Len(t, reporter.calls, 1)
	assert.Equal(t, "error", reporter.calls[0].kind)
	assert.Equal(t, "job_bad", reporter.calls[0].jobID)
	assert.Contains(t, reporter.calls[0].message, "internal error")
}
