package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/renderstack/renderd/internal/interfaces"
	"github.com/renderstack/renderd/internal/models"
)

// Processor drives one queue with a pool of polling goroutines. Each
// goroutine claims a message, hands it to the executor for that workload
// kind, and deletes the message once the executor has driven the job to a
// terminal state. A crash before deletion leaves the claim to expire, so the
// message is redelivered.
type Processor struct {
	queue        interfaces.QueueManager
	executor     interfaces.JobExecutor
	reporter     interfaces.Reporter
	concurrency  int
	pollInterval time.Duration
	logger       arbor.ILogger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewProcessor creates a processor for one queue/executor pair.
func NewProcessor(queue interfaces.QueueManager, executor interfaces.JobExecutor, reporter interfaces.Reporter, concurrency int, pollInterval time.Duration, logger arbor.ILogger) *Processor {
	if concurrency <= 0 {
		concurrency = 1
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	return &Processor{
		queue:        queue,
		executor:     executor,
		reporter:     reporter,
		concurrency:  concurrency,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Start launches the worker pool.
func (p *Processor) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)

	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}

	p.logger.Info().
		Str("queue", p.queue.Name()).
		Int("concurrency", p.concurrency).
		Msg("Worker pool started")
}

// Stop signals the pool and waits for in-flight jobs to finish.
func (p *Processor) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.logger.Info().Str("queue", p.queue.Name()).Msg("Worker pool stopped")
}

func (p *Processor) run(ctx context.Context, id int) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drain(ctx, id)
		}
	}
}

// drain processes messages until the queue is empty, so a backlog is worked
// off without waiting a poll interval per job.
func (p *Processor) drain(ctx context.Context, id int) {
	for {
		if ctx.Err() != nil {
			return
		}

		msg, deleteFn, err := p.queue.Receive(ctx)
		if errors.Is(err, models.ErrNoMessage) {
			return
		}
		if err != nil {
			p.logger.Warn().
				Str("queue", p.queue.Name()).
				Err(err).
				Msg("Queue receive failed")
			return
		}

		p.process(ctx, id, msg)

		if err := deleteFn(); err != nil {
			p.logger.Warn().
				Str("queue", p.queue.Name()).
				Str("job_id", msg.JobID).
				Err(err).
				Msg("Failed to delete processed message")
		}
	}
}

// process runs one job through its executor. Any failure mode, including a
// panic, ends with exactly one terminal report for that job and never touches
// another job.
func (p *Processor) process(ctx context.Context, id int, msg *models.QueueMessage) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Str("job_id", msg.JobID).
				Str("panic", fmt.Sprintf("%v", r)).
				Msg("Worker panicked")
			if err := p.reporter.ReportError(ctx, msg.JobID, fmt.Sprintf("internal error: %v", r)); err != nil {
				p.logger.Warn().Str("job_id", msg.JobID).Err(err).Msg("Failed to report panic")
			}
		}
	}()

	p.logger.Info().
		Str("queue", p.queue.Name()).
		Str("job_id", msg.JobID).
		Int("worker", id).
		Msg("Processing job")

	if err := p.executor.Execute(ctx, msg); err != nil {
		p.logger.Warn().
			Str("job_id", msg.JobID).
			Err(err).
			Msg("Job execution failed")
	}
}
