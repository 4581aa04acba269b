package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/renderstack/renderd/internal/interfaces"
)

// Service periodically removes terminal job records older than the retention
// window. Queued and running jobs are never touched regardless of age; a
// removed job answers subsequent status queries as not found.
type Service struct {
	storage  interfaces.JobStorage
	window   time.Duration
	schedule string
	cron     *cron.Cron
	logger   arbor.ILogger
}

// NewService creates a retention sweeper with the given window and cron schedule.
func NewService(storage interfaces.JobStorage, window time.Duration, schedule string, logger arbor.ILogger) *Service {
	return &Service{
		storage:  storage,
		window:   window,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers and launches the sweep schedule.
func (s *Service) Start() error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.logger.Info().
		Str("schedule", s.schedule).
		Str("window", s.window.String()).
		Msg("Retention sweeper started")

	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Service) Stop() {
	if s.cron == nil {
		return
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info().Msg("Retention sweeper stopped")
}

// Sweep removes terminal jobs last updated before the retention cutoff. It is
// exported so operators and tests can force a sweep outside the schedule.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.window)

	removed, err := s.storage.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep failed: %w", err)
	}

	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Expired job records removed")
	}

	return removed, nil
}

func (s *Service) sweep() {
	if _, err := s.Sweep(context.Background()); err != nil {
		s.logger.Warn().Err(err).Msg("Retention sweep failed")
	}
}
