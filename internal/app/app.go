package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/renderstack/renderd/internal/common"
	"github.com/renderstack/renderd/internal/handlers"
	"github.com/renderstack/renderd/internal/interfaces"
	"github.com/renderstack/renderd/internal/models"
	"github.com/renderstack/renderd/internal/queue"
	"github.com/renderstack/renderd/internal/services/events"
	"github.com/renderstack/renderd/internal/services/render"
	"github.com/renderstack/renderd/internal/services/reporter"
	"github.com/renderstack/renderd/internal/services/retention"
	"github.com/renderstack/renderd/internal/services/status"
	storagebadger "github.com/renderstack/renderd/internal/storage/badger"
	"github.com/renderstack/renderd/internal/workers"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager

	// Job pipeline
	Bus        interfaces.NotificationBus
	Queues     map[models.JobKind]interfaces.QueueManager
	Dispatcher interfaces.Dispatcher
	Reporter   interfaces.Reporter

	StatusService    interfaces.StatusService
	RetentionService *retention.Service

	processors []*workers.Processor

	// HTTP handlers
	APIHandler *handlers.APIHandler
	JobHandler *handlers.JobHandler
	WSHandler  *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initStorage(); err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("outputs", cfg.Outputs.Dir).
		Msg("Application initialization complete")

	return app, nil
}

// initStorage initializes the storage layer (Badger)
func (a *App) initStorage() error {
	manager, err := storagebadger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = manager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

// initServices initializes the job pipeline in dependency order:
// bus, queues, dispatcher, reporter, status, renderers, worker pools,
// retention sweeper.
func (a *App) initServices() error {
	a.Bus = events.NewBus(a.Logger)

	jobStorage := a.StorageManager.JobStorage()

	store, ok := a.StorageManager.DB().(*badgerhold.Store)
	if !ok {
		return fmt.Errorf("storage manager does not expose a badgerhold store")
	}
	badgerDB := store.Badger()

	a.Queues = make(map[models.JobKind]interfaces.QueueManager)
	for _, binding := range []struct {
		kind models.JobKind
		cfg  common.QueueConfig
	}{
		{models.JobKindImage, a.Config.Queues.Image},
		{models.JobKindVideo, a.Config.Queues.Video},
	} {
		q, err := queue.NewBadgerQueue(
			badgerDB,
			binding.cfg.Name,
			common.ParseDurationOr(binding.cfg.ExecutionTimeout, 0),
			binding.cfg.MaxReceive,
		)
		if err != nil {
			return fmt.Errorf("failed to create %s queue: %w", binding.kind, err)
		}
		a.Queues[binding.kind] = q
	}

	a.Dispatcher = queue.NewDispatcher(a.Queues, jobStorage, a.Logger)
	a.Reporter = reporter.NewService(jobStorage, a.Bus, a.Logger)
	a.StatusService = status.NewService(jobStorage, a.Logger)

	imageRenderer := render.NewImageRenderer(a.Config.Outputs.Dir, a.Config.Outputs.URLPrefix, a.Logger)
	videoRenderer := render.NewVideoRenderer(a.Config.Outputs.Dir, a.Config.Outputs.URLPrefix, a.Logger)

	executors := map[models.JobKind]interfaces.JobExecutor{
		models.JobKindImage: workers.NewImageWorker(imageRenderer, a.Reporter, a.Logger),
		models.JobKindVideo: workers.NewVideoWorker(videoRenderer, a.Reporter, a.Logger),
	}

	for kind, q := range a.Queues {
		cfg, _ := a.Config.QueueFor(kind.String())
		a.processors = append(a.processors, workers.NewProcessor(
			q,
			executors[kind],
			a.Reporter,
			cfg.Concurrency,
			common.ParseDurationOr(cfg.PollInterval, 0),
			a.Logger,
		))
	}

	a.RetentionService = retention.NewService(
		jobStorage,
		common.ParseDurationOr(a.Config.Retention.Window, 0),
		a.Config.Retention.Schedule,
		a.Logger,
	)

	return nil
}

// initHandlers initializes the HTTP boundary.
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.Dispatcher, a.StatusService, a.Config.Outputs, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.StatusService, a.Bus, a.Logger, &a.Config.WebSocket)
}

// Start launches the worker pools and the retention sweeper.
func (a *App) Start(ctx context.Context) error {
	for _, p := range a.processors {
		p.Start(ctx)
	}

	if err := a.RetentionService.Start(); err != nil {
		return fmt.Errorf("failed to start retention sweeper: %w", err)
	}

	return nil
}

// Close shuts the application down in reverse dependency order.
func (a *App) Close() {
	a.RetentionService.Stop()

	for _, p := range a.processors {
		p.Stop()
	}

	a.WSHandler.Close()

	if a.Bus != nil {
		a.Bus.Close()
	}

	for _, q := range a.Queues {
		if err := q.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Queue close failed")
		}
	}

	if a.StorageManager != nil {
		a.StorageManager.Close()
	}

	a.Logger.Info().Msg("Application shut down")
}
