package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/maestro/internal/artifacts"
	"github.com/ternarybob/maestro/internal/broker"
	"github.com/ternarybob/maestro/internal/common"
	"github.com/ternarybob/maestro/internal/handlers"
	"github.com/ternarybob/maestro/internal/interfaces"
	"github.com/ternarybob/maestro/internal/llm"
	"github.com/ternarybob/maestro/internal/models"
	"github.com/ternarybob/maestro/internal/orchestrator"
	"github.com/ternarybob/maestro/internal/planner"
	"github.com/ternarybob/maestro/internal/scheduler"
	"github.com/ternarybob/maestro/internal/services/events"
	badgerstore "github.com/ternarybob/maestro/internal/storage/badger"
	"github.com/ternarybob/maestro/internal/worker"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	ctx       context.Context
	cancelCtx context.CancelFunc

	// Storage and queues
	db             *badgerstore.BadgerDB
	StorageManager interfaces.StorageManager
	Broker         *broker.Broker

	// Core services
	EventService   interfaces.EventService
	LLMChain       *llm.Chain
	Planner        *planner.Planner
	ArtifactStore  *artifacts.Store
	Orchestrator   *orchestrator.Orchestrator
	Scheduler      *scheduler.Scheduler
	WorkerPool     *worker.Pool
	resultConsumer *broker.Consumer

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	PlanHandler     *handlers.PlanHandler
	JobHandler      *handlers.JobHandler
	TaskHandler     *handlers.TaskHandler
	WorkflowHandler *handlers.WorkflowHandler
	ArtifactHandler *handlers.ArtifactHandler
	DLQHandler      *handlers.DLQHandler
	OrgHandler      *handlers.OrgHandler
	WSHandler       *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	app.ctx, app.cancelCtx = context.WithCancel(context.Background())

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	// Consumers start after handlers so nothing races initialization.
	app.startConsumers()

	logger.Info().
		Bool("workers_embedded", cfg.Workers.Embedded).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens the Badger store shared by the storage layer and the
// broker queues.
func (a *App) initDatabase() error {
	db, err := badgerstore.NewBadgerDB(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to open badger database: %w", err)
	}
	a.db = db
	a.StorageManager = badgerstore.NewManagerWithDB(db, a.Logger)

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	b, err := broker.New(db.Badger(), a.Config.Broker.GetVisibilityTimeout(), a.Config.Broker.MaxReceive, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}
	a.Broker = b
	a.Logger.Debug().
		Int("max_receive", a.Config.Broker.MaxReceive).
		Msg("Broker initialized")

	return nil
}

// initServices initializes all business services in dependency order.
func (a *App) initServices() error {
	a.EventService = events.NewService(a.Logger)

	// LLM provider chain. Planning degrades gracefully when no provider has
	// credentials; task execution falls back to deterministic stubs.
	a.LLMChain = llm.NewChain(&a.Config.LLM, a.Logger)
	if !a.LLMChain.Available() {
		a.Logger.Warn().Msg("No LLM provider configured, planner will return manual-workflow guidance")
	}

	a.Planner = planner.New(a.LLMChain, a.Logger)

	a.ArtifactStore = artifacts.NewStore(
		a.StorageManager.ArtifactStorage(),
		a.StorageManager.AuditStorage(),
		a.EventService,
		a.Logger,
	)

	a.Orchestrator = orchestrator.New(
		a.StorageManager,
		a.Broker,
		a.EventService,
		a.ArtifactStore,
		a.Config.Scheduler.MaxRetries,
		a.Logger,
	)

	// Exhausted deliveries surface as task failures.
	a.Broker.OnDeadLetter(a.Orchestrator.HandleDeadLetter)

	a.Scheduler = scheduler.New(
		a.StorageManager,
		a.Orchestrator,
		a.Config.Scheduler.GetTickInterval(),
		a.Config.Scheduler.GetRetention(),
		a.Config.Scheduler.GetTaskTimeout(),
		a.Logger,
	)

	if a.Config.Workers.Embedded {
		a.WorkerPool = worker.NewPool(
			a.Broker,
			a.Orchestrator,
			a.Config.Workers.Concurrency,
			a.Config.Broker.GetPollInterval(),
			a.Logger,
		)
		worker.RegisterBuiltins(a.WorkerPool, a.LLMChain, a.Logger)
		a.Logger.Debug().
			Int("concurrency", a.Config.Workers.Concurrency).
			Msg("Embedded worker pool initialized")
	}

	return nil
}

// initHandlers initializes all HTTP handlers
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.EventService, a.Logger, &a.Config.WebSocket)
	a.PlanHandler = handlers.NewPlanHandler(a.Planner, a.Orchestrator, a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.Orchestrator, a.StorageManager, a.Logger)
	a.TaskHandler = handlers.NewTaskHandler(a.Orchestrator, a.StorageManager, a.Logger)
	a.WorkflowHandler = handlers.NewWorkflowHandler(a.Orchestrator, a.StorageManager, a.Logger)
	a.ArtifactHandler = handlers.NewArtifactHandler(a.ArtifactStore, a.StorageManager, a.Logger)
	a.DLQHandler = handlers.NewDLQHandler(a.Broker, a.Logger)
	a.OrgHandler = handlers.NewOrgHandler(a.StorageManager, a.Logger)
}

// startConsumers starts the result consumer, the scheduler loop, and the
// embedded worker pool when enabled.
func (a *App) startConsumers() {
	a.resultConsumer = broker.NewConsumer(
		a.Broker.Results(),
		a.handleResultDelivery,
		a.Config.Broker.Concurrency,
		a.Config.Broker.GetPollInterval(),
		a.Logger,
	)
	a.resultConsumer.Start(a.ctx)
	a.Logger.Debug().Msg("Result consumer started")

	a.Scheduler.Start(a.ctx)
	a.Logger.Debug().Msg("Scheduler started")

	if a.WorkerPool != nil {
		a.WorkerPool.Start(a.ctx)
		a.Logger.Debug().Msg("Embedded worker pool started")
	}
}

// handleResultDelivery decodes a result message and hands it to the
// orchestrator. Malformed bodies ack so they do not loop forever.
func (a *App) handleResultDelivery(ctx context.Context, delivery *broker.Delivery) error {
	var result models.TaskResult
	if err := json.Unmarshal(delivery.Body, &result); err != nil {
		a.Logger.Error().
			Err(err).
			Str("message_id", delivery.ID).
			Msg("Malformed task result")
		return nil
	}
	if err := a.Orchestrator.HandleResult(ctx, &result); err != nil {
		a.Logger.Error().
			Err(err).
			Str("task_id", result.TaskID).
			Msg("Failed to handle task result")
	}
	return nil
}

// Close closes all application resources
func (a *App) Close() error {
	if a.cancelCtx != nil {
		a.Logger.Info().Msg("Cancelling background goroutines")
		a.cancelCtx()
	}

	if a.WorkerPool != nil {
		a.WorkerPool.Stop()
		a.Logger.Info().Msg("Worker pool stopped")
	}

	if a.Scheduler != nil {
		a.Scheduler.Stop()
		a.Logger.Info().Msg("Scheduler stopped")
	}

	if a.resultConsumer != nil {
		a.resultConsumer.Stop()
		a.Logger.Info().Msg("Result consumer stopped")
	}

	if a.Broker != nil {
		if err := a.Broker.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close broker")
		}
	}

	if a.LLMChain != nil {
		if err := a.LLMChain.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM chain")
		}
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
