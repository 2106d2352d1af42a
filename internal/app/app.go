package app

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/folio/internal/common"
	"github.com/ternarybob/folio/internal/handlers"
	"github.com/ternarybob/folio/internal/interfaces"
	"github.com/ternarybob/folio/internal/pipeline"
	"github.com/ternarybob/folio/internal/queue"
	"github.com/ternarybob/folio/internal/services/ebooks"
	"github.com/ternarybob/folio/internal/services/generator"
	"github.com/ternarybob/folio/internal/services/llm"
	"github.com/ternarybob/folio/internal/services/pdf"
	"github.com/ternarybob/folio/internal/storage/badger"
	"github.com/timshannon/badgerhold/v4"
)

const startupCheckTimeout = 30 * time.Second

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Generation capabilities
	LLMService interfaces.LLMService
	Generator  interfaces.ContentGenerator
	Renderer   interfaces.DocumentRenderer
	Artifacts  *pdf.FileArtifactStore

	// Job execution
	QueueManager *queue.Manager
	WorkerPool   *queue.WorkerPool
	Orchestrator *pipeline.Orchestrator

	// Producer side
	EbookService *ebooks.Service

	// HTTP handlers
	APIHandler   *handlers.APIHandler
	EbookHandler *handlers.EbookHandler
}

// New initializes the application with all dependencies. Workers are not
// started until Start is called.
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().
		Str("provider", string(cfg.LLM.DefaultProvider)).
		Str("model", app.Generator.Model()).
		Bool("pdf_enabled", cfg.PDF.Enabled).
		Int("concurrency", app.QueueManager.Config().Concurrency).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase opens Badger and proves it accepts writes before anything
// depends on it
func (a *App) initDatabase() error {
	storageManager, err := badger.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}
	a.StorageManager = storageManager

	ctx, cancel := context.WithTimeout(context.Background(), startupCheckTimeout)
	defer cancel()
	if err := storageManager.Ping(ctx); err != nil {
		storageManager.Close()
		a.StorageManager = nil
		return fmt.Errorf("record store is not writable: %w", err)
	}

	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")
	return nil
}

// initServices builds the generation capabilities, the orchestrator and the
// queue in dependency order
func (a *App) initServices() error {
	llmService, err := llm.NewLLMService(a.Config, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create LLM service: %w", err)
	}
	a.LLMService = llmService

	if a.Config.LLM.HealthCheckOnStartup {
		ctx, cancel := context.WithTimeout(context.Background(), startupCheckTimeout)
		defer cancel()
		if err := llmService.HealthCheck(ctx); err != nil {
			return fmt.Errorf("LLM provider health check failed: %w", err)
		}
		a.Logger.Info().Str("model", llmService.Model()).Msg("LLM provider reachable")
	}

	gen, err := generator.NewService(llmService, a.Config.Pipeline, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create content generator: %w", err)
	}
	a.Generator = gen

	a.Renderer = pdf.NewDocumentRenderer(a.Config.PDF, a.Logger)

	artifacts, err := pdf.NewFileArtifactStore(a.Config.Storage.Artifacts, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create artifact store: %w", err)
	}
	a.Artifacts = artifacts

	orchestrator, err := pipeline.NewOrchestrator(
		a.StorageManager.EbookStorage(),
		a.Generator,
		a.Renderer,
		a.Artifacts,
		a.Config.Pipeline,
		a.Logger,
	)
	if err != nil {
		return fmt.Errorf("failed to create orchestrator: %w", err)
	}
	a.Orchestrator = orchestrator

	store, ok := a.StorageManager.DB().(*badgerhold.Store)
	if !ok {
		return fmt.Errorf("queue requires a badgerhold store, got %T", a.StorageManager.DB())
	}

	queueConfig := queue.ConfigFromCommon(a.Config.Queue)
	transport, err := queue.NewBadgerManager(store.Badger(), queueConfig.QueueName, queueConfig.VisibilityTimeout)
	if err != nil {
		return fmt.Errorf("failed to create queue transport: %w", err)
	}
	a.QueueManager = queue.NewManager(transport, a.StorageManager.JobStorage(), queueConfig, a.Logger)

	a.WorkerPool = queue.NewWorkerPool(a.QueueManager, queue.LogEvents(a.Logger), a.Logger)
	a.Orchestrator.Register(a.WorkerPool)

	a.EbookService = ebooks.NewService(a.StorageManager.EbookStorage(), a.QueueManager, a.Logger)
	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.StorageManager, a.Logger)
	a.EbookHandler = handlers.NewEbookHandler(a.EbookService, a.Logger)
}

// Start begins polling for jobs and schedules retention cleanup
func (a *App) Start() error {
	if err := a.WorkerPool.Start(); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := a.QueueManager.StartCleanup(); err != nil {
		a.WorkerPool.Stop()
		return fmt.Errorf("failed to start queue cleanup: %w", err)
	}
	return nil
}

// Close stops the workers and releases resources. In-flight jobs get the
// queue's shutdown timeout before they are requeued.
func (a *App) Close() error {
	if a.QueueManager != nil {
		a.QueueManager.StopCleanup()
	}

	if a.WorkerPool != nil {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		} else {
			a.Logger.Info().Msg("Worker pool stopped")
		}
	}

	if a.LLMService != nil {
		if err := a.LLMService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM service")
		} else {
			a.Logger.Info().Msg("LLM service closed")
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
