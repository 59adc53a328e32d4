package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/venxtra/venxtra/internal/config"
	"github.com/venxtra/venxtra/internal/core"
	db "github.com/venxtra/venxtra/internal/core/database"
	engine "github.com/venxtra/venxtra/internal/core/extraction_engine"
	"github.com/venxtra/venxtra/internal/core/llm"
	"github.com/venxtra/venxtra/internal/core/objectclient"
	"github.com/venxtra/venxtra/internal/core/taskstore"
	"github.com/venxtra/venxtra/internal/memory"
	"github.com/venxtra/venxtra/internal/models"
	"github.com/venxtra/venxtra/internal/parsers"
	"github.com/venxtra/venxtra/internal/services"
	"github.com/venxtra/venxtra/internal/tasks"
)

// App wires the worker's collaborators together and owns their lifecycles.
type App struct {
	DBClient   core.DbClient
	LLM        *llm.GeminiLLM
	Tracker    *tasks.Tracker
	Dispatcher *services.Dispatcher

	cfg *config.Config
	log *zap.Logger
}

func NewApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("database initialized and ready")

	objClient, err := objectclient.NewS3Client(appCtx, cfg, log)
	if err != nil {
		return nil, err
	}

	llmProvider, err := llm.NewGeminiLLM(appCtx, cfg.AIAPIKey, cfg.GenModel)
	if err != nil {
		return nil, err
	}

	// Redis when configured and reachable, in-memory otherwise.
	var store core.TaskStore
	if cfg.RedisURL != "" {
		redisStore, err := taskstore.NewRedisStore(appCtx, cfg.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, task state is process-local", zap.Error(err))
			store = taskstore.NewMemoryStore()
		} else {
			store = redisStore
			log.Info("task store backed by redis")
		}
	} else {
		store = taskstore.NewMemoryStore()
		log.Warn("REDIS_URL not set, task state is process-local")
	}

	tracker := tasks.NewTracker(store, cfg.TaskRetention, log)
	memManager := memory.NewManager(log, memory.WithBaseLimits(models.ProcessingLimits{
		ChunkWordSize: cfg.MaxChunkWords,
		OverlapWords:  cfg.ChunkOverlapWords,
		MaxConcurrent: cfg.MaxConcurrent,
		BatchSize:     10,
	}))

	extractor := engine.NewChunkExtractor(llmProvider, log)
	pool := engine.NewWorkerPool(extractor, memManager, log,
		engine.WithMonitor(memManager),
		engine.WithRunState(tracker),
		engine.WithPacing(cfg.BatchPacing),
		engine.WithProgressSink(tracker),
	)

	registry := parsers.NewRegistry(log)
	processor := services.NewProcessingService(dbClient, objClient, registry, pool, memManager, tracker, cfg, log)
	dispatcher := services.NewDispatcher(dbClient, processor, tracker, log)

	return &App{
		DBClient:   dbClient,
		LLM:        llmProvider,
		Tracker:    tracker,
		Dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
	}, nil
}

// Run starts the processing workers and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	a.Dispatcher.Start(ctx, a.cfg.WorkerCount)
	a.log.Info("worker running", zap.Int("workers", a.cfg.WorkerCount))
	<-ctx.Done()
}

func (a *App) Close() {
	if a.LLM != nil {
		_ = a.LLM.Close()
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
