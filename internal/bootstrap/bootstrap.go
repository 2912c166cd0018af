package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/docvault/internal/config"
	"github.com/kirillkom/docvault/internal/core/ports"
	"github.com/kirillkom/docvault/internal/core/queuefeed"
	"github.com/kirillkom/docvault/internal/core/usecase"
	"github.com/kirillkom/docvault/internal/infrastructure/catalog"
	"github.com/kirillkom/docvault/internal/infrastructure/export/xlsx"
	"github.com/kirillkom/docvault/internal/infrastructure/extractor/document"
	graphneo4j "github.com/kirillkom/docvault/internal/infrastructure/graph/neo4j"
	"github.com/kirillkom/docvault/internal/infrastructure/llm/gateway"
	"github.com/kirillkom/docvault/internal/infrastructure/ocr/tesseract"
	"github.com/kirillkom/docvault/internal/infrastructure/queue/nats"
	"github.com/kirillkom/docvault/internal/infrastructure/raster/poppler"
	"github.com/kirillkom/docvault/internal/infrastructure/report"
	"github.com/kirillkom/docvault/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/docvault/internal/infrastructure/resilience"
	sessionredis "github.com/kirillkom/docvault/internal/infrastructure/session/redis"
	"github.com/kirillkom/docvault/internal/infrastructure/storage/localfs"
)

// Options carry what differs between the binaries sharing one App.
type Options struct {
	Service string
	Logger  *slog.Logger
	Metrics ports.ProcessingMetrics
}

type App struct {
	Config config.Config
	Logger *slog.Logger

	Events *nats.EventBus
	Feed   *queuefeed.Hub

	Ingestor  ports.QueueIngestor
	Processor ports.QueueProcessor
	Sweeper   ports.QueueSweeper
	Queue     *usecase.QueueUseCase
	Review    ports.ReviewService
	Documents ports.DocumentService
	Entities  ports.EntityService
	Folders   ports.FolderService
	Sessions  ports.SessionService

	QueueRepo ports.QueueRepository

	db      *sql.DB
	closers []func()
}

func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{Config: cfg, Logger: logger, Feed: queuefeed.NewHub()}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	app.onClose(func() { _ = db.Close() })
	app.db = db
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	queueRepo := postgres.NewQueueRepository(db)
	docRepo := postgres.NewDocumentRepository(db)
	entityRepo := postgres.NewEntityRepository(db)
	folderRepo := postgres.NewFolderRepository(db)
	if err := seedEntityTypes(ctx, cfg, entityRepo); err != nil {
		return nil, err
	}

	// Breaker transitions reach metrics when the binary's collectors take them.
	observer, _ := opts.Metrics.(resilience.BreakerObserver)
	guard := func(p resilience.Policy) *resilience.Executor {
		return resilience.NewExecutor(p).WithLogger(logger).WithObserver(observer)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	events, err := nats.NewWithOptions(cfg.NATSURL, cfg.NATSEventsSubject, nats.Options{
		ResilienceExecutor: guard(resilience.BusPolicy()),
		Logger:             logger,
		ClientName:         opts.Service,
	})
	if err != nil {
		return nil, fmt.Errorf("init event bus: %w", err)
	}
	app.onClose(events.Close)
	app.Events = events

	sessions, err := sessionredis.New(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("init session store: %w", err)
	}
	app.onClose(func() { _ = sessions.Close() })

	graph, err := openGraph(ctx, cfg, logger, app)
	if err != nil {
		return nil, err
	}

	upstream := resilience.UpstreamPolicy(cfg.UpstreamRetryAttempts, cfg.UpstreamBreakerOpenFor)
	llm := gateway.New(cfg.LLMURL, cfg.LLMAPIKey, cfg.LLMModel, gateway.Options{
		Timeout:            cfg.LLMTimeout,
		ResilienceExecutor: guard(upstream),
		Logger:             logger,
	})
	ocr := tesseract.New(cfg.OCRURL, tesseract.Options{
		ResilienceExecutor: guard(upstream),
		Logger:             logger,
	})
	extractor := document.New(ocr, poppler.New(cfg.PDFToPPMPath), document.Options{
		Language: cfg.OCRLanguage,
		MaxPages: cfg.PDFMaxPages,
		Logger:   logger,
	})

	app.QueueRepo = queueRepo
	app.Ingestor = usecase.NewIngestQueueUseCase(queueRepo, docRepo, storage, events, logger)
	app.Processor = usecase.NewProcessQueueUseCase(queueRepo, docRepo, storage, extractor, entityRepo, gateway.NewEntityExtractor(llm), events, opts.Metrics, logger)
	app.Sweeper = usecase.NewSweepQueueUseCase(queueRepo, events, opts.Metrics, logger, cfg.QueueStuckAfter)
	app.Queue = usecase.NewQueueUseCase(queueRepo, storage, events, logger)
	app.Review = usecase.NewReviewUseCase(queueRepo, docRepo, entityRepo, folderRepo, storage, sessions, graph, events, logger)
	app.Documents = usecase.NewDocumentUseCase(docRepo, entityRepo, storage, graph, logger)
	app.Entities = usecase.NewEntityUseCase(entityRepo)
	app.Folders = usecase.NewFolderUseCase(folderRepo, docRepo, entityRepo, gateway.NewFolderAnalyzer(llm), graph, xlsx.New(), report.New(), logger)
	app.Sessions = usecase.NewSessionUseCase(sessions, folderRepo, logger)
	return app, nil
}

func seedEntityTypes(ctx context.Context, cfg config.Config, repo *postgres.EntityRepository) error {
	types, err := catalog.Load(cfg.EntityTypesFile)
	if err != nil {
		return fmt.Errorf("load entity types: %w", err)
	}
	if err := repo.SeedEntityTypes(ctx, types); err != nil {
		return fmt.Errorf("seed entity types: %w", err)
	}
	return nil
}

// openGraph connects the graph projection when NEO4J_URL is set. Without it
// the projector stays a nil interface and use cases skip projection.
func openGraph(ctx context.Context, cfg config.Config, logger *slog.Logger, app *App) (ports.GraphProjector, error) {
	if cfg.Neo4jURL == "" {
		logger.Info("graph_projection_disabled")
		return nil, nil
	}
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	driver, err := graphneo4j.Connect(connectCtx, cfg.Neo4jURL, cfg.Neo4jUser, cfg.Neo4jPassword)
	if err != nil {
		return nil, fmt.Errorf("init graph projection: %w", err)
	}
	app.onClose(func() { _ = driver.Close(context.Background()) })

	projector := graphneo4j.New(driver, cfg.Neo4jDatabase)
	if err := projector.EnsureConstraints(connectCtx); err != nil {
		return nil, fmt.Errorf("ensure graph constraints: %w", err)
	}
	return projector, nil
}

// HealthCheck reports whether postgres and NATS are reachable.
func (a *App) HealthCheck(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if !a.Events.Healthy() {
		return errors.New("nats: connection is not established")
	}
	return nil
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
