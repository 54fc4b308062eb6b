package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/DRSN-tech/visual-search/internal/cfg"
	v1Http "github.com/DRSN-tech/visual-search/internal/delivery/v1/http"
	"github.com/DRSN-tech/visual-search/internal/embedding"
	"github.com/DRSN-tech/visual-search/internal/infrastructure/inference"
	"github.com/DRSN-tech/visual-search/internal/infrastructure/kafka"
	"github.com/DRSN-tech/visual-search/internal/infrastructure/media"
	"github.com/DRSN-tech/visual-search/internal/repository/memory"
	s3Repo "github.com/DRSN-tech/visual-search/internal/repository/minio"
	"github.com/DRSN-tech/visual-search/internal/repository/pgdb"
	pgdbConv "github.com/DRSN-tech/visual-search/internal/repository/pgdb/converter"
	qdrantRepo "github.com/DRSN-tech/visual-search/internal/repository/qdrant"
	"github.com/DRSN-tech/visual-search/internal/repository/redis"
	"github.com/DRSN-tech/visual-search/internal/usecase"
	"github.com/DRSN-tech/visual-search/internal/worker"
	"github.com/DRSN-tech/visual-search/pkg/clients"
	"github.com/DRSN-tech/visual-search/pkg/closer"
	"github.com/DRSN-tech/visual-search/pkg/e"
	"github.com/DRSN-tech/visual-search/pkg/logger"
	"github.com/DRSN-tech/visual-search/pkg/postgres"
	"github.com/DRSN-tech/visual-search/pkg/tr"
	"github.com/go-chi/chi/v5"
	"github.com/jimlawless/whereami"
)

const (
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
	topicTimeout    = 10 * time.Second
)

// App — собранный сервис: HTTP API, пул воркеров индексации и публикация outbox.
type App struct {
	cfg    *config.Config
	logger logger.Logger
	closer *closer.Closer

	httpSrv *v1Http.Server
	pool    *worker.Pool
	outbox  *kafka.OutboxWorker
	search  *usecase.SearchUseCase
}

// NewApp подключает хранилища, загружает модель и собирает зависимости.
// Ошибка конфигурации или недоступность обязательной зависимости прерывает запуск.
func NewApp(cfg *config.Config, log logger.Logger) (app *App, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	defer cancel()

	a := &App{
		cfg:    cfg,
		logger: log,
		closer: closer.NewCloser(0),
	}
	// частично собранное приложение освобождает уже открытые ресурсы
	defer func() {
		if err != nil {
			_ = a.closer.Close(context.Background())
		}
	}()

	db, err := initPGDB(ctx, log, cfg)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	a.closer.AddFunc("postgres", db.Close)

	productRepo := pgdb.NewProductRepo(db.Pool, pgdbConv.NewProductConverter())
	eventRepo := pgdb.NewWebhookEventRepo(db.Pool, pgdbConv.NewWebhookEventConverter())
	searchLogRepo := pgdb.NewSearchLogRepo(db.Pool, pgdbConv.NewSearchLogConverter())
	outboxRepo := pgdb.NewOutboxEventRepo(db.Pool, pgdbConv.NewOutboxEventConverter())
	txManager := tr.NewManager(db.Pool)

	redisClient := clients.NewRedisClient(cfg.Redis)
	a.closer.Add("redis", func(context.Context) error { return redisClient.Close() })
	if err := redisClient.Ping(ctx); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	jobQueue := redis.NewJobQueue(redisClient, cfg.Queue, log)
	if err := jobQueue.EnsureGroup(ctx); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	cacheRepo := redis.NewEmbedCacheRepo(redisClient, cfg.Redis, log)

	minioClient, err := clients.NewMinIOClient(cfg.Minio)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	if err := clients.EnsureBucket(ctx, minioClient, cfg.Minio.BucketName); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	imageRepo := s3Repo.NewImageRepo(minioClient, cfg.Minio)

	index, err := a.initVectorIndex(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	model := inference.NewClient(&http.Client{Timeout: cfg.Embedding.InferenceTimeout}, cfg.Embedding, log)
	engine, err := embedding.New(ctx, model, embedding.Config{
		ModelID:        cfg.Embedding.ModelID,
		Device:         cfg.Embedding.Device,
		BatchSize:      cfg.Embedding.BatchSize,
		Dimension:      int(cfg.Qdrant.VectorSize),
		MaxImagePixels: cfg.Embedding.MaxImagePixels,
	}, log)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	a.closer.Add("embedding engine", engine.Close)

	fetcher := media.NewFetcher(imageRepo, &http.Client{Timeout: cfg.Media.FetchTimeout}, cfg.Media, log)

	producer, err := kafka.NewProducer(log, cfg.Kafka)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	a.closer.Add("kafka producer", func(context.Context) error { return producer.Close() })
	if err := producer.EnsureTopic(topicTimeout); err != nil {
		// топик может создаваться инфраструктурой, публикация повторится из outbox
		log.Warnf("failed to ensure kafka topic %s: %v", cfg.Kafka.Topic, err)
	}
	a.outbox = kafka.NewOutboxWorker(outboxRepo, log, producer, cfg.Kafka, db.Dsn)

	webhookUC := usecase.NewWebhookUC(cfg.Webhook, jobQueue, eventRepo, log)
	indexingUC := usecase.NewIndexingUC(productRepo, eventRepo, outboxRepo, txManager, index, engine, fetcher, log)
	a.search = usecase.NewSearchUC(engine, index, cacheRepo, searchLogRepo, jobQueue, cfg.Search, log)
	reindexUC := usecase.NewReindexUC(cfg.Webhook, cfg.Embedding.BatchSize, productRepo, jobQueue, log)

	a.pool = worker.NewPool(jobQueue, indexingUC, cfg.Queue, log)

	r := chi.NewRouter()
	v1Http.NewRouter(r, log).Init(webhookUC, a.search, reindexUC, cfg)
	a.httpSrv = v1Http.NewServer(r, cfg.Http)

	return a, nil
}

// Run запускает сервис и блокируется до сигнала остановки или отказа HTTP-сервера.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a.outbox.Start(ctx)
	a.closer.AddFunc("outbox worker", a.outbox.Stop)

	poolDone := make(chan error, 1)
	go func() { poolDone <- a.pool.Run(ctx) }()
	a.closer.Add("worker pool", func(closeCtx context.Context) error {
		select {
		case err := <-poolDone:
			return err
		case <-closeCtx.Done():
			return fmt.Errorf("workers did not finish in-flight jobs: %w", closeCtx.Err())
		}
	})

	a.closer.Add("search logs", a.search.Wait)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("HTTP server started on port %s", a.cfg.Http.Port)
		if err := a.httpSrv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	a.closer.Add("http server", a.httpSrv.Stop)

	var appErr error
	select {
	case appErr = <-errCh:
		a.logger.Errorf(appErr, "HTTP server fatal error")
		stop()
	case <-ctx.Done():
		a.logger.Infof("received shutdown signal, stopping gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.closer.Close(shutdownCtx); err != nil {
		a.logger.Errorf(err, "shutdown finished with errors")
		if appErr == nil {
			appErr = err
		}
	}

	a.logger.Infof("application shutdown complete")
	return appErr
}

func (a *App) initVectorIndex(ctx context.Context) (usecase.VectorIndex, error) {
	if a.cfg.Qdrant.Backend == config.VectorBackendMemory {
		a.logger.Warnf("using in-memory vector index, data is lost on restart")
		return memory.NewVectorIndex(a.cfg.Qdrant.QdrantCollectionName, int(a.cfg.Qdrant.VectorSize)), nil
	}

	qdrantClient, err := clients.NewQdrantClient(a.cfg.Qdrant)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	a.closer.Add("qdrant", func(context.Context) error { return qdrantClient.Close() })

	if err := qdrantClient.HealthCheck(ctx); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	repo := qdrantRepo.NewEmbeddingRepo(qdrantClient.Points(), qdrantClient.Collections(), a.cfg.Qdrant, a.logger)
	if err := repo.EnsureCollection(ctx); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return repo, nil
}

func initPGDB(ctx context.Context, logger logger.Logger, cfg *config.Config) (*postgres.PgDatabase, error) {
	db, err := postgres.Connect(ctx, cfg.Db)
	if err != nil {
		logger.Errorf(err, "failed to connect to database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		logger.Errorf(err, "failed to ping database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.RunMigrations(logger); err != nil {
		db.Close()
		logger.Errorf(err, "failed to run migrations")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return db, nil
}
