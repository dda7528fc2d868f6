package admin

import (
	"context"
	"fmt"

	"github.com/cloo-solutions/kbindex/internal/billing"
	"github.com/cloo-solutions/kbindex/internal/config"
	"github.com/cloo-solutions/kbindex/internal/database"
	"github.com/cloo-solutions/kbindex/internal/jobs"
	"github.com/cloo-solutions/kbindex/internal/logger"
	"github.com/cloo-solutions/kbindex/internal/metrics"
	"github.com/cloo-solutions/kbindex/internal/model"
	"github.com/cloo-solutions/kbindex/internal/openai"
	"github.com/cloo-solutions/kbindex/internal/repository"
	"github.com/cloo-solutions/kbindex/internal/service"
	"github.com/cloo-solutions/kbindex/internal/storage"
	"github.com/cloo-solutions/kbindex/internal/telemetry"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// app holds the process wide dependencies shared by the daemon commands.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	pool   *pgxpool.Pool
	redis  *redis.Client
	models *model.Registry
	stats  *metrics.Metrics

	datasets *repository.DatasetRepository
	jobs     *repository.TrainingJobRepository
	vectors  *repository.VectorStore
	txRunner *repository.TxRunner
	objects  *storage.S3Client

	closers []func()
}

// newApp loads configuration, sets up logging and telemetry and opens the
// database pool. Model clients and services are built on demand.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}
	a.closers = append(a.closers, log.Sync)
	if cfg.MetricsEnabled {
		a.stats = metrics.New()
	}

	if cfg.HasSentry() {
		shutdown, err := telemetry.Init(telemetry.Config{
			DSN:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			TracesSampleRate: cfg.SentrySampling(),
			Debug:            cfg.Debug,
		}, log)
		if err != nil {
			log.Warn("telemetry init failed, continuing without tracing", "error", err)
		} else {
			a.closers = append(a.closers, shutdown)
		}
	}

	if cfg.ModelsFile != "" {
		a.models, err = model.Load(cfg.ModelsFile)
	} else {
		a.models, err = model.Default()
	}
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load model registry: %w", err)
	}
	if err := checkModelDimensions(a.models, cfg, log); err != nil {
		a.Close()
		return nil, err
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:              cfg.DatabaseURL,
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		ConnectTimeout:   cfg.DBAcquireTimeout,
		StatementTimeout: cfg.DBStatementTimeout,
		ApplicationName:  "kbindexd",
		Workers:          cfg.Workers,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, pool.Close)
	log.Info("connected to database", "max_conns", pool.Config().MaxConns)

	vectorCfg := cfg.VectorConfig()
	a.datasets = repository.NewDatasetRepository(pool)
	a.jobs = repository.NewTrainingJobRepository(pool)
	a.vectors = repository.NewVectorStore(pool, vectorCfg)
	a.txRunner = repository.NewTxRunner(pool, vectorCfg)

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// connectStorage opens the import bucket when S3 is configured.
func (a *app) connectStorage(ctx context.Context) error {
	if !a.cfg.HasS3() {
		a.log.Info("object storage not configured, object import disabled")
		return nil
	}
	client, err := storage.NewS3Client(ctx, storage.S3ClientConfig{
		Endpoint:        a.cfg.S3Endpoint,
		Region:          a.cfg.S3Region,
		AccessKeyID:     a.cfg.S3AccessKey,
		SecretAccessKey: a.cfg.S3SecretKey,
		Bucket:          a.cfg.S3Bucket,
		UsePathStyle:    true,
	})
	if err != nil {
		return fmt.Errorf("failed to create S3 client: %w", err)
	}
	if err := client.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("failed to ensure S3 bucket: %w", err)
	}
	a.objects = client
	a.log.Info("object storage ready", "bucket", a.cfg.S3Bucket)
	return nil
}

// biller persists usage and, with Redis configured, enforces team quotas.
func (a *app) biller(ctx context.Context) (*billing.Biller, error) {
	var quota billing.Quota
	if a.cfg.HasRedis() {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.RedisAddr,
			Password: a.cfg.RedisPassword,
			DB:       a.cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.redis = client
		a.closers = append(a.closers, func() { _ = client.Close() })
		quota = billing.NewRedisQuota(client, a.cfg.TeamTokenQuota, a.cfg.TeamQuotaWindow)
		a.log.Info("team quota enabled", "limit", a.cfg.TeamTokenQuota, "window", a.cfg.TeamQuotaWindow.String())
	}
	return billing.NewBiller(repository.NewUsageRepository(a.pool), quota, billing.DefaultConfig(), a.log).WithMetrics(a.stats), nil
}

func (a *app) modelClient() (*openai.Client, error) {
	if !a.cfg.HasOpenAI() {
		return nil, fmt.Errorf("KBINDEX_OPENAI_API_KEY is required")
	}
	return openai.NewClient(openai.Config{
		APIKey:            a.cfg.OpenAIAPIKey,
		BaseURL:           a.cfg.OpenAIBaseURL,
		RequestsPerSecond: a.cfg.EmbeddingRPS,
	}, a.models), nil
}

func (a *app) rebuildCoordinator() *service.RebuildCoordinator {
	return service.NewRebuildCoordinator(a.datasets, a.models, a.txRunner, a.cfg.RebuildConfig(), a.log)
}

// pipeline builds the training dispatcher and the rebuild drainer.
func (a *app) pipeline(client *openai.Client, biller *billing.Biller) (*jobs.Dispatcher, *jobs.Poller) {
	processor := service.NewTrainingProcessor(a.datasets, client, client, biller, a.txRunner, a.cfg.JobRetryCount, a.log)
	dispatcher := jobs.NewDispatcher(a.jobs, processor, a.cfg.DispatcherConfig(), a.log).WithMetrics(a.stats)
	drainer := jobs.NewPoller("rebuild", a.rebuildCoordinator(), a.cfg.RebuildPollInterval, a.log).WithMetrics(a.stats)
	return dispatcher, drainer
}

// checkModelDimensions fails when the default embedding model cannot write
// into the vector table and warns about every other model that cannot.
func checkModelDimensions(models *model.Registry, cfg *config.Config, log *logger.Logger) error {
	def, err := models.Embedding(cfg.DefaultVectorModel)
	if err != nil {
		return fmt.Errorf("default vector model: %w", err)
	}
	if err := def.CheckDimensions(cfg.VectorDimensions); err != nil {
		return fmt.Errorf("default vector model: %w", err)
	}
	for _, name := range models.Unfit(cfg.VectorDimensions) {
		log.Warn("embedding model does not fit the vector table, datasets cannot use it",
			"model", name, "vector_dimensions", cfg.VectorDimensions)
	}
	return nil
}
