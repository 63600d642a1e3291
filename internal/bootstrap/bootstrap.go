package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	httpadapter "github.com/fundlane/mca-backend/internal/adapters/http"
	"github.com/fundlane/mca-backend/internal/config"
	"github.com/fundlane/mca-backend/internal/core/domain"
	"github.com/fundlane/mca-backend/internal/core/ports"
	"github.com/fundlane/mca-backend/internal/core/usecase"
	"github.com/fundlane/mca-backend/internal/infrastructure/email/smtp"
	"github.com/fundlane/mca-backend/internal/infrastructure/ocr/pdftext"
	"github.com/fundlane/mca-backend/internal/infrastructure/ocr/tesseract"
	"github.com/fundlane/mca-backend/internal/infrastructure/preprocess"
	queue "github.com/fundlane/mca-backend/internal/infrastructure/queue/asynq"
	"github.com/fundlane/mca-backend/internal/infrastructure/repository/postgres"
	"github.com/fundlane/mca-backend/internal/infrastructure/resilience"
	"github.com/fundlane/mca-backend/internal/infrastructure/storage/localfs"
	"github.com/fundlane/mca-backend/internal/infrastructure/storage/s3"
	"github.com/fundlane/mca-backend/internal/infrastructure/token"
	"github.com/fundlane/mca-backend/internal/infrastructure/webhook"
	"github.com/fundlane/mca-backend/internal/observability/metrics"
)

// App holds the wired object graph for one process. The API fields are set by
// NewAPI, the worker fields by NewWorker; both share the same core wiring.
type App struct {
	Config config.Config
	Logger *slog.Logger

	Handler       http.Handler
	Worker        *queue.Server
	WorkerMetrics *metrics.WorkerMetrics

	closeFn func()
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// core is the process-independent part of the graph: persistence, storage,
// the queue client and the use cases both binaries share.
type core struct {
	documents  *postgres.DocumentRepository
	ocrResults *postgres.OCRResultRepository
	webhooks   *postgres.WebhookRepository
	emails     *postgres.EmailRepository

	storage ports.ObjectStorage
	tasks   *queue.Client
	signer  *token.Signer
	revoker *token.RevocationStore

	uploadUC   *usecase.UploadDocumentUseCase
	dispatchUC *usecase.WebhookDispatcher
	emailUC    *usecase.EmailUseCase

	closeFn func()
}

func newCore(ctx context.Context, cfg config.Config, logger *slog.Logger) (*core, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	documents := postgres.NewDocumentRepository(db)
	ocrResults := postgres.NewOCRResultRepository(db)
	webhooks := postgres.NewWebhookRepository(db)
	emails := postgres.NewEmailRepository(db)

	storage, err := newObjectStorage(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	tasks := queue.NewClient(redisOpt, queue.ClientOptions{
		OCRMaxRetries:     cfg.OCRMaxRetries,
		WebhookMaxRetries: cfg.WebhookMaxRetries,
		OCRTimeout:        cfg.OCRTaskTimeout,
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	signer := token.NewSigner(cfg.JWTSecret, cfg.JWTTokenTTL)
	revoker := token.NewRevocationStore(redisClient)

	sender := webhook.NewSender(cfg.WebhookPostTimeout)
	dispatchUC := usecase.NewWebhookDispatcher(webhooks, sender, signer, tasks, usecase.DeliveryPolicy{
		MaxRetries:    cfg.WebhookMaxRetries,
		BaseDelay:     cfg.WebhookRetryBase,
		BackoffFactor: cfg.WebhookBackoffFactor,
		TokenTTL:      5 * time.Minute,
	})

	uploadUC := usecase.NewUploadDocumentUseCase(
		documents, storage, tasks, dispatchUC,
		usecase.DefaultProcessingPolicy().AllowedExtensions,
		cfg.MaxUploadBytes,
	)

	gateway := smtp.NewGateway(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	emailUC := usecase.NewEmailUseCase(emails, gateway, tasks, uploadUC, dispatchUC, cfg.SMTPSender, 0)

	logger.Info("core wired",
		"postgres", cfg.PostgresDSN != "",
		"redis", cfg.RedisAddr,
		"s3_endpoint", cfg.S3Endpoint,
	)

	return &core{
		documents:  documents,
		ocrResults: ocrResults,
		webhooks:   webhooks,
		emails:     emails,
		storage:    storage,
		tasks:      tasks,
		signer:     signer,
		revoker:    revoker,
		uploadUC:   uploadUC,
		dispatchUC: dispatchUC,
		emailUC:    emailUC,
		closeFn: func() {
			_ = tasks.Close()
			_ = redisClient.Close()
			_ = db.Close()
		},
	}, nil
}

// newObjectStorage prefers the S3 endpoint and falls back to the local
// filesystem for development setups without MinIO.
func newObjectStorage(ctx context.Context, cfg config.Config) (ports.ObjectStorage, error) {
	if cfg.S3Endpoint == "" {
		storage, err := localfs.New(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("init local storage: %w", err)
		}
		return storage, nil
	}

	storage, err := s3.New(s3.Options{
		Endpoint:           cfg.S3Endpoint,
		AccessKey:          cfg.S3AccessKey,
		SecretKey:          cfg.S3SecretKey,
		RawBucket:          cfg.S3Bucket,
		ProcessedBucket:    cfg.S3ProcessedBucket,
		UseSSL:             cfg.S3UseSSL,
		ResilienceExecutor: resilience.NewExecutor(resilience.DefaultConfig()),
	})
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}
	if err := storage.EnsureBuckets(ctx); err != nil {
		return nil, fmt.Errorf("ensure buckets: %w", err)
	}
	return storage, nil
}

func NewAPI(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	c, err := newCore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	router := httpadapter.NewRouter(
		c.documents, c.ocrResults, c.uploadUC,
		c.dispatchUC, c.webhooks, c.emailUC,
		c.signer, c.revoker,
		metrics.NewHTTPServerMetrics("api"),
		cfg.APIClientID, cfg.APIClientSecret, cfg.JWTTokenTTL,
	)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Handler: router.Handler(),
		closeFn: c.closeFn,
	}, nil
}

func NewWorker(ctx context.Context, cfg config.Config, logger *slog.Logger) (*App, error) {
	c, err := newCore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	processUC := usecase.NewProcessDocumentUseCase(
		c.documents, c.storage,
		preprocess.New(cfg.ImageMaxDimension),
		tesseract.New(cfg.OCRLanguages),
		pdftext.New(),
		c.dispatchUC,
		usecase.ProcessingPolicy{
			AllowedExtensions: usecase.DefaultProcessingPolicy().AllowedExtensions,
			RetryBaseDelay:    cfg.OCRRetryBase,
			Thresholds: domain.Thresholds{
				AutoApprove:  cfg.AutoApproveThreshold,
				ManualReview: cfg.ManualReviewThreshold,
			},
		},
	)

	workerMetrics := metrics.NewWorkerMetrics("worker")
	server := queue.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
		processUC, c.dispatchUC, c.emailUC,
		logger, workerMetrics,
		queue.ServerOptions{
			Concurrency:          cfg.WorkerConcurrency,
			OCRRatePerSecond:     cfg.OCRRatePerSecond,
			WebhookRatePerSecond: cfg.WebhookRatePerSecond,
			ServiceName:          "worker",
		},
	)

	return &App{
		Config:        cfg,
		Logger:        logger,
		Worker:        server,
		WorkerMetrics: workerMetrics,
		closeFn:       c.closeFn,
	}, nil
}
