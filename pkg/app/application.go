package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/ortaieb/image-checker/internal/classifier"
	"github.com/ortaieb/image-checker/internal/metadata"
	"github.com/ortaieb/image-checker/internal/metrics"
	"github.com/ortaieb/image-checker/internal/middleware"
	"github.com/ortaieb/image-checker/internal/providers"
	"github.com/ortaieb/image-checker/internal/ratelimit"
	"github.com/ortaieb/image-checker/internal/repository"
	"github.com/ortaieb/image-checker/internal/services"
	"github.com/ortaieb/image-checker/internal/tracing"
	"github.com/ortaieb/image-checker/pkg/config"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
)

const Version = "0.3.0"

type Application struct {
	Config          *config.Config
	Engine          *gin.Engine
	Admission       services.AdmissionService
	Results         services.ResultsService
	Callbacks       services.ResultCallbackService
	Cleanup         services.RecordCleanupService
	Logger          *slog.Logger
	RateLimiter     ratelimit.Limiter
	Redis           *redis.Client
	TracingShutdown func(context.Context) error

	classifier classifier.Classifier
	extractor  metadata.Extractor
}

// ApplicationOption configures the Application
type ApplicationOption func(*Application) error

// WithClassifier replaces the configured content classifier.
func WithClassifier(c classifier.Classifier) ApplicationOption {
	return func(app *Application) error {
		app.classifier = c
		return nil
	}
}

// WithExtractor replaces the EXIF metadata extractor.
func WithExtractor(e metadata.Extractor) ApplicationOption {
	return func(app *Application) error {
		app.extractor = e
		return nil
	}
}

func NewApplication(ctx context.Context, cfg *config.Config, opts ...ApplicationOption) (*Application, error) {
	app := &Application{Config: cfg}
	for _, opt := range opts {
		if err := opt(app); err != nil {
			return nil, err
		}
	}

	level := new(slog.LevelVar)
	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	default:
		level.Set(slog.LevelInfo)
	}
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	logger := slog.New(handler).With("service", "image-checker", "env", cfg.Env)
	slog.SetDefault(logger)
	app.Logger = logger

	shutdown, err := tracing.Setup(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		OTLPInsecure:   cfg.Tracing.OTLPInsecure,
		SampleRatio:    cfg.Tracing.SampleRatio,
	}, logger)
	if err != nil {
		return nil, err
	}
	app.TracingShutdown = shutdown

	var window ratelimit.WindowLimiter
	if strings.TrimSpace(cfg.RedisAddr) != "" {
		app.Redis = providers.NewRedisProvider(cfg.RedisAddr, cfg.RedisPassword)
		window = ratelimit.NewSlidingWindowLimiter(app.Redis)
		app.RateLimiter = ratelimit.NewTokenBucketLimiter(app.Redis)
	}

	var (
		objects  providers.ObjectStore
		s3       *providers.S3Storage
		uploader providers.Uploader
	)
	if cfg.S3.Enabled() {
		s3, err = providers.NewS3Storage(providers.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("object storage: %w", err)
		}
		objects = s3
	}
	switch {
	case cfg.Archive.Bucket != "" && s3 != nil:
		uploader = providers.NewS3Uploader(s3, cfg.Archive.Bucket, cfg.Archive.Prefix)
	case cfg.Archive.Dir != "":
		uploader = providers.NewLocalUploader(cfg.Archive.Dir)
	}

	baseDir, err := config.LocalDir(cfg.ImageBaseDir)
	if err != nil {
		return nil, err
	}
	images := providers.NewImageLoader(baseDir, cfg.MaxImageBytes, objects)

	if app.extractor == nil {
		app.extractor = metadata.NewExifExtractor(logger)
	}
	if app.classifier == nil {
		app.classifier, err = classifier.New(ctx, classifier.Config{
			Provider:   cfg.Classifier.Provider,
			URL:        cfg.Classifier.URL,
			Model:      cfg.Classifier.Model,
			APIKey:     cfg.Classifier.APIKey,
			Timeout:    time.Duration(cfg.Classifier.RequestTimeoutSeconds) * time.Second,
			MaxRetries: cfg.Classifier.MaxRetries,
		}, logger)
		if err != nil {
			return nil, err
		}
	}
	throttle := ratelimit.NewThrottle("classifier", cfg.ThrottleRequestsPerMinute, window, logger)

	repo := repository.NewStatusRepository()
	validator := services.NewValidationService(images, app.extractor, app.classifier, throttle, logger)
	app.Callbacks = services.NewResultCallbackService(
		logger,
		cfg.CallbackHmacSecret,
		cfg.CallbackMaxAttempts,
		cfg.CallbackBaseBackoffSeconds,
		cfg.CallbackMaxBackoffSeconds,
		app.RateLimiter,
		ratelimit.Bucket(cfg.RateLimit.Callback),
	)
	app.Results = services.NewResultsService(repo, uploader, app.Callbacks, logger, time.Now)
	app.Admission = services.NewAdmissionService(repo, images, validator, app.Results, logger, time.Now, services.AdmissionOptions{
		QueueSize:         cfg.QueueSize,
		Workers:           cfg.Workers,
		ProcessingTimeout: time.Duration(cfg.ProcessingTimeoutMinutes) * time.Minute,
	})
	app.Cleanup = services.NewRecordCleanupService(repo, logger, cfg.CleanupIntervalSeconds, time.Duration(cfg.RecordRetentionMinutes)*time.Minute)

	metrics.RegisterQueueCollector(app.Admission, logger)

	engine := gin.New()
	engine.Use(
		gin.Recovery(),
		middleware.TracingMiddleware(),
		middleware.RequestIDMiddleware(),
		middleware.LoggerMiddleware(logger),
	)
	app.Engine = engine

	logger.Info("application configured",
		"classifier", app.classifier.Name(),
		"queue_size", cfg.QueueSize,
		"workers", cfg.Workers,
		"throttle_per_minute", cfg.ThrottleRequestsPerMinute,
		"redis", app.Redis != nil,
		"s3", s3 != nil,
	)
	return app, nil
}

// Start launches the workers and the retention sweeper.
func (a *Application) Start(ctx context.Context) {
	a.Admission.Start(ctx)
	go a.Cleanup.Start(ctx)
}

// Shutdown drains the queue and pending callbacks, then flushes traces and
// closes Redis.
func (a *Application) Shutdown(ctx context.Context) error {
	err := a.Admission.Shutdown(ctx)
	if a.Callbacks != nil {
		if cerr := a.Callbacks.Drain(ctx); err == nil {
			err = cerr
		}
	}
	if a.TracingShutdown != nil {
		_ = a.TracingShutdown(ctx)
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	return err
}
