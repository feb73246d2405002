package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collab-jobs/api/rest/middleware"
	"collab-jobs/api/rest/routes"
	"collab-jobs/config"
	"collab-jobs/core/adapters"
	"collab-jobs/core/audit"
	"collab-jobs/core/eventlog"
	"collab-jobs/core/lifecycle"
	"collab-jobs/core/repository"
	"collab-jobs/core/webhook"
	"collab-jobs/providers/aws"
	"collab-jobs/providers/nats"
	"collab-jobs/providers/redis"
	"collab-jobs/storage"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("Unknown log level %q, using info", cfg.LogLevel)
	}

	ctx := context.Background()

	// Initialize store
	store, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	if cfg.SeedFile != "" {
		seed, err := repository.LoadSeed(cfg.SeedFile)
		if err != nil {
			logger.Fatalf("Failed to load seed: %v", err)
		}
		if err := store.ApplySeed(ctx, seed); err != nil {
			logger.Fatalf("Failed to apply seed: %v", err)
		}
		logger.WithField("file", cfg.SeedFile).Info("Seed applied")
	}

	// Initialize audit sinks
	sinks := audit.MultiSink{audit.NewLogSink(logger)}
	if cfg.AuditQueueURL != "" {
		sqsSink, err := aws.NewAuditSink(ctx, cfg.AWSRegion, cfg.AuditQueueURL)
		if err != nil {
			logger.Fatalf("Failed to initialize audit queue: %v", err)
		}
		sinks = append(sinks, sqsSink)
		logger.WithField("queue", cfg.AuditQueueURL).Info("Audit records forwarded to SQS")
	}
	recorder := audit.NewRecorder(sinks, logger)

	// Initialize event log
	logOpts := []eventlog.Option{eventlog.WithLogger(logger)}
	if cfg.NATSURL != "" {
		publisher, err := nats.Connect(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			logger.Fatalf("Failed to connect to NATS: %v", err)
		}
		defer publisher.Close()
		logOpts = append(logOpts, eventlog.WithPublisher(publisher))
		logger.WithField("url", cfg.NATSURL).Info("Publishing job events to NATS")
	}
	eventLog := eventlog.New(store, logOpts...)

	// Initialize artifact store
	var artifactOpts []storage.Option
	if cfg.ArtifactPublicBase != "" {
		artifactOpts = append(artifactOpts, storage.WithPublicBase(cfg.ArtifactPublicBase))
	}
	artifacts := storage.NewArtifactStore(cfg.ArtifactDir, artifactOpts...)

	controller := lifecycle.NewController(lifecycle.Deps{
		Jobs:           store,
		Collabs:        store,
		Log:            eventLog,
		Artifacts:      artifacts,
		Adapters:       adapters.NewDefaultRegistry(),
		Audit:          recorder,
		Logger:         logger,
		AdapterTimeout: cfg.AdapterTimeout,
	})
	ingestor := webhook.NewIngestor(store, eventLog, recorder, logger)

	// Initialize webhook throttle
	var limiter middleware.Limiter = middleware.NewMemoryLimiter(cfg.WebhookRateLimit, cfg.WebhookRateWindow)
	if cfg.RedisAddr != "" {
		client, err := redis.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer client.Close()
		limiter = redis.NewLimiter(client, cfg.WebhookRateLimit, cfg.WebhookRateWindow)
	}
	if cfg.WebhookSecret == "" {
		logger.Warn("WEBHOOK_SECRET is not set; webhook callbacks are unauthenticated")
	}

	// Setup routes
	r := mux.NewRouter()
	routes.SetupRoutes(r, controller, ingestor, routes.Options{
		WebhookSecret:  cfg.WebhookSecret,
		WebhookLimiter: limiter,
		Logger:         logger,
	})

	// Start server
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Infof("Starting server on port %s", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}
	logger.Info("Server exited")
}

func openStore(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (repository.Store, func()) {
	if cfg.StoreBackend == config.BackendMemory {
		logger.Warn("Using in-memory store; data is lost on restart")
		return repository.NewMemoryStore(), func() {}
	}

	db, err := repository.NewDB(cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := db.Migrate(ctx); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	logger.Info("Database connected successfully")
	return repository.NewPostgresStore(db), func() { db.Close() }
}
