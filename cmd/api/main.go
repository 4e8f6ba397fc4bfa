package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oazlabs/photoflow/internal/api"
	"github.com/oazlabs/photoflow/internal/config"
	"github.com/oazlabs/photoflow/internal/logger"
	"github.com/oazlabs/photoflow/internal/matcher"
	"github.com/oazlabs/photoflow/internal/repository"
	"github.com/oazlabs/photoflow/internal/service"
	"github.com/oazlabs/photoflow/internal/storage"
)

func main() {
	// Load configuration
	// Support CONFIG_PATH environment variable for production deployments
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "photoflow-api",
		LogFile:     cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Initialize database
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	// Initialize repositories
	batchRepo := repository.NewBatchRepository(db)
	itemRepo := repository.NewItemRepository(db)
	orderLineRepo := repository.NewOrderLineRepository(db)

	// Initialize storage (supports MinIO, R2, S3)
	baseStorage, err := storage.NewStorage(&storage.S3Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		PublicURL: cfg.Storage.PublicURL,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize storage")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Ensure bucket exists
	if err := baseStorage.EnsureBucket(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
	}

	// Transient storage failures retry with linear backoff.
	objectStorage := storage.NewRetryStorage(baseStorage, cfg.Storage.MaxRetries, cfg.Storage.RetryDelay)

	// Initialize services
	var visionService *service.VisionService
	if cfg.Vision.APIKey != "" {
		visionService = service.NewVisionService(&service.VisionConfig{
			Model:   cfg.Vision.Model,
			APIKey:  cfg.Vision.APIKey,
			BaseURL: cfg.Vision.BaseURL,
		})
	} else {
		appLogger.Warn("No vision API key configured, AI analysis disabled")
	}

	skuMatcher := matcher.New(orderLineRepo)
	thumbnailer := service.NewThumbnailer(cfg.Pipeline.ThumbnailMaxDim)

	coordinator := service.NewCoordinator(
		batchRepo,
		itemRepo,
		skuMatcher,
		thumbnailer,
		objectStorage,
		visionService,
		appLogger,
		&service.CoordinatorConfig{Workers: cfg.Pipeline.Workers},
	)

	intakeService := service.NewIntakeService(
		batchRepo,
		itemRepo,
		objectStorage,
		appLogger,
		cfg.Pipeline.ChunkSize,
		cfg.Pipeline.MaxRetries,
	)

	queueManager := service.NewQueueManager(coordinator, batchRepo, appLogger, cfg.Pipeline.BatchConcurrency, 64)

	// Startup recovery: release claims left by a dead process, then
	// re-enqueue interrupted batches.
	watchdog := service.NewWatchdog(itemRepo, appLogger, cfg.Pipeline.WatchdogInterval, cfg.Pipeline.StalenessThreshold)
	if _, err := watchdog.RecoverOnStartup(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to recover interrupted items")
	}
	if _, err := queueManager.ResumeInterrupted(ctx); err != nil {
		appLogger.WithError(err).Error("Failed to resume interrupted batches")
	}

	go watchdog.Run(ctx)
	go func() {
		if err := queueManager.Run(ctx); err != nil {
			appLogger.WithError(err).Error("Queue manager stopped with error")
		}
	}()

	// Setup router
	router := api.SetupRouter(&api.RouterDeps{
		DB:          db,
		Intake:      intakeService,
		Coordinator: coordinator,
		Queue:       queueManager,
		Items:       itemRepo,
		Storage:     objectStorage,
		Logger:      appLogger,
	}, &cfg.Server)

	// Create HTTP server
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		appLogger.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Fatal("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}
