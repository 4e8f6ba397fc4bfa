package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oazlabs/photoflow/internal/config"
	"github.com/oazlabs/photoflow/internal/logger"
	"github.com/oazlabs/photoflow/internal/matcher"
	"github.com/oazlabs/photoflow/internal/repository"
	"github.com/oazlabs/photoflow/internal/service"
	"github.com/oazlabs/photoflow/internal/storage"
)

// Headless pipeline runner. Deployments that keep the API thin point this
// binary at the same database and bucket; it picks up batches marked
// processing and drives them to completion.
func main() {
	configPath := flag.String("config", "", "Path to config file")
	pollInterval := flag.Duration("poll", 10*time.Second, "How often to scan for batches to process")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLogger := logger.New(&logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: "photoflow-worker",
		LogFile:     cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
		Compress:    cfg.Log.Compress,
	})
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	batchRepo := repository.NewBatchRepository(db)
	itemRepo := repository.NewItemRepository(db)
	orderLineRepo := repository.NewOrderLineRepository(db)

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

	if err := baseStorage.EnsureBucket(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
	}
	objectStorage := storage.NewRetryStorage(baseStorage, cfg.Storage.MaxRetries, cfg.Storage.RetryDelay)

	var visionService *service.VisionService
	if cfg.Vision.APIKey != "" {
		visionService = service.NewVisionService(&service.VisionConfig{
			Model:   cfg.Vision.Model,
			APIKey:  cfg.Vision.APIKey,
			BaseURL: cfg.Vision.BaseURL,
		})
	}

	coordinator := service.NewCoordinator(
		batchRepo,
		itemRepo,
		matcher.New(orderLineRepo),
		service.NewThumbnailer(cfg.Pipeline.ThumbnailMaxDim),
		objectStorage,
		visionService,
		appLogger,
		&service.CoordinatorConfig{Workers: cfg.Pipeline.Workers},
	)

	queueManager := service.NewQueueManager(coordinator, batchRepo, appLogger, cfg.Pipeline.BatchConcurrency, 64)

	watchdog := service.NewWatchdog(itemRepo, appLogger, cfg.Pipeline.WatchdogInterval, cfg.Pipeline.StalenessThreshold)
	if _, err := watchdog.RecoverOnStartup(ctx); err != nil {
		appLogger.WithError(err).Fatal("Failed to recover interrupted items")
	}

	go watchdog.Run(ctx)
	go func() {
		if err := queueManager.Run(ctx); err != nil {
			appLogger.WithError(err).Error("Queue manager stopped with error")
		}
	}()

	// Scan loop: any batch in processing state gets (re-)enqueued. The
	// queue collapses duplicates, so re-scanning a running batch is a no-op.
	go func() {
		ticker := time.NewTicker(*pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := queueManager.ResumeInterrupted(ctx); err != nil {
					appLogger.WithError(err).Error("Batch scan failed")
				}
			}
		}
	}()

	appLogger.WithField("poll", pollInterval.String()).Info("Worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Worker shutting down...")
	cancel()
}
