package api

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/oazlabs/photoflow/internal/api/handler"
	"github.com/oazlabs/photoflow/internal/api/middleware"
	"github.com/oazlabs/photoflow/internal/config"
	"github.com/oazlabs/photoflow/internal/logger"
	"github.com/oazlabs/photoflow/internal/repository"
	"github.com/oazlabs/photoflow/internal/service"
	"github.com/oazlabs/photoflow/internal/storage"
)

// RouterDeps bundles everything the HTTP surface needs.
type RouterDeps struct {
	DB          *gorm.DB
	Intake      *service.IntakeService
	Coordinator *service.Coordinator
	Queue       *service.QueueManager
	Items       *repository.ItemRepository
	Storage     storage.ObjectStorage
	Logger      *logger.Logger
}

// SetupRouter configures the Gin router with all routes
func SetupRouter(deps *RouterDeps, cfg *config.ServerConfig) *gin.Engine {
	// Set Gin mode
	switch cfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	// Add middleware
	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(deps.Logger))
	r.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:  cfg.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.CORS.AllowAllOrigins,
	}))

	// Create handlers
	healthHandler := handler.NewHealthHandler(deps.DB)
	batchHandler := handler.NewBatchHandler(deps.Intake, deps.Coordinator, deps.Queue, deps.Items, cfg.MaxUploadBytes)
	itemHandler := handler.NewItemHandler(deps.Items, deps.Coordinator, deps.Storage)

	// Health check
	r.GET("/health", healthHandler.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		// Batch lifecycle
		v1.POST("/batches", batchHandler.CreateBatch)
		v1.POST("/batches/:id/files", batchHandler.AddFiles)
		v1.POST("/batches/:id/process", batchHandler.Process)
		v1.GET("/batches/:id/status", batchHandler.Status)
		v1.GET("/batches/:id/items", batchHandler.ListItems)
		v1.POST("/batches/:id/cancel", batchHandler.Cancel)
		v1.POST("/batches/:id/resume", batchHandler.Resume)
		v1.POST("/batches/:id/reprocess", batchHandler.Reprocess)

		// Items
		v1.GET("/items/:id", itemHandler.GetItem)
		v1.POST("/items/:id/reprocess", itemHandler.Reprocess)
		v1.POST("/items/:id/analyze", itemHandler.Analyze)
	}

	return r
}
