package handler

import (
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/oazlabs/photoflow/internal/domain"
	"github.com/oazlabs/photoflow/internal/repository"
	"github.com/oazlabs/photoflow/internal/service"
)

// BatchHandler handles batch lifecycle endpoints.
type BatchHandler struct {
	intake      *service.IntakeService
	coordinator *service.Coordinator
	queue       *service.QueueManager
	items       *repository.ItemRepository

	maxUploadBytes int64
}

// NewBatchHandler creates a new batch handler.
// Parameters:
//   - intake: intake service for batch creation and uploads.
//   - coordinator: batch coordinator for status and control.
//   - queue: queue manager that schedules processing.
//   - items: item repository for listing.
//   - maxUploadBytes: per-file upload size limit.
// Returns:
//   - *BatchHandler: initialized handler.
func NewBatchHandler(
	intake *service.IntakeService,
	coordinator *service.Coordinator,
	queue *service.QueueManager,
	items *repository.ItemRepository,
	maxUploadBytes int64,
) *BatchHandler {
	return &BatchHandler{
		intake:         intake,
		coordinator:    coordinator,
		queue:          queue,
		items:          items,
		maxUploadBytes: maxUploadBytes,
	}
}

type createBatchRequest struct {
	CollectionID  uint  `json:"collection_id" binding:"required"`
	BrandID       *uint `json:"brand_id"`
	DeclaredCount int   `json:"declared_count"`
}

// CreateBatch handles POST /api/v1/batches.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *BatchHandler) CreateBatch(c *gin.Context) {
	var req createBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request: " + err.Error(),
		})
		return
	}

	batch, err := h.intake.CreateBatch(c.Request.Context(), req.CollectionID, req.BrandID, req.DeclaredCount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create batch: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, batch)
}

// AddFiles handles POST /api/v1/batches/:id/files (multipart, field "files").
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *BatchHandler) AddFiles(c *gin.Context) {
	batchID := c.Param("id")

	form, err := c.MultipartForm()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid multipart form: " + err.Error(),
		})
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "No files provided (use multipart field \"files\")",
		})
		return
	}

	inputs := make([]service.FileInput, 0, len(headers))
	var archives []*multipart.FileHeader
	var opened []interface{ Close() error }
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()

	for _, header := range headers {
		if h.maxUploadBytes > 0 && header.Size > h.maxUploadBytes {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error": "File too large: " + header.Filename,
			})
			return
		}
		// ZIP uploads are expanded server side, one item per image entry.
		if strings.EqualFold(filepath.Ext(header.Filename), ".zip") {
			archives = append(archives, header)
			continue
		}
		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Failed to open upload: " + err.Error(),
			})
			return
		}
		opened = append(opened, f)
		inputs = append(inputs, service.FileInput{
			Filename: header.Filename,
			Reader:   f,
			Size:     header.Size,
		})
	}

	var items []domain.IngestionItem
	if len(inputs) > 0 {
		registered, err := h.intake.AddFiles(c.Request.Context(), batchID, inputs)
		if err != nil {
			writeIntakeError(c, err)
			return
		}
		items = append(items, registered...)
	}

	for _, header := range archives {
		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "Failed to open upload: " + err.Error(),
			})
			return
		}
		opened = append(opened, f)
		registered, err := h.intake.AddArchive(c.Request.Context(), batchID, f, header.Size)
		if err != nil {
			writeIntakeError(c, err)
			return
		}
		items = append(items, registered...)
	}

	c.JSON(http.StatusCreated, gin.H{
		"batch_id": batchID,
		"count":    len(items),
		"items":    items,
	})
}

// writeIntakeError maps intake failures onto HTTP statuses.
func writeIntakeError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
		return
	}
	c.JSON(http.StatusUnprocessableEntity, gin.H{
		"error": "Failed to register files: " + err.Error(),
	})
}

// Process handles POST /api/v1/batches/:id/process. Enqueues the batch;
// actual processing happens asynchronously.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *BatchHandler) Process(c *gin.Context) {
	batchID := c.Param("id")

	// Status check doubles as an existence check.
	if _, err := h.coordinator.Status(c.Request.Context(), batchID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.queue.Enqueue(batchID); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to enqueue batch: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batch_id": batchID,
		"status":   "queued",
	})
}

// Status handles GET /api/v1/batches/:id/status.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *BatchHandler) Status(c *gin.Context) {
	status, err := h.coordinator.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

// ListItems handles GET /api/v1/batches/:id/items.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *BatchHandler) ListItems(c *gin.Context) {
	items, err := h.items.ListByBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(items),
		"items": items,
	})
}

// Cancel handles POST /api/v1/batches/:id/cancel. Cancellation is
// cooperative: in-flight items finish, nothing new is claimed.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *BatchHandler) Cancel(c *gin.Context) {
	batchID := c.Param("id")
	if err := h.coordinator.Cancel(c.Request.Context(), batchID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"batch_id": batchID,
		"status":   "cancel_requested",
	})
}

// Resume handles POST /api/v1/batches/:id/resume. Lifts a prior cancel and
// re-enqueues the batch; already-terminal items are untouched.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *BatchHandler) Resume(c *gin.Context) {
	batchID := c.Param("id")

	if err := h.coordinator.ClearCancel(c.Request.Context(), batchID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.queue.Enqueue(batchID); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Failed to enqueue batch: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batch_id": batchID,
		"status":   "queued",
	})
}

// Reprocess handles POST /api/v1/batches/:id/reprocess. Re-submits every
// terminal item for matching, then re-enqueues the batch.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *BatchHandler) Reprocess(c *gin.Context) {
	batchID := c.Param("id")

	resubmitted, err := h.coordinator.ReprocessBatch(c.Request.Context(), batchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Batch not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if resubmitted > 0 {
		if err := h.queue.Enqueue(batchID); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error": "Failed to enqueue batch: " + err.Error(),
			})
			return
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"batch_id":    batchID,
		"resubmitted": resubmitted,
	})
}
