package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/oazlabs/photoflow/internal/domain"
	"github.com/oazlabs/photoflow/internal/repository"
	"github.com/oazlabs/photoflow/internal/service"
	"github.com/oazlabs/photoflow/internal/storage"
)

// ItemHandler handles single-item endpoints.
type ItemHandler struct {
	items       *repository.ItemRepository
	coordinator *service.Coordinator
	storage     storage.ObjectStorage
}

// NewItemHandler creates a new item handler.
// Parameters:
//   - items: item repository.
//   - coordinator: batch coordinator for reprocess and analyze.
//   - objectStorage: blob store used to resolve public URLs.
// Returns:
//   - *ItemHandler: initialized handler.
func NewItemHandler(items *repository.ItemRepository, coordinator *service.Coordinator, objectStorage storage.ObjectStorage) *ItemHandler {
	return &ItemHandler{
		items:       items,
		coordinator: coordinator,
		storage:     objectStorage,
	}
}

// GetItem handles GET /api/v1/items/:id.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ItemHandler) GetItem(c *gin.Context) {
	item, err := h.items.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"item": item}
	if item.StorageKey != "" {
		resp["original_url"] = h.storage.GetURL(item.StorageKey)
	}
	if item.ThumbnailKey != "" {
		resp["thumbnail_url"] = h.storage.GetURL(item.ThumbnailKey)
	}
	c.JSON(http.StatusOK, resp)
}

type reprocessItemRequest struct {
	// Stage is "matching" (default) or "thumbnailing".
	Stage string `json:"stage"`
}

// Reprocess handles POST /api/v1/items/:id/reprocess. Only terminal items
// can be resubmitted.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ItemHandler) Reprocess(c *gin.Context) {
	var req reprocessItemRequest
	// Body is optional; default stage is matching.
	_ = c.ShouldBindJSON(&req)

	stage := domain.ItemStateMatching
	switch req.Stage {
	case "", "matching":
	case "thumbnailing":
		stage = domain.ItemStateThumbnailing
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Stage must be \"matching\" or \"thumbnailing\"",
		})
		return
	}

	itemID := c.Param("id")
	if err := h.coordinator.ReprocessItem(c.Request.Context(), itemID, stage); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
			return
		}
		var tErr *domain.InvalidTransitionError
		if errors.As(err, &tErr) {
			c.JSON(http.StatusConflict, gin.H{
				"error": "Item is not in a terminal state: " + err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"item_id": itemID,
		"stage":   string(stage),
	})
}

// Analyze handles POST /api/v1/items/:id/analyze. AI analysis runs only
// through this explicit endpoint, never as part of batch processing.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *ItemHandler) Analyze(c *gin.Context) {
	item, err := h.coordinator.AnalyzeItem(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Item not found"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{
			"error": "Analysis failed: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, item)
}
