package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db *gorm.DB
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Health returns the health status of the service, including database
// reachability. Returns 503 when the database cannot be pinged.
func (h *HealthHandler) Health(c *gin.Context) {
	dbStatus := "ok"
	code := http.StatusOK

	if sqlDB, err := h.db.DB(); err != nil {
		dbStatus = "error"
		code = http.StatusServiceUnavailable
	} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
		dbStatus = "error"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":   "ok",
		"database": dbStatus,
		"time":     time.Now().UTC().Format(time.RFC3339),
	})
}
