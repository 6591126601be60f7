package controllers

import (
	"net/http"

	"github.com/ortaieb/image-checker/internal/services"

	"github.com/gin-gonic/gin"
)

type healthController struct {
	svc     services.AdmissionService
	version string
}

func NewHealthController(svc services.AdmissionService, version string) *healthController {
	return &healthController{svc: svc, version: version}
}

// Handle answers 200 while accepting work and 503 once draining.
func (h *healthController) Handle(c *gin.Context) {
	stats := h.svc.Stats(c.Request.Context())
	status, code := "healthy", http.StatusOK
	if stats.ShuttingDown {
		status, code = "draining", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":  status,
		"version": h.version,
		"queue":   stats,
	})
}
