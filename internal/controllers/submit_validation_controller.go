package controllers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ortaieb/image-checker/internal/middleware"
	"github.com/ortaieb/image-checker/internal/services"
	"github.com/ortaieb/image-checker/pkg/domain"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// queueFullRetryAfter is the Retry-After hint, in seconds, sent with 429 responses.
const queueFullRetryAfter = "5"

type submitValidationController struct {
	svc          services.AdmissionService
	maxBodyBytes int64
}

func NewSubmitValidationController(svc services.AdmissionService, maxBodyBytes int64) *submitValidationController {
	return &submitValidationController{svc: svc, maxBodyBytes: maxBodyBytes}
}

func (h *submitValidationController) Handle(c *gin.Context) {
	if h.maxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBodyBytes)
	}
	var req domain.ValidationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if strings.TrimSpace(req.ProcessingID) == "" {
		req.ProcessingID = uuid.NewString()
	}

	id, err := h.svc.Submit(c.Request.Context(), req)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"processing-id": id, "status": domain.StateAccepted})
	case errors.Is(err, services.ErrInvalidConstraint):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, services.ErrDuplicate):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "processing-id": req.ProcessingID})
	case errors.Is(err, services.ErrQueueFull):
		c.Header("Retry-After", queueFullRetryAfter)
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "queue is full, retry later"})
	case errors.Is(err, services.ErrShuttingDown):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service is shutting down"})
	default:
		middleware.Logger(c).Error("submit failed", "processing_id", req.ProcessingID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
