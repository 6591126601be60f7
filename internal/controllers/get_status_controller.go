package controllers

import (
	"net/http"

	"github.com/ortaieb/image-checker/internal/services"

	"github.com/gin-gonic/gin"
)

type getStatusController struct{ svc services.ResultsService }

func NewGetStatusController(svc services.ResultsService) *getStatusController {
	return &getStatusController{svc}
}

func (h *getStatusController) Handle(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "processing-id": id})
		return
	}
	c.JSON(http.StatusOK, gin.H{"processing-id": rec.ProcessingID, "status": rec.State})
}
