package controllers

import (
	"net/http"

	"github.com/ortaieb/image-checker/internal/services"

	"github.com/gin-gonic/gin"
)

type getResultsController struct{ svc services.ResultsService }

func NewGetResultsController(s services.ResultsService) *getResultsController {
	return &getResultsController{svc: s}
}

func (h *getResultsController) Handle(c *gin.Context) {
	id := c.Param("id")
	rec, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "processing-id": id})
		return
	}
	if !rec.State.Terminal() {
		c.JSON(http.StatusAccepted, gin.H{
			"processing-id": rec.ProcessingID,
			"status":        rec.State,
			"message":       "processing not finished",
		})
		return
	}
	c.JSON(http.StatusOK, services.NewResultPayload(rec))
}
