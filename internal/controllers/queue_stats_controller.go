package controllers

import (
	"net/http"

	"github.com/ortaieb/image-checker/internal/services"

	"github.com/gin-gonic/gin"
)

type queueStatsController struct{ svc services.AdmissionService }

func NewQueueStatsController(svc services.AdmissionService) *queueStatsController {
	return &queueStatsController{svc: svc}
}

func (h *queueStatsController) Handle(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Stats(c.Request.Context()))
}
