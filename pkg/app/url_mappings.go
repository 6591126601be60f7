package app

import (
	"github.com/ortaieb/image-checker/internal/controllers"
	"github.com/ortaieb/image-checker/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupMappings(app *Application) {
	// Inline images travel base64 encoded, hence the 4/3 plus room for the JSON around them.
	maxBody := app.Config.MaxImageBytes*4/3 + 1<<20

	e := app.Engine
	e.POST("/validate",
		middleware.RateLimitSubmit(app.RateLimiter, app.Config),
		controllers.NewSubmitValidationController(app.Admission, maxBody).Handle,
	)

	read := e.Group("", middleware.RateLimitRead(app.RateLimiter, app.Config))
	{
		read.GET("/status/:id", controllers.NewGetStatusController(app.Results).Handle)
		read.GET("/results/:id", controllers.NewGetResultsController(app.Results).Handle)
	}

	e.GET("/health", controllers.NewHealthController(app.Admission, Version).Handle)
	e.GET("/stats", controllers.NewQueueStatsController(app.Admission).Handle)
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
