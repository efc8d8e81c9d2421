package router

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/intern-crm/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", healthHandler(deps.Database))

	fetchHandler := handler.NewFetchHandler(deps)

	v1 := r.Group("/api/v1")
	{
		fetch := v1.Group("/fetch")
		{
			// POST /api/v1/fetch/run - Start a fetch job
			fetch.POST("/run", fetchHandler.RunFetch)

			// GET /api/v1/fetch/status/:job_id - Live job progress
			fetch.GET("/status/:job_id", fetchHandler.GetStatus)

			// POST /api/v1/fetch/cancel/:job_id - Cancel a job
			fetch.POST("/cancel/:job_id", fetchHandler.CancelFetch)

			// GET /api/v1/fetch/logs - Run history
			fetch.GET("/logs", fetchHandler.ListLogs)

			// GET /api/v1/fetch/logs/:job_id - One run
			fetch.GET("/logs/:job_id", fetchHandler.GetLog)
		}
	}

	return r
}

func healthHandler(db handler.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if db != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
			defer cancel()

			if err := db.HealthCheck(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status":  "unhealthy",
					"service": "intern-crm-api",
					"error":   err.Error(),
				})
				return
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "intern-crm-api",
		})
	}
}
