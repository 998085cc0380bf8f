package router

import (
	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/videogen/internal/api/handler"
)

const serviceName = "videogen-api-service"

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(TracingMiddleware(serviceName))
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	r.GET("/health", handler.Health(serviceName, deps.HealthChecks))

	jobHandler := handler.NewJobHandler(deps)

	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", jobHandler.CreateJob)
			jobs.GET("", jobHandler.ListJobs)
			jobs.GET("/:job_id", jobHandler.GetJob)
			jobs.GET("/:job_id/events", jobHandler.GetJobEvents)

			// operator decisions on a ready video
			jobs.POST("/:job_id/approve", jobHandler.ApproveJob)
			jobs.POST("/:job_id/reject", jobHandler.RejectJob)

			jobs.POST("/:job_id/retry", jobHandler.RetryJob)
			jobs.DELETE("/:job_id", jobHandler.DeleteJob)
		}

		v1.GET("/stats", jobHandler.GetStats)
	}

	return r
}
