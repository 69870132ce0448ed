package routers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"soika/jobrouter/internal/server/handlers/deadletters"
	"soika/jobrouter/internal/server/handlers/events"
	"soika/jobrouter/internal/server/handlers/health"
	"soika/jobrouter/internal/server/handlers/jobs"
	"soika/jobrouter/internal/server/middlewares"
	"soika/jobrouter/pkg/logger"
)

// Handlers groups the route handlers. DeadLetters and Events are optional
// and their routes are only mounted when set.
type Handlers struct {
	Jobs        *jobs.JobHandler
	Health      *health.HealthHandler
	DeadLetters *deadletters.DeadLetterHandler
	Events      *events.EventHandler
}

// SetupRoutes builds the engine with every route group.
func SetupRoutes(h Handlers, log logger.Logger) *gin.Engine {
	r := gin.New()

	r.Use(middlewares.Logger(log))
	r.Use(middlewares.ErrorHandler(log))

	r.GET("/health", h.Health.Get)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		jobsGroup := v1.Group("/jobs")
		{
			jobsGroup.GET("/kinds", h.Jobs.Kinds)
			if h.Events != nil {
				jobsGroup.GET("/events", h.Events.Stream)
			}
			jobsGroup.POST("/:kind", h.Jobs.Emit)
		}

		if h.DeadLetters != nil {
			v1.GET("/dead-letters", h.DeadLetters.List)
		}
	}

	return r
}
