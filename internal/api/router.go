package api

import (
	"github.com/eduair94/gastos-gub-uy-sub000/internal/api/handler"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/api/middleware"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/config"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/logger"
	"github.com/eduair94/gastos-gub-uy-sub000/internal/scheduler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures the Gin router with all routes
func SetupRouter(
	sched *scheduler.Scheduler,
	serverCfg *config.ServerConfig,
	log *logger.Logger,
) *gin.Engine {
	switch serverCfg.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.LoggerMiddleware(log))
	r.Use(middleware.CORS(serverCfg.CORS))

	registerRoutes(r,
		handler.NewHealthHandler(sched, 0),
		handler.NewSchedulerHandler(sched),
	)
	return r
}

func registerRoutes(r *gin.Engine, health *handler.HealthHandler, jobs *handler.SchedulerHandler) {
	r.GET("/health", health.Health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/scheduler/status", jobs.Status)
		v1.POST("/scheduler/trigger", jobs.Trigger)
	}
}
