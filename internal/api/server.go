package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/taskrun/engine/internal/orm"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
}

func NewServer(
	storage *orm.Storage,
	runs *RunHandler,
	waitpoints *WaitpointHandler,
	attempts *AttemptHandler,
	gatherer prometheus.Gatherer,
	logger *zap.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{}
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(ErrorHandlingMiddleware(logger))
	s.router.Use(Cors())

	v1 := s.router.Group("/api/v1")
	{
		runGroup := v1.Group("/runs")
		{
			runGroup.POST("/trigger", runs.Trigger)
			runGroup.GET("", runs.List)
			runGroup.GET("/:id/execution", runs.GetExecutionData)
			runGroup.GET("/:id/snapshots/since/:snapshot_id", runs.GetSnapshotsSince)
			runGroup.POST("/:id/block", waitpoints.BlockRun)
			runGroup.POST("/:id/attempts/start", attempts.Start)
			runGroup.POST("/:id/attempts/complete", attempts.Complete)
		}

		wpGroup := v1.Group("/waitpoints")
		{
			wpGroup.POST("/datetime", waitpoints.CreateDateTime)
			wpGroup.POST("/manual", waitpoints.CreateManual)
			wpGroup.POST("/:id/complete", waitpoints.Complete)
		}

		v1.POST("/dequeue", attempts.Dequeue)
	}

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	s.router.GET("/health", func(c *gin.Context) {
		if err := storage.Ping(); err != nil {
			c.JSON(503, gin.H{"status": "down", "error": err.Error()})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	return s
}

func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Run(addr string) error {
	return s.router.Run(addr)
}
