package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/iaction/internal/api/handlers"
	"github.com/your-org/iaction/internal/api/ws"
)

type RouterConfig struct {
	Cameras    handlers.CameraController
	Detections handlers.DetectionManager
	Hub        *ws.Hub
	// Snapshots is nil when no archive is configured.
	Snapshots handlers.SnapshotReader
	// Checks are probed by /readyz.
	Checks []handlers.Check
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	systemH := handlers.NewSystemHandler(cfg.Checks...)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/v1")

	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	camH := handlers.NewCameraHandler(cfg.Cameras)
	v1.GET("/cameras", camH.List)
	v1.POST("/cameras/stop", camH.StopAll)
	v1.GET("/cameras/:id", camH.Get)
	v1.GET("/cameras/:id/frame", camH.Frame)
	v1.POST("/cameras/:id/start", camH.Start)
	v1.POST("/cameras/:id/stop", camH.Stop)

	detH := handlers.NewDetectionHandler(cfg.Detections)
	v1.GET("/detections", detH.List)
	v1.POST("/detections", detH.Create)
	v1.GET("/detections/:id", detH.Get)
	v1.PUT("/detections/:id", detH.Update)
	v1.DELETE("/detections/:id", detH.Delete)

	if cfg.Snapshots != nil {
		snapH := handlers.NewSnapshotHandler(cfg.Snapshots)
		v1.GET("/snapshots/*path", snapH.Get)
	}

	return r
}
