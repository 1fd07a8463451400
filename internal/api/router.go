package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/durianscan/internal/api/handlers"
	"github.com/your-org/durianscan/internal/api/ws"
	"github.com/your-org/durianscan/internal/auth"
)

type RouterConfig struct {
	APIKey         string
	MaxUploadBytes int64
	Scanner        handlers.ScanService
	Users          handlers.UserStore
	// Checks are run by /readyz, keyed by dependency name.
	Checks map[string]handlers.Check
	Hub    *ws.Hub
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.New(corsConfig()))
	// Multipart bodies beyond this are spooled to disk by net/http.
	r.MaxMultipartMemory = cfg.MaxUploadBytes + 1<<20

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey), auth.UserMiddleware())

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Users
	userH := handlers.NewUserHandler(cfg.Users)
	v1.POST("/users", userH.Register)

	// Scanner
	scanH := handlers.NewScannerHandler(cfg.Scanner, cfg.MaxUploadBytes)
	scanner := v1.Group("/scanner")
	scanner.POST("/detect", scanH.Detect)
	scanner.POST("/scans/async", scanH.SubmitAsync)
	scanner.POST("/classify/disease", scanH.ClassifyDisease)
	scanner.GET("/history", scanH.History)
	scanner.GET("/scans/:id", scanH.Get)
	scanner.DELETE("/scans/:id", scanH.Delete)
	scanner.GET("/images/*key", scanH.Image)
	scanner.GET("/analytics", scanH.Analytics)
	scanner.GET("/analytics/stats", scanH.Stats)

	return r
}

// corsConfig allows the mobile and web clients to send the identity headers.
func corsConfig() cors.Config {
	c := cors.DefaultConfig()
	c.AllowAllOrigins = true
	c.AddAllowHeaders("X-API-Key", "X-User-Id", "Authorization")
	return c
}
