package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/medquizpro/session-engine/internal/config"
	"github.com/medquizpro/session-engine/internal/handler"
	"github.com/medquizpro/session-engine/internal/middleware"
	"github.com/medquizpro/session-engine/internal/response"
	"github.com/medquizpro/session-engine/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Session *handler.SessionHandler
	WS      *handler.WSHandler
	System  *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// ─── CORS ──────────────────────────────────────────────────────────
	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all (*) so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())

	// Apply brotli middleware globally.
	router.Use(middleware.Brotli())

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for session starts (30 requests per minute per IP).
	startLimiter := middleware.NewRateLimiter(30, time.Minute)

	// ─── 1. Session Group (JWT) ────────────────────────────────────────
	sessions := router.Group("/api/v1/sessions")
	sessions.Use(middleware.RequireUserJWT(authService))
	{
		sessions.POST("", startLimiter.Middleware(), handlers.Session.StartSession)
		sessions.POST("/resume", handlers.Session.ResumeSession)
		sessions.GET("/:session_id", handlers.Session.GetSession)
		sessions.POST("/:session_id/answers", handlers.Session.SubmitAnswer)
		sessions.POST("/:session_id/complete", handlers.Session.CompleteSession)
		sessions.DELETE("/:session_id", handlers.Session.AbandonSession)
		sessions.GET("/:session_id/health", handlers.Session.GetSessionHealth)
	}

	// ─── 2. WebSocket Group (WS Auth via query token) ──────────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.RequireWSAuth(authService))
	{
		ws.GET("/sessions/:session_id/stream", handlers.WS.SessionStream)
	}

	// ─── 3. System Monitoring (JWT) ────────────────────────────────────
	system := router.Group("/api/v1/system")
	system.Use(middleware.RequireUserJWT(authService))
	{
		system.GET("/metrics", handlers.System.SystemMetricsSSE)
	}

	return router
}
