package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-quiz/internal/config"
	"github.com/stemsi/exstem-quiz/internal/handler"
	"github.com/stemsi/exstem-quiz/internal/metrics"
	"github.com/stemsi/exstem-quiz/internal/middleware"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/stemsi/exstem-quiz/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Identity *handler.IdentityHandler
	Subject  *handler.SubjectHandler
	Session  *handler.SessionHandler
	WS       *handler.WSHandler
	Health   *handler.HealthHandler

	// IdentityLimiter throttles identity minting per IP. May be nil.
	IdentityLimiter *middleware.RateLimiter
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	identityService *service.IdentityService,
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
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Apply request ID middleware globally so every response includes metadata.
	router.Use(response.RequestIDMiddleware())
	router.Use(metrics.Middleware())
	router.Use(middleware.Brotli())

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", metrics.Handler())

	// ─── 1. Identity (Public, Rate Limited) ────────────────────────────
	identity := router.Group("/api/v1/identity")
	if handlers.IdentityLimiter != nil {
		identity.Use(handlers.IdentityLimiter.Middleware())
	}
	{
		identity.POST("/anonymous", middleware.OptionalIdentity(identityService), handlers.Identity.Anonymous)
	}

	// ─── 2. Question bank (Public, read-only) ──────────────────────────
	subjects := router.Group("/api/v1/subjects")
	subjects.Use(middleware.CacheControl(time.Minute))
	{
		subjects.GET("", handlers.Subject.GetAll)
		subjects.GET("/:subject_id/questions", handlers.Subject.ListQuestions)
	}

	// ─── 3. Sessions (Identity required) ───────────────────────────────
	sessions := router.Group("/api/v1/sessions")
	sessions.Use(middleware.RequireIdentity(identityService))
	{
		sessions.GET("/active", handlers.Session.GetActive)
	}

	// ─── 4. WebSocket (identity optional, minted on demand) ────────────
	ws := router.Group("/ws/v1")
	ws.Use(middleware.OptionalIdentity(identityService))
	{
		ws.GET("/exam", handlers.WS.ExamWebSocketStream)
	}

	return router
}
