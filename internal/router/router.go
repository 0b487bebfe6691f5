package router

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	WS        *handler.WSHandler
	Signal    *handler.SignalHandler
	Monitor   *handler.MonitorHandler
	Violation *handler.ViolationHandler
	System    *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	beaconLimiter *middleware.RateLimiter,
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

	router.GET("/health", handlers.System.Health)

	// ─── 1. Student Group (JWT + Single Device) ────────────────────────
	// Beacons arrive while the page unloads, when the WebSocket may already be gone.
	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
		middleware.NoStore(),
	)
	{
		studentAPI.POST("/exams/:exam_id/proctor/signals", beaconLimiter.Middleware(), handlers.Signal.PostSignals)
	}

	// ─── 2. WebSocket Group (Student WS Auth) ──────────────────────────
	ws := router.Group("/ws/v1")
	ws.Use(
		middleware.RequireStudentWSAuth(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		ws.GET("/student/exams/:exam_id/proctor", handlers.WS.ProctorStream)
	}

	// ─── 3. Admin Group (JWT + RBAC) ───────────────────────────────────
	adminAPI := router.Group("/api/v1/admin")
	adminAPI.Use(middleware.RequireAdminJWT(authService), middleware.NoStore())
	{
		adminAPI.GET("/exams/:id/violations",
			middleware.RequirePermission(model.PermissionViolationsRead),
			middleware.Brotli(),
			handlers.Violation.ListViolations,
		)
		adminAPI.GET("/exams/:id/monitor",
			middleware.RequirePermission(model.PermissionExamsMonitor, model.PermissionViolationsRead),
			handlers.Monitor.MonitorExamSSE,
		)

		// System Monitoring
		adminAPI.GET("/system/metrics",
			middleware.RequirePermission(model.PermissionExamsMonitor),
			handlers.System.SystemMetricsSSE,
		)
	}

	return router
}
