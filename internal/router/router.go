package router

import (
	"context"

	"cashdrawer/internal/config"
	"cashdrawer/internal/events"
	"cashdrawer/internal/handler"
	"cashdrawer/internal/middleware"
	"cashdrawer/internal/repository"
	"cashdrawer/internal/service"
	"cashdrawer/internal/worker"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// New wires all dependencies and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
// ctx bounds background helpers such as the rate limiter sweeper.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, rdb *redis.Client) (*gin.Engine, error) {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	limits, err := cfg.Limits()
	if err != nil {
		return nil, err
	}

	limiter := middleware.NewIPRateLimiter(cfg.RateLimitPerMinute)
	go limiter.Run(ctx.Done())

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(middleware.ErrorHandler())
	r.Use(limiter.Middleware())

	// ── Repositories ─────────────────────────────────────────────────────────
	cashRepo := repository.NewCashRepository(db)

	// ── Services ─────────────────────────────────────────────────────────────
	dispatcher := worker.NewDispatcher(rdb)
	publisher := events.NewRedisPublisher(rdb)
	cashSvc := service.NewCashService(cashRepo, publisher, dispatcher, limits, cfg.PDFStoragePath)

	// ── Handlers ─────────────────────────────────────────────────────────────
	cashH := handler.NewCashHandler(cashSvc)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(db, rdb))

	// Protected routes
	jwtMW := middleware.JWTAuth(cfg.JWTSecret)
	v1 := r.Group("/v1", jwtMW, middleware.RequireOrganization())
	{
		allRoles := middleware.RequireRole(middleware.RoleCashier, middleware.RoleSupervisor, middleware.RoleAdmin)
		supervisors := middleware.RequireRole(middleware.RoleSupervisor, middleware.RoleAdmin)

		cash := v1.Group("/cash/sessions")
		{
			cash.POST("", allRoles, cashH.Open)
			cash.GET("", supervisors, cashH.History)
			cash.GET("/active", allRoles, cashH.Active)
			cash.GET("/:id", allRoles, cashH.Get)
			cash.POST("/:id/close", allRoles, cashH.Close)
			cash.POST("/:id/cancel", supervisors, cashH.Cancel)
			cash.GET("/:id/summary", allRoles, cashH.Summary)
			cash.GET("/:id/movements", allRoles, cashH.Movements)
			cash.POST("/:id/movements", allRoles, cashH.RegisterMovement)
			cash.GET("/:id/report", allRoles, cashH.Report)
			cash.GET("/:id/export", allRoles, cashH.Export)
		}

		v1.GET("/admin/report-dlq", middleware.RequireRole(middleware.RoleAdmin), handler.ReportDLQ(rdb))
	}

	// Swagger UI, only outside production
	if cfg.Env != "production" {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r, nil
}
