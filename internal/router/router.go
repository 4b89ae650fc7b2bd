// internal/router/router.go
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/handlers"
	"github.com/javajoker/license-backend/internal/i18n"
	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/middleware"
	"github.com/javajoker/license-backend/internal/models"
	"github.com/javajoker/license-backend/internal/services"
	"github.com/javajoker/license-backend/internal/utils"
)

const version = "1.0.0"

// Services are the application services exposed over HTTP.
type Services struct {
	Auth    *services.AuthService
	User    *services.UserService
	Plan    *services.PlanService
	License *services.LicenseService
	Metrics *metrics.Recorder
}

// Initialize builds the gin engine. ctx bounds the background cleanup of the
// rate limiters.
func Initialize(ctx context.Context, db *gorm.DB, cfg *config.Config, svc Services) *gin.Engine {
	// Initialize handlers
	authHandler := handlers.NewAuthHandler(svc.Auth, svc.User)
	planHandler := handlers.NewPlanHandler(svc.Plan)
	licenseHandler := handlers.NewLicenseHandler(svc.License)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	generalLimiter := middleware.NewRateLimiter(middleware.PerSecond(cfg.RateLimit.GeneralPerSecond), cfg.RateLimit.GeneralBurst)
	authLimiter := middleware.NewRateLimiter(middleware.PerMinute(cfg.RateLimit.AuthPerMinute), cfg.RateLimit.AuthBurst)
	validateLimiter := middleware.NewRateLimiter(middleware.PerSecond(cfg.RateLimit.ValidatePerSecond), cfg.RateLimit.ValidateBurst)
	for _, l := range []*middleware.RateLimiter{generalLimiter, authLimiter, validateLimiter} {
		go l.Cleanup(ctx)
	}

	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	if cfg.Observability.SentryDSN != "" {
		r.Use(sentrygin.New(sentrygin.Options{Repanic: true, Timeout: 2 * time.Second}))
	}
	r.Use(middleware.RequestLogger(svc.Metrics))
	r.Use(corsMiddleware(cfg.Server.CORSOrigins))
	r.Use(middleware.I18nMiddleware())
	r.Use(generalLimiter.Middleware())
	r.Use(middleware.AuditLogMiddleware(db))

	// Health check
	r.GET("/health", func(c *gin.Context) {
		status := http.StatusOK
		dbStatus := "up"
		if sqlDB, err := db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			status = http.StatusServiceUnavailable
			dbStatus = "down"
		}
		c.JSON(status, gin.H{
			"status":    http.StatusText(status),
			"database":  dbStatus,
			"version":   version,
			"languages": i18n.GetSupportedLanguages(),
		})
	})

	r.NoRoute(func(c *gin.Context) {
		utils.NotFoundResponse(c, "route")
	})

	if cfg.Observability.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(svc.Metrics.Handler()))
	}

	staff := middleware.RolesRequired(models.UserRoleSuperAdmin, models.UserRoleAgent)

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		{
			auth.POST("/register", authLimiter.Middleware(), authHandler.Register)
			auth.POST("/login", authLimiter.Middleware(), authHandler.Login)
			auth.POST("/refresh", authLimiter.Middleware(), authHandler.RefreshToken)
			auth.GET("/me", middleware.AuthRequired(), authHandler.GetProfile)
			auth.PUT("/me", middleware.AuthRequired(), authHandler.UpdateProfile)
		}

		// Plan routes
		plans := v1.Group("/plans")
		{
			plans.GET("", middleware.OptionalAuth(), planHandler.ListPlans)
			plans.GET("/:id", planHandler.GetPlan)
			plans.POST("", middleware.AuthRequired(), middleware.AdminRequired(), planHandler.CreatePlan)
		}

		// License routes
		licenses := v1.Group("/licenses")
		{
			licenses.GET("/validate", validateLimiter.Middleware(), licenseHandler.ValidateLicense)

			protected := licenses.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.GET("", licenseHandler.ListLicenses)
				protected.POST("", staff, licenseHandler.CreateLicense)
				protected.POST("/bulk", staff, licenseHandler.BulkCreateLicenses)
				protected.POST("/activate", licenseHandler.ActivateLicense)
				protected.GET("/stats", staff, licenseHandler.GetStats)
				protected.GET("/:id", licenseHandler.GetLicense)
				protected.PUT("/:id", licenseHandler.UpdateLicense)
				protected.DELETE("/:id/revoke", staff, licenseHandler.RevokeLicense)
			}
		}
	}

	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	corsConfig := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept-Language"},
		ExposeHeaders:    []string{"X-Total-Count", "X-Page", "X-Per-Page", "X-Total-Pages"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}

	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}

	if allowAll {
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowCredentials = false
	} else {
		corsConfig.AllowOrigins = origins
	}
	return cors.New(corsConfig)
}

// InitSentry configures the Sentry client when a DSN is set. The returned
// function flushes buffered events and is safe to call either way.
func InitSentry(cfg *config.Config) (func(), error) {
	if cfg.Observability.SentryDSN == "" {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Observability.SentryDSN,
		Environment:      cfg.Environment,
		Release:          "license-backend@" + version,
		AttachStacktrace: true,
	})
	if err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}
