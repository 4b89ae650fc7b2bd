// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/license-backend/internal/cache"
	"github.com/javajoker/license-backend/internal/config"
	"github.com/javajoker/license-backend/internal/database"
	"github.com/javajoker/license-backend/internal/events"
	"github.com/javajoker/license-backend/internal/i18n"
	"github.com/javajoker/license-backend/internal/metrics"
	"github.com/javajoker/license-backend/internal/router"
	"github.com/javajoker/license-backend/internal/services"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	setupLogging(cfg)

	flushSentry, err := router.InitSentry(cfg)
	if err != nil {
		logrus.WithError(err).Warn("Sentry initialization failed, continuing without it")
	}
	defer flushSentry()

	// Initialize database
	db, err := database.Initialize(cfg.Database)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize database")
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(db); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}

	if err := database.SeedInitialData(db, cfg.Seed); err != nil {
		logrus.WithError(err).Fatal("Failed to seed initial data")
	}

	// Initialize i18n
	if err := i18n.Initialize(); err != nil {
		logrus.WithError(err).Fatal("Failed to initialize i18n")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var c *cache.Cache
	if cfg.Redis.Enabled {
		c, err = cache.New(ctx, cfg.Redis)
		if err != nil {
			logrus.WithError(err).Warn("Redis unavailable, running without cache")
			c = nil
		} else {
			defer c.Close()
		}
	}

	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Events.Enabled {
		conn, err := events.Connect(cfg.Events.AMQPURL, 5, 2*time.Second)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to connect to message broker")
		}
		amqpPublisher, err := events.NewAMQPPublisher(conn, cfg.Events.Exchange)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to create event publisher")
		}
		publisher = amqpPublisher
	}
	defer publisher.Close()

	recorder := metrics.NewRecorder()

	planService := services.NewPlanService(db, c, cfg.Redis.PlanTTL)
	licenseService, err := services.NewLicenseService(db, planService, cfg.License,
		services.WithStatsCache(c, cfg.Redis.StatsTTL),
		services.WithPublisher(publisher),
		services.WithMetrics(recorder),
		services.WithLogger(logrus.StandardLogger()),
	)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create license service")
	}

	go services.NewExpirySweeper(licenseService, cfg.License.SweepInterval).Run(ctx)

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := router.Initialize(ctx, db, cfg, router.Services{
		Auth:    services.NewAuthService(db, cfg.JWT),
		User:    services.NewUserService(db),
		Plan:    planService,
		License: licenseService,
		Metrics: recorder,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeout) * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logrus.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	stop()
	logrus.Info("Shutting down server...")

	// Create a deadline for shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server forced to shutdown")
	}

	logrus.Info("Server exited")
}

func setupLogging(cfg *config.Config) {
	format := cfg.Observability.LogFormat
	if format == "" && cfg.Environment == "production" {
		format = "json"
	}
	if format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	level, err := logrus.ParseLevel(cfg.Observability.LogLevel)
	if err != nil {
		logrus.WithField("level", cfg.Observability.LogLevel).Warn("Unknown log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
}
