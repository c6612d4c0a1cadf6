package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"mining-api/docs"
	"mining-api/internal/config"
	"mining-api/internal/controller"
	"mining-api/internal/database"
	"mining-api/internal/engine"
	"mining-api/internal/messaging"
	"mining-api/internal/middleware"
	"mining-api/internal/monitoring"
	"mining-api/internal/scheduler"
	"mining-api/pkg/logger"
)

// @title Mining API
// @version 1.0
// @description STARZ mining balance accrual, offline catch-up, reconciliation and referral bonuses

// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

// @securityDefinitions.apikey InternalAPI
// @in header
// @name X-API-Key

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger.Init(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"version":    version,
		"build_time": buildTime,
		"git_commit": gitCommit,
		"port":       cfg.Server.Port,
	}).Info("Starting Mining API")

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := initializeApp(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to initialize application: %v", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logrus.WithField("address", server.Addr).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.Errorf("Server forced to shutdown: %v", err)
	}

	app.cleanup(shutdownCtx)
	cancel()

	logrus.Info("Server exited")
}

// Application holds all application dependencies
type Application struct {
	config    *config.Config
	router    *gin.Engine
	db        *database.Database
	publisher messaging.Publisher
	scheduler *scheduler.Scheduler
}

func initializeApp(ctx context.Context, cfg *config.Config) (*Application, error) {
	logrus.Info("Initializing application dependencies...")

	db, err := database.Initialize(ctx, cfg)
	if err != nil {
		return nil, err
	}

	publisher := messaging.NewNoopPublisher()
	if cfg.RabbitMQ.Enabled {
		publisher, err = messaging.NewRabbitMQPublisher(messaging.RabbitMQConfig{
			URL:            cfg.RabbitMQ.URL,
			Exchange:       cfg.RabbitMQ.Exchange,
			PublishTimeout: cfg.RabbitMQ.PublishTimeout,
		})
		if err != nil {
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.NewNoopMetrics()
	if cfg.Monitoring.EnableMetrics {
		metrics = monitoring.NewPrometheusMetrics(registry)
	}

	deps := engine.Dependencies{
		Balances:      db.Repositories.Balance,
		Transactions:  db.Repositories.Transaction,
		DailyEarnings: db.Repositories.DailyEarnings,
		Referrals:     db.Repositories.Referral,
		Users:         db.Repositories.User,
		State:         db.State,
		Publisher:     publisher,
		Metrics:       metrics,
		AuditLog:      logger.AuditLogger(cfg.Logging),
	}
	if db.Repositories.LockManager != nil {
		deps.Locker = db.Repositories.LockManager
	}
	miningEngine := engine.NewMiningEngine(cfg.Mining, deps)
	miningEngine.SetReconcileTimeout(cfg.Mining.ReconcileTimeout)

	health := monitoring.NewHealthChecker(version)
	health.RegisterCheck(monitoring.NewPingChecker("mongodb", 2*time.Second, db.PingMongo))
	health.RegisterCheck(monitoring.NewPingChecker("redis", 2*time.Second, db.PingRedis))
	if cfg.RabbitMQ.Enabled {
		health.RegisterCheck(monitoring.NewPingChecker("rabbitmq", 2*time.Second, publisher.Ping))
	}

	// Also backs the manual admin sweep when periodic sweeps are disabled
	sweeper := scheduler.NewScheduler(miningEngine, metrics, logrus.StandardLogger(), cfg.Scheduler.ReconcileSpec, cfg.Scheduler.MaxParallelUsers)
	if cfg.Scheduler.Enabled {
		if err := sweeper.Start(); err != nil {
			_ = publisher.Close()
			_ = db.Close(ctx)
			return nil, fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	router := setupRouter(cfg, miningEngine, sweeper, metrics, health, registry)

	logrus.Info("Application initialization completed")

	return &Application{
		config:    cfg,
		router:    router,
		db:        db,
		publisher: publisher,
		scheduler: sweeper,
	}, nil
}

func (a *Application) cleanup(ctx context.Context) {
	logrus.Info("Cleaning up application resources...")

	a.scheduler.Stop(ctx)
	if err := a.publisher.Close(); err != nil {
		logrus.WithError(err).Warn("Failed to close publisher")
	}
	if err := a.db.Close(ctx); err != nil {
		logrus.WithError(err).Warn("Failed to close database connections")
	}
}

func setupRouter(cfg *config.Config, miningEngine *engine.MiningEngine, sweeper *scheduler.Scheduler, metrics monitoring.MetricsService, health monitoring.HealthChecker, registry *prometheus.Registry) *gin.Engine {
	router := gin.New()

	auth := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer).WithInternalKey(cfg.Auth.InternalAPIKey)
	logging := middleware.NewLoggingMiddleware(logrus.StandardLogger(), metrics)
	rateLimit := middleware.NewRateLimitMiddleware(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	router.Use(gin.Recovery())
	router.Use(requestid.New())
	router.Use(logging.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Request-ID", "X-API-Key"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", func(c *gin.Context) {
		status := health.CheckHealth(c.Request.Context())
		code := http.StatusOK
		if status.Status == "unhealthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	router.GET("/ready", func(c *gin.Context) {
		status := health.CheckHealth(c.Request.Context())
		if status.Status != "healthy" {
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":    "ready",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   "mining-api",
		})
	})

	router.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":    version,
			"build_time": buildTime,
			"git_commit": gitCommit,
			"service":    "mining-api",
		})
	})

	if cfg.Monitoring.EnableMetrics {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		logrus.WithField("path", cfg.Monitoring.MetricsPath).Info("Metrics endpoint enabled")
	}

	if cfg.Server.EnableSwagger {
		docs.SwaggerInfo.Version = version
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
		logrus.Info("Swagger documentation enabled")
	}

	admin := router.Group("/api/admin", auth.InternalAPIAuth())
	controller.NewAdminController(miningEngine, sweeper).RegisterRoutes(admin)

	api := router.Group("/api", middleware.MaxBodySize(64<<10), auth.JWTAuth(), rateLimit.UserRateLimit())
	controller.NewMiningController(miningEngine).RegisterRoutes(api, auth)

	return router
}
