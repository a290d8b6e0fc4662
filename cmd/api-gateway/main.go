package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/ess-portal-api/api/swagger"
	"github.com/noah-isme/ess-portal-api/internal/handler"
	"github.com/noah-isme/ess-portal-api/internal/middleware"
	"github.com/noah-isme/ess-portal-api/internal/models"
	"github.com/noah-isme/ess-portal-api/internal/repository"
	"github.com/noah-isme/ess-portal-api/internal/service"
	"github.com/noah-isme/ess-portal-api/pkg/cache"
	"github.com/noah-isme/ess-portal-api/pkg/config"
	"github.com/noah-isme/ess-portal-api/pkg/database"
	"github.com/noah-isme/ess-portal-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/ess-portal-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/ess-portal-api/pkg/middleware/requestid"
	"github.com/noah-isme/ess-portal-api/pkg/storage"
)

// @title ESS Portal API
// @version 1.0.0
// @description Employee self-service requests with staged approval workflow
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching and notifications degrade to no-ops", "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	userRepo := repository.NewUserRepository(db)
	requestRepo := repository.NewRequestRepository(db)

	var cacheSvc *service.CacheService
	if redisClient != nil {
		cacheRepo := repository.NewCacheRepository(redisClient, logr)
		cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Tasks.CacheTTL, logr, cfg.Tasks.CacheEnabled)
	}

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "ess-portal-api",
	})

	requestSvc := service.NewRequestService(requestRepo, userRepo, userRepo, validate, logr,
		service.WithRequestMetrics(metricsSvc),
	)

	approvalOpts := []service.ApprovalServiceOption{
		service.WithApprovalMetrics(metricsSvc),
		service.WithTaskCache(cacheSvc),
	}
	var notificationSvc *service.NotificationService
	if cfg.Notifications.Enabled {
		notificationSvc = service.NewNotificationService(redisClient, cfg.Notifications, logr)
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		notificationSvc.Start(ctx)
		defer notificationSvc.Stop()
		approvalOpts = append(approvalOpts, service.WithDispositionNotifier(notificationSvc))
	}
	approvalSvc := service.NewApprovalService(requestRepo, userRepo, logr, approvalOpts...)

	var exportOpts []service.ExportServiceOption
	if cfg.Certificates.StorageDir != "" {
		documents, err := storage.NewLocalStorage(cfg.Certificates.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to prepare certificate storage", "error", err)
		}
		exportOpts = append(exportOpts, service.WithDocumentStorage(documents))
	}
	exportSvc := service.NewExportService(requestSvc, cfg.Certificates.CompanyName, logr, exportOpts...)

	authHandler := handler.NewAuthHandler(authSvc)
	requestHandler := handler.NewRequestHandler(requestSvc, exportSvc)
	approvalHandler := handler.NewApprovalHandler(approvalSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc), middleware.WithResponseMeta())

	protected.POST("/requests", requestHandler.Create)
	protected.GET("/requests", requestHandler.List)
	protected.GET("/requests/export.csv",
		middleware.RequireRoles(models.RoleSupervisor, models.RoleManager, models.RoleHR),
		middleware.Audit(userRepo, models.AuditActionExport, "request_csv"),
		requestHandler.ExportCSV,
	)
	protected.GET("/requests/:id", requestHandler.Get)
	if cfg.Certificates.Enabled {
		protected.GET("/requests/:id/certificate",
			middleware.Audit(userRepo, models.AuditActionExport, "certificate"),
			requestHandler.Certificate,
		)
	}
	protected.POST("/requests/:id/decisions", approvalHandler.Decide)

	protected.GET("/approvals/tasks", approvalHandler.Tasks)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
