package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/campus-results-api/api/swagger"
	"github.com/noah-isme/campus-results-api/internal/handler"
	"github.com/noah-isme/campus-results-api/internal/middleware"
	"github.com/noah-isme/campus-results-api/internal/repository"
	"github.com/noah-isme/campus-results-api/internal/router"
	"github.com/noah-isme/campus-results-api/internal/service"
	"github.com/noah-isme/campus-results-api/pkg/cache"
	"github.com/noah-isme/campus-results-api/pkg/config"
	"github.com/noah-isme/campus-results-api/pkg/database"
	"github.com/noah-isme/campus-results-api/pkg/export"
	"github.com/noah-isme/campus-results-api/pkg/jobs"
	"github.com/noah-isme/campus-results-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/campus-results-api/pkg/middleware/cors"
	"github.com/noah-isme/campus-results-api/pkg/middleware/ratelimit"
	reqidmiddleware "github.com/noah-isme/campus-results-api/pkg/middleware/requestid"
	"github.com/noah-isme/campus-results-api/pkg/signing"
	"github.com/noah-isme/campus-results-api/pkg/tracing"
)

// @title Campus Results API
// @version 1.0.0
// @description Academic results engine: grade capture, publication workflow, final transcripts and verification.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		tp, err := tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.JaegerEndpoint)
		if err != nil {
			logr.Warn("tracing disabled", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tp.Shutdown(shutdownCtx)
			}()
		}
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		logr.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer db.Close() //nolint:errcheck

	redisClient, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, analytics cache disabled", zap.Error(err))
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close() //nolint:errcheck
	}

	metrics := service.NewMetricsService()
	validate := service.NewValidator()

	resultRepo := repository.NewResultRepository(db)
	directoryRepo := repository.NewDirectoryRepository(db)
	scaleRepo := repository.NewGradingScaleRepository(db)
	transcriptRepo := repository.NewFinalTranscriptRepository(db)

	var cacheRepo service.CacheRepository
	if redisClient != nil {
		cacheRepo = repository.NewCacheRepository(redisClient)
	}
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Analytics.CacheTTL, logr, cfg.Analytics.CacheEnabled)

	authSvc := service.NewAuthService(logr, service.AuthConfig{AccessTokenSecret: cfg.JWT.Secret, Issuer: cfg.JWT.Issuer})
	scaleSvc := service.NewGradingScaleService(scaleRepo, validate, logr)
	analyticsSvc := service.NewAnalyticsService(resultRepo, directoryRepo, cacheSvc, metrics, logr, cfg.Results.VerificationBaseURL)

	riskQueue := jobs.NewQueue("dropout-risk", analyticsSvc.HandleRiskJob, jobs.QueueConfig{
		Workers:    cfg.Risk.Workers,
		BufferSize: cfg.Risk.BufferSize,
		MaxRetries: cfg.Risk.MaxRetries,
		RetryDelay: cfg.Risk.RetryDelay,
		Logger:     logr,
	})
	riskQueue.Start(ctx)
	defer riskQueue.Stop()

	signer := signing.NewLinkSigner(cfg.Transcripts.SignatureLinkSecret, "transcript-signature", cfg.Transcripts.SignatureLinkTTL)
	transcriptSvc := service.NewTranscriptService(transcriptRepo, resultRepo, directoryRepo, signer, cfg.Transcripts.RequireSignatureLink, validate, logr)
	resultSvc := service.NewResultService(resultRepo, scaleSvc, directoryRepo, cacheSvc, validate, logr)
	ingestionSvc := service.NewIngestionService(resultRepo, directoryRepo, scaleSvc, export.NewCSVExporter(), cacheSvc, validate, logr)
	workflowSvc := service.NewWorkflowService(resultRepo, scaleSvc, transcriptSvc, riskQueue, cacheSvc, metrics, validate, logr,
		service.WorkflowConfig{LockConcurrency: cfg.Results.LockSemesterConcurrency})

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	if cfg.Tracing.Enabled {
		r.Use(tracing.GinMiddleware())
	}
	r.Use(middleware.Metrics(metrics))
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		limiter.StartJanitor(ctx)
		r.Use(limiter.Middleware())
	}

	checks := map[string]handler.Pinger{"postgres": db.PingContext}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisPing(ctx, redisClient) }
	}
	router.RegisterOps(r, handler.NewMetricsHandler(metrics, checks))
	router.Register(r, router.Handlers{
		Results:     handler.NewResultHandler(resultSvc),
		Workflow:    handler.NewWorkflowHandler(workflowSvc),
		Ingestion:   handler.NewIngestionHandler(ingestionSvc, cfg.Results.ImportMaxFileSize),
		Scales:      handler.NewGradingScaleHandler(scaleSvc),
		Transcripts: handler.NewTranscriptHandler(transcriptSvc),
		Analytics:   handler.NewAnalyticsHandler(analyticsSvc),
	}, router.Options{APIPrefix: cfg.APIPrefix, Auth: authSvc, Logger: logr})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}

func redisPing(ctx context.Context, client *redis.Client) error {
	return client.Ping(ctx).Err()
}
