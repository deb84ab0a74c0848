package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/public-convenience-ltd/toiletmap-next-sub000/internal/handler"
	internalmiddleware "github.com/public-convenience-ltd/toiletmap-next-sub000/internal/middleware"
	"github.com/public-convenience-ltd/toiletmap-next-sub000/internal/repository"
	"github.com/public-convenience-ltd/toiletmap-next-sub000/internal/service"
	"github.com/public-convenience-ltd/toiletmap-next-sub000/pkg/cache"
	"github.com/public-convenience-ltd/toiletmap-next-sub000/pkg/config"
	"github.com/public-convenience-ltd/toiletmap-next-sub000/pkg/database"
	"github.com/public-convenience-ltd/toiletmap-next-sub000/pkg/logger"
	corsmiddleware "github.com/public-convenience-ltd/toiletmap-next-sub000/pkg/middleware/cors"
	reqidmiddleware "github.com/public-convenience-ltd/toiletmap-next-sub000/pkg/middleware/requestid"
)

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
	defer db.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()

	var cacheRepo service.CacheRepository
	if cfg.Redis.Enabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Fatalw("failed to connect to redis", "error", err)
		}
		repo := repository.NewCacheRepository(redisClient, logr)
		defer repo.Close() //nolint:errcheck
		cacheRepo = repo
	}
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.SharedTTL, logr, cfg.Redis.Enabled)

	looRepo := repository.NewLooRepository(db, logr)
	versionRepo := repository.NewVersionRepository(db)
	reportSvc := service.NewReportService(versionRepo, logr)

	validate := validator.New()
	looSvc, err := service.NewLooService(looRepo, reportSvc, cacheSvc, metricsSvc, validate, logr,
		cfg.Cache.RecordCapacity, cfg.Dataset.TopAreaCount)
	if err != nil {
		logr.Sugar().Fatalw("failed to init loo service", "error", err)
	}

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(internalmiddleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	api := r.Group(cfg.APIPrefix)
	handler.NewLooHandler(looSvc, cfg.Search.DefaultLimit, cfg.Search.MaxLimit).Register(api)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
