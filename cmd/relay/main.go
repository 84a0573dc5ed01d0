package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"online-cinema-support/backend/internal/api"
	"online-cinema-support/backend/internal/models"
	"online-cinema-support/backend/internal/presence"
	"online-cinema-support/backend/internal/relay"
	"online-cinema-support/backend/internal/repository"
	"online-cinema-support/backend/internal/service"
	"online-cinema-support/backend/pkg/config"
	"online-cinema-support/backend/pkg/errors"
	"online-cinema-support/backend/pkg/health"
	"online-cinema-support/backend/pkg/logger"
	"online-cinema-support/backend/pkg/middleware"
	"online-cinema-support/backend/pkg/observability"
)

func main() {
	godotenv.Load()

	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format != "text"
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	log.Info("starting support relay", "env", cfg.Server.Env, "port", cfg.Server.Port)

	shutdownTracing := observability.SetupTracing("support-relay", log)
	defer shutdownTracing()

	metricsAddr := os.Getenv("METRICS_ADDR")
	if metricsAddr == "" {
		metricsAddr = ":9091"
	}
	observability.SetupPrometheusMetrics(metricsAddr, log)

	checker := health.NewChecker(log, 30*time.Second)

	// Postgres is preferred; without it the relay still runs, holding
	// chats and history in memory only.
	var (
		chats    repository.ChatRepository
		messages repository.MessageRepository
	)
	db, err := config.NewDB()
	if err != nil {
		log.LogError(err, "database unavailable, falling back to in-memory storage")
		chats = repository.NewMemoryChatRepository()
		messages = repository.NewMemoryMessageRepository()
	} else {
		if err := db.AutoMigrate(&models.SupportChat{}, &models.SupportMessage{}); err != nil {
			log.LogError(err, "failed to migrate database")
			os.Exit(1)
		}
		chats = repository.NewGormChatRepository(db)
		messages = repository.NewGormMessageRepository(db)
		checker.RegisterDatabaseCheck(func() error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Ping()
		})
	}

	var presenceStore presence.Store
	if cfg.Redis.Enabled {
		redisStore := presence.NewRedisStore(cfg.Redis.Addr, cfg.Redis.DB, cfg.Redis.KeyTTL)
		presenceStore = redisStore
		checker.RegisterRedisCheck(redisStore.Ping)
		log.Info("presence mirrored to redis", "addr", cfg.Redis.Addr)
	} else {
		presenceStore = presence.NewMemoryStore()
	}
	checker.Start()

	supportService := service.NewSupportService(chats, messages, cfg.Uploads.Dir, cfg.Uploads.BaseURL, log)

	hub := relay.NewHub(relay.NewConfigFromEnv(), relay.NewScriptedResponder(), presenceStore, supportService, log)
	go hub.Run()

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RequestIDMiddleware())
	router.Use(logger.Middleware(log))
	router.Use(errors.RecoveryWithLogger())
	router.Use(errors.ErrorHandler())
	router.Use(middleware.NewRateLimiter(log).Middleware())

	api.NewSupportController(supportService, presenceStore, cfg.Security.MaxUploadSize).RegisterRoutes(router)
	router.GET(cfg.Server.WSPath, func(c *gin.Context) { relay.ServeWs(hub, c) })
	router.Static(cfg.Uploads.BaseURL, cfg.Uploads.Dir)
	router.GET("/health", gin.WrapF(checker.HTTPHandler()))

	// No read/write timeouts here: the websocket connections outlive any
	// sane request timeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("relay listening", "addr", srv.Addr, "ws_path", cfg.Server.WSPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.LogError(err, "server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.LogError(err, "forced shutdown")
	}
	log.Info("relay stopped")
}
