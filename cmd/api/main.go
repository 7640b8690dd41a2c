package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/medassist/backend/internal/api/handlers"
	"github.com/medassist/backend/internal/audit"
	redisCache "github.com/medassist/backend/internal/cache/redis"
	"github.com/medassist/backend/internal/inference"
	"github.com/medassist/backend/internal/metrics"
	"github.com/medassist/backend/internal/middleware/security"
	"github.com/medassist/backend/internal/orchestrator"
	"github.com/medassist/backend/internal/storage/mysql"
	"github.com/medassist/backend/internal/terminology"
	"github.com/medassist/backend/internal/upstream"
	"github.com/medassist/backend/pkg/config"
	appLogger "github.com/medassist/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Clinical Orchestration API Server")

	metrics.Init()

	store, err := mysql.NewClient(cfg.Database.DSN(), cfg.Concept)
	if err != nil {
		appLogger.Fatal("Failed to create concept store client", zap.Error(err))
	}
	defer store.Close()

	if cfg.Database.InitSchema {
		if err := store.InitSchema(); err != nil {
			appLogger.Fatal("Failed to initialize concept schema", zap.Error(err))
		}
	}

	var cache *redisCache.Client
	if cfg.Redis.Host != "" {
		cache, err = redisCache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, term search cache disabled", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	indexer, err := audit.NewESIndexer(cfg.Elastic.Addresses)
	if err != nil {
		appLogger.Fatal("Failed to create audit indexer", zap.Error(err))
	}
	sink := audit.NewSink(indexer, cfg.Audit.QueueSize)
	defer sink.Close()

	modelClient := inference.NewClient(upstream.NewClient("model", cfg.Retry), cfg.DDX, cfg.TTX)
	termClient := terminology.NewClient(
		cfg.Snomed.BaseURL,
		upstream.NewClient("terminology", cfg.Retry),
		cache,
		time.Duration(cfg.Snomed.CacheTTLSec)*time.Second,
	)

	engine := orchestrator.NewEngine(modelClient, termClient, store, sink, cfg.Elastic)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(security.HeadersMiddleware())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, OPTIONS",
	}))

	diagnosisHandler := handlers.NewDiagnosisHandler(engine)
	terminologyHandler := handlers.NewTerminologyHandler(engine)

	app.Post("/ddx", diagnosisHandler.Differential)
	app.Post("/ttxv1", diagnosisHandler.Treatment)
	app.Get("/getdiags/:term", terminologyHandler.Search)
	app.Post("/snomed", terminologyHandler.MapConcept)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
