package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/medcontent/backend/internal/api/handlers"
	"github.com/medcontent/backend/internal/app"
	"github.com/medcontent/backend/internal/metrics"
	"github.com/medcontent/backend/internal/middleware/ratelimit"
	"github.com/medcontent/backend/internal/middleware/security"
	"github.com/medcontent/backend/internal/middleware/validation"
	"github.com/medcontent/backend/pkg/config"
	appLogger "github.com/medcontent/backend/pkg/logger"
)

func main() {
	configFile := pflag.String("config", "", "path to config file")
	pflag.Parse()

	cfg, err := config.Load(*configFile)
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

	appLogger.Info("Starting medical content chat API server")

	metrics.Init()

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	services, err := app.New(startCtx, cfg)
	cancel()
	if err != nil {
		appLogger.Fatal("Failed to initialize services", zap.Error(err))
	}

	fiberApp := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	origins := splitOrigins(cfg.Server.AllowedOrigins)

	fiberApp.Use(recover.New())
	fiberApp.Use(logger.New())
	fiberApp.Use(cors.New(cors.Config{
		AllowOrigins: strings.Join(origins, ","),
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	fiberApp.Use(security.HeadersMiddleware(security.HeadersConfig{AllowedOrigins: origins}))

	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		Logger:            appLogger.GetLogger(),
	})
	defer limiter.Stop()

	validationCfg := validation.Config{
		MaxMessageLength: cfg.Server.MaxMessageLen,
		MaxHistoryLength: cfg.Server.MaxHistoryLen,
		Logger:           appLogger.GetLogger(),
	}

	chatHandler := handlers.NewChatHandler(services.Pipeline, validationCfg)
	wsHandler := handlers.NewWebSocketHandler(services.Pipeline, validationCfg)
	usageHandler := handlers.NewUsageHandler(services.Usage)
	articleHandler := handlers.NewArticleHandler(services.Ingestion)
	forwardHandler := handlers.NewForwardHandler(services.Forwarder)

	deps := map[string]handlers.Pinger{
		"sqlite": services.SQLite,
		"zilliz": services.Zilliz,
	}
	if services.Redis != nil {
		deps["redis"] = services.Redis
	}
	healthHandler := handlers.NewHealthHandler(deps)

	fiberApp.Get("/metrics", metrics.MetricsHandler())

	api := fiberApp.Group("/api/v1")

	api.Get("/health", healthHandler.Health)
	api.Get("/ready", healthHandler.Ready)

	api.Use(validation.ContentType(validationCfg))

	api.Post("/chat", limiter.Middleware(), validation.Chat(validationCfg), chatHandler.HandleChat)

	api.Use("/chat/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	api.Get("/chat/ws", limiter.Middleware(), websocket.New(wsHandler.HandleConnection))

	api.Get("/usage", usageHandler.GetUsage)
	api.Post("/articles", articleHandler.IndexArticle)
	api.Post("/forward", limiter.Middleware(), forwardHandler.Forward)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := fiberApp.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := fiberApp.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	services.Close()
	appLogger.Info("Server stopped")
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
