package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/evalpipe/internal/api/handler"
	"github.com/cuongbtq/evalpipe/internal/api/router"
	"github.com/cuongbtq/evalpipe/internal/bootstrap"
	"github.com/cuongbtq/evalpipe/internal/config"
	"github.com/cuongbtq/evalpipe/internal/queue"
	"github.com/cuongbtq/evalpipe/internal/storage"
	"github.com/cuongbtq/evalpipe/internal/telemetry"
	"github.com/cuongbtq/evalpipe/shared/database"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("transport", cfg.Queue.Transport),
	)

	initCtx, initCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer initCancel()

	// Initialize job repository
	dbClient, jobStore, err := bootstrap.InitDatabase(initCtx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Initialize job queue transport
	transport, err := bootstrap.InitTransport(initCtx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue transport: %w", err)
	}
	defer transport.Close()

	appLogger.Info("Queue transport established")

	counters := telemetry.NewCounters()
	publisher := queue.NewPublisher(transport.Sender, appLogger.Logger, counters)

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, dbClient, jobStore, publisher, counters)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal or a server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-serverErr:
		appLogger.Error("Server failed", slog.Any("error", err))
		return err
	}

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(
	cfg *config.Config,
	logger *slog.Logger,
	dbClient *database.Client,
	jobStore *storage.Storage,
	publisher *queue.Publisher,
	counters *telemetry.Counters,
) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Initialize handler dependencies
	handlerDeps := &handler.Dependencies{
		Logger:                     logger,
		Jobs:                       jobStore,
		Publisher:                  publisher,
		Recorder:                   counters,
		Metrics:                    counters,
		HealthCheck:                dbClient.HealthCheck,
		ServiceName:                cfg.App.Name,
		DefaultSimilarityThreshold: cfg.Evaluation.DefaultSimilarityThreshold,
	}

	// Setup router
	return router.SetupRouter(handlerDeps)
}
