package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/cuongbtq/evalpipe/internal/blob"
	"github.com/cuongbtq/evalpipe/internal/bootstrap"
	"github.com/cuongbtq/evalpipe/internal/config"
	"github.com/cuongbtq/evalpipe/internal/engine"
	"github.com/cuongbtq/evalpipe/internal/llm"
	"github.com/cuongbtq/evalpipe/internal/queue"
	"github.com/cuongbtq/evalpipe/internal/results"
	"github.com/cuongbtq/evalpipe/internal/scoring"
	"github.com/cuongbtq/evalpipe/internal/storage"
	"github.com/cuongbtq/evalpipe/internal/telemetry"
	"github.com/cuongbtq/evalpipe/internal/worker"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.InitLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("transport", cfg.Queue.Transport),
		slog.String("blob_backend", cfg.Blob.Backend),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize job repository
	dbClient, jobStore, err := bootstrap.InitDatabase(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established")

	// Initialize job queue transport
	transport, err := bootstrap.InitTransport(ctx, cfg, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize queue transport: %w", err)
	}
	defer transport.Close()

	appLogger.Info("Queue transport established")

	// Initialize blob store for input data and materialized results
	blobStore, closeBlobStore, err := bootstrap.InitBlobStore(ctx, &cfg.Blob, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}
	defer closeBlobStore()

	counters := telemetry.NewCounters()
	publisher := queue.NewPublisher(transport.Sender, appLogger.Logger, counters)
	executor := initEngine(cfg, appLogger.Logger, jobStore, blobStore, counters)

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:    appLogger.Logger,
		Receiver:  transport.Receiver,
		Jobs:      jobStore,
		Executor:  executor,
		Publisher: publisher,
		Recorder:  counters,
		Options: queue.ReceiverOptions{
			MaxConcurrentDeliveries: cfg.Queue.MaxConcurrentDeliveries,
			PrefetchCount:           cfg.Queue.PrefetchCount,
			LockDuration:            cfg.Queue.LockDuration,
			MaxLockRenewal:          cfg.Queue.MaxLockRenewal,
		},
		MaxRetries:     cfg.Queue.MaxDeliveryCount,
		ReconnectDelay: cfg.Worker.ReconnectDelay,
		WorkerID:       cfg.Worker.ID,
	})

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete",
		slog.Any("metrics", counters.Snapshot()),
	)
	return nil
}

// initEngine wires the execution engine and its collaborators
func initEngine(
	cfg *config.Config,
	logger *slog.Logger,
	jobStore *storage.Storage,
	blobStore blob.Store,
	counters *telemetry.Counters,
) *engine.Engine {
	llmConfig := llm.Config{
		ChatEndpoint:      cfg.LLM.ChatEndpoint,
		SearchEndpoint:    cfg.LLM.SearchEndpoint,
		Timeout:           cfg.LLM.Timeout,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
		Burst:             cfg.LLM.Burst,
		LocationHint:      cfg.LLM.LocationHint,
	}

	tokens := llm.StaticToken(cfg.LLM.Token)
	chat := llm.NewHTTPChatClient(llmConfig, logger)

	// knowledge-grounded prompts are skipped without a search service
	var search llm.SearchClient
	if cfg.LLM.SearchEndpoint != "" {
		search = llm.NewHTTPSearchClient(llmConfig, logger)
	}

	scorer := scoring.NewScorer(llm.NewChatJudge(chat, tokens), logger, counters)

	return engine.NewEngine(&engine.Config{
		Logger:               logger,
		Jobs:                 jobStore,
		Scorer:               scorer,
		Chat:                 chat,
		Search:               search,
		Tokens:               tokens,
		Materializer:         results.NewMaterializer(blobStore, logger, counters),
		Resolver:             engine.NewDataSourceResolver(blobStore, cfg.Evaluation.DataSourceTimeout),
		Recorder:             counters,
		FallbackToSampleData: cfg.Evaluation.FallbackToSampleData,
		LocationHint:         cfg.LLM.LocationHint,
	})
}
