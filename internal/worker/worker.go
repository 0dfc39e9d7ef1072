// Package worker consumes job messages and drives their execution with
// retry and dead-letter handling.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/cuongbtq/evalpipe/internal/queue"
	"github.com/cuongbtq/evalpipe/internal/telemetry"
)

// DefaultMaxRetries is the delivery count at which a failing message is dead-lettered
const DefaultMaxRetries = 3

// JobRepository reads and writes job records
type JobRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	Update(ctx context.Context, job *domain.Job) error
}

// Executor runs a job
type Executor interface {
	ExecuteJob(ctx context.Context, job *domain.Job) (*domain.JobExecutionResult, error)
}

// EventPublisher publishes the lifecycle messages that follow JobCreated
type EventPublisher interface {
	PublishJobStarted(ctx context.Context, inbound *domain.JobMessage) error
	PublishJobCompleted(ctx context.Context, inbound *domain.JobMessage, result *domain.JobExecutionResult) error
	PublishJobFailed(ctx context.Context, inbound *domain.JobMessage, details *domain.ErrorDetails) error
}

// Config holds worker configuration
type Config struct {
	Logger         *slog.Logger
	Receiver       queue.Receiver
	Jobs           JobRepository
	Executor       Executor
	Publisher      EventPublisher
	Recorder       telemetry.Recorder
	Options        queue.ReceiverOptions
	MaxRetries     int
	ReconnectDelay time.Duration
	WorkerID       string
}

// Worker represents the background job worker
type Worker struct {
	logger         *slog.Logger
	receiver       queue.Receiver
	jobs           JobRepository
	executor       Executor
	publisher      EventPublisher
	recorder       telemetry.Recorder
	opts           queue.ReceiverOptions
	maxRetries     int
	reconnectDelay time.Duration
	workerID       string
	jobsChan       chan queue.Delivery
	wg             sync.WaitGroup
	stopChan       chan struct{}
	stopOnce       sync.Once
	now            func() time.Time
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	opts := cfg.Options
	defaults := queue.DefaultReceiverOptions()
	if opts.MaxConcurrentDeliveries <= 0 {
		opts.MaxConcurrentDeliveries = defaults.MaxConcurrentDeliveries
	}
	if opts.PrefetchCount <= 0 {
		opts.PrefetchCount = defaults.PrefetchCount
	}
	if opts.LockDuration <= 0 {
		opts.LockDuration = defaults.LockDuration
	}
	if opts.MaxLockRenewal <= 0 {
		opts.MaxLockRenewal = defaults.MaxLockRenewal
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}

	recorder := cfg.Recorder
	if recorder == nil {
		recorder = telemetry.Nop{}
	}

	workerID := cfg.WorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	return &Worker{
		logger:         cfg.Logger,
		receiver:       cfg.Receiver,
		jobs:           cfg.Jobs,
		executor:       cfg.Executor,
		publisher:      cfg.Publisher,
		recorder:       recorder,
		opts:           opts,
		maxRetries:     maxRetries,
		reconnectDelay: reconnectDelay,
		workerID:       workerID,
		jobsChan:       make(chan queue.Delivery),
		stopChan:       make(chan struct{}),
		now:            time.Now,
	}
}

// Start spawns the handler pool and receives messages until ctx is canceled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("max_concurrent_deliveries", w.opts.MaxConcurrentDeliveries),
		slog.Int("prefetch_count", w.opts.PrefetchCount),
		slog.Duration("max_lock_renewal", w.opts.MaxLockRenewal),
		slog.Int("max_retries", w.maxRetries),
	)

	w.spawnWorkerPool(ctx)
	w.receiveLoop(ctx)

	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop gracefully stops the worker and waits for in-flight handlers
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
