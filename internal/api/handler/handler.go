package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/cuongbtq/evalpipe/internal/storage"
	"github.com/cuongbtq/evalpipe/internal/telemetry"
)

// JobStore is the part of the job repository the API uses
type JobStore interface {
	CreateJob(ctx context.Context, job *domain.Job, idempotencyKey string) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Job, error)
	ListJobs(ctx context.Context, filter storage.JobFilter) ([]*domain.Job, error)
	Update(ctx context.Context, job *domain.Job) error
}

// JobPublisher publishes the message that starts a job
type JobPublisher interface {
	PublishJobCreated(ctx context.Context, jobID string, job *domain.Job, priority int) error
}

// MetricsSource exposes a point-in-time view of the service counters
type MetricsSource interface {
	Snapshot() map[string]any
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger      *slog.Logger
	Jobs        JobStore
	Publisher   JobPublisher
	Recorder    telemetry.Recorder
	Metrics     MetricsSource
	HealthCheck func(ctx context.Context) error
	ServiceName string

	// DefaultSimilarityThreshold is stored on jobs submitted without one
	DefaultSimilarityThreshold float64
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger           *slog.Logger
	jobs             JobStore
	publisher        JobPublisher
	defaultThreshold float64
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:           deps.Logger,
		jobs:             deps.Jobs,
		publisher:        deps.Publisher,
		defaultThreshold: deps.DefaultSimilarityThreshold,
	}
}
