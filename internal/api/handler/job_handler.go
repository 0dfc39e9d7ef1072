package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/evalpipe/internal/api/dto"
	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/cuongbtq/evalpipe/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// IdempotencyKeyHeader overrides the idempotency_key body field when present
const IdempotencyKeyHeader = "X-Idempotency-Key"

// CreateJob handles POST /api/v1/jobs
// Stores a Pending job and publishes the JobCreated message that starts it
func (h *JobHandler) CreateJob(c *gin.Context) {
	h.logger.Info("CreateJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	// 1. Validate request body
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	jobType := domain.JobType(req.JobType)
	if !jobType.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_type must be one of BulkEvaluation, SingleEvaluation, BatchProcessing",
		})
		return
	}

	if threshold := req.Configuration.EvaluationCriteria.SimilarityThreshold; threshold != nil {
		if *threshold < 0 || *threshold > 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "similarity_threshold must be between 0 and 1",
			})
			return
		}
	} else if h.defaultThreshold > 0 {
		defaultThreshold := h.defaultThreshold
		req.Configuration.EvaluationCriteria.SimilarityThreshold = &defaultThreshold
	}

	ctx := c.Request.Context()

	// 2. Check idempotency key
	key := req.IdempotencyKey
	if header := c.GetHeader(IdempotencyKeyHeader); header != "" {
		key = header
	}
	if key != "" {
		existing, err := h.jobs.GetByIdempotencyKey(ctx, key)
		if err != nil {
			h.logger.Error("Failed to check idempotency key", slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to create job",
			})
			return
		}
		if existing != nil {
			h.logger.Info("Idempotent replay of job creation",
				slog.String("job_id", existing.ID),
			)
			c.JSON(http.StatusOK, dto.FromJob(existing))
			return
		}
	}

	// 3. Create job record in database
	now := time.Now().UTC()
	job := &domain.Job{
		ID:            uuid.NewString(),
		Name:          req.Name,
		Type:          jobType,
		Status:        domain.JobStatusPending,
		Priority:      req.Priority,
		CreatedAt:     now,
		UpdatedAt:     now,
		Configuration: req.Configuration,
	}

	if err := h.jobs.CreateJob(ctx, job, key); err != nil {
		if errors.Is(err, storage.ErrDuplicateIdempotencyKey) {
			// a concurrent request with the same key won the insert
			if existing, getErr := h.jobs.GetByIdempotencyKey(ctx, key); getErr == nil && existing != nil {
				c.JSON(http.StatusOK, dto.FromJob(existing))
				return
			}
		}
		h.logger.Error("Failed to create job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create job",
		})
		return
	}

	// 4. Publish JobCreated
	if err := h.publisher.PublishJobCreated(ctx, job.ID, job, job.Priority); err != nil {
		h.logger.Error("Failed to publish JobCreated",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		h.failUnpublishedJob(ctx, job, err)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":  "Failed to enqueue job",
			"job_id": job.ID,
		})
		return
	}

	// 5. Return job response
	c.JSON(http.StatusAccepted, dto.FromJob(job))
}

// failUnpublishedJob marks a job whose JobCreated message never reached the
// queue as Failed, so it does not stay Pending with nothing to run it
func (h *JobHandler) failUnpublishedJob(ctx context.Context, job *domain.Job, cause error) {
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()

	job.ErrorDetails = &domain.ErrorDetails{
		Code:          "PUBLISH_FAILED",
		Message:       cause.Error(),
		Timestamp:     now,
		RetryPossible: true,
	}
	if err := job.TransitionTo(domain.JobStatusFailed, now); err != nil {
		return
	}
	if err := h.jobs.Update(ctx, job); err != nil {
		h.logger.Error("Failed to mark unpublished job failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// GetJob handles GET /api/v1/jobs/:job_id
// Retrieves detailed information about a specific job
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := c.Param("job_id")

	h.logger.Info("GetJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	// 1. Validate job_id format (UUID)
	if _, err := uuid.Parse(jobID); err != nil {
		h.logger.Error("Invalid job_id format", slog.String("job_id", jobID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "job_id must be a valid UUID",
		})
		return
	}

	// 2. Query job from database
	job, err := h.jobs.GetByID(c.Request.Context(), jobID)
	if err != nil {
		h.logger.Error("Failed to get job", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get job",
		})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "job not found",
		})
		return
	}

	// 3. Return job details
	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	h.logger.Info("ListJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	// 1. Parse query parameters
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	// 2. Validate parameters
	if req.PageSize <= 0 {
		req.PageSize = 20
	}

	if req.PageSize > 100 {
		req.PageSize = 100
	}

	if req.JobType != "" && !domain.JobType(req.JobType).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid job_type",
		})
		return
	}

	if req.Status != "" && !domain.JobStatus(req.Status).Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid status",
		})
		return
	}

	// 3. Decode cursor for pagination
	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	// 4. Build filter and query jobs from database
	filter := storage.JobFilter{
		JobType:  req.JobType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	}

	jobs, err := h.jobs.ListJobs(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list jobs", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list jobs",
		})
		return
	}

	// 5. Prepare response with next cursor if more results exist
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	jobResponse := make([]dto.JobDTO, len(jobs))
	for i, job := range jobs {
		jobResponse[i] = dto.FromJob(job)
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&storage.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}
