package dto

import (
	"time"

	"github.com/cuongbtq/evalpipe/internal/domain"
)

type CreateJobRequest struct {
	IdempotencyKey string                  `json:"idempotency_key"`
	Name           string                  `json:"name" binding:"required"`
	JobType        string                  `json:"job_type" binding:"required"`
	Priority       int                     `json:"priority" binding:"gte=0,lte=9"`
	Configuration  domain.JobConfiguration `json:"configuration"`
}

type ListJobsRequest struct {
	JobType  string `form:"job_type"`
	Status   string `form:"status"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListJobsResponse struct {
	Jobs       []JobDTO `json:"jobs"`
	NextCursor string   `json:"next_cursor,omitempty"`
}

type JobDTO struct {
	JobID         string                  `json:"job_id"`
	Name          string                  `json:"name"`
	JobType       string                  `json:"job_type"`
	Status        string                  `json:"status"`
	Priority      int                     `json:"priority"`
	Progress      domain.Progress         `json:"progress"`
	Configuration domain.JobConfiguration `json:"configuration"`
	ErrorDetails  *domain.ErrorDetails    `json:"error_details,omitempty"`
	Summary       *domain.ResultsSummary  `json:"summary,omitempty"`
	ResultsRef    *domain.BlobReference   `json:"results_ref,omitempty"`
	CreatedAt     string                  `json:"created_at"`
	UpdatedAt     string                  `json:"updated_at"`
	CompletedAt   string                  `json:"completed_at,omitempty"`
}

// FromJob maps a job record to its API representation
func FromJob(job *domain.Job) JobDTO {
	out := JobDTO{
		JobID:         job.ID,
		Name:          job.Name,
		JobType:       string(job.Type),
		Status:        string(job.Status),
		Priority:      job.Priority,
		Progress:      job.Progress,
		Configuration: job.Configuration,
		ErrorDetails:  job.ErrorDetails,
		Summary:       job.Summary,
		ResultsRef:    job.ResultsRef,
		CreatedAt:     job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     job.UpdatedAt.Format(time.RFC3339),
	}
	if job.CompletedAt != nil {
		out.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}
	return out
}
