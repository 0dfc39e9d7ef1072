package domain

import (
	"math"
	"time"
)

// JobType identifies which execution path a job takes
type JobType string

const (
	JobTypeBulkEvaluation   JobType = "BulkEvaluation"
	JobTypeSingleEvaluation JobType = "SingleEvaluation"
	JobTypeBatchProcessing  JobType = "BatchProcessing"
)

// Valid reports whether t is a known job type
func (t JobType) Valid() bool {
	switch t {
	case JobTypeBulkEvaluation, JobTypeSingleEvaluation, JobTypeBatchProcessing:
		return true
	}
	return false
}

// DefaultSimilarityThreshold is used when a job does not configure one
const DefaultSimilarityThreshold = 0.8

// Job is an evaluation job as stored in the job repository
type Job struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Type          JobType          `json:"type"`
	Status        JobStatus        `json:"status"`
	Priority      int              `json:"priority"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	Progress      Progress         `json:"progress"`
	Configuration JobConfiguration `json:"configuration"`
	ErrorDetails  *ErrorDetails    `json:"error_details,omitempty"`
	Summary       *ResultsSummary  `json:"summary,omitempty"`
	ResultsRef    *BlobReference   `json:"results_ref,omitempty"`
}

// Progress tracks how far a running job has come
type Progress struct {
	TotalItems     int     `json:"total_items"`
	CompletedItems int     `json:"completed_items"`
	Percentage     float64 `json:"percentage"`
}

// JobConfiguration holds the user supplied settings of a job
type JobConfiguration struct {
	DataSource         string             `json:"data_source"`
	PromptTemplate     string             `json:"prompt_template,omitempty"`
	EvaluationCriteria EvaluationCriteria `json:"evaluation_criteria"`
	Agent              AgentConfiguration `json:"agent"`
}

// EvaluationCriteria controls how a response is judged. A nil threshold means
// unset; an explicit 0 passes every row.
type EvaluationCriteria struct {
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// AgentConfiguration describes how actual responses are produced
type AgentConfiguration struct {
	KnowledgeSourceID *string `json:"knowledge_source_id,omitempty"`
	Instructions      string  `json:"instructions,omitempty"`
}

// ErrorDetails is recorded on a job that ended in Failed
type ErrorDetails struct {
	Code          string    `json:"code"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	RetryPossible bool      `json:"retry_possible"`
}

// Threshold returns the configured similarity threshold, or the default when unset
func (c JobConfiguration) Threshold() float64 {
	if c.EvaluationCriteria.SimilarityThreshold == nil {
		return DefaultSimilarityThreshold
	}
	return *c.EvaluationCriteria.SimilarityThreshold
}

// SetProgress records completed out of total, keeping completed <= total and the percentage in [0,100].
func (j *Job) SetProgress(completed, total int) {
	if total < 0 {
		total = 0
	}
	if completed < 0 {
		completed = 0
	}
	if completed > total {
		completed = total
	}

	pct := 0.0
	if total > 0 {
		pct = math.Round(float64(completed)/float64(total)*1000) / 10
	}

	j.Progress = Progress{
		TotalItems:     total,
		CompletedItems: completed,
		Percentage:     math.Max(0, math.Min(100, pct)),
	}
}
