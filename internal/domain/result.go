package domain

import (
	"math"
	"time"
)

// EvaluationResult is the outcome of one evaluated row
type EvaluationResult struct {
	ItemID           string  `json:"item_id"`
	Prompt           string  `json:"prompt"`
	ExpectedResponse string  `json:"expected_response"`
	ActualResponse   string  `json:"actual_response"`
	SimilarityScore  float64 `json:"similarity_score"`
	Passed           bool    `json:"passed"`
	Reasoning        string  `json:"reasoning"`
	Differences      string  `json:"differences"`
}

// ResultsSummary aggregates a job's evaluation results
type ResultsSummary struct {
	TotalEvaluations int     `json:"total_evaluations"`
	Passed           int     `json:"passed"`
	Failed           int     `json:"failed"`
	AverageScore     float64 `json:"average_score"`
	PassRate         float64 `json:"pass_rate"`
}

// JobResults holds the summary plus per-item detail
type JobResults struct {
	JobID       string             `json:"job_id"`
	Summary     ResultsSummary     `json:"summary"`
	Items       []EvaluationResult `json:"items"`
	Phases      []string           `json:"phases,omitempty"`
	GeneratedAt time.Time          `json:"generated_at"`
}

// BlobReference points to content materialized in the blob store
type BlobReference struct {
	ID          string    `json:"id"`
	Container   string    `json:"container"`
	Key         string    `json:"key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Locator     string    `json:"locator"`
}

// JobExecutionResult is what the execution engine returns for one run
type JobExecutionResult struct {
	Success      bool           `json:"success"`
	Results      *JobResults    `json:"results,omitempty"`
	ResultsRef   *BlobReference `json:"results_ref,omitempty"`
	ErrorDetails *ErrorDetails  `json:"error_details,omitempty"`
}

// Summarize aggregates results. Average score is rounded to 3 decimals and the
// pass rate is a percentage rounded to 1 decimal.
func Summarize(results []EvaluationResult) ResultsSummary {
	summary := ResultsSummary{TotalEvaluations: len(results)}
	if len(results) == 0 {
		return summary
	}

	var total float64
	for _, r := range results {
		total += r.SimilarityScore
		if r.Passed {
			summary.Passed++
		} else {
			summary.Failed++
		}
	}

	summary.AverageScore = math.Round(total/float64(len(results))*1000) / 1000
	summary.PassRate = math.Round(float64(summary.Passed)/float64(len(results))*1000) / 10
	return summary
}
