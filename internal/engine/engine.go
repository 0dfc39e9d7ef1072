// Package engine executes evaluation jobs: it loads input rows, produces and
// scores responses, tracks progress on the job record and materializes results.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/cuongbtq/evalpipe/internal/llm"
	"github.com/cuongbtq/evalpipe/internal/results"
	"github.com/cuongbtq/evalpipe/internal/scoring"
	"github.com/cuongbtq/evalpipe/internal/telemetry"
	"github.com/go-playground/validator/v10"
)

// progressInterval is how many rows pass between progress updates
const progressInterval = 5

// statusWriteTimeout bounds status writes made after the job context is canceled
const statusWriteTimeout = 10 * time.Second

// Final status writes are retried, since a job whose Running record cannot be
// closed is skipped by every redelivery
const (
	terminalWriteAttempts = 3
	terminalWriteBackoff  = 100 * time.Millisecond
)

// Batch processing phases, run in order
var batchPhases = []string{"validate-input", "prepare-context", "evaluate", "aggregate", "finalize"}

// JobUpdater persists a mutated job record
type JobUpdater interface {
	Update(ctx context.Context, job *domain.Job) error
}

// Config holds engine dependencies
type Config struct {
	Logger       *slog.Logger
	Jobs         JobUpdater
	Scorer       *scoring.Scorer
	Chat         llm.ChatClient
	Search       llm.SearchClient
	Tokens       llm.TokenSource
	Materializer *results.Materializer
	Resolver     *DataSourceResolver
	Recorder     telemetry.Recorder

	// FallbackToSampleData substitutes a built-in dataset when the input
	// cannot be resolved. When false such jobs fail.
	FallbackToSampleData bool
	LocationHint         string
}

// Engine runs jobs
type Engine struct {
	logger       *slog.Logger
	jobs         JobUpdater
	scorer       *scoring.Scorer
	chat         llm.ChatClient
	search       llm.SearchClient
	tokens       llm.TokenSource
	materializer *results.Materializer
	resolver     *DataSourceResolver
	recorder     telemetry.Recorder
	validate     *validator.Validate
	fallback     bool
	locationHint string
	now          func() time.Time
}

// NewEngine creates a new execution engine
func NewEngine(cfg *Config) *Engine {
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = telemetry.Nop{}
	}
	tokens := cfg.Tokens
	if tokens == nil {
		tokens = llm.StaticToken("")
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = NewDataSourceResolver(nil, 0)
	}

	return &Engine{
		logger:       cfg.Logger,
		jobs:         cfg.Jobs,
		scorer:       cfg.Scorer,
		chat:         cfg.Chat,
		search:       cfg.Search,
		tokens:       tokens,
		materializer: cfg.Materializer,
		resolver:     resolver,
		recorder:     recorder,
		validate:     validator.New(validator.WithRequiredStructEnabled()),
		fallback:     cfg.FallbackToSampleData,
		locationHint: cfg.LocationHint,
		now:          time.Now,
	}
}

// ExecuteJob runs job to completion. Execution failures are recorded on the job
// and reported through the result; only cancellation and repository errors are
// returned as errors.
func (e *Engine) ExecuteJob(ctx context.Context, job *domain.Job) (*domain.JobExecutionResult, error) {
	ctx, end := e.recorder.StartSpan(ctx, "engine.execute_job")
	defer end()
	start := e.now()

	if err := job.TransitionTo(domain.JobStatusRunning, e.now()); err != nil {
		return nil, domain.NewNonRetryableError(domain.KindInvalidState, err)
	}
	job.SetProgress(0, 0)
	if err := e.jobs.Update(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to mark job running: %w", err)
	}

	e.logger.Info("Executing job",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
	)

	jobResults, err := e.dispatch(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			return nil, e.cancel(ctx, job)
		}
		return e.fail(ctx, job, err)
	}

	result, err := e.complete(ctx, job, jobResults)
	e.recorder.ObserveDuration("engine.job_duration", e.now().Sub(start))
	return result, err
}

func (e *Engine) dispatch(ctx context.Context, job *domain.Job) (*domain.JobResults, error) {
	if err := e.validate.Struct(job.Configuration); err != nil {
		return nil, domain.NewNonRetryableError(domain.KindConfiguration,
			fmt.Errorf("%w: %v", domain.ErrInvalidConfiguration, err))
	}

	switch job.Type {
	case domain.JobTypeBulkEvaluation:
		return e.runBulkEvaluation(ctx, job)
	case domain.JobTypeSingleEvaluation:
		return e.runSingleEvaluation(ctx, job)
	case domain.JobTypeBatchProcessing:
		return e.runBatchProcessing(ctx, job)
	default:
		return nil, domain.NewNonRetryableError(domain.KindConfiguration,
			fmt.Errorf("%w: %q", domain.ErrUnsupportedJobType, job.Type))
	}
}

func (e *Engine) runBulkEvaluation(ctx context.Context, job *domain.Job) (*domain.JobResults, error) {
	rows, err := e.loadRows(ctx, job)
	if err != nil {
		return nil, err
	}

	items, err := e.evaluateRows(ctx, job, rows, true)
	if err != nil {
		return nil, err
	}

	return e.newResults(job, items, nil), nil
}

func (e *Engine) runSingleEvaluation(ctx context.Context, job *domain.Job) (*domain.JobResults, error) {
	items, err := e.evaluateRows(ctx, job, []Row{smokeTestRow()}, true)
	if err != nil {
		return nil, err
	}
	return e.newResults(job, items, nil), nil
}

func (e *Engine) runBatchProcessing(ctx context.Context, job *domain.Job) (*domain.JobResults, error) {
	var (
		rows    []Row
		items   []domain.EvaluationResult
		summary domain.ResultsSummary
	)

	for i, phase := range batchPhases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var err error
		switch phase {
		case "validate-input":
			rows, err = e.loadRows(ctx, job)
		case "prepare-context":
			_, err = e.buildContext(ctx, job.Configuration, job.Name)
		case "evaluate":
			items, err = e.evaluateRows(ctx, job, rows, false)
		case "aggregate":
			summary = domain.Summarize(items)
		case "finalize":
			e.logger.Debug("Batch finalized",
				slog.String("job_id", job.ID),
				slog.Int("total_evaluations", summary.TotalEvaluations),
			)
		}
		if err != nil {
			return nil, fmt.Errorf("phase %s: %w", phase, err)
		}

		job.SetProgress(i+1, len(batchPhases))
		if err := e.jobs.Update(ctx, job); err != nil {
			return nil, fmt.Errorf("failed to update progress: %w", err)
		}
		e.logger.Info("Batch phase completed",
			slog.String("job_id", job.ID),
			slog.String("phase", phase),
		)
	}

	return e.newResults(job, items, batchPhases), nil
}

// evaluateRows processes rows in order. With trackProgress set the job's
// progress is saved every progressInterval rows and after the last one.
func (e *Engine) evaluateRows(ctx context.Context, job *domain.Job, rows []Row, trackProgress bool) ([]domain.EvaluationResult, error) {
	items := make([]domain.EvaluationResult, 0, len(rows))

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		item, err := e.ProcessRow(ctx, row, i, job.Configuration)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			e.recorder.IncCounter("engine.row_errors")
			e.logger.Warn("Row evaluation failed",
				slog.String("job_id", job.ID),
				slog.Int("row", i),
				slog.String("error", err.Error()),
			)
			item = failedItem(row, i, err)
		}
		items = append(items, item)

		done := i + 1
		if trackProgress && (done%progressInterval == 0 || done == len(rows)) {
			job.SetProgress(done, len(rows))
			if err := e.jobs.Update(ctx, job); err != nil {
				return nil, fmt.Errorf("failed to update progress: %w", err)
			}
		}
	}

	return items, nil
}

// loadRows resolves and parses the job's data source
func (e *Engine) loadRows(ctx context.Context, job *domain.Job) ([]Row, error) {
	locator := job.Configuration.DataSource

	rows, err := e.readRows(ctx, locator)
	if err == nil && len(rows) > 0 {
		return rows, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err == nil {
		err = errors.New("data source is empty")
	}

	if !e.fallback {
		return nil, domain.NewNonRetryableError(domain.KindConfiguration,
			fmt.Errorf("%w: %v", domain.ErrDataSourceUnavailable, err))
	}

	e.recorder.IncCounter("engine.sample_data_fallback")
	e.logger.Warn("Data source unavailable, using sample data",
		slog.String("job_id", job.ID),
		slog.String("data_source", locator),
		slog.String("error", err.Error()),
	)
	return sampleRows(), nil
}

func (e *Engine) readRows(ctx context.Context, locator string) ([]Row, error) {
	rc, err := e.resolver.Open(ctx, locator)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return ParseTabularData(rc)
}

func (e *Engine) newResults(job *domain.Job, items []domain.EvaluationResult, phases []string) *domain.JobResults {
	return &domain.JobResults{
		JobID:       job.ID,
		Summary:     domain.Summarize(items),
		Items:       items,
		Phases:      phases,
		GeneratedAt: e.now().UTC(),
	}
}

func (e *Engine) complete(ctx context.Context, job *domain.Job, jobResults *domain.JobResults) (*domain.JobExecutionResult, error) {
	ref := e.materializer.Materialize(ctx, job.ID, jobResults)

	summary := jobResults.Summary
	job.Summary = &summary
	job.ResultsRef = ref
	if job.Progress.TotalItems == 0 {
		job.SetProgress(summary.TotalEvaluations, summary.TotalEvaluations)
	}
	if err := job.TransitionTo(domain.JobStatusCompleted, e.now()); err != nil {
		return nil, domain.NewNonRetryableError(domain.KindInvalidState, err)
	}
	if err := e.writeTerminal(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to mark job completed: %w", err)
	}

	e.recorder.IncCounter("engine.jobs_completed")
	e.logger.Info("Job completed",
		slog.String("job_id", job.ID),
		slog.Int("total_evaluations", summary.TotalEvaluations),
		slog.Float64("average_score", summary.AverageScore),
		slog.Float64("pass_rate", summary.PassRate),
	)

	return &domain.JobExecutionResult{
		Success:    true,
		Results:    jobResults,
		ResultsRef: ref,
	}, nil
}

func (e *Engine) fail(ctx context.Context, job *domain.Job, cause error) (*domain.JobExecutionResult, error) {
	details := &domain.ErrorDetails{
		Code:          domain.KindExecution,
		Message:       cause.Error(),
		Timestamp:     e.now().UTC(),
		RetryPossible: domain.IsRetryable(cause),
	}
	job.ErrorDetails = details

	if err := job.TransitionTo(domain.JobStatusFailed, e.now()); err != nil {
		return nil, domain.NewNonRetryableError(domain.KindInvalidState, err)
	}
	if err := e.writeTerminal(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to mark job failed: %w", err)
	}

	e.recorder.IncCounter("engine.jobs_failed")
	e.logger.Error("Job execution failed",
		slog.String("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.Bool("retry_possible", details.RetryPossible),
		slog.String("error", cause.Error()),
	)

	return &domain.JobExecutionResult{Success: false, ErrorDetails: details}, nil
}

// writeTerminal saves a job that reached Completed or Failed. It runs on a
// detached context and retries transient repository errors.
func (e *Engine) writeTerminal(ctx context.Context, job *domain.Job) error {
	writeCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer stop()

	backoff := terminalWriteBackoff
	var err error
	for attempt := 1; attempt <= terminalWriteAttempts; attempt++ {
		err = e.jobs.Update(writeCtx, job)
		if err == nil || !domain.IsRetryable(err) {
			return err
		}

		e.logger.Warn("Failed to save final job status",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)
		if attempt == terminalWriteAttempts {
			break
		}

		select {
		case <-writeCtx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}

// cancel records the cancellation on a fresh context and returns the context error
func (e *Engine) cancel(ctx context.Context, job *domain.Job) error {
	cause := ctx.Err()
	writeCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), statusWriteTimeout)
	defer stop()

	if err := job.TransitionTo(domain.JobStatusCancelled, e.now()); err == nil {
		if err := e.jobs.Update(writeCtx, job); err != nil {
			e.logger.Error("Failed to mark job cancelled",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.recorder.IncCounter("engine.jobs_cancelled")
	e.logger.Warn("Job execution cancelled",
		slog.String("job_id", job.ID),
		slog.String("error", cause.Error()),
	)
	return cause
}
