package worker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/cuongbtq/evalpipe/internal/domain"
)

// Action is what happens to a delivery after handling
type Action int

const (
	ActionComplete Action = iota
	ActionAbandon
	ActionDeadLetter
)

func (a Action) String() string {
	switch a {
	case ActionComplete:
		return "complete"
	case ActionAbandon:
		return "abandon"
	case ActionDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Outcome is the result of handling one message
type Outcome struct {
	Action      Action
	Reason      string
	Description string
}

// HandleMessage decodes and dispatches one message body and decides its fate.
// Poison messages are dead-lettered at once. Failures are retried until the
// delivery count reaches the retry ceiling, except non-retryable ones which are
// dead-lettered immediately. Cancellation abandons the message.
func (w *Worker) HandleMessage(ctx context.Context, body []byte, deliveryCount int) Outcome {
	msg, err := domain.DecodeJobMessage(body)
	if err != nil {
		w.logger.Error("Poison message, dead-lettering",
			slog.Int("delivery_count", deliveryCount),
			slog.String("error", err.Error()),
		)
		return Outcome{Action: ActionDeadLetter, Reason: domain.KindDeserialization, Description: err.Error()}
	}

	logger := w.logger.With(
		slog.String("job_id", msg.JobID),
		slog.String("message_type", string(msg.MessageType)),
		slog.String("correlation_id", msg.Correlation()),
		slog.Int("delivery_count", deliveryCount),
	)
	logger.Info("Processing message")

	err = w.dispatch(ctx, msg)
	if err == nil {
		return Outcome{Action: ActionComplete}
	}

	if ctx.Err() != nil || domain.IsCancellation(err) {
		logger.Warn("Message processing cancelled, abandoning",
			slog.String("error", err.Error()),
		)
		return Outcome{Action: ActionAbandon}
	}

	retryable := domain.IsRetryable(err)
	if deliveryCount < w.maxRetries && retryable {
		logger.Warn("Message processing failed, will retry",
			slog.Int("max_retries", w.maxRetries),
			slog.String("error", err.Error()),
		)
		return Outcome{Action: ActionAbandon}
	}

	outcome := Outcome{Action: ActionDeadLetter, Reason: domain.ErrorKind(err), Description: err.Error()}
	logger.Error("Message processing failed, dead-lettering",
		slog.Bool("retryable", retryable),
		slog.String("reason", outcome.Reason),
		slog.String("error", err.Error()),
	)

	if msg.MessageType == domain.MessageJobCreated {
		w.failDeadLetteredJob(ctx, msg, outcome)
	}
	return outcome
}

// dispatch routes a message by type. Only JobCreated drives execution; the
// other lifecycle messages are for other subscribers and need no work here.
func (w *Worker) dispatch(ctx context.Context, msg *domain.JobMessage) error {
	switch msg.MessageType {
	case domain.MessageJobCreated:
		return w.ProcessJobCreated(ctx, msg)
	case domain.MessageJobStarted,
		domain.MessageJobProgress,
		domain.MessageJobCompleted,
		domain.MessageJobFailed,
		domain.MessageJobCancelled:
		return nil
	default:
		return domain.NewNonRetryableError(domain.KindDeserialization,
			fmt.Errorf("%w: unknown message type %q", domain.ErrDeserialization, msg.MessageType))
	}
}

// ProcessJobCreated executes the job a JobCreated message refers to. Jobs that
// no longer exist or are past Pending are skipped so redeliveries never run a
// job twice.
func (w *Worker) ProcessJobCreated(ctx context.Context, msg *domain.JobMessage) error {
	job, err := w.jobs.GetByID(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil {
		w.logger.Warn("Job not found, skipping",
			slog.String("job_id", msg.JobID),
		)
		return nil
	}
	if job.Status != domain.JobStatusPending {
		w.logger.Info("Job already processed, skipping",
			slog.String("job_id", job.ID),
			slog.String("status", string(job.Status)),
		)
		w.recorder.IncCounter("worker.duplicate_deliveries")
		return nil
	}

	if err := w.publisher.PublishJobStarted(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish JobStarted: %w", err)
	}

	result, err := w.executor.ExecuteJob(ctx, job)
	if err != nil {
		if ctx.Err() != nil || domain.IsCancellation(err) {
			return err
		}
		return w.failStrandedJob(ctx, msg, err)
	}

	if result.Success {
		if err := w.publisher.PublishJobCompleted(ctx, msg, result); err != nil {
			return fmt.Errorf("failed to publish JobCompleted: %w", err)
		}
		return nil
	}

	if err := w.publisher.PublishJobFailed(ctx, msg, result.ErrorDetails); err != nil {
		return fmt.Errorf("failed to publish JobFailed: %w", err)
	}
	return nil
}

// failStrandedJob handles an execution error raised after the job may have left
// Pending. Redeliveries skip a Running job, so it is failed here rather than
// left Running. A job still Pending keeps the normal retry path.
func (w *Worker) failStrandedJob(ctx context.Context, msg *domain.JobMessage, cause error) error {
	details := &domain.ErrorDetails{
		Code:          domain.KindExecution,
		Message:       cause.Error(),
		Timestamp:     w.now().UTC(),
		RetryPossible: domain.IsRetryable(cause),
	}

	failed, err := w.failJob(ctx, msg, details, domain.JobStatusRunning)
	if err != nil {
		w.logger.Error("Failed to fail stranded job",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		// dead-lettering keeps the message and retries the compensation once more
		return domain.NewNonRetryableError(domain.KindExecution,
			fmt.Errorf("job may be left running: %w", cause))
	}
	if !failed {
		return cause
	}

	w.recorder.IncCounter("worker.jobs_stranded")
	w.logger.Warn("Execution error after job started, job marked failed",
		slog.String("job_id", msg.JobID),
		slog.String("error", cause.Error()),
	)
	return nil
}

// failDeadLetteredJob moves the job of a dead-lettered JobCreated message to
// Failed so it cannot stay Pending or Running forever.
func (w *Worker) failDeadLetteredJob(ctx context.Context, msg *domain.JobMessage, outcome Outcome) {
	details := &domain.ErrorDetails{
		Code:          domain.KindDeadLettered,
		Message:       fmt.Sprintf("%s: %s", outcome.Reason, outcome.Description),
		Timestamp:     w.now().UTC(),
		RetryPossible: false,
	}

	failed, err := w.failJob(ctx, msg, details, domain.JobStatusPending, domain.JobStatusRunning)
	if err != nil {
		w.logger.Error("Failed to mark dead-lettered job failed",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
		return
	}
	if !failed {
		return
	}

	w.recorder.IncCounter("worker.jobs_dead_lettered")
	w.logger.Warn("Dead-lettered job marked failed",
		slog.String("job_id", msg.JobID),
		slog.String("reason", outcome.Reason),
	)
}

// failJob moves the job to Failed when its status is one of from and publishes
// JobFailed. Jobs in any other status are left alone and report false. Writes
// run on a detached context so a canceled handler still settles the record.
func (w *Worker) failJob(ctx context.Context, msg *domain.JobMessage, details *domain.ErrorDetails, from ...domain.JobStatus) (bool, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	job, err := w.jobs.GetByID(ctx, msg.JobID)
	if err != nil {
		return false, fmt.Errorf("failed to load job: %w", err)
	}
	if job == nil || !slices.Contains(from, job.Status) {
		return false, nil
	}

	job.ErrorDetails = details
	if err := job.TransitionTo(domain.JobStatusFailed, details.Timestamp); err != nil {
		return false, err
	}
	if err := w.jobs.Update(ctx, job); err != nil {
		return false, fmt.Errorf("failed to mark job failed: %w", err)
	}

	if err := w.publisher.PublishJobFailed(ctx, msg, details); err != nil {
		w.logger.Error("Failed to publish JobFailed",
			slog.String("job_id", msg.JobID),
			slog.String("error", err.Error()),
		)
	}
	return true, nil
}
