package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/cuongbtq/evalpipe/internal/telemetry"
	"github.com/google/uuid"
)

// Publisher serializes job lifecycle messages and sends them to the job queue.
// It does not retry; a failed send is returned to the caller.
type Publisher struct {
	sender   Sender
	logger   *slog.Logger
	recorder telemetry.Recorder
	now      func() time.Time
}

// NewPublisher creates a new Publisher
func NewPublisher(sender Sender, logger *slog.Logger, recorder telemetry.Recorder) *Publisher {
	if recorder == nil {
		recorder = telemetry.Nop{}
	}
	return &Publisher{
		sender:   sender,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
	}
}

// Publish sends msg with a fresh message id, subject set to the message type and
// job id, message type and correlation id as properties.
func (p *Publisher) Publish(ctx context.Context, msg *domain.JobMessage) error {
	return p.publish(ctx, msg, nil)
}

func (p *Publisher) publish(ctx context.Context, msg *domain.JobMessage, extra map[string]string) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = p.now().UTC()
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal job message: %w", err)
	}

	out := OutboundMessage{
		MessageID:   uuid.NewString(),
		Subject:     string(msg.MessageType),
		ContentType: ContentTypeJSON,
		Body:        body,
		Properties: map[string]string{
			PropertyJobID:         msg.JobID,
			PropertyMessageType:   string(msg.MessageType),
			PropertyCorrelationID: msg.Correlation(),
		},
	}
	for k, v := range extra {
		out.Properties[k] = v
	}

	if err := p.sender.Send(ctx, out); err != nil {
		p.recorder.IncCounter("queue.publish.failed")
		return fmt.Errorf("failed to publish %s for job %s: %w", msg.MessageType, msg.JobID, err)
	}

	p.recorder.IncCounter("queue.publish." + string(msg.MessageType))
	p.logger.Debug("Job message published",
		slog.String("job_id", msg.JobID),
		slog.String("message_type", string(msg.MessageType)),
		slog.String("message_id", out.MessageID),
		slog.String("correlation_id", msg.Correlation()),
	)

	return nil
}

// PublishJobCreated publishes the JobCreated message that starts a job's message chain
func (p *Publisher) PublishJobCreated(ctx context.Context, jobID string, job *domain.Job, priority int) error {
	payload, err := json.Marshal(domain.JobCreatedPayload{
		Name:     job.Name,
		Type:     job.Type,
		Priority: priority,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal JobCreated payload: %w", err)
	}

	correlationID := uuid.NewString()
	return p.publish(ctx, &domain.JobMessage{
		JobID:         jobID,
		MessageType:   domain.MessageJobCreated,
		Payload:       payload,
		CorrelationID: &correlationID,
	}, map[string]string{PropertyPriority: strconv.Itoa(priority)})
}

// PublishJobStarted publishes JobStarted, continuing the inbound correlation id
func (p *Publisher) PublishJobStarted(ctx context.Context, inbound *domain.JobMessage) error {
	payload, err := json.Marshal(domain.JobStartedPayload{StartedAt: p.now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal JobStarted payload: %w", err)
	}

	return p.Publish(ctx, &domain.JobMessage{
		JobID:         inbound.JobID,
		MessageType:   domain.MessageJobStarted,
		Payload:       payload,
		CorrelationID: inbound.CorrelationID,
		RetryCount:    inbound.RetryCount,
	})
}

// PublishJobCompleted publishes JobCompleted with the summary and any blob reference
func (p *Publisher) PublishJobCompleted(ctx context.Context, inbound *domain.JobMessage, result *domain.JobExecutionResult) error {
	completed := domain.JobCompletedPayload{ResultsRef: result.ResultsRef}
	if result.Results != nil {
		summary := result.Results.Summary
		completed.Summary = &summary
	}

	payload, err := json.Marshal(completed)
	if err != nil {
		return fmt.Errorf("failed to marshal JobCompleted payload: %w", err)
	}

	var refs []domain.BlobReference
	if result.ResultsRef != nil {
		refs = []domain.BlobReference{*result.ResultsRef}
	}

	return p.Publish(ctx, &domain.JobMessage{
		JobID:          inbound.JobID,
		MessageType:    domain.MessageJobCompleted,
		Payload:        payload,
		CorrelationID:  inbound.CorrelationID,
		RetryCount:     inbound.RetryCount,
		BlobReferences: refs,
	})
}

// PublishJobFailed publishes JobFailed with the retry count incremented from the inbound message
func (p *Publisher) PublishJobFailed(ctx context.Context, inbound *domain.JobMessage, details *domain.ErrorDetails) error {
	payload, err := json.Marshal(domain.JobFailedPayload{ErrorDetails: details})
	if err != nil {
		return fmt.Errorf("failed to marshal JobFailed payload: %w", err)
	}

	return p.Publish(ctx, &domain.JobMessage{
		JobID:         inbound.JobID,
		MessageType:   domain.MessageJobFailed,
		Payload:       payload,
		CorrelationID: inbound.CorrelationID,
		RetryCount:    inbound.RetryCount + 1,
	})
}
