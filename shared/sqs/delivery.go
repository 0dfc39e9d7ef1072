package sqs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// delivery adapts a received SQS message to queue.Delivery
type delivery struct {
	client *Client
	msg    types.Message

	stopOnce sync.Once
	stop     context.CancelFunc
	done     chan struct{}
}

func (c *Client) newDelivery(msg types.Message) *delivery {
	return &delivery{client: c, msg: msg, stop: func() {}}
}

func (d *delivery) MessageID() string  { return messageID(d.msg) }
func (d *delivery) Body() []byte       { return []byte(aws.ToString(d.msg.Body)) }
func (d *delivery) DeliveryCount() int { return receiveCount(d.msg) }

// startRenewal extends the visibility timeout every half lock period until the
// delivery is settled or maxRenewal has elapsed since receipt
func (d *delivery) startRenewal(ctx context.Context, lock, maxRenewal time.Duration) {
	if maxRenewal <= 0 {
		return
	}

	renewCtx, cancel := context.WithTimeout(ctx, maxRenewal)
	d.stop = cancel
	d.done = make(chan struct{})

	go func() {
		defer close(d.done)

		ticker := time.NewTicker(lock / 2)
		defer ticker.Stop()

		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				_, err := d.client.api.ChangeMessageVisibility(renewCtx, &sqs.ChangeMessageVisibilityInput{
					QueueUrl:          aws.String(d.client.config.QueueURL),
					ReceiptHandle:     d.msg.ReceiptHandle,
					VisibilityTimeout: int32(lock / time.Second),
				})
				if err != nil && renewCtx.Err() == nil {
					d.client.logger.Warn("Failed to extend SQS message visibility",
						slog.String("message_id", d.MessageID()),
						slog.Any("error", err),
					)
				}
			}
		}
	}()
}

func (d *delivery) stopRenewal() {
	d.stopOnce.Do(func() {
		d.stop()
		if d.done != nil {
			<-d.done
		}
	})
}

// Complete deletes the message
func (d *delivery) Complete(ctx context.Context) error {
	d.stopRenewal()

	_, err := d.client.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(d.client.config.QueueURL),
		ReceiptHandle: d.msg.ReceiptHandle,
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Abandon makes the message visible again so it is redelivered
func (d *delivery) Abandon(ctx context.Context) error {
	d.stopRenewal()

	_, err := d.client.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(d.client.config.QueueURL),
		ReceiptHandle:     d.msg.ReceiptHandle,
		VisibilityTimeout: 0,
	})
	if err != nil {
		return fmt.Errorf("failed to abandon message: %w", err)
	}
	return nil
}

// DeadLetter copies the message to the dead-letter queue with the reason
// attributes and deletes the original. Without a dead-letter queue the message
// is released and left to the queue's redrive policy.
func (d *delivery) DeadLetter(ctx context.Context, reason, description string) error {
	dlq := d.client.config.DeadLetterQueueURL
	if dlq == "" {
		d.client.logger.Warn("No dead-letter queue configured, releasing message",
			slog.String("message_id", d.MessageID()),
			slog.String("reason", reason),
		)
		return d.Abandon(ctx)
	}

	d.stopRenewal()

	attrs := make(map[string]types.MessageAttributeValue, len(d.msg.MessageAttributes)+2)
	for k, v := range d.msg.MessageAttributes {
		attrs[k] = v
	}
	attrs[AttributeDeadLetterReason] = stringAttribute(reason)
	attrs[AttributeDeadLetterDescription] = stringAttribute(truncate(description, 1024))

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(dlq),
		MessageBody:       d.msg.Body,
		MessageAttributes: attrs,
	}
	if isFIFO(dlq) {
		input.MessageGroupId = aws.String(d.MessageID())
		input.MessageDeduplicationId = aws.String(d.MessageID())
	}

	if _, err := d.client.api.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("failed to send message to dead-letter queue: %w", err)
	}

	_, err := d.client.api.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(d.client.config.QueueURL),
		ReceiptHandle: d.msg.ReceiptHandle,
	})
	if err != nil {
		return fmt.Errorf("failed to delete dead-lettered message: %w", err)
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
