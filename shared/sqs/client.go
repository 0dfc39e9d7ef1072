// Package sqs implements the job queue transport on Amazon SQS. The visibility
// timeout plays the role of the message lock and is extended in the background
// while a message is being handled.
package sqs

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/cuongbtq/evalpipe/internal/queue"
)

// Message attribute names set on dead-lettered messages
const (
	AttributeDeadLetterReason      = "dead_letter_reason"
	AttributeDeadLetterDescription = "dead_letter_description"
	attributeMessageID             = "message_id"
	attributeSubject               = "subject"
)

// SQS caps a single receive at 10 messages
const maxBatchSize = 10

// Config holds SQS transport configuration
type Config struct {
	Region             string
	Endpoint           string
	QueueURL           string
	DeadLetterQueueURL string
	WaitTimeSeconds    int32
}

// API is the subset of the SQS client the transport uses
type API interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

// Client sends to and receives from one SQS queue
type Client struct {
	api    API
	config *Config
	logger *slog.Logger
}

// NewClient creates a transport on an existing SQS client
func NewClient(api API, config *Config, logger *slog.Logger) *Client {
	if config.WaitTimeSeconds <= 0 {
		config.WaitTimeSeconds = 20
	}
	return &Client{
		api:    api,
		config: config,
		logger: logger,
	}
}

// NewSQSClient builds an SQS client from the default AWS credential chain
func NewSQSClient(ctx context.Context, cfg *Config) (*sqs.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func isFIFO(queueURL string) bool {
	return strings.HasSuffix(queueURL, ".fifo")
}

func stringAttribute(v string) types.MessageAttributeValue {
	return types.MessageAttributeValue{
		DataType:    aws.String("String"),
		StringValue: aws.String(v),
	}
}

// Send publishes msg with its properties as message attributes. FIFO queues
// group messages by job id and deduplicate on the message id.
func (c *Client) Send(ctx context.Context, msg queue.OutboundMessage) error {
	attrs := map[string]types.MessageAttributeValue{
		attributeMessageID: stringAttribute(msg.MessageID),
		attributeSubject:   stringAttribute(msg.Subject),
	}
	for k, v := range msg.Properties {
		if v == "" {
			continue
		}
		attrs[k] = stringAttribute(v)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:          aws.String(c.config.QueueURL),
		MessageBody:       aws.String(string(msg.Body)),
		MessageAttributes: attrs,
	}
	if isFIFO(c.config.QueueURL) {
		group := msg.Properties[queue.PropertyJobID]
		if group == "" {
			group = msg.MessageID
		}
		input.MessageGroupId = aws.String(group)
		input.MessageDeduplicationId = aws.String(msg.MessageID)
	}

	if _, err := c.api.SendMessage(ctx, input); err != nil {
		c.logger.Error("Failed to send message to SQS",
			slog.String("message_id", msg.MessageID),
			slog.Any("error", err),
		)
		return fmt.Errorf("failed to send message to SQS: %w", err)
	}

	c.logger.Debug("Message sent to SQS",
		slog.String("message_id", msg.MessageID),
		slog.Int("body_size", len(msg.Body)),
	)
	return nil
}

// Receive long-polls the queue until ctx is done. A receive error closes the
// returned channel so the caller can re-establish the receiver.
func (c *Client) Receive(ctx context.Context, opts queue.ReceiverOptions) (<-chan queue.Delivery, error) {
	batch := opts.PrefetchCount
	if batch <= 0 || batch > maxBatchSize {
		batch = maxBatchSize
	}
	lock := opts.LockDuration
	if lock < time.Second {
		lock = time.Minute
	}

	c.logger.Info("Started receiving messages from SQS",
		slog.String("queue_url", c.config.QueueURL),
		slog.Int("batch_size", batch),
		slog.Duration("lock_duration", lock),
	)

	out := make(chan queue.Delivery)
	go func() {
		defer close(out)

		for {
			if ctx.Err() != nil {
				return
			}

			resp, err := c.api.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
				QueueUrl:                    aws.String(c.config.QueueURL),
				MaxNumberOfMessages:         int32(batch),
				WaitTimeSeconds:             c.config.WaitTimeSeconds,
				VisibilityTimeout:           int32(lock / time.Second),
				MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
				MessageAttributeNames:       []string{"All"},
			})
			if err != nil {
				if ctx.Err() == nil {
					c.logger.Error("Failed to receive messages from SQS",
						slog.Any("error", err),
					)
				}
				return
			}

			for i, msg := range resp.Messages {
				d := c.newDelivery(msg)
				d.startRenewal(ctx, lock, opts.MaxLockRenewal)

				select {
				case out <- d:
				case <-ctx.Done():
					d.stopRenewal()
					// hand the rest of the batch back to the queue
					for _, rest := range resp.Messages[i:] {
						c.release(rest)
					}
					return
				}
			}
		}
	}()

	return out, nil
}

// release makes a message visible again immediately
func (c *Client) release(msg types.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := c.api.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          aws.String(c.config.QueueURL),
		ReceiptHandle:     msg.ReceiptHandle,
		VisibilityTimeout: 0,
	})
	if err != nil {
		c.logger.Warn("Failed to release SQS message",
			slog.String("message_id", aws.ToString(msg.MessageId)),
			slog.Any("error", err),
		)
	}
}

func receiveCount(msg types.Message) int {
	raw, ok := msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)]
	if !ok {
		return 1
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 1
	}
	return n
}

func messageID(msg types.Message) string {
	if attr, ok := msg.MessageAttributes[attributeMessageID]; ok && attr.StringValue != nil {
		return *attr.StringValue
	}
	return aws.ToString(msg.MessageId)
}
