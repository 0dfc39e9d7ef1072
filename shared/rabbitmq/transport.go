package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/evalpipe/internal/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Headers attached to dead-lettered messages
const (
	HeaderDeadLetterReason      = "x-dead-letter-reason"
	HeaderDeadLetterDescription = "x-dead-letter-description"
	headerDeliveryCount         = "x-delivery-count"
)

// Send publishes msg to the work exchange. Message properties travel as headers.
func (c *Client) Send(ctx context.Context, msg queue.OutboundMessage) error {
	return c.PublishWithRetry(ctx, toPublishing(msg, time.Now()))
}

func toPublishing(msg queue.OutboundMessage, now time.Time) amqp.Publishing {
	headers := make(amqp.Table, len(msg.Properties))
	for k, v := range msg.Properties {
		headers[k] = v
	}

	pub := amqp.Publishing{
		MessageId:    msg.MessageID,
		Type:         msg.Subject,
		ContentType:  msg.ContentType,
		Body:         msg.Body,
		Headers:      headers,
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
	}
	if id, ok := msg.Properties[queue.PropertyCorrelationID]; ok {
		pub.CorrelationId = id
	}
	return pub
}

// Receive starts consuming the work queue on a dedicated channel with the
// prefetch limit from opts. The returned channel closes when ctx is done or
// the broker connection drops.
func (c *Client) Receive(ctx context.Context, opts queue.ReceiverOptions) (<-chan queue.Delivery, error) {
	ch, err := c.openChannel()
	if err != nil {
		return nil, err
	}

	if err := ch.Qos(opts.PrefetchCount, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	messages, err := ch.Consume(
		c.config.QueueName, // queue
		"",                 // consumer tag
		false,              // auto-ack
		false,              // exclusive
		false,              // no-local
		false,              // no-wait
		nil,                // args
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume messages: %w", err)
	}

	c.logger.Info("Started consuming messages from RabbitMQ",
		slog.String("queue", c.config.QueueName),
		slog.Int("prefetch_count", opts.PrefetchCount),
	)

	out := make(chan queue.Delivery)
	go func() {
		defer close(out)
		defer ch.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					c.logger.Warn("RabbitMQ delivery channel closed")
					return
				}

				d := &delivery{msg: msg, client: c}
				select {
				case out <- d:
				case <-ctx.Done():
					// unacked deliveries are requeued when the channel closes
					return
				}
			}
		}
	}()

	return out, nil
}

// deadLetterer publishes a message to the dead-letter exchange
type deadLetterer interface {
	publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error
	deadLetterRoute() (exchange, routingKey string)
}

func (c *Client) deadLetterRoute() (string, string) {
	return c.config.DeadLetterExchange, c.config.RoutingKey
}

// delivery adapts an AMQP delivery to queue.Delivery
type delivery struct {
	msg    amqp.Delivery
	client deadLetterer
}

func (d *delivery) MessageID() string { return d.msg.MessageId }

func (d *delivery) Body() []byte { return d.msg.Body }

// DeliveryCount is derived from the quorum queue's x-delivery-count header,
// which counts earlier failed deliveries. Classic queues only expose the
// redelivered flag.
func (d *delivery) DeliveryCount() int {
	if n, ok := headerInt(d.msg.Headers, headerDeliveryCount); ok {
		return n + 1
	}
	if d.msg.Redelivered {
		return 2
	}
	return 1
}

func (d *delivery) Complete(ctx context.Context) error {
	return d.msg.Ack(false)
}

func (d *delivery) Abandon(ctx context.Context) error {
	return d.msg.Nack(false, true)
}

// DeadLetter republishes the message to the dead-letter exchange with the
// reason headers and acks the original. If the republish fails the message is
// rejected without requeue so the queue's own dead-letter policy takes it.
func (d *delivery) DeadLetter(ctx context.Context, reason, description string) error {
	exchange, routingKey := d.client.deadLetterRoute()
	if exchange == "" {
		return d.msg.Nack(false, false)
	}

	headers := amqp.Table{}
	for k, v := range d.msg.Headers {
		headers[k] = v
	}
	headers[HeaderDeadLetterReason] = reason
	headers[HeaderDeadLetterDescription] = description

	pub := amqp.Publishing{
		MessageId:     d.msg.MessageId,
		Type:          d.msg.Type,
		ContentType:   d.msg.ContentType,
		CorrelationId: d.msg.CorrelationId,
		Body:          d.msg.Body,
		Headers:       headers,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     time.Now(),
	}

	if err := d.client.publish(ctx, exchange, routingKey, pub); err != nil {
		if nackErr := d.msg.Nack(false, false); nackErr != nil {
			return fmt.Errorf("failed to dead-letter message: %w (nack: %v)", err, nackErr)
		}
		return nil
	}
	return d.msg.Ack(false)
}

func headerInt(headers amqp.Table, key string) (int, bool) {
	switch v := headers[key].(type) {
	case int:
		return v, true
	case int16:
		return int(v), true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint8:
		return int(v), true
	case uint16:
		return int(v), true
	case uint32:
		return int(v), true
	default:
		return 0, false
	}
}
