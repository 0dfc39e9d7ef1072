// Package rabbitmq implements the job queue transport on RabbitMQ. Jobs are
// published to a durable exchange and consumed from a quorum queue, which
// tracks redeliveries in the x-delivery-count header.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds RabbitMQ connection configuration
type Config struct {
	Host               string
	Port               int
	User               string
	Password           string
	VHost              string
	ExchangeName       string
	ExchangeType       string
	ExchangeDurable    bool
	ExchangeAutoDelete bool
	QueueName          string
	RoutingKey         string
	DeadLetterExchange string
	DeadLetterQueue    string
	DeliveryLimit      int
	RetryAttempts      int
	RetryInterval      time.Duration
	Heartbeat          time.Duration
	ConnectionTimeout  time.Duration
	PublishRetries     int
	PublishRetryDelay  time.Duration
	PublishBackoffMult float64
}

// ErrNotConnected is returned when the client has no open channel
var ErrNotConnected = errors.New("not connected to RabbitMQ")

// Client represents a RabbitMQ client
type Client struct {
	config  *Config
	logger  *slog.Logger
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// NewClient creates a new RabbitMQ client
func NewClient(config *Config, logger *slog.Logger) (*Client, error) {
	client := &Client{
		config: config,
		logger: logger,
	}

	client.mu.Lock()
	defer client.mu.Unlock()

	if err := client.connect(); err != nil {
		return nil, fmt.Errorf("failed to create RabbitMQ client: %w", err)
	}

	return client, nil
}

// URI returns the AMQP connection URI
func (c *Config) URI() string {
	vhost := c.VHost
	if vhost == "" {
		vhost = "/"
	}
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    vhost,
	}.String()
}

// queueArgs declares the work queue as a quorum queue that dead-letters to the
// DLX once the broker's own delivery limit is exceeded.
func (c *Config) queueArgs() amqp.Table {
	args := amqp.Table{
		"x-queue-type": "quorum",
	}
	if c.DeliveryLimit > 0 {
		args["x-delivery-limit"] = c.DeliveryLimit
	}
	if c.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = c.DeadLetterExchange
		args["x-dead-letter-routing-key"] = c.RoutingKey
	}
	return args
}

// connect establishes connection to RabbitMQ with retry logic. Callers hold c.mu.
func (c *Client) connect() error {
	var err error

	amqpConfig := amqp.Config{
		Heartbeat: c.config.Heartbeat,
		Locale:    "en_US",
	}
	if c.config.ConnectionTimeout > 0 {
		amqpConfig.Dial = amqp.DefaultDial(c.config.ConnectionTimeout)
	}

	attempts := c.config.RetryAttempts
	if attempts <= 0 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		c.logger.Info("Connecting to RabbitMQ",
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", attempts),
		)

		c.conn, err = amqp.DialConfig(c.config.URI(), amqpConfig)
		if err == nil {
			c.logger.Info("Successfully connected to RabbitMQ")
			break
		}

		c.logger.Error("Failed to connect to RabbitMQ",
			slog.Any("error", err),
			slog.Int("attempt", attempt),
		)

		if attempt < attempts {
			time.Sleep(c.config.RetryInterval)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", attempts, err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to create channel: %w", err)
	}

	if err := c.setup(c.channel); err != nil {
		c.channel.Close()
		c.conn.Close()
		return fmt.Errorf("failed to setup exchange and queue: %w", err)
	}

	c.logger.Info("RabbitMQ client initialized",
		slog.String("exchange", c.config.ExchangeName),
		slog.String("queue", c.config.QueueName),
		slog.String("dead_letter_exchange", c.config.DeadLetterExchange),
	)

	return nil
}

// setup declares the exchanges, queues and bindings
func (c *Client) setup(ch *amqp.Channel) error {
	err := ch.ExchangeDeclare(
		c.config.ExchangeName,       // name
		c.config.ExchangeType,       // type
		c.config.ExchangeDurable,    // durable
		c.config.ExchangeAutoDelete, // auto-deleted
		false,                       // internal
		false,                       // no-wait
		nil,                         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	if c.config.DeadLetterExchange != "" {
		err = ch.ExchangeDeclare(c.config.DeadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("failed to declare dead-letter exchange: %w", err)
		}

		if c.config.DeadLetterQueue != "" {
			if _, err = ch.QueueDeclare(c.config.DeadLetterQueue, true, false, false, false, nil); err != nil {
				return fmt.Errorf("failed to declare dead-letter queue: %w", err)
			}
			if err = ch.QueueBind(c.config.DeadLetterQueue, c.config.RoutingKey, c.config.DeadLetterExchange, false, nil); err != nil {
				return fmt.Errorf("failed to bind dead-letter queue: %w", err)
			}
		}
	}

	// quorum queues are always durable and never exclusive or auto-deleted
	_, err = ch.QueueDeclare(
		c.config.QueueName,   // name
		true,                 // durable
		false,                // auto-delete
		false,                // exclusive
		false,                // no-wait
		c.config.queueArgs(), // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	err = ch.QueueBind(
		c.config.QueueName,    // queue name
		c.config.RoutingKey,   // routing key
		c.config.ExchangeName, // exchange
		false,                 // no-wait
		nil,                   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	return nil
}

// ensureConnected reconnects when the connection was lost. Callers hold c.mu.
func (c *Client) ensureConnected() error {
	if c.conn != nil && !c.conn.IsClosed() && c.channel != nil && !c.channel.IsClosed() {
		return nil
	}

	c.logger.Warn("RabbitMQ connection lost, reconnecting")
	if c.conn != nil && !c.conn.IsClosed() {
		c.conn.Close()
	}
	return c.connect()
}

// openChannel returns a dedicated channel for a consumer
func (c *Client) openChannel() (*amqp.Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return nil, err
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open consumer channel: %w", err)
	}
	return ch, nil
}

// publish sends one message on the shared channel
func (c *Client) publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnected(); err != nil {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	return c.channel.PublishWithContext(
		ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		msg,
	)
}

// PublishWithRetry publishes a message to the work exchange with retry logic
// and exponential backoff
func (c *Client) PublishWithRetry(ctx context.Context, msg amqp.Publishing) error {
	maxRetries := c.config.PublishRetries
	if maxRetries <= 0 {
		maxRetries = 3 // default
	}

	baseDelay := c.config.PublishRetryDelay
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond // default
	}

	backoffMult := c.config.PublishBackoffMult
	if backoffMult <= 0 {
		backoffMult = 2.0 // default
	}

	var lastErr error
	delay := baseDelay
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := c.publish(ctx, c.config.ExchangeName, c.config.RoutingKey, msg)
		if err == nil {
			if attempt > 0 {
				c.logger.Info("Successfully published message to RabbitMQ after retry",
					slog.Int("attempt", attempt+1),
					slog.String("message_id", msg.MessageId),
				)
			} else {
				c.logger.Debug("Message published to RabbitMQ",
					slog.String("message_id", msg.MessageId),
					slog.Int("body_size", len(msg.Body)),
				)
			}
			return nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < maxRetries {
			c.logger.Warn("Failed to publish message to RabbitMQ, retrying...",
				slog.Int("attempt", attempt+1),
				slog.Int("max_retries", maxRetries),
				slog.Duration("retry_after", delay),
				slog.Any("error", err),
			)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * backoffMult)
		}
	}

	c.logger.Error("Failed to publish message to RabbitMQ after all retries",
		slog.Int("attempts", maxRetries+1),
		slog.Any("error", lastErr),
	)
	return fmt.Errorf("failed to publish message after %d attempts: %w", maxRetries+1, lastErr)
}

// Close closes the RabbitMQ connection
func (c *Client) Close() error {
	c.logger.Info("Closing RabbitMQ connection")

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil && !c.channel.IsClosed() {
		if err := c.channel.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ channel",
				slog.Any("error", err),
			)
		}
	}

	if c.conn != nil && !c.conn.IsClosed() {
		if err := c.conn.Close(); err != nil {
			c.logger.Error("Failed to close RabbitMQ connection",
				slog.Any("error", err),
			)
			return err
		}
	}

	c.logger.Info("RabbitMQ connection closed successfully")
	return nil
}

// IsConnected returns the connection status
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil && !c.conn.IsClosed()
}
