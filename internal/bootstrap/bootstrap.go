// Package bootstrap builds the infrastructure clients shared by the API and
// worker services from the loaded configuration.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/evalpipe/internal/blob"
	"github.com/cuongbtq/evalpipe/internal/config"
	"github.com/cuongbtq/evalpipe/internal/queue"
	"github.com/cuongbtq/evalpipe/internal/storage"
	"github.com/cuongbtq/evalpipe/shared/database"
	"github.com/cuongbtq/evalpipe/shared/logger"
	"github.com/cuongbtq/evalpipe/shared/rabbitmq"
	"github.com/cuongbtq/evalpipe/shared/sqs"
)

// Transport is the job queue the services send to and receive from
type Transport struct {
	Sender   queue.Sender
	Receiver queue.Receiver
	close    func() error
}

// Close releases the transport connection
func (t *Transport) Close() error {
	if t.close == nil {
		return nil
	}
	return t.close()
}

// InitLogger initializes and configures the application logger
func InitLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// InitDatabase connects to the job repository database and returns a storage
// whose schema is in place
func InitDatabase(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*database.Client, *storage.Storage, error) {
	dbConfig := &database.Config{
		Driver:          cfg.Driver,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	client, err := database.NewClient(dbConfig, logger)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStorage(client)
	if err := store.EnsureSchema(ctx); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to prepare schema: %w", err)
	}

	return client, store, nil
}

// InitTransport connects the configured job queue transport
func InitTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Transport, error) {
	switch cfg.Queue.Transport {
	case config.TransportRabbitMQ:
		client, err := initRabbitMQ(&cfg.RabbitMQ, cfg.Queue.MaxDeliveryCount, logger)
		if err != nil {
			return nil, err
		}
		return &Transport{Sender: client, Receiver: client, close: client.Close}, nil

	case config.TransportSQS:
		sqsConfig := &sqs.Config{
			Region:             cfg.SQS.Region,
			Endpoint:           cfg.SQS.Endpoint,
			QueueURL:           cfg.SQS.QueueURL,
			DeadLetterQueueURL: cfg.SQS.DeadLetterQueueURL,
			WaitTimeSeconds:    cfg.SQS.WaitTimeSeconds,
		}
		api, err := sqs.NewSQSClient(ctx, sqsConfig)
		if err != nil {
			return nil, err
		}
		client := sqs.NewClient(api, sqsConfig, logger)
		return &Transport{Sender: client, Receiver: client}, nil

	default:
		return nil, fmt.Errorf("unsupported queue transport: %q", cfg.Queue.Transport)
	}
}

// initRabbitMQ initializes the RabbitMQ client. The broker delivery limit sits
// one above the consumer's so the consumer dead-letters with a reason first.
func initRabbitMQ(cfg *config.RabbitMQConfig, maxDeliveryCount int, logger *slog.Logger) (*rabbitmq.Client, error) {
	deliveryLimit := cfg.Queue.DeliveryLimit
	if deliveryLimit <= 0 && maxDeliveryCount > 0 {
		deliveryLimit = maxDeliveryCount + 1
	}

	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		RoutingKey:         cfg.RoutingKey,
		DeadLetterExchange: cfg.DeadLetter.Exchange,
		DeadLetterQueue:    cfg.DeadLetter.Queue,
		DeliveryLimit:      deliveryLimit,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// InitBlobStore creates the configured blob store. The returned close func
// releases any connection the store holds.
func InitBlobStore(ctx context.Context, cfg *config.BlobConfig, logger *slog.Logger) (blob.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BlobBackendMemory, "":
		return blob.NewMemoryStore(), noop, nil

	case config.BlobBackendRedis:
		client, err := blob.NewRedisClient(ctx, &blob.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			TTL:      cfg.TTL,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return blob.NewRedisStore(client, cfg.Redis.Prefix, cfg.TTL, logger), client.Close, nil

	case config.BlobBackendS3:
		client, err := blob.NewS3Client(ctx, &blob.S3Config{
			Region:       cfg.S3.Region,
			Bucket:       cfg.S3.Bucket,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
			TTL:          cfg.TTL,
		})
		if err != nil {
			return nil, nil, err
		}
		return blob.NewS3Store(client, cfg.S3.Bucket, cfg.TTL, logger), noop, nil

	default:
		return nil, nil, fmt.Errorf("unsupported blob backend: %q", cfg.Backend)
	}
}
