package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Queue transports
const (
	TransportRabbitMQ = "rabbitmq"
	TransportSQS      = "sqs"
)

// Blob store backends
const (
	BlobBackendMemory = "memory"
	BlobBackendRedis  = "redis"
	BlobBackendS3     = "s3"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Queue      QueueConfig      `yaml:"queue"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	SQS        SQSConfig        `yaml:"sqs"`
	Blob       BlobConfig       `yaml:"blob"`
	LLM        LLMConfig        `yaml:"llm"`
	Evaluation EvaluationConfig `yaml:"evaluation"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
	Worker     WorkerConfig     `yaml:"worker"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds job repository connection configuration
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"` // postgres or sqlite3
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// QueueConfig selects the job queue transport and holds consumer settings
type QueueConfig struct {
	Transport                string        `yaml:"transport"`
	MaxConcurrentDeliveries  int           `yaml:"max_concurrent_deliveries"`
	PrefetchCount            int           `yaml:"prefetch_count"`
	LockDuration             time.Duration `yaml:"lock_duration"`
	MaxLockRenewal           time.Duration `yaml:"max_lock_renewal"`
	MaxDeliveryCount         int           `yaml:"max_delivery_count"`
	DuplicateDetectionWindow time.Duration `yaml:"duplicate_detection_window"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      RabbitQueue      `yaml:"queue"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// RabbitQueue holds RabbitMQ work queue configuration
type RabbitQueue struct {
	Name          string `yaml:"name"`
	DeliveryLimit int    `yaml:"delivery_limit"`
}

// DeadLetterConfig names the dead-letter exchange and queue
type DeadLetterConfig struct {
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// SQSConfig holds Amazon SQS settings
type SQSConfig struct {
	Region             string `yaml:"region"`
	Endpoint           string `yaml:"endpoint"`
	QueueURL           string `yaml:"queue_url"`
	DeadLetterQueueURL string `yaml:"dead_letter_queue_url"`
	WaitTimeSeconds    int32  `yaml:"wait_time_seconds"`
}

// BlobConfig selects the blob store backend
type BlobConfig struct {
	Backend string          `yaml:"backend"`
	TTL     time.Duration   `yaml:"ttl"`
	Redis   RedisBlobConfig `yaml:"redis"`
	S3      S3BlobConfig    `yaml:"s3"`
}

// RedisBlobConfig holds Redis blob store settings
type RedisBlobConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// S3BlobConfig holds S3 blob store settings
type S3BlobConfig struct {
	Region       string `yaml:"region"`
	Bucket       string `yaml:"bucket"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

// LLMConfig holds chat and knowledge search collaborator settings
type LLMConfig struct {
	ChatEndpoint      string        `yaml:"chat_endpoint"`
	SearchEndpoint    string        `yaml:"search_endpoint"`
	Token             string        `yaml:"token"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	LocationHint      string        `yaml:"location_hint"`
}

// EvaluationConfig holds execution engine settings
type EvaluationConfig struct {
	DefaultSimilarityThreshold float64       `yaml:"default_similarity_threshold"`
	FallbackToSampleData       bool          `yaml:"fallback_to_sample_data"`
	DataSourceTimeout          time.Duration `yaml:"data_source_timeout"`
	ResultExpiry               time.Duration `yaml:"result_expiry"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	ReconnectDelay  time.Duration `yaml:"reconnect_delay"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Load reads and parses the configuration file and fills defaults
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills unset fields with the service defaults
func (c *Config) ApplyDefaults() {
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "postgres"
	}

	if c.Queue.Transport == "" {
		c.Queue.Transport = TransportRabbitMQ
	}
	if c.Queue.MaxConcurrentDeliveries <= 0 {
		c.Queue.MaxConcurrentDeliveries = 5
	}
	if c.Queue.PrefetchCount <= 0 {
		c.Queue.PrefetchCount = 10
	}
	if c.Queue.LockDuration <= 0 {
		c.Queue.LockDuration = time.Minute
	}
	if c.Queue.MaxLockRenewal <= 0 {
		c.Queue.MaxLockRenewal = 10 * time.Minute
	}
	if c.Queue.MaxDeliveryCount <= 0 {
		c.Queue.MaxDeliveryCount = 3
	}
	if c.Queue.DuplicateDetectionWindow <= 0 {
		c.Queue.DuplicateDetectionWindow = 10 * time.Minute
	}

	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
	if c.RabbitMQ.Connection.RetryAttempts <= 0 {
		c.RabbitMQ.Connection.RetryAttempts = 5
	}
	if c.RabbitMQ.Connection.RetryInterval <= 0 {
		c.RabbitMQ.Connection.RetryInterval = 2 * time.Second
	}

	if c.Blob.Backend == "" {
		c.Blob.Backend = BlobBackendMemory
	}
	if c.Evaluation.ResultExpiry <= 0 {
		c.Evaluation.ResultExpiry = 30 * 24 * time.Hour
	}
	if c.Blob.TTL <= 0 {
		c.Blob.TTL = c.Evaluation.ResultExpiry
	}

	if c.Evaluation.DefaultSimilarityThreshold <= 0 {
		c.Evaluation.DefaultSimilarityThreshold = 0.8
	}
	if c.Evaluation.DataSourceTimeout <= 0 {
		c.Evaluation.DataSourceTimeout = 30 * time.Second
	}

	if c.LLM.Timeout <= 0 {
		c.LLM.Timeout = 60 * time.Second
	}

	if c.Worker.ReconnectDelay <= 0 {
		c.Worker.ReconnectDelay = 5 * time.Second
	}
	if c.Worker.ShutdownTimeout <= 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}
}

func (c *Config) validateDatabase() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if c.Database.Port < MinPort || c.Database.Port > MaxPort {
			return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite3":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	return nil
}

func (c *Config) validateQueue() error {
	switch c.Queue.Transport {
	case TransportRabbitMQ:
		if c.RabbitMQ.Host == "" {
			return fmt.Errorf("rabbitmq host is required")
		}
		if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
			return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
		}
		if c.RabbitMQ.Exchange.Name == "" {
			return fmt.Errorf("rabbitmq exchange name is required")
		}
		if c.RabbitMQ.Queue.Name == "" {
			return fmt.Errorf("rabbitmq queue name is required")
		}
	case TransportSQS:
		if c.SQS.QueueURL == "" {
			return fmt.Errorf("sqs queue_url is required")
		}
		if c.SQS.Region == "" {
			return fmt.Errorf("sqs region is required")
		}
	default:
		return fmt.Errorf("unsupported queue transport: %q", c.Queue.Transport)
	}
	return nil
}

// ValidateAPIConfig checks the settings the API service needs
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	return c.validateQueue()
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateQueue(); err != nil {
		return err
	}

	if c.Queue.MaxConcurrentDeliveries <= 0 {
		return fmt.Errorf("queue max_concurrent_deliveries must be greater than 0")
	}

	if c.Queue.LockDuration > c.Queue.MaxLockRenewal {
		return fmt.Errorf("queue lock_duration must not exceed max_lock_renewal")
	}

	if c.Evaluation.DefaultSimilarityThreshold > 1 {
		return fmt.Errorf("evaluation default_similarity_threshold must be within [0, 1]")
	}

	switch c.Blob.Backend {
	case BlobBackendMemory:
	case BlobBackendRedis:
		if c.Blob.Redis.Addr == "" {
			return fmt.Errorf("blob redis addr is required")
		}
	case BlobBackendS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob s3 bucket is required")
		}
	default:
		return fmt.Errorf("unsupported blob backend: %q", c.Blob.Backend)
	}

	if c.LLM.ChatEndpoint == "" {
		return fmt.Errorf("llm chat_endpoint is required")
	}

	return nil
}
