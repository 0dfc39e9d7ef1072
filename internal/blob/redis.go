package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis blob store configuration
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

// RedisStore keeps blobs as Redis strings with a TTL. Content type and id live
// in a companion hash with the same TTL.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisStore creates a RedisStore on an existing client
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, logger *slog.Logger) *RedisStore {
	if prefix == "" {
		prefix = "blob"
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg *RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.Info("Connected to Redis blob store",
		slog.String("addr", cfg.Addr),
		slog.Int("db", cfg.DB),
	)
	return client, nil
}

func (s *RedisStore) dataKey(container, key string) string {
	return fmt.Sprintf("%s:%s:%s", s.prefix, container, key)
}

func (s *RedisStore) metaKey(container, key string) string {
	return s.dataKey(container, key) + ":meta"
}

// Exists reports whether the blob is stored
func (s *RedisStore) Exists(ctx context.Context, container, key string) (bool, error) {
	if err := validateAddress(container, key); err != nil {
		return false, err
	}

	n, err := s.client.Exists(ctx, s.dataKey(container, key)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blob existence: %w", err)
	}
	return n > 0, nil
}

// Read returns the stored content
func (s *RedisStore) Read(ctx context.Context, container, key string) (io.ReadCloser, error) {
	if err := validateAddress(container, key); err != nil {
		return nil, err
	}

	data, err := s.client.Get(ctx, s.dataKey(container, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Write stores data and its metadata in one transaction
func (s *RedisStore) Write(ctx context.Context, container, key string, data []byte, contentType string) (*domain.BlobReference, error) {
	if err := validateAddress(container, key); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	ref := &domain.BlobReference{
		ID:          uuid.NewString(),
		Container:   container,
		Key:         key,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		Locator:     fmt.Sprintf("redis://%s", s.dataKey(container, key)),
	}

	metaKey := s.metaKey(container, key)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.dataKey(container, key), data, s.ttl)
		pipe.HSet(ctx, metaKey,
			"id", ref.ID,
			"content_type", contentType,
			"size_bytes", ref.SizeBytes,
			"created_at", now.Format(time.RFC3339Nano),
		)
		pipe.Expire(ctx, metaKey, s.ttl)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}

	s.logger.Debug("Blob written to Redis",
		slog.String("container", container),
		slog.String("key", key),
		slog.Int64("size_bytes", ref.SizeBytes),
	)

	return ref, nil
}
