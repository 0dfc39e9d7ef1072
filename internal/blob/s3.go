package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/google/uuid"
)

// S3Config holds S3 blob store configuration
type S3Config struct {
	Region       string
	Bucket       string
	Endpoint     string
	UsePathStyle bool
	TTL          time.Duration
}

// S3API is the subset of the S3 client the store uses
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps every container as a key prefix inside one bucket
type S3Store struct {
	client S3API
	bucket string
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewS3Store creates an S3Store on an existing client
func NewS3Store(client S3API, bucket string, ttl time.Duration, logger *slog.Logger) *S3Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// NewS3Client builds an S3 client from the default AWS credential chain
func NewS3Client(ctx context.Context, cfg *S3Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

func objectKey(container, key string) string {
	return path.Join(container, key)
}

func isNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

// Exists issues a HEAD request for the object
func (s *S3Store) Exists(ctx context.Context, container, key string) (bool, error) {
	if err := validateAddress(container, key); err != nil {
		return false, err
	}

	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(container, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to head object: %w", err)
	}
	return true, nil
}

// Read streams the object body
func (s *S3Store) Read(ctx context.Context, container, key string) (io.ReadCloser, error) {
	if err := validateAddress(container, key); err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(objectKey(container, key)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return out.Body, nil
}

// Write uploads data as one object
func (s *S3Store) Write(ctx context.Context, container, key string, data []byte, contentType string) (*domain.BlobReference, error) {
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
		Locator:     fmt.Sprintf("s3://%s/%s", s.bucket, objectKey(container, key)),
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(objectKey(container, key)),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(ref.SizeBytes),
		Metadata: map[string]string{
			"blob-id":    ref.ID,
			"expires-at": ref.ExpiresAt.Format(time.RFC3339),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to put object: %w", err)
	}

	s.logger.Debug("Blob written to S3",
		slog.String("bucket", s.bucket),
		slog.String("key", objectKey(container, key)),
		slog.Int64("size_bytes", ref.SizeBytes),
	)

	return ref, nil
}
