// Package blob stores large job payloads outside the job repository.
package blob

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cuongbtq/evalpipe/internal/domain"
)

// Blob store errors.
var (
	ErrKeyEmpty = errors.New("blob container and key cannot be empty")
	ErrNotFound = errors.New("blob not found")
)

// DefaultTTL is how long a stored blob is kept
const DefaultTTL = 30 * 24 * time.Hour

// Store is a container/key addressed object store.
type Store interface {
	// Exists checks presence without reading content.
	Exists(ctx context.Context, container, key string) (bool, error)

	// Read returns the stored content. The caller closes the reader.
	// Missing blobs return ErrNotFound.
	Read(ctx context.Context, container, key string) (io.ReadCloser, error)

	// Write stores data and returns a reference to it.
	Write(ctx context.Context, container, key string, data []byte, contentType string) (*domain.BlobReference, error)
}

func validateAddress(container, key string) error {
	if container == "" || key == "" {
		return ErrKeyEmpty
	}
	return nil
}
