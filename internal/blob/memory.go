package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cuongbtq/evalpipe/internal/domain"
	"github.com/google/uuid"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore keeps blobs in process memory. Suitable for tests and local runs.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
}

func memoryKey(container, key string) string {
	return container + "/" + key
}

// Exists reports whether the blob is stored
func (s *MemoryStore) Exists(ctx context.Context, container, key string) (bool, error) {
	if err := validateAddress(container, key); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.objects[memoryKey(container, key)]
	return ok, nil
}

// Read returns a copy of the stored content
func (s *MemoryStore) Read(ctx context.Context, container, key string) (io.ReadCloser, error) {
	if err := validateAddress(container, key); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	obj, ok := s.objects[memoryKey(container, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(obj.data))), nil
}

// Write stores a copy of data
func (s *MemoryStore) Write(ctx context.Context, container, key string, data []byte, contentType string) (*domain.BlobReference, error) {
	if err := validateAddress(container, key); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.objects[memoryKey(container, key)] = memoryObject{data: bytes.Clone(data), contentType: contentType}
	s.mu.Unlock()

	now := s.now().UTC()
	return &domain.BlobReference{
		ID:          uuid.NewString(),
		Container:   container,
		Key:         key,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.ttl),
		Locator:     fmt.Sprintf("memory://%s/%s", container, key),
	}, nil
}
