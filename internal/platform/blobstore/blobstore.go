// Package blobstore keeps the encrypted bytes of uploaded documents. Stores
// never see plaintext: callers encrypt before Put and decrypt after Get.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sync"
	"time"
)

// ---------------------------------------------------------------------------
// Sentinel errors
// ---------------------------------------------------------------------------

var (
	ErrBlobNotFound = errors.New("blob not found")
	ErrBlobExists   = errors.New("blob already exists")
	ErrFileTooLarge = errors.New("file exceeds maximum allowed size")
	ErrInvalidID    = errors.New("invalid blob id")
)

// MaxFileSize is the default per-object limit (100 MB).
const MaxFileSize = 100 * 1024 * 1024

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,127}$`)

// ---------------------------------------------------------------------------
// Domain types
// ---------------------------------------------------------------------------

// Object describes a stored blob.
type Object struct {
	ID        string    `json:"id"`
	Size      int64     `json:"size"`
	Hash      string    `json:"hash"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the contract for blob storage backends.
type Store interface {
	Put(ctx context.Context, id string, content io.Reader) (*Object, error)
	Get(ctx context.Context, id string) (io.ReadCloser, error)
	Delete(ctx context.Context, id string) error
}

func validateID(id string) error {
	if !idPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

func readLimited(content io.Reader, maxSize int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(content, maxSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, ErrFileTooLarge
	}
	return data, nil
}

func describe(id string, data []byte) *Object {
	return &Object{
		ID:        id,
		Size:      int64(len(data)),
		Hash:      fmt.Sprintf("%x", sha256.Sum256(data)),
		CreatedAt: time.Now().UTC(),
	}
}

// ---------------------------------------------------------------------------
// In-memory implementation
// ---------------------------------------------------------------------------

// InMemoryStore is a thread-safe Store for tests and development.
type InMemoryStore struct {
	mu      sync.RWMutex
	maxSize int64
	blobs   map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		maxSize: MaxFileSize,
		blobs:   make(map[string][]byte),
	}
}

func (s *InMemoryStore) Put(_ context.Context, id string, content io.Reader) (*Object, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := readLimited(content, s.maxSize)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; ok {
		return nil, ErrBlobExists
	}
	s.blobs[id] = data
	return describe(id, data), nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.blobs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrBlobNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[id]; !ok {
		return ErrBlobNotFound
	}
	delete(s.blobs, id)
	return nil
}

// Len reports the number of stored blobs.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
