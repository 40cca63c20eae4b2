package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const blobSuffix = ".enc"

// DiskStore writes each blob to <dir>/<id>.enc with owner-only permissions.
type DiskStore struct {
	dir     string
	maxSize int64
}

// NewDiskStore creates dir if needed. maxSize <= 0 selects MaxFileSize.
func NewDiskStore(dir string, maxSize int64) (*DiskStore, error) {
	if maxSize <= 0 {
		maxSize = MaxFileSize
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{dir: dir, maxSize: maxSize}, nil
}

func (s *DiskStore) path(id string) string {
	return filepath.Join(s.dir, id+blobSuffix)
}

// Put writes to a temporary file and renames it into place, so readers never
// observe a partial blob.
func (s *DiskStore) Put(_ context.Context, id string, content io.Reader) (*Object, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.path(id)); err == nil {
		return nil, ErrBlobExists
	}

	data, err := readLimited(content, s.maxSize)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(s.dir, id+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp blob: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // gone after rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("chmod blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(id)); err != nil {
		return nil, fmt.Errorf("commit blob: %w", err)
	}

	return describe(id, data), nil
}

func (s *DiskStore) Get(_ context.Context, id string) (io.ReadCloser, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrBlobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

func (s *DiskStore) Delete(_ context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrBlobNotFound
	}
	return err
}
