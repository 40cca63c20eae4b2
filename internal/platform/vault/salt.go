package vault

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// SaltSize is the number of random bytes written by FileSalt on first use.
const SaltSize = 16

// DevelopmentSalt is the fixed salt used when no salt file is configured.
var DevelopmentSalt = FixedSalt("health_records_salt")

// SaltSource supplies the salt fed to DeriveKey.
type SaltSource interface {
	Salt() ([]byte, error)
}

// FixedSalt is a compile-time or configured constant salt.
type FixedSalt []byte

func (s FixedSalt) Salt() ([]byte, error) {
	if len(s) == 0 {
		return nil, errors.New("vault: fixed salt is empty")
	}
	out := make([]byte, len(s))
	copy(out, s)
	return out, nil
}

// FileSalt persists a random salt at Path. An existing file is reused so the
// derived key stays stable across restarts.
type FileSalt struct {
	Path string
}

func (s FileSalt) Salt() ([]byte, error) {
	data, err := os.ReadFile(s.Path)
	switch {
	case err == nil:
		if len(data) == 0 {
			return nil, fmt.Errorf("vault: salt file %s is empty", s.Path)
		}
		return data, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("vault: read salt file: %w", err)
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("vault: generate salt: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o700); err != nil {
		return nil, fmt.Errorf("vault: create salt directory: %w", err)
	}

	// O_EXCL so two processes racing on first start agree on one salt.
	f, err := os.OpenFile(s.Path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return s.Salt()
		}
		return nil, fmt.Errorf("vault: create salt file: %w", err)
	}
	if _, err := f.Write(salt); err != nil {
		f.Close()
		return nil, fmt.Errorf("vault: write salt file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("vault: close salt file: %w", err)
	}
	return salt, nil
}
