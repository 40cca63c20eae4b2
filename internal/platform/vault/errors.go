package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrKeyUnavailable means the vault key could not be derived.
	ErrKeyUnavailable = errors.New("vault: encryption key unavailable")
	// ErrEmptyPassphrase is returned by New when no passphrase is configured.
	ErrEmptyPassphrase = errors.New("vault: passphrase is required")
	// ErrUnknownKeyVersion means the ciphertext names a key the vault does not hold.
	ErrUnknownKeyVersion = errors.New("vault: unknown key version")
)

// EncryptionError is returned when data could not be encrypted. The caller
// must abort; no plaintext is ever returned in its place.
type EncryptionError struct {
	Op  string
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("vault: %s: %v", e.Op, e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// DecryptionError is returned on tampering, key mismatch or malformed input.
type DecryptionError struct {
	Op  string
	Err error
}

func (e *DecryptionError) Error() string {
	return fmt.Sprintf("vault: %s: %v", e.Op, e.Err)
}

func (e *DecryptionError) Unwrap() error { return e.Err }
