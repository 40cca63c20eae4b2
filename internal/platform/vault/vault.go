// Package vault encrypts health metadata and uploaded files at rest.
//
// A Vault holds one AES-256-GCM key per configured passphrase. Keys are
// derived lazily with PBKDF2 on first use, exactly once per process, so a
// Vault built at startup can be shared by every request. Encryption always
// uses the current passphrase; retired passphrases are kept only so data
// written under them can still be read.
package vault

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Ciphertext strings carry a "v{version}:" prefix naming the key used.
const (
	keyVersionPrefix    = "v"
	keyVersionSeparator = ":"
	maxKeyVersion       = 255
)

// Options configures a Vault.
type Options struct {
	// Passphrase is the current secret. Required.
	Passphrase string
	// Previous lists retired passphrases, oldest first. They receive key
	// versions 1..len(Previous); Passphrase is version len(Previous)+1.
	Previous []string
	// Salt defaults to DevelopmentSalt.
	Salt SaltSource
	// Iterations defaults to DefaultIterations.
	Iterations int
}

// Vault is safe for concurrent use.
type Vault struct {
	opts   Options
	logger zerolog.Logger
	derive func(passphrase string, salt []byte, iterations int) []byte

	once       sync.Once
	initErr    error
	current    *sealer
	currentVer int
	previous   map[int]*sealer
}

// New validates opts and returns a Vault whose key is derived on first use.
func New(opts Options, logger zerolog.Logger) (*Vault, error) {
	if opts.Passphrase == "" {
		return nil, ErrEmptyPassphrase
	}
	if len(opts.Previous)+1 > maxKeyVersion {
		return nil, fmt.Errorf("vault: at most %d passphrases are supported", maxKeyVersion)
	}
	for i, p := range opts.Previous {
		if p == "" {
			return nil, fmt.Errorf("vault: previous passphrase %d is empty", i+1)
		}
	}
	if opts.Salt == nil {
		logger.Warn().Msg("vault: no salt file configured, using the fixed development salt")
		opts.Salt = DevelopmentSalt
	}
	if opts.Iterations <= 0 {
		opts.Iterations = DefaultIterations
	}

	return &Vault{
		opts:       opts,
		logger:     logger,
		derive:     DeriveKey,
		currentVer: len(opts.Previous) + 1,
	}, nil
}

// Ready derives the keys if that has not happened yet and reports whether
// the vault can be used. Calling it at startup surfaces a bad salt file
// before the first request does.
func (v *Vault) Ready() error {
	v.once.Do(v.init)
	return v.initErr
}

func (v *Vault) init() {
	salt, err := v.opts.Salt.Salt()
	if err != nil {
		v.initErr = fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
		return
	}

	current, err := newSealer(v.derive(v.opts.Passphrase, salt, v.opts.Iterations))
	if err != nil {
		v.initErr = fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
		return
	}

	previous := make(map[int]*sealer, len(v.opts.Previous))
	for i, p := range v.opts.Previous {
		s, err := newSealer(v.derive(p, salt, v.opts.Iterations))
		if err != nil {
			v.initErr = fmt.Errorf("%w: previous key v%d: %v", ErrKeyUnavailable, i+1, err)
			return
		}
		previous[i+1] = s
	}

	v.current = current
	v.previous = previous
	v.logger.Info().
		Int("key_version", v.currentVer).
		Int("retired_keys", len(previous)).
		Msg("vault keys derived")
}

// CurrentVersion returns the key version used for new ciphertext.
func (v *Vault) CurrentVersion() int {
	return v.currentVer
}

func (v *Vault) sealerFor(version int) (*sealer, error) {
	if version == v.currentVer {
		return v.current, nil
	}
	s, ok := v.previous[version]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownKeyVersion, version)
	}
	return s, nil
}

// EncryptData encrypts plaintext and returns "v{N}:" followed by the base64
// nonce||ciphertext. Two calls with the same input give different output.
func (v *Vault) EncryptData(plaintext string) (string, error) {
	if err := v.Ready(); err != nil {
		return "", &EncryptionError{Op: "encrypt data", Err: err}
	}

	sealed, err := v.current.seal(nil, []byte(plaintext))
	if err != nil {
		return "", &EncryptionError{Op: "encrypt data", Err: err}
	}
	return keyVersionPrefix + strconv.Itoa(v.currentVer) + keyVersionSeparator +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptData reverses EncryptData. Input without a version prefix is
// treated as legacy data under the current key.
func (v *Vault) DecryptData(ciphertext string) (string, error) {
	if err := v.Ready(); err != nil {
		return "", &DecryptionError{Op: "decrypt data", Err: err}
	}

	version, payload, err := parseVersionedCiphertext(ciphertext)
	if err != nil {
		version, payload = v.currentVer, ciphertext
	}

	s, err := v.sealerFor(version)
	if err != nil {
		return "", &DecryptionError{Op: "decrypt data", Err: err}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", &DecryptionError{Op: "decrypt data", Err: fmt.Errorf("base64 decode: %w", err)}
	}

	plaintext, err := s.open(data)
	if err != nil {
		return "", &DecryptionError{Op: "decrypt data", Err: err}
	}
	return string(plaintext), nil
}

// EncryptBytes encrypts data as version byte || nonce || ciphertext.
func (v *Vault) EncryptBytes(data []byte) ([]byte, error) {
	return v.encryptBytes("encrypt bytes", data)
}

// DecryptBytes reverses EncryptBytes.
func (v *Vault) DecryptBytes(data []byte) ([]byte, error) {
	return v.decryptBytes("decrypt bytes", data)
}

// EncryptFile reads the file at path and returns its encrypted content.
func (v *Vault) EncryptFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &EncryptionError{Op: "encrypt file", Err: err}
	}
	return v.encryptBytes("encrypt file", data)
}

// DecryptFile decrypts the content produced by EncryptFile.
func (v *Vault) DecryptFile(data []byte) ([]byte, error) {
	return v.decryptBytes("decrypt file", data)
}

func (v *Vault) encryptBytes(op string, data []byte) ([]byte, error) {
	if err := v.Ready(); err != nil {
		return nil, &EncryptionError{Op: op, Err: err}
	}

	out, err := v.current.seal([]byte{byte(v.currentVer)}, data)
	if err != nil {
		return nil, &EncryptionError{Op: op, Err: err}
	}
	return out, nil
}

func (v *Vault) decryptBytes(op string, data []byte) ([]byte, error) {
	if err := v.Ready(); err != nil {
		return nil, &DecryptionError{Op: op, Err: err}
	}
	if len(data) < 1 {
		return nil, &DecryptionError{Op: op, Err: errCiphertextTooShort}
	}

	s, err := v.sealerFor(int(data[0]))
	if err != nil {
		return nil, &DecryptionError{Op: op, Err: err}
	}

	plaintext, err := s.open(data[1:])
	if err != nil {
		return nil, &DecryptionError{Op: op, Err: err}
	}
	return plaintext, nil
}

// NeedsReEncryption reports whether ciphertext was written under a key
// other than the current one.
func (v *Vault) NeedsReEncryption(ciphertext string) bool {
	version, _, err := parseVersionedCiphertext(ciphertext)
	if err != nil {
		return true // no version prefix = legacy data
	}
	return version != v.currentVer
}

// ReEncrypt decrypts with whichever key wrote ciphertext and encrypts again
// with the current key.
func (v *Vault) ReEncrypt(ciphertext string) (string, error) {
	plaintext, err := v.DecryptData(ciphertext)
	if err != nil {
		return "", err
	}
	return v.EncryptData(plaintext)
}

func parseVersionedCiphertext(s string) (int, string, error) {
	if !strings.HasPrefix(s, keyVersionPrefix) {
		return 0, "", fmt.Errorf("no version prefix")
	}

	idx := strings.Index(s, keyVersionSeparator)
	if idx < 0 {
		return 0, "", fmt.Errorf("no version separator")
	}

	version, err := strconv.Atoi(s[len(keyVersionPrefix):idx])
	if err != nil {
		return 0, "", fmt.Errorf("invalid version: %w", err)
	}

	return version, s[idx+1:], nil
}
