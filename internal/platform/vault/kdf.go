package vault

import (
	"crypto/sha256"

	"golang.org/x/crypto/pbkdf2"
)

// KeySize is the length in bytes of every derived key (AES-256).
const KeySize = 32

// DefaultIterations is the PBKDF2 work factor used when none is configured.
const DefaultIterations = 100000

// DeriveKey stretches a passphrase into a KeySize-byte key with
// PBKDF2-HMAC-SHA256. The same passphrase, salt and iteration count always
// produce the same key.
func DeriveKey(passphrase string, salt []byte, iterations int) []byte {
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	return pbkdf2.Key([]byte(passphrase), salt, iterations, KeySize, sha256.New)
}
