// Package crypto provides field-level envelope encryption for sensitive
// string columns (email addresses, transcripts, summaries, callback URLs).
//
// A single master key, derived from the ENCRYPTION_KEY passphrase via
// PBKDF2-HMAC-SHA256 with a fixed application-wide salt, wraps every field
// directly with AES-256-GCM. There is no per-record DEK: the sensitive set
// is small strings, not large objects, so a single KEK-as-encryption-key is
// sufficient and matches the original implementation's Fernet-based scheme.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	crand "crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
	"crypto/sha256"
)

// fixedSalt matches the original Python implementation's PBKDF2 salt so
// ciphertext produced by either implementation derives the same key from
// the same passphrase. It is not a secret; PBKDF2's purpose here is key
// stretching, not salting against rainbow tables across installations.
var fixedSalt = []byte("pailflow_salt_2025")

const (
	pbkdf2Iterations = 100_000
	keyLenBytes      = 32 // AES-256
)

// cipherPrefix tags ciphertext produced by Field so Decrypt can distinguish
// it from legacy plaintext (I1: decryption failure on non-ciphertext input
// must fall back to treating the value as plaintext, never error out).
const cipherPrefix = "enc:v1:"

// Field wraps/unwraps individual string values with AES-256-GCM, keyed by a
// passphrase-derived master key.
type Field struct {
	key []byte
}

// NewField derives the AES-256 key from passphrase via PBKDF2-HMAC-SHA256.
func NewField(passphrase string) (*Field, error) {
	if len(passphrase) < 32 {
		return nil, errors.New("crypto: master passphrase must be at least 32 characters")
	}
	key := pbkdf2.Key([]byte(passphrase), fixedSalt, pbkdf2Iterations, keyLenBytes, sha256.New)
	return &Field{key: key}, nil
}

// Encrypt seals plaintext and returns a tagged, base64-encoded ciphertext
// string safe to store directly in a text column.
func (f *Field) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	block, err := aes.NewCipher(f.key)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := crand.Read(nonce); err != nil {
		return "", fmt.Errorf("crypto: generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return cipherPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value previously produced by Encrypt. Per I1, if the
// value was never encrypted (no cipherPrefix, or malformed ciphertext), it
// is returned unchanged rather than erroring — this preserves backward
// compatibility with rows written before encryption was enabled.
func (f *Field) Decrypt(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if len(value) < len(cipherPrefix) || value[:len(cipherPrefix)] != cipherPrefix {
		return value, nil
	}
	encoded := value[len(cipherPrefix):]
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return value, nil
	}

	block, err := aes.NewCipher(f.key)
	if err != nil {
		return "", fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("crypto: new gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(sealed) < nonceSize {
		return value, nil
	}
	nonce, ct := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		// Ciphertext doesn't open under this key: treat as opaque plaintext
		// rather than failing the read (I1).
		return value, nil
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether value carries the Field ciphertext tag.
func IsEncrypted(value string) bool {
	return len(value) >= len(cipherPrefix) && value[:len(cipherPrefix)] == cipherPrefix
}

// SensitiveFields lists the fixed set of columns subject to field-level
// encryption (I6). Any future addition to this set is a schema migration,
// not a runtime configuration option.
var SensitiveFields = []string{
	"email",
	"email_results_to",
	"webhook_callback_url",
	"transcript_text",
	"candidate_summary",
}
