// Package crypto encrypts secrets under a user passphrase.
//
// Blob layout, base64 (standard encoding) of:
//
//	salt (16) | iv (16) | AES-256-GCM ciphertext and tag
//
// The AES key is PBKDF2-SHA256(passphrase, salt, Iterations). The iteration
// count is not stored in the blob, so a vault must be read with the count it
// was written with.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"

	"github.com/olehkaliuzhnyi/coinvault/internal/apperr"
	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize = 16
	IVSize   = 16
	KeySize  = 32

	MinIterations     = 10_000
	DefaultIterations = 100_000
)

// Encryptor is safe for concurrent use.
type Encryptor struct {
	Iterations int
}

// New returns an Encryptor, raising iterations to MinIterations if lower.
func New(iterations int) *Encryptor {
	if iterations < MinIterations {
		iterations = MinIterations
	}
	return &Encryptor{Iterations: iterations}
}

// Encrypt seals secret under passphrase with a fresh salt and IV.
func (e *Encryptor) Encrypt(secret, passphrase string) (string, error) {
	buf := make([]byte, SaltSize+IVSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	salt, iv := buf[:SaltSize], buf[SaltSize:]

	aead, err := e.aead(passphrase, salt)
	if err != nil {
		return "", err
	}
	plain := []byte(secret)
	defer clear(plain)

	return base64.StdEncoding.EncodeToString(aead.Seal(buf, iv, plain, nil)), nil
}

// Decrypt opens a blob produced by Encrypt. A wrong passphrase, malformed
// base64 or a truncated blob all fail with apperr.ErrDecryptionFailed.
func (e *Encryptor) Decrypt(blob, passphrase string) (string, error) {
	const op = "crypto.Decrypt"

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", apperr.WrapWithCode(apperr.CodeDecryptionFailed, op, fmt.Errorf("base64: %w", err))
	}
	if len(raw) < SaltSize+IVSize+1 {
		return "", apperr.New(apperr.CodeDecryptionFailed, op, "blob too short: %d bytes", len(raw))
	}
	salt, iv, ct := raw[:SaltSize], raw[SaltSize:SaltSize+IVSize], raw[SaltSize+IVSize:]

	aead, err := e.aead(passphrase, salt)
	if err != nil {
		return "", apperr.WrapWithCode(apperr.CodeDecryptionFailed, op, err)
	}
	plain, err := aead.Open(nil, iv, ct, nil)
	if err != nil {
		return "", apperr.WrapWithCode(apperr.CodeDecryptionFailed, op, err)
	}
	defer clear(plain)
	return string(plain), nil
}

func (e *Encryptor) aead(passphrase string, salt []byte) (cipher.AEAD, error) {
	iterations := e.Iterations
	if iterations < MinIterations {
		iterations = MinIterations
	}
	key := pbkdf2.Key([]byte(passphrase), salt, iterations, KeySize, sha256.New)
	defer clear(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return aead, nil
}
