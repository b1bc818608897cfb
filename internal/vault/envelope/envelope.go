// Package envelope derives the vault key from the master secret and seals the
// serialized secret map with an AEAD cipher.
package envelope

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	dErrors "steward/pkg/domain-errors"
)

const (
	// Iterations is the PBKDF2 work factor.
	Iterations = 100_000
	// KeySize is the derived key length in bytes.
	KeySize = chacha20poly1305.KeySize
	// SaltSize is the length of a generated per-vault salt.
	SaltSize = 16
)

// LegacySalt is the fixed application salt earlier deployments derived their
// key with. New vaults use NewSalt; this exists only so those blobs stay readable.
var LegacySalt = []byte("origin_vault_salt")

// Engine seals and opens vault blobs with a key derived from the master secret.
type Engine struct {
	aead cipher.AEAD
}

// DeriveKey runs PBKDF2-HMAC-SHA256 over masterSecret and salt.
func DeriveKey(masterSecret, salt []byte) []byte {
	return pbkdf2.Key(masterSecret, salt, Iterations, KeySize, sha256.New)
}

// NewSalt returns a random per-vault salt.
func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	return salt, nil
}

// New derives the vault key and prepares the cipher. An empty master secret
// or salt is rejected; no key is ever generated implicitly.
func New(masterSecret, salt []byte) (*Engine, error) {
	if len(masterSecret) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "master secret is required")
	}
	if len(salt) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "salt is required")
	}
	return NewWithKey(DeriveKey(masterSecret, salt))
}

// NewWithKey prepares the cipher from an already derived key.
func NewWithKey(key []byte) (*Engine, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid cipher key")
	}
	return &Engine{aead: aead}, nil
}

// Seal encrypts plaintext bound to aad. The output is nonce || ciphertext || tag.
func (e *Engine) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return e.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts a Seal output. Any tag mismatch, truncation,
// wrong key or wrong aad yields a decryption error, never partial plaintext.
func (e *Engine) Open(sealed, aad []byte) ([]byte, error) {
	ns := e.aead.NonceSize()
	if len(sealed) < ns+e.aead.Overhead() {
		return nil, dErrors.New(dErrors.CodeDecryption, "ciphertext too short")
	}
	plaintext, err := e.aead.Open(nil, sealed[:ns], sealed[ns:], aad)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeDecryption, "ciphertext authentication failed")
	}
	return plaintext, nil
}
