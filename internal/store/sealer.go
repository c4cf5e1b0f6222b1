// ABOUTME: At-rest sealing of workspace bot tokens with NaCl secretbox
// ABOUTME: Keys are derived from the configured secret with HKDF-SHA256

package store

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
)

// sealedPrefix marks values produced by Seal. Values without it are plaintext.
const sealedPrefix = "sb1:"

// ErrUnseal is returned when a sealed value cannot be opened with the configured key.
var ErrUnseal = errors.New("cannot unseal value")

// TokenSealer encrypts secrets before they are written to the database.
// A sealer built from an empty secret passes values through unchanged.
type TokenSealer struct {
	key *[32]byte
}

// NewTokenSealer derives a sealing key from secret.
func NewTokenSealer(secret string) *TokenSealer {
	if secret == "" {
		return &TokenSealer{}
	}

	var key [32]byte
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("slack-pulse bot token"))
	if _, err := io.ReadFull(kdf, key[:]); err != nil {
		// HKDF-SHA256 can always produce 32 bytes.
		panic(fmt.Sprintf("deriving sealing key: %v", err))
	}
	return &TokenSealer{key: &key}
}

// Enabled reports whether values are actually encrypted.
func (s *TokenSealer) Enabled() bool {
	return s.key != nil
}

// Seal encrypts plaintext. Empty input stays empty.
func (s *TokenSealer) Seal(plaintext string) (string, error) {
	if s.key == nil || plaintext == "" {
		return plaintext, nil
	}

	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, s.key)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(box), nil
}

// Open decrypts a value produced by Seal. Plaintext values are returned as-is
// so rows written before a key was configured remain readable.
func (s *TokenSealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if s.key == nil {
		return "", fmt.Errorf("%w: no encryption key configured", ErrUnseal)
	}

	box, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnseal, err)
	}
	if len(box) < 24 {
		return "", fmt.Errorf("%w: value too short", ErrUnseal)
	}

	var nonce [24]byte
	copy(nonce[:], box[:24])
	plain, ok := secretbox.Open(nil, box[24:], &nonce, s.key)
	if !ok {
		return "", ErrUnseal
	}
	return string(plain), nil
}
