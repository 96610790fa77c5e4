package store

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

const sealedPrefix = "sealed:v1:"

var ErrUnseal = errors.New("unable to unseal value")

// Sealer encrypts short secrets (API keys, signing secrets) before they are
// written to the KV store. A Sealer built from an empty key is a no-op.
type Sealer struct {
	key     [32]byte
	enabled bool
}

func NewSealer(secret string) *Sealer {
	if secret == "" {
		return &Sealer{}
	}
	return &Sealer{key: sha256.Sum256([]byte(secret)), enabled: true}
}

// Seal returns the sealed form of plaintext. Empty input stays empty.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if s == nil || !s.enabled || plaintext == "" || strings.HasPrefix(plaintext, sealedPrefix) {
		return plaintext, nil
	}
	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	box := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &s.key)
	return sealedPrefix + base64.RawStdEncoding.EncodeToString(box), nil
}

// Open reverses Seal. Values without the sealed prefix are returned as-is
// so that plaintext written before a key was configured still loads.
func (s *Sealer) Open(value string) (string, error) {
	if !strings.HasPrefix(value, sealedPrefix) {
		return value, nil
	}
	if s == nil || !s.enabled {
		return "", fmt.Errorf("%w: no secret key configured", ErrUnseal)
	}
	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimPrefix(value, sealedPrefix))
	if err != nil || len(raw) < 24 {
		return "", ErrUnseal
	}
	var nonce [24]byte
	copy(nonce[:], raw[:24])
	out, ok := secretbox.Open(nil, raw[24:], &nonce, &s.key)
	if !ok {
		return "", ErrUnseal
	}
	return string(out), nil
}
