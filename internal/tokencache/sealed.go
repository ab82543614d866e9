package tokencache

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// ErrSealBroken is returned when a stored value cannot be opened with
// the configured passphrase.
var ErrSealBroken = errors.New("tokencache: sealed value cannot be opened")

// defaultSalt scopes derived keys to this application; callers that
// share a passphrase across installations should pass their own.
var defaultSalt = []byte("control-gestion/tokencache/v1")

// Sealed encrypts values before handing them to the wrapped Cache.
// Each value is bound to its key so entries cannot be swapped.
type Sealed struct {
	inner Cache
	key   []byte
}

// NewSealed derives a key from passphrase with argon2id.
func NewSealed(inner Cache, passphrase string, salt []byte) (*Sealed, error) {
	if inner == nil {
		return nil, errors.New("tokencache: inner cache is required")
	}
	if passphrase == "" {
		return nil, errors.New("tokencache: passphrase is required")
	}
	if len(salt) == 0 {
		salt = defaultSalt
	}
	const (
		memory      = 64 * 1024
		iterations  = 2
		parallelism = 1
	)
	key := argon2.IDKey([]byte(passphrase), salt, iterations, memory, parallelism, chacha20poly1305.KeySize)
	return &Sealed{inner: inner, key: key}, nil
}

func (s *Sealed) Get(ctx context.Context, key string) (string, bool, error) {
	raw, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	plain, err := s.open(key, raw)
	if err != nil {
		return "", false, err
	}
	return plain, true, nil
}

func (s *Sealed) Set(ctx context.Context, key, value string) error {
	sealed, err := s.seal(key, value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, sealed)
}

func (s *Sealed) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}

func (s *Sealed) seal(key, value string) (string, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(value)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := aead.Seal(nonce, nonce, []byte(value), []byte(key))
	return base64.RawStdEncoding.EncodeToString(out), nil
}

func (s *Sealed) open(key, raw string) (string, error) {
	data, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil {
		return "", ErrSealBroken
	}
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	if len(data) < aead.NonceSize() {
		return "", ErrSealBroken
	}
	nonce, ciphertext := data[:aead.NonceSize()], data[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, []byte(key))
	if err != nil {
		return "", ErrSealBroken
	}
	return string(plain), nil
}
