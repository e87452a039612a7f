package cache

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/argon2"

	"github.com/charlesng35/liveclass/pkg/logger"
)

const (
	sealSaltLength = 16
	sealKeyLength  = 32

	argonTime    = 2
	argonMemory  = 19 * 1024
	argonThreads = 1
)

// SealedStore encrypts values before they reach the wrapped store. Counters pass through in the
// clear since they carry no credentials. An entry that no longer opens, for example after the
// key was rotated, reads as a miss.
type SealedStore struct {
	inner Store
	aead  cipher.AEAD
	log   *zap.Logger
}

// NewSealedStore derives an AES-256-GCM key from secret with Argon2id and wraps inner.
func NewSealedStore(inner Store, secret []byte) (*SealedStore, error) {
	if inner == nil {
		return nil, errors.New("cache: sealed store needs a backing store")
	}
	if len(secret) == 0 {
		return nil, errors.New("cache: sealing secret is required")
	}

	salt := sha256.Sum256(secret)
	key := argon2.IDKey(secret, salt[:sealSaltLength], argonTime, argonMemory, argonThreads, sealKeyLength)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cache: sealing cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cache: sealing cipher: %w", err)
	}

	return &SealedStore{inner: inner, aead: aead, log: logger.WithModule("cache")}, nil
}

// IncrementWithTTL implements Store.
func (s *SealedStore) IncrementWithTTL(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	return s.inner.IncrementWithTTL(ctx, key, window)
}

// Set implements Store.
func (s *SealedStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	sealed, err := s.seal(value)
	if err != nil {
		return err
	}
	return s.inner.Set(ctx, key, sealed, ttl)
}

// Get implements Store.
func (s *SealedStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, ok, err := s.inner.Get(ctx, key)
	if err != nil || !ok {
		return nil, false, err
	}
	plain, err := s.open(value)
	if err != nil {
		s.log.Debug("discarding unreadable cache entry", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	return plain, true, nil
}

// Delete implements Store.
func (s *SealedStore) Delete(ctx context.Context, keys ...string) error {
	return s.inner.Delete(ctx, keys...)
}

// PurgeExpired forwards to the backing store when it supports purging.
func (s *SealedStore) PurgeExpired(ctx context.Context) (int64, error) {
	if purger, ok := s.inner.(interface {
		PurgeExpired(ctx context.Context) (int64, error)
	}); ok {
		return purger.PurgeExpired(ctx)
	}
	return 0, nil
}

func (s *SealedStore) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("cache: seal: %w", err)
	}
	ciphertext := s.aead.Seal(nonce, nonce, plaintext, nil)
	out := make([]byte, base64.StdEncoding.EncodedLen(len(ciphertext)))
	base64.StdEncoding.Encode(out, ciphertext)
	return out, nil
}

func (s *SealedStore) open(value []byte) ([]byte, error) {
	data := make([]byte, base64.StdEncoding.DecodedLen(len(value)))
	n, err := base64.StdEncoding.Decode(data, value)
	if err != nil {
		return nil, err
	}
	data = data[:n]

	nonceSize := s.aead.NonceSize()
	if len(data) < nonceSize {
		return nil, errors.New("ciphertext too short")
	}
	return s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
}
