// Package auth checks bearer API keys against a bcrypt hash.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrMissingAPIKey = errors.New("missing authorization header")
	ErrInvalidAPIKey = errors.New("invalid API key")
)

// DefaultCacheTTL bounds how long a verified key skips bcrypt.
const DefaultCacheTTL = 30 * time.Second

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingAPIKey
	}
	// RFC 6750: the "Bearer" scheme is case-insensitive.
	if len(header) <= 7 || !strings.EqualFold(header[:7], "bearer ") {
		return "", ErrInvalidAPIKey
	}
	token := strings.TrimSpace(header[7:])
	if token == "" {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// Config configures an Authenticator.
type Config struct {
	APIKeyHash string
	CacheTTL   time.Duration
	Logger     *zap.Logger
}

// Authenticator verifies API keys. Verified keys are cached so the bcrypt
// comparison runs at most once per key per TTL; rejected keys are never cached.
type Authenticator struct {
	hash    []byte
	cache   *Cache
	compare func(hash, key []byte) error
	logger  *zap.Logger
}

// New returns an Authenticator for cfg.APIKeyHash, which must be a bcrypt hash.
func New(cfg Config) (*Authenticator, error) {
	if _, err := bcrypt.Cost([]byte(cfg.APIKeyHash)); err != nil {
		return nil, fmt.Errorf("auth.New: api key hash: %w", err)
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authenticator{
		hash:    []byte(cfg.APIKeyHash),
		cache:   NewCache(ttl),
		compare: bcrypt.CompareHashAndPassword,
		logger:  logger,
	}, nil
}

// Authenticate validates the Authorization header value.
func (a *Authenticator) Authenticate(header string) error {
	key, err := BearerToken(header)
	if err != nil {
		return err
	}
	if a.cache.Valid(key) {
		return nil
	}
	if err := a.compare(a.hash, []byte(key)); err != nil {
		a.logger.Debug("api key rejected")
		return ErrInvalidAPIKey
	}
	a.cache.Set(key)
	return nil
}

// HashKey returns the bcrypt hash of key, for use as server.api_key_hash.
func HashKey(key string, cost int) (string, error) {
	if key == "" {
		return "", ErrMissingAPIKey
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	h, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", fmt.Errorf("HashKey: %w", err)
	}
	return string(h), nil
}
