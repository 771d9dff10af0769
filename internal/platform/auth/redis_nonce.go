package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisNonceStore backs replay prevention with Redis so the check holds
// across API instances. SET NX with a TTL is the whole protocol: the first
// writer wins, replays see the existing key.
type RedisNonceStore struct {
	client    redis.UniversalClient
	keyPrefix string
	clock     func() time.Time
}

// RedisNonceOption customises the store.
type RedisNonceOption func(*RedisNonceStore)

// WithRedisNonceKeyPrefix overrides the key namespace (default "nonce").
func WithRedisNonceKeyPrefix(prefix string) RedisNonceOption {
	return func(s *RedisNonceStore) {
		if prefix != "" {
			s.keyPrefix = prefix
		}
	}
}

// WithRedisNonceClock injects a clock for tests.
func WithRedisNonceClock(now func() time.Time) RedisNonceOption {
	return func(s *RedisNonceStore) {
		if now != nil {
			s.clock = now
		}
	}
}

// NewRedisNonceStore constructs the store around an existing client.
func NewRedisNonceStore(client redis.UniversalClient, opts ...RedisNonceOption) (*RedisNonceStore, error) {
	if client == nil {
		return nil, errors.New("auth: redis client is required")
	}
	store := &RedisNonceStore{
		client:    client,
		keyPrefix: "nonce",
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// UseNonce records the nonce until the provided expiry, rejecting replays until then.
func (s *RedisNonceStore) UseNonce(ctx context.Context, scope, nonce string, expiry time.Time) (bool, error) {
	if scope == "" || nonce == "" {
		return false, errors.New("auth: scope and nonce are required")
	}

	ttl := expiry.Sub(s.clock())
	if ttl <= 0 {
		return false, errors.New("auth: nonce expiry is in the past")
	}

	key := fmt.Sprintf("%s:%s:%s", s.keyPrefix, scope, nonce)
	stored, err := s.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("auth: redis nonce store: %w", err)
	}
	return stored, nil
}
