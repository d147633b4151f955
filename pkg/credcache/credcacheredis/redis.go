// Package credcacheredis backs gauth.TokenCache with Redis, so a fleet of
// geminigw processes shares one Platform token exchange instead of each
// process hitting the token endpoint on its own.
package credcacheredis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rangen/geminigw/pkg/gauth"
)

// Cache implements gauth.TokenCache backed by a *redis.Client.
type Cache struct {
	rdb    *redis.Client
	prefix string
}

// New builds a Cache. prefix namespaces keys when a Redis instance is
// shared across unrelated services; it defaults to "geminigw" when empty.
func New(rdb *redis.Client, prefix string) *Cache {
	if prefix == "" {
		prefix = "geminigw"
	}
	return &Cache{rdb: rdb, prefix: prefix}
}

func (c *Cache) key(backend gauth.Backend) string {
	return fmt.Sprintf("%s:credcache:%s", c.prefix, backend.String())
}

type cachedToken struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Get implements gauth.TokenCache.
func (c *Cache) Get(ctx context.Context, backend gauth.Backend) (gauth.Token, bool, error) {
	data, err := c.rdb.Get(ctx, c.key(backend)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return gauth.Token{}, false, nil
		}
		return gauth.Token{}, false, redisErrors.NewWithCause(ErrGet, err).WithDetail("backend", backend.String())
	}

	var ct cachedToken
	if err := json.Unmarshal(data, &ct); err != nil {
		return gauth.Token{}, false, redisErrors.NewWithCause(ErrUnmarshal, err).WithDetail("backend", backend.String())
	}

	return gauth.Token{AccessToken: ct.AccessToken, ExpiresAt: ct.ExpiresAt}, true, nil
}

// Set implements gauth.TokenCache. The key is given a TTL slightly past the
// token's own expiry so Redis reclaims it on its own even if nothing ever
// overwrites it, without racing the Store's own safety-margin check.
func (c *Cache) Set(ctx context.Context, backend gauth.Backend, token gauth.Token) error {
	data, err := json.Marshal(cachedToken{AccessToken: token.AccessToken, ExpiresAt: token.ExpiresAt})
	if err != nil {
		return redisErrors.NewWithCause(ErrMarshal, err).WithDetail("backend", backend.String())
	}

	ttl := time.Until(token.ExpiresAt) + time.Minute
	if ttl <= 0 {
		ttl = time.Minute
	}

	if err := c.rdb.Set(ctx, c.key(backend), data, ttl).Err(); err != nil {
		return redisErrors.NewWithCause(ErrSet, err).WithDetail("backend", backend.String())
	}

	return nil
}
