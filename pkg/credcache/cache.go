// Package credcache holds a process-local implementation of
// gauth.TokenCache; the shared, Redis-backed one for fleets of processes
// that would otherwise each exchange the same service account for a bearer
// token is in the credcacheredis subpackage. Wiring a cache is optional;
// pkg/gauth works standalone.
package credcache

import (
	"context"
	"sync"

	"github.com/rangen/geminigw/pkg/gauth"
)

// InMemory is a process-local gauth.TokenCache, useful in tests and in
// single-process deployments that still want the Store's cache-consult
// code path exercised without standing up Redis.
type InMemory struct {
	mu     sync.RWMutex
	tokens map[gauth.Backend]gauth.Token
}

// NewInMemory builds an empty InMemory cache.
func NewInMemory() *InMemory {
	return &InMemory{tokens: make(map[gauth.Backend]gauth.Token)}
}

// Get implements gauth.TokenCache.
func (c *InMemory) Get(_ context.Context, backend gauth.Backend) (gauth.Token, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tok, ok := c.tokens[backend]
	return tok, ok, nil
}

// Set implements gauth.TokenCache.
func (c *InMemory) Set(_ context.Context, backend gauth.Backend, token gauth.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[backend] = token
	return nil
}
