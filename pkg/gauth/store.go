package gauth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/rangen/geminigw/pkg/errx"
	"github.com/rangen/geminigw/pkg/logx"
)

// TokenCache is an optional shared cache for platform bearer tokens, so a
// fleet of processes can avoid independently exchanging the same service
// account for a token. See pkg/credcache/credcacheredis for a Redis-backed
// implementation and pkg/credcache for a process-local one.
type TokenCache interface {
	Get(ctx context.Context, backend Backend) (Token, bool, error)
	Set(ctx context.Context, backend Backend, token Token) error
}

// PlatformSource describes where platform credentials come from, in
// resolution-precedence order: a pre-obtained static token bypasses JWT
// exchange entirely; otherwise a service-account key (file path or inline
// JSON) is signed and exchanged.
type PlatformSource struct {
	StaticToken        string
	ServiceAccountKey  string // path to a JSON key file
	ServiceAccountData string // inline JSON key material
}

// PlatformCredentials is the resolved, immutable configuration for the
// platform backend. Only the bearer token mutates, and only inside Store.
type PlatformCredentials struct {
	ProjectID string
	Location  string
	Source    PlatformSource
}

// credentialEntry holds the cached token for one backend behind its own
// lock; the single-flight group coordinating refreshes lives on Store.
type credentialEntry struct {
	mu    sync.RWMutex
	token Token
}

// Store resolves and caches credentials for both backends. Refresh of the
// platform bearer token is single-flight: concurrent callers that observe a
// stale token collapse into one exchange and share its result.
type Store struct {
	apiKey   string
	platform PlatformCredentials
	sa       *ServiceAccount

	safetyMargin time.Duration
	exchanger    *Exchanger
	cache        TokenCache

	entries sync.Map // Backend -> *credentialEntry
	group   singleflight.Group

	now func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithTokenCache installs a shared TokenCache consulted before exchanging a
// new platform token and updated after every successful exchange.
func WithTokenCache(cache TokenCache) StoreOption {
	return func(s *Store) { s.cache = cache }
}

// WithExchanger overrides the Exchanger used for the jwt-bearer grant.
// Exposed for tests that want to point at a fake token endpoint.
func WithExchanger(e *Exchanger) StoreOption {
	return func(s *Store) { s.exchanger = e }
}

// withClock overrides the store's notion of "now". Test-only.
func withClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore builds a credential store. apiKey may be empty if the direct
// backend is not configured; platform may be its zero value if the platform
// backend is not configured. sa is the parsed service account key used to
// sign exchange assertions, or nil if platform auth uses a static token.
func NewStore(apiKey string, platform PlatformCredentials, sa *ServiceAccount, safetyMargin time.Duration, opts ...StoreOption) *Store {
	s := &Store{
		apiKey:       apiKey,
		platform:     platform,
		sa:           sa,
		safetyMargin: safetyMargin,
		exchanger:    NewExchanger(nil),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HasDirect reports whether the direct backend has a configured API key.
func (s *Store) HasDirect() bool { return s.apiKey != "" }

// HasPlatform reports whether the platform backend has any credential source.
func (s *Store) HasPlatform() bool {
	src := s.platform.Source
	return src.StaticToken != "" || src.ServiceAccountKey != "" || src.ServiceAccountData != ""
}

// DirectAPIKey returns the configured API key for the direct backend.
func (s *Store) DirectAPIKey() (string, *errx.Error) {
	if s.apiKey == "" {
		return "", errorRegistry.New(ErrNoCredentials).WithDetail("backend", Direct.String())
	}
	return s.apiKey, nil
}

// PlatformProjectLocation returns the project/location pair configured for
// the platform backend.
func (s *Store) PlatformProjectLocation() (projectID, location string, err *errx.Error) {
	if s.platform.ProjectID == "" || s.platform.Location == "" {
		return "", "", errorRegistry.New(ErrNoCredentials).
			WithDetail("backend", Platform.String()).
			WithDetail("reason", "missing project_id or location")
	}
	return s.platform.ProjectID, s.platform.Location, nil
}

// BearerToken returns a valid platform bearer token, refreshing it if it is
// within safetyMargin of expiry. Refresh is single-flight per backend.
func (s *Store) BearerToken(ctx context.Context) (string, *errx.Error) {
	if !s.HasPlatform() {
		return "", errorRegistry.New(ErrNoCredentials).WithDetail("backend", Platform.String())
	}

	if src := s.platform.Source; src.StaticToken != "" {
		return src.StaticToken, nil
	}

	if tok, ok := s.cachedToken(); ok {
		return tok.AccessToken, nil
	}

	v, err, _ := s.group.Do(Platform.String(), func() (any, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return "", WrapError(err, ErrTokenExchangeFailed)
	}
	return v.(Token).AccessToken, nil
}

// cachedToken returns the currently cached token if it is still valid
// beyond the safety margin, consulting the shared TokenCache if installed
// and the in-process cache came up empty.
func (s *Store) cachedToken() (Token, bool) {
	entry := s.entry()

	entry.mu.RLock()
	tok := entry.token
	entry.mu.RUnlock()

	if s.valid(tok) {
		return tok, true
	}

	if s.cache != nil {
		if shared, ok, err := s.cache.Get(context.Background(), Platform); err == nil && ok && s.valid(shared) {
			entry.mu.Lock()
			entry.token = shared
			entry.mu.Unlock()
			return shared, true
		}
	}

	return Token{}, false
}

func (s *Store) valid(tok Token) bool {
	if tok.AccessToken == "" {
		return false
	}
	return tok.ExpiresAt.After(s.now().Add(s.safetyMargin))
}

func (s *Store) refresh(ctx context.Context) (Token, error) {
	// Another goroutine may have refreshed while we waited to enter the
	// single-flight section; re-check before issuing a new assertion.
	if tok, ok := s.cachedToken(); ok {
		return tok, nil
	}

	if s.sa == nil {
		return Token{}, errorRegistry.New(ErrNoCredentials).
			WithDetail("backend", Platform.String()).
			WithDetail("reason", "no service account configured and no static token")
	}

	now := s.now()
	assertion, aerr := SignExchangeAssertion(*s.sa, now)
	if aerr != nil {
		return Token{}, aerr
	}

	tok, eerr := s.exchanger.Exchange(ctx, assertion, s.sa.TokenURI, CloudPlatformScope, now)
	if eerr != nil {
		return Token{}, eerr
	}

	entry := s.entry()
	entry.mu.Lock()
	entry.token = tok
	entry.mu.Unlock()

	if s.cache != nil {
		if err := s.cache.Set(context.Background(), Platform, tok); err != nil {
			logx.WithError(err).Warn("gauth: failed to persist refreshed token to shared cache")
		}
	}

	return tok, nil
}

func (s *Store) entry() *credentialEntry {
	v, _ := s.entries.LoadOrStore(Platform, &credentialEntry{})
	return v.(*credentialEntry)
}
