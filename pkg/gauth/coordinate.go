package gauth

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rangen/geminigw/pkg/errx"
)

// Endpoint is one of the three Gemini content endpoints a model name is
// combined with to build a request path.
type Endpoint string

const (
	EndpointGenerateContent       Endpoint = "generateContent"
	EndpointStreamGenerateContent Endpoint = "streamGenerateContent"
	EndpointCountTokens           Endpoint = "countTokens"
)

const (
	directHost   = "generativelanguage.googleapis.com"
	platformHost = "aiplatform.googleapis.com"
)

// RequestOptions carries per-request overrides consulted by Coordinate.
// Its zero value applies no overrides.
type RequestOptions struct {
	Model string
}

// Authorization is the result of coordinating a request: the headers to
// send and the absolute URL to send them to.
type Authorization struct {
	URL     string
	Headers http.Header
}

// routingStrategy dispatches the per-backend header and URL-building rules.
// Avoid inheritance; one small interface, one concrete type per backend.
type routingStrategy interface {
	Headers(ctx context.Context, store *Store) (http.Header, *errx.Error)
	BuildURL(store *Store, model string, endpoint Endpoint, stream bool) (string, *errx.Error)
	ListURL(store *Store, pageToken string) (string, *errx.Error)
}

// Coordinator selects a backend's routing strategy and produces an
// Authorization for a logical operation. It is pure in (backend, store
// snapshot, request options): given the same inputs it always returns the
// same URL and header shape (modulo the token store's own refresh).
type Coordinator struct {
	store      *Store
	strategies map[Backend]routingStrategy
}

// NewCoordinator builds a Coordinator backed by store.
func NewCoordinator(store *Store) *Coordinator {
	return &Coordinator{
		store: store,
		strategies: map[Backend]routingStrategy{
			Direct:   directStrategy{},
			Platform: platformStrategy{},
		},
	}
}

// Coordinate resolves headers and an absolute URL for backend/model/endpoint.
func (c *Coordinator) Coordinate(ctx context.Context, backend Backend, endpoint Endpoint, opts RequestOptions, stream bool) (Authorization, *errx.Error) {
	strategy, ok := c.strategies[backend]
	if !ok {
		return Authorization{}, errorRegistry.New(ErrUnknownBackend).WithDetail("backend", int(backend))
	}

	model := normalizeModel(opts.Model)

	headers, err := strategy.Headers(ctx, c.store)
	if err != nil {
		return Authorization{}, err
	}

	url, err := strategy.BuildURL(c.store, model, endpoint, stream)
	if err != nil {
		return Authorization{}, err
	}

	return Authorization{URL: url, Headers: headers}, nil
}

// CoordinateList resolves headers and an absolute URL for a models-listing
// call, which carries no model name or endpoint suffix. pageToken, if
// non-empty, is forwarded as a query parameter to request the next page of
// a previous ModelsPage.NextPageToken.
func (c *Coordinator) CoordinateList(ctx context.Context, backend Backend, pageToken string) (Authorization, *errx.Error) {
	strategy, ok := c.strategies[backend]
	if !ok {
		return Authorization{}, errorRegistry.New(ErrUnknownBackend).WithDetail("backend", int(backend))
	}

	headers, err := strategy.Headers(ctx, c.store)
	if err != nil {
		return Authorization{}, err
	}

	url, err := strategy.ListURL(c.store, pageToken)
	if err != nil {
		return Authorization{}, err
	}

	return Authorization{URL: url, Headers: headers}, nil
}

// normalizeModel strips a leading "models/" prefix, if present, so callers
// may pass either "gemini-2.0-flash" or "models/gemini-2.0-flash".
func normalizeModel(model string) string {
	return strings.TrimPrefix(model, "models/")
}

// directStrategy implements the API-key backend.
type directStrategy struct{}

func (directStrategy) Headers(_ context.Context, store *Store) (http.Header, *errx.Error) {
	key, err := store.DirectAPIKey()
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("x-goog-api-key", key)
	return h, nil
}

func (directStrategy) BuildURL(_ *Store, model string, endpoint Endpoint, stream bool) (string, *errx.Error) {
	url := fmt.Sprintf("https://%s/v1beta/models/%s:%s", directHost, model, endpoint)
	if stream {
		url += "?alt=sse"
	}
	return url, nil
}

func (directStrategy) ListURL(_ *Store, pageToken string) (string, *errx.Error) {
	listURL := fmt.Sprintf("https://%s/v1beta/models", directHost)
	if pageToken != "" {
		listURL += "?pageToken=" + url.QueryEscape(pageToken)
	}
	return listURL, nil
}

// platformStrategy implements the service-account/Vertex AI backend.
type platformStrategy struct{}

func (platformStrategy) Headers(ctx context.Context, store *Store) (http.Header, *errx.Error) {
	token, err := store.BearerToken(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Authorization", "Bearer "+token)
	return h, nil
}

func (platformStrategy) BuildURL(store *Store, model string, endpoint Endpoint, stream bool) (string, *errx.Error) {
	project, location, err := store.PlatformProjectLocation()
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf(
		"https://%s-%s/v1/projects/%s/locations/%s/publishers/google/models/%s:%s",
		location, platformHost, project, location, model, endpoint,
	)
	if stream {
		url += "?alt=sse"
	}
	return url, nil
}

func (platformStrategy) ListURL(store *Store, pageToken string) (string, *errx.Error) {
	project, location, err := store.PlatformProjectLocation()
	if err != nil {
		return "", err
	}
	listURL := fmt.Sprintf(
		"https://%s-%s/v1/projects/%s/locations/%s/publishers/google/models",
		location, platformHost, project, location,
	)
	if pageToken != "" {
		listURL += "?pageToken=" + url.QueryEscape(pageToken)
	}
	return listURL, nil
}
