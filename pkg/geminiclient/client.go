// Package geminiclient is the request coordinator (H2): the single
// front-door that builds request bodies, picks a backend, and routes to
// the unary HTTP transport or the streaming manager.
package geminiclient

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rangen/geminigw/pkg/config"
	"github.com/rangen/geminigw/pkg/errx"
	"github.com/rangen/geminigw/pkg/gauth"
	"github.com/rangen/geminigw/pkg/geminitelemetry"
	"github.com/rangen/geminigw/pkg/geminitelemetry/promsink"
	"github.com/rangen/geminigw/pkg/gstream"
	"github.com/rangen/geminigw/pkg/gtransport"
)

// Client composes the auth coordinator, unary transport, and streaming
// manager behind the four logical Gemini operations.
type Client struct {
	coordinator *gauth.Coordinator
	transport   *gtransport.Transport
	streams     *gstream.Manager

	defaultModel string

	configuredDefault *gauth.Backend
	hasDirect         bool
	hasPlatform       bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDefaultBackend pins the client's default backend (the "process
// configuration" tier of the discovery order), overriding the
// environment-presence fallback but not a per-call Options.Backend.
func WithDefaultBackend(b gauth.Backend) ClientOption {
	return func(c *Client) { c.configuredDefault = &b }
}

// New builds a Client. cfg supplies the default model and the
// environment-presence signals used when neither a per-call override nor a
// configured default backend is set.
func New(coordinator *gauth.Coordinator, transport *gtransport.Transport, streams *gstream.Manager, cfg config.GeminiConfig, opts ...ClientOption) *Client {
	c := &Client{
		coordinator:  coordinator,
		transport:    transport,
		streams:      streams,
		defaultModel: cfg.DefaultModel,
		hasDirect:    cfg.HasDirectCredentials(),
		hasPlatform:  cfg.HasPlatformCredentials(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig is the composition root: it builds the credential store,
// auth coordinator, unary and SSE transports, and streaming manager from a
// single GeminiConfig snapshot, applying every §6 option that has a runtime
// effect (timeout_ms, max_retries, telemetry_enabled, max_streams,
// stream_cleanup_delay_ms, the token safety margin) instead of leaving them
// inert on the config struct.
func NewFromConfig(cfg config.GeminiConfig, opts ...ClientOption) (*Client, *errx.Error) {
	sa, err := gauth.LoadServiceAccount(cfg.ServiceAccountKey, cfg.ServiceAccountData)
	if err != nil {
		return nil, err
	}

	store := gauth.NewStore(cfg.APIKey, gauth.PlatformCredentials{
		ProjectID: cfg.ProjectID,
		Location:  cfg.Location,
		Source: gauth.PlatformSource{
			StaticToken:        cfg.AccessToken,
			ServiceAccountKey:  cfg.ServiceAccountKey,
			ServiceAccountData: cfg.ServiceAccountData,
		},
	}, sa, cfg.SafetyMargin())
	coordinator := gauth.NewCoordinator(store)

	var telemetry geminitelemetry.Emitter = geminitelemetry.Noop{}
	if cfg.TelemetryEnabled {
		telemetry = promsink.New(prometheus.DefaultRegisterer)
	}

	retryPolicy := gtransport.DefaultRetryPolicy()
	if cfg.MaxRetries > 0 {
		retryPolicy.MaxAttempts = cfg.MaxRetries
	}

	transport := gtransport.New(
		gtransport.WithHTTPClient(&http.Client{Timeout: cfg.Timeout()}),
		gtransport.WithRetryPolicy(retryPolicy),
		gtransport.WithTelemetry(telemetry),
	)

	sseTransport := gtransport.NewSSE(
		gtransport.WithSSETelemetry(telemetry),
	)

	streams := gstream.NewManager(coordinator, sseTransport,
		gstream.WithMaxStreams(cfg.MaxStreams),
		gstream.WithCleanupDelay(cfg.StreamCleanupDelay()),
	)

	return New(coordinator, transport, streams, cfg, opts...), nil
}

// resolveBackend applies the discovery order: per-call override > process
// configuration > environment presence, platform beating direct when both
// are present.
func (c *Client) resolveBackend(opts Options) (gauth.Backend, *errx.Error) {
	if opts.Backend != nil {
		switch *opts.Backend {
		case BackendPlatform:
			return gauth.Platform, nil
		default:
			return gauth.Direct, nil
		}
	}
	if c.configuredDefault != nil {
		return *c.configuredDefault, nil
	}
	if c.hasPlatform {
		return gauth.Platform, nil
	}
	if c.hasDirect {
		return gauth.Direct, nil
	}
	return 0, errorRegistry.New(ErrNoBackend)
}

func (c *Client) model(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.defaultModel
}

// Generate builds a request body from input, picks generateContent, and
// calls the unary transport.
func (c *Client) Generate(ctx context.Context, input any, opts Options) (GenerateResponse, *errx.Error) {
	backend, err := c.resolveBackend(opts)
	if err != nil {
		return GenerateResponse{}, err
	}

	body, err := buildGenerateRequest(input, opts)
	if err != nil {
		return GenerateResponse{}, err
	}

	model := c.model(opts)
	auth, aerr := c.coordinator.Coordinate(ctx, backend, gauth.EndpointGenerateContent, gauth.RequestOptions{Model: model}, false)
	if aerr != nil {
		return GenerateResponse{}, aerr
	}

	var out GenerateResponse
	req := gtransport.Request{
		Method: http.MethodPost, URL: auth.URL, Headers: auth.Headers, Body: body,
		Model: model, Backend: backend.String(),
	}
	if terr := c.transport.Do(ctx, req, &out); terr != nil {
		return GenerateResponse{}, terr
	}
	return out, nil
}

// StreamGenerate builds a request body from input, picks
// streamGenerateContent, and opens it on the streaming manager, returning
// the opaque stream id callers subscribe to.
func (c *Client) StreamGenerate(ctx context.Context, input any, opts Options) (string, *errx.Error) {
	backend, err := c.resolveBackend(opts)
	if err != nil {
		return "", err
	}

	body, err := buildGenerateRequest(input, opts)
	if err != nil {
		return "", err
	}

	return c.streams.Open(ctx, backend, c.model(opts), body)
}

// CountTokens builds a request body from input, picks countTokens, and
// calls the unary transport.
func (c *Client) CountTokens(ctx context.Context, input any, opts Options) (CountTokensResponse, *errx.Error) {
	backend, err := c.resolveBackend(opts)
	if err != nil {
		return CountTokensResponse{}, err
	}

	body, err := buildCountTokensRequest(input)
	if err != nil {
		return CountTokensResponse{}, err
	}

	model := c.model(opts)
	auth, aerr := c.coordinator.Coordinate(ctx, backend, gauth.EndpointCountTokens, gauth.RequestOptions{Model: model}, false)
	if aerr != nil {
		return CountTokensResponse{}, aerr
	}

	var out CountTokensResponse
	req := gtransport.Request{
		Method: http.MethodPost, URL: auth.URL, Headers: auth.Headers, Body: body,
		Model: model, Backend: backend.String(),
	}
	if terr := c.transport.Do(ctx, req, &out); terr != nil {
		return CountTokensResponse{}, terr
	}
	return out, nil
}

// ListModels calls the server's model-listing endpoint. pageToken, if
// non-empty, requests the page following a previous ModelsPage.NextPageToken.
func (c *Client) ListModels(ctx context.Context, opts Options, pageToken string) (ModelsPage, *errx.Error) {
	backend, err := c.resolveBackend(opts)
	if err != nil {
		return ModelsPage{}, err
	}

	auth, aerr := c.coordinator.CoordinateList(ctx, backend, pageToken)
	if aerr != nil {
		return ModelsPage{}, aerr
	}

	var out ModelsPage
	req := gtransport.Request{Method: http.MethodGet, URL: auth.URL, Headers: auth.Headers, Backend: backend.String()}
	if terr := c.transport.Do(ctx, req, &out); terr != nil {
		return ModelsPage{}, terr
	}
	return out, nil
}
