package gauth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rangen/geminigw/pkg/errx"
)

// Token is a bearer token with its absolute expiry, as returned by a
// successful exchange.
type Token struct {
	AccessToken string
	ExpiresAt   time.Time
}

// tokenResponse mirrors the OAuth2 token endpoint's JSON response body.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Exchanger exchanges a signed JWT assertion for a bearer token.
type Exchanger struct {
	httpClient *http.Client
}

// NewExchanger builds an Exchanger. A nil httpClient uses http.DefaultClient.
func NewExchanger(httpClient *http.Client) *Exchanger {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Exchanger{httpClient: httpClient}
}

// Exchange POSTs the jwt-bearer grant to tokenURI and returns the resulting
// bearer token. now is used to compute the token's absolute expiry from the
// server's relative expires_in.
func (e *Exchanger) Exchange(ctx context.Context, assertion, tokenURI, scope string, now time.Time) (Token, *errx.Error) {
	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	if scope != "" {
		form.Set("scope", scope)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, WrapError(err, ErrTokenExchangeFailed)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Token{}, WrapError(err, ErrTokenExchangeFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, WrapError(err, ErrTokenExchangeFailed)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Token{}, errorRegistry.NewWithMessage(ErrTokenExchangeRejected, strings.TrimSpace(string(body))).
			WithDetail("status_code", resp.StatusCode)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Token{}, WrapError(err, ErrTokenExchangeFailed)
	}
	if parsed.AccessToken == "" {
		return Token{}, errorRegistry.New(ErrTokenExchangeFailed).WithDetail("reason", "empty access_token in response")
	}

	return Token{
		AccessToken: parsed.AccessToken,
		ExpiresAt:   now.Add(time.Duration(parsed.ExpiresIn) * time.Second),
	}, nil
}
