package gauth

import (
	"encoding/json"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rangen/geminigw/pkg/errx"
)

// CloudPlatformScope is the OAuth2 scope requested for the jwt-bearer
// exchange that backs the platform (Vertex AI) backend.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// ServiceAccount holds the fields of a Google service-account key that the
// signer needs. Only the fields we use are kept; the rest of the JSON key
// is ignored.
type ServiceAccount struct {
	ClientEmail string `json:"client_email"`
	PrivateKey  string `json:"private_key"`
	TokenURI    string `json:"token_uri"`
}

// ExchangeAssertionClaims builds the claim set for the OAuth2 jwt-bearer
// grant: iss and sub are both the service account's email, aud is the
// token endpoint, and exp is one hour out.
func ExchangeAssertionClaims(sa ServiceAccount, now time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":   sa.ClientEmail,
		"sub":   sa.ClientEmail,
		"aud":   sa.TokenURI,
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
		"scope": CloudPlatformScope,
	}
}

// LoadServiceAccount parses a service-account JSON key from inline data if
// present, otherwise from the file at keyPath. Both empty returns a nil
// *ServiceAccount and no error — platform auth via a static token, or the
// platform backend not being used at all, are both legitimate.
func LoadServiceAccount(keyPath, inlineData string) (*ServiceAccount, *errx.Error) {
	var raw []byte
	switch {
	case inlineData != "":
		raw = []byte(inlineData)
	case keyPath != "":
		data, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, errorRegistry.NewWithCause(ErrInvalidServiceAccount, err)
		}
		raw = data
	default:
		return nil, nil
	}

	var sa ServiceAccount
	if err := json.Unmarshal(raw, &sa); err != nil {
		return nil, errorRegistry.NewWithCause(ErrInvalidServiceAccount, err)
	}
	return &sa, nil
}

// SignExchangeAssertion builds and signs the OAuth2 exchange assertion for sa.
func SignExchangeAssertion(sa ServiceAccount, now time.Time) (string, *errx.Error) {
	if sa.ClientEmail == "" || sa.PrivateKey == "" || sa.TokenURI == "" {
		return "", errorRegistry.New(ErrInvalidServiceAccount)
	}
	return Sign(ExchangeAssertionClaims(sa, now), []byte(sa.PrivateKey))
}

// EndpointAssertionClaims builds the claim set for a service-signed endpoint
// JWT: sub and aud must be identical (the deployment audience), iss is the
// service account's email, and exp is iat+lifetime.
func EndpointAssertionClaims(sa ServiceAccount, audience string, now time.Time, lifetime time.Duration) jwt.MapClaims {
	return jwt.MapClaims{
		"iss": sa.ClientEmail,
		"sub": audience,
		"aud": audience,
		"iat": now.Unix(),
		"exp": now.Add(lifetime).Unix(),
	}
}

// SignEndpointAssertion builds, validates, and signs a service-signed
// endpoint JWT for the given audience.
func SignEndpointAssertion(sa ServiceAccount, audience string, now time.Time, lifetime time.Duration) (string, *errx.Error) {
	claims := EndpointAssertionClaims(sa, audience, now, lifetime)
	if err := ValidateServiceAssertion(claims, now); err != nil {
		return "", err
	}
	return Sign(claims, []byte(sa.PrivateKey))
}

// ValidateServiceAssertion enforces the endpoint-JWT invariants: sub==aud,
// exp>iat, iat no more than 60s in the future, and exp not already expired.
func ValidateServiceAssertion(claims jwt.MapClaims, now time.Time) *errx.Error {
	sub, _ := claims["sub"].(string)
	aud, _ := claims["aud"].(string)
	if sub == "" || sub != aud {
		return errorRegistry.New(ErrAssertionInvariant).WithDetail("reason", "sub != aud")
	}

	iat, iatOK := claimUnix(claims["iat"])
	exp, expOK := claimUnix(claims["exp"])
	if !iatOK || !expOK {
		return errorRegistry.New(ErrAssertionInvariant).WithDetail("reason", "missing iat/exp")
	}

	if exp <= iat {
		return errorRegistry.New(ErrAssertionInvariant).WithDetail("reason", "exp <= iat")
	}
	if iat > now.Add(60*time.Second).Unix() {
		return errorRegistry.New(ErrAssertionInvariant).WithDetail("reason", "iat too far in the future")
	}
	if exp <= now.Unix() {
		return errorRegistry.New(ErrAssertionInvariant).WithDetail("reason", "already expired")
	}

	return nil
}

func claimUnix(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}
