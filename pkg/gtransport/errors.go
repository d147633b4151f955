// Package gtransport implements the unary and streaming HTTP transports
// used to talk to the generation service, independent of which backend
// (direct or platform) a request targets. Authentication is resolved
// upstream by pkg/gauth; this package only speaks HTTP and SSE.
package gtransport

import (
	"net/http"

	"github.com/rangen/geminigw/pkg/errx"
)

// Kind is the closed error taxonomy every transport failure is classified
// into. It is stored in the error's Details map under "kind" so callers can
// switch on it without reaching into HTTP status codes themselves.
type Kind string

const (
	KindValidation Kind = "validation"
	KindAuth       Kind = "auth"
	KindNetwork    Kind = "network"
	KindTimeout    Kind = "timeout"
	KindAPI        Kind = "api"
	KindParse      Kind = "parse"
	KindCancelled  Kind = "cancelled"
)

// SubKind further classifies KindAPI errors.
type SubKind string

const (
	SubKindNotFound  SubKind = "not_found"
	SubKindRateLimit SubKind = "rate_limit"
	SubKindQuota     SubKind = "quota"
	SubKindSafety    SubKind = "safety"
	SubKindServer    SubKind = "server"
)

var errorRegistry = errx.NewRegistry("GTRANSPORT")

var (
	ErrValidation = errorRegistry.Register("VALIDATION", errx.TypeValidation, http.StatusBadRequest, "request failed client-side validation")
	ErrAuth       = errorRegistry.Register("AUTH", errx.TypeAuthorization, http.StatusUnauthorized, "missing or invalid credentials")
	ErrNetwork    = errorRegistry.Register("NETWORK", errx.TypeExternal, http.StatusBadGateway, "transport failure before a response was parsed")
	ErrTimeout    = errorRegistry.Register("TIMEOUT", errx.TypeExternal, http.StatusGatewayTimeout, "deadline exceeded")
	ErrAPI        = errorRegistry.Register("API", errx.TypeExternal, http.StatusBadGateway, "server returned an error status")
	ErrParse      = errorRegistry.Register("PARSE", errx.TypeInternal, http.StatusInternalServerError, "malformed server response")
	ErrCancelled  = errorRegistry.Register("CANCELLED", errx.TypeExternal, http.StatusRequestTimeout, "caller-initiated cancellation")
)

// Classified builds an *errx.Error tagged with kind (and, for KindAPI,
// subKind), carrying cause and an optional retry hint in milliseconds.
func Classified(code *errx.ErrorCode, kind Kind, subKind SubKind, cause error, retryAfterMs int) *errx.Error {
	e := errorRegistry.NewWithCause(code, cause)
	e.WithDetail("kind", string(kind))
	if subKind != "" {
		e.WithDetail("sub_kind", string(subKind))
	}
	if retryAfterMs > 0 {
		e.WithDetail("retry_after_ms", retryAfterMs)
	}
	return e
}

// KindOf extracts the Kind tagged onto err by Classified, if any.
func KindOf(err *errx.Error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	k, ok := err.Details["kind"].(string)
	return Kind(k), ok
}

// Retryable reports whether err's kind/sub-kind is eligible for an
// automatic retry, per the §4.5/§7 retry policy: network and timeout
// errors, and api sub-kinds rate_limit and server.
func Retryable(err *errx.Error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindNetwork, KindTimeout:
		return true
	case KindAPI:
		sub, _ := err.Details["sub_kind"].(string)
		return SubKind(sub) == SubKindRateLimit || SubKind(sub) == SubKindServer
	default:
		return false
	}
}

// RetryAfterMs returns the server- or policy-suggested retry delay, if any.
func RetryAfterMs(err *errx.Error) (int, bool) {
	if err == nil {
		return 0, false
	}
	ms, ok := err.Details["retry_after_ms"].(int)
	return ms, ok
}

// classifyStatus maps a non-2xx HTTP status (and, for 429, a server-reported
// reason) to the api sub-kind the rest of §7's taxonomy expects.
func classifyStatus(status int, reason string) (Kind, SubKind) {
	switch {
	case status == http.StatusBadRequest:
		return KindValidation, ""
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth, ""
	case status == http.StatusNotFound:
		return KindAPI, SubKindNotFound
	case status == http.StatusRequestTimeout:
		return KindTimeout, ""
	case status == http.StatusTooManyRequests:
		if reason == "RESOURCE_EXHAUSTED" || reason == "quota" {
			return KindAPI, SubKindQuota
		}
		return KindAPI, SubKindRateLimit
	case status >= 500:
		return KindAPI, SubKindServer
	default:
		return KindAPI, SubKindServer
	}
}
