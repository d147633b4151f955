package gtransport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rangen/geminigw/pkg/errx"
	"github.com/rangen/geminigw/pkg/geminitelemetry"
	"github.com/rangen/geminigw/pkg/logx"
)

// RetryPolicy configures M2's retry/backoff behaviour. The zero value is
// not usable; build one with DefaultRetryPolicy.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy matches §4.5: at most 3 attempts, base 500ms, capped
// at 10s, with full jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	backoff := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	return time.Duration(rand.Int63n(int64(backoff) + 1))
}

// Request is one unary M2 call.
type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    any // marshaled to JSON if non-nil; omitted entirely for GET with no body

	Model   string // telemetry metadata only
	Backend string // telemetry metadata only
}

// Transport performs unary HTTP requests with retry, classification, and
// telemetry, the way aimistral.HTTPClient does for the Mistral backend.
type Transport struct {
	httpClient *http.Client
	policy     RetryPolicy
	telemetry  geminitelemetry.Emitter
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient overrides the underlying *http.Client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.httpClient = c }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(t *Transport) { t.policy = p }
}

// WithTelemetry installs an Emitter. Defaults to geminitelemetry.Noop{}.
func WithTelemetry(e geminitelemetry.Emitter) Option {
	return func(t *Transport) { t.telemetry = e }
}

// New builds a Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		httpClient: &http.Client{},
		policy:     DefaultRetryPolicy(),
		telemetry:  geminitelemetry.Noop{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Do executes req, retrying per policy, and decodes the JSON response body
// into out (which may be nil to discard the body). Returns a classified
// *errx.Error on any non-2xx status or transport failure.
func (t *Transport) Do(ctx context.Context, req Request, out any) *errx.Error {
	var lastErr *errx.Error

	for attempt := 1; attempt <= t.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			wait := t.policy.delay(attempt - 1)
			if hinted, ok := RetryAfterMs(lastErr); ok {
				wait = time.Duration(hinted) * time.Millisecond
			}
			logx.WithFields(logx.Fields{
				"url": req.URL, "model": req.Model, "backend": req.Backend,
				"attempt": attempt, "wait_ms": wait.Milliseconds(),
			}).Debug("gtransport: retrying request")
			select {
			case <-ctx.Done():
				return Classified(ErrCancelled, KindCancelled, "", ctx.Err(), 0)
			case <-time.After(wait):
			}
		}

		logx.WithFields(logx.Fields{
			"url": req.URL, "model": req.Model, "backend": req.Backend, "attempt": attempt,
		}).Debug("gtransport: sending request")

		body, err := t.attempt(ctx, req)
		if err == nil {
			if out != nil && len(body) > 0 {
				if uerr := json.Unmarshal(body, out); uerr != nil {
					return Classified(ErrParse, KindParse, "", uerr, 0)
				}
			}
			return nil
		}

		lastErr = err
		if !Retryable(err) || attempt == t.policy.MaxAttempts {
			kind, _ := KindOf(err)
			logx.WithFields(logx.Fields{
				"url": req.URL, "model": req.Model, "backend": req.Backend,
				"attempt": attempt, "error_kind": string(kind),
			}).WithError(err).Warn("gtransport: request failed terminally")
			return err
		}
	}

	return lastErr
}

func (t *Transport) attempt(ctx context.Context, req Request) ([]byte, *errx.Error) {
	startFields := geminitelemetry.Fields{
		"url": req.URL, "method": req.Method, "model": req.Model, "backend": req.Backend,
	}

	var body []byte
	var result *errx.Error

	spanErr := geminitelemetry.Span(t.telemetry,
		geminitelemetry.RequestStart, geminitelemetry.RequestStop, geminitelemetry.RequestException,
		startFields,
		func() (geminitelemetry.Fields, error) {
			b, status, err := t.roundTrip(ctx, req)
			body = b
			result = err
			fields := geminitelemetry.Fields{"status": status}
			if err != nil {
				kind, _ := KindOf(err)
				fields["error_kind"] = string(kind)
				return fields, err
			}
			return fields, nil
		},
	)
	if spanErr != nil {
		return nil, result
	}
	return body, nil
}

func (t *Transport) roundTrip(ctx context.Context, req Request) ([]byte, int, *errx.Error) {
	var bodyReader io.Reader
	if req.Body != nil {
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, 0, Classified(ErrValidation, KindValidation, "", err, 0)
		}
		bodyReader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bodyReader)
	if err != nil {
		return nil, 0, Classified(ErrValidation, KindValidation, "", err, 0)
	}
	for k, vs := range req.Headers {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := t.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, Classified(ErrTimeout, KindTimeout, "", err, 0)
		}
		return nil, 0, Classified(ErrNetwork, KindNetwork, "", err, 0)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, Classified(ErrNetwork, KindNetwork, "", err, 0)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, resp.StatusCode, nil
	}

	return nil, resp.StatusCode, classifyResponse(resp, respBody)
}

// googleErrorEnvelope mirrors the JSON error shape the service returns on
// non-2xx responses, including the retryInfo detail 429s may carry.
type googleErrorEnvelope struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
		Details []struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		} `json:"details"`
	} `json:"error"`
}

func classifyResponse(resp *http.Response, body []byte) *errx.Error {
	var envelope googleErrorEnvelope
	_ = json.Unmarshal(body, &envelope) // best-effort; absence of a body is fine

	kind, sub := classifyStatus(resp.StatusCode, envelope.Error.Status)
	retryAfterMs, hinted := retryDelayMs(resp, envelope)

	code := codeForKind(kind)
	message := envelope.Error.Message
	if message == "" {
		message = strings.TrimSpace(string(body))
	}

	e := Classified(code, kind, sub, fmt.Errorf("%s", message), retryAfterMs)
	if hinted {
		e.WithDetail("retry_after_ms", retryAfterMs)
	}
	e.WithDetail("status_code", resp.StatusCode)
	if message != "" {
		e.Message = message
	}
	return e
}

func codeForKind(kind Kind) *errx.ErrorCode {
	switch kind {
	case KindValidation:
		return ErrValidation
	case KindAuth:
		return ErrAuth
	case KindTimeout:
		return ErrTimeout
	default:
		return ErrAPI
	}
}

// retryDelayMs prefers a server-indicated delay — a Retry-After header or a
// retryInfo detail in the error body — over the caller's own backoff. The
// bool reports whether the server indicated a delay at all; a zero delay
// counts as indicated.
func retryDelayMs(resp *http.Response, envelope googleErrorEnvelope) (int, bool) {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil {
			return secs * 1000, true
		}
	}

	for _, d := range envelope.Error.Details {
		if d.RetryDelay == "" {
			continue
		}
		if dur, err := time.ParseDuration(d.RetryDelay); err == nil {
			return int(dur.Milliseconds()), true
		}
	}

	return 0, false
}
