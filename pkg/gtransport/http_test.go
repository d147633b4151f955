package gtransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decoded struct {
	Value string `json:"value"`
}

func TestDo_SuccessDecodesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"value":"ok"}`))
	}))
	defer srv.Close()

	tr := New(WithHTTPClient(srv.Client()), WithRetryPolicy(RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))

	var out decoded
	err := tr.Do(t.Context(), Request{Method: http.MethodPost, URL: srv.URL}, &out)
	require.Nil(t, err)
	assert.Equal(t, "ok", out.Value)
}

func TestDo_ValidationErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":400,"message":"bad","status":"INVALID_ARGUMENT"}}`))
	}))
	defer srv.Close()

	tr := New(WithHTTPClient(srv.Client()), WithRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))
	err := tr.Do(t.Context(), Request{Method: http.MethodPost, URL: srv.URL}, nil)

	require.NotNil(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindValidation, kind)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestDo_ServerErrorRetriedThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"code":500,"message":"boom"}}`))
			return
		}
		w.Write([]byte(`{"value":"recovered"}`))
	}))
	defer srv.Close()

	tr := New(WithHTTPClient(srv.Client()), WithRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))

	var out decoded
	err := tr.Do(t.Context(), Request{Method: http.MethodPost, URL: srv.URL}, &out)
	require.Nil(t, err)
	assert.Equal(t, "recovered", out.Value)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDo_ExhaustsRetriesAndReturnsLastError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":500,"message":"still down"}}`))
	}))
	defer srv.Close()

	tr := New(WithHTTPClient(srv.Client()), WithRetryPolicy(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))
	err := tr.Do(t.Context(), Request{Method: http.MethodPost, URL: srv.URL}, nil)

	require.NotNil(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestDo_RateLimitHonoursRetryAfterHeader(t *testing.T) {
	var calls int32
	var gotWait time.Duration
	var firstAt time.Time

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			firstAt = time.Now()
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":{"code":429,"message":"slow down"}}`))
			return
		}
		gotWait = time.Since(firstAt)
		w.Write([]byte(`{"value":"ok"}`))
	}))
	defer srv.Close()

	tr := New(WithHTTPClient(srv.Client()), WithRetryPolicy(RetryPolicy{MaxAttempts: 2, BaseDelay: 5 * time.Second, MaxDelay: 5 * time.Second}))
	err := tr.Do(t.Context(), Request{Method: http.MethodPost, URL: srv.URL}, nil)

	require.Nil(t, err)
	assert.Less(t, gotWait, 2*time.Second, "Retry-After: 0 should short-circuit the much larger policy backoff")
}

func TestDo_NotFoundClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":{"code":404,"message":"no such model"}}`))
	}))
	defer srv.Close()

	tr := New(WithHTTPClient(srv.Client()), WithRetryPolicy(RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))
	err := tr.Do(t.Context(), Request{Method: http.MethodGet, URL: srv.URL}, nil)

	require.NotNil(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindAPI, kind)
	assert.Equal(t, string(SubKindNotFound), err.Details["sub_kind"])
}

func TestDo_ExpiredDeadlineIsClassifiedTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	tr := New(WithHTTPClient(srv.Client()), WithRetryPolicy(RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}))
	err := tr.Do(ctx, Request{Method: http.MethodPost, URL: srv.URL}, nil)

	require.NotNil(t, err)
	kind, _ := KindOf(err)
	assert.Equal(t, KindTimeout, kind)
}
