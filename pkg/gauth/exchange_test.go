package gauth

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExchange_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "urn:ietf:params:oauth:grant-type:jwt-bearer", r.Form.Get("grant_type"))
		assert.Equal(t, "signed-assertion", r.Form.Get("assertion"))
		assert.Equal(t, CloudPlatformScope, r.Form.Get("scope"))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"t","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	e := NewExchanger(srv.Client())
	now := time.Unix(1_700_000_000, 0)

	tok, err := e.Exchange(t.Context(), "signed-assertion", srv.URL, CloudPlatformScope, now)
	require.Nil(t, err)
	assert.Equal(t, "t", tok.AccessToken)
	assert.Equal(t, now.Add(time.Hour), tok.ExpiresAt)
}

func TestExchange_NonTwoXXIsRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer srv.Close()

	e := NewExchanger(srv.Client())
	_, err := e.Exchange(t.Context(), "bad", srv.URL, "", time.Now())
	require.NotNil(t, err)
	assert.Equal(t, ErrTokenExchangeRejected.Code, err.Code)
}

func TestExchange_MalformedURLFails(t *testing.T) {
	e := NewExchanger(nil)
	_, err := e.Exchange(t.Context(), "a", "://bad-url", "", time.Now())
	require.NotNil(t, err)
}

func TestExchange_EncodesFormBody(t *testing.T) {
	var captured url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		captured = r.Form
		w.Write([]byte(`{"access_token":"t","expires_in":60}`))
	}))
	defer srv.Close()

	e := NewExchanger(srv.Client())
	_, err := e.Exchange(t.Context(), "assertion-value", srv.URL, "scope-a scope-b", time.Now())
	require.Nil(t, err)
	assert.Equal(t, "assertion-value", captured.Get("assertion"))
	assert.Equal(t, "scope-a scope-b", captured.Get("scope"))
}
