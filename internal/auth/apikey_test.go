package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// tokenEndpoint answers the access-token exchange with sequential tokens so
// tests can tell a cached token from a refreshed one.
func tokenEndpoint(t *testing.T, exchanges *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/personal/access-tokens", r.URL.Path)

		var req tokenRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Secret)
		require.Positive(t, req.ValidityInMinutes)

		n := exchanges.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(tokenResponse{AccessToken: fmt.Sprintf("tok-%d", n)})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAPIKeyProvider_CachesToken(t *testing.T) {
	var exchanges atomic.Int32
	srv := tokenEndpoint(t, &exchanges)
	p := NewAPIKeyProvider(zap.NewNop(), srv.URL, "secret-1", 15*time.Minute)

	tok1, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok1)

	tok2, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, tok1, tok2)
	assert.EqualValues(t, 1, exchanges.Load(), "second call must hit the cache")
}

func TestAPIKeyProvider_RefreshesNearExpiry(t *testing.T) {
	var exchanges atomic.Int32
	srv := tokenEndpoint(t, &exchanges)

	// Validity shorter than the expiry buffer: every call re-exchanges.
	p := NewAPIKeyProvider(zap.NewNop(), srv.URL, "secret-1", time.Minute)

	_, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	tok, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
	assert.EqualValues(t, 2, exchanges.Load())
}

func TestAPIKeyProvider_ForceRefresh(t *testing.T) {
	var exchanges atomic.Int32
	srv := tokenEndpoint(t, &exchanges)
	p := NewAPIKeyProvider(zap.NewNop(), srv.URL, "secret-1", 15*time.Minute)

	tok1, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.ForceRefresh(context.Background()))

	tok2, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, tok1, tok2)
	assert.EqualValues(t, 2, exchanges.Load())
}

func TestAPIKeyProvider_RevokeDropsCache(t *testing.T) {
	var exchanges atomic.Int32
	srv := tokenEndpoint(t, &exchanges)
	p := NewAPIKeyProvider(zap.NewNop(), srv.URL, "secret-1", 15*time.Minute)

	_, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	require.NoError(t, p.Revoke(context.Background()))

	tok, err := p.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok-2", tok)
}

func TestAPIKeyProvider_EmptyAccessToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"accessToken":""}`))
	}))
	t.Cleanup(srv.Close)

	p := NewAPIKeyProvider(zap.NewNop(), srv.URL, "secret-1", 15*time.Minute)
	_, err := p.AccessToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty accessToken")
}

func TestAPIKeyProvider_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad secret", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	p := NewAPIKeyProvider(zap.NewNop(), srv.URL, "wrong", 15*time.Minute)
	_, err := p.AccessToken(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestManager_AuthorizeSetsBearerHeader(t *testing.T) {
	m := NewManager(&StaticProvider{Token: "tok-static"})

	req, err := http.NewRequest(http.MethodGet, "https://api.example.com/trading/account", nil)
	require.NoError(t, err)
	require.NoError(t, m.Authorize(context.Background(), req))
	assert.Equal(t, "Bearer tok-static", req.Header.Get("Authorization"))
}

func TestAPIKeyProvider_DefaultValidity(t *testing.T) {
	p := NewAPIKeyProvider(zap.NewNop(), "http://127.0.0.1:1", "secret-1", 0)
	assert.Equal(t, 15*time.Minute, p.validity)
}
