package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// tokenExpiryBuffer is the margin before actual expiry at which we
	// pre-fetch a new token.
	tokenExpiryBuffer = 1 * time.Minute

	tokenPath = "/personal/access-tokens"
)

// tokenRequest is the payload for the personal access token exchange.
type tokenRequest struct {
	Secret            string `json:"secret"`
	ValidityInMinutes int    `json:"validityInMinutes"`
}

// tokenResponse is the response from the token endpoint.
type tokenResponse struct {
	AccessToken string `json:"accessToken"`
}

// APIKeyProvider exchanges a long-lived API secret for short-lived bearer
// tokens and caches the current one until close to expiry. Safe for
// concurrent use; only one exchange is in flight at a time.
type APIKeyProvider struct {
	logger   *zap.Logger
	client   *http.Client
	baseURL  string
	secret   string
	validity time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewAPIKeyProvider creates a provider for the given API secret.
func NewAPIKeyProvider(logger *zap.Logger, baseURL, secret string, validity time.Duration) *APIKeyProvider {
	if validity <= 0 {
		validity = 15 * time.Minute
	}
	return &APIKeyProvider{
		logger:   logger,
		client:   &http.Client{Timeout: 10 * time.Second},
		baseURL:  baseURL,
		secret:   secret,
		validity: validity,
	}
}

// AccessToken returns a valid bearer token, exchanging the API secret for a
// fresh one when the cached token is missing or near expiry.
func (p *APIKeyProvider) AccessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Now().Before(p.expiresAt.Add(-tokenExpiryBuffer)) {
		return p.token, nil
	}
	return p.exchangeLocked(ctx)
}

// ForceRefresh discards the cached token and fetches a new one. Used once
// when an API call comes back with an auth failure.
func (p *APIKeyProvider) ForceRefresh(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	_, err := p.exchangeLocked(ctx)
	return err
}

// Revoke drops the cached token. The upstream token is short-lived and
// expires on its own.
func (p *APIKeyProvider) Revoke(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.token = ""
	p.expiresAt = time.Time{}
	return nil
}

func (p *APIKeyProvider) exchangeLocked(ctx context.Context) (string, error) {
	payload := tokenRequest{
		Secret:            p.secret,
		ValidityInMinutes: int(p.validity / time.Minute),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+tokenPath, bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("auth: token exchange: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("auth: token endpoint returned %d", resp.StatusCode)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("auth: decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("auth: token endpoint returned empty accessToken")
	}

	p.token = tr.AccessToken
	p.expiresAt = time.Now().Add(p.validity)

	p.logger.Info("auth.token_refreshed",
		zap.Duration("validity", p.validity))

	return p.token, nil
}
