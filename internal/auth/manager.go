package auth

import (
	"context"
	"net/http"
)

// Provider supplies bearer tokens for API calls.
type Provider interface {
	// AccessToken returns a currently valid bearer token, refreshing if needed.
	AccessToken(ctx context.Context) (string, error)

	// ForceRefresh invalidates any cached token and fetches a new one.
	ForceRefresh(ctx context.Context) error

	// Revoke invalidates the current token.
	Revoke(ctx context.Context) error
}

// Manager applies authentication to outbound requests. It exists so the REST
// client does not care whether tokens come from an API key exchange or a
// fixed token injected in tests.
type Manager struct {
	provider Provider
}

// NewManager creates an auth manager over the given provider.
func NewManager(provider Provider) *Manager {
	return &Manager{provider: provider}
}

// Authorize sets the Authorization header on req, refreshing the token first
// if the cached one is near expiry.
func (m *Manager) Authorize(ctx context.Context, req *http.Request) error {
	token, err := m.provider.AccessToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

// ForceRefresh fetches a new token unconditionally. The subscription engine
// calls this once when a poll fails with an auth error.
func (m *Manager) ForceRefresh(ctx context.Context) error {
	return m.provider.ForceRefresh(ctx)
}

// Close revokes the current token.
func (m *Manager) Close(ctx context.Context) error {
	return m.provider.Revoke(ctx)
}

// StaticProvider returns a fixed token. Useful for tests and for callers that
// manage tokens externally.
type StaticProvider struct {
	Token string
}

func (s *StaticProvider) AccessToken(ctx context.Context) (string, error) { return s.Token, nil }
func (s *StaticProvider) ForceRefresh(ctx context.Context) error          { return nil }
func (s *StaticProvider) Revoke(ctx context.Context) error                { return nil }
