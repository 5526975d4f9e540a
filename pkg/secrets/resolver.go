package secrets

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// APICredentials is the secret material the SDK needs to authenticate:
// the long-lived API secret and, optionally, a default account number.
type APICredentials struct {
	Secret    string
	AccountID string
}

// Resolver fetches API credentials from a secret store, caching results
// locally so token refreshes do not re-hit the store.
type Resolver struct {
	logger   *zap.Logger
	provider Provider
	cache    *Cache[APICredentials]
}

// NewResolver constructs a credential resolver over the given provider.
func NewResolver(logger *zap.Logger, provider Provider, cacheTTL time.Duration) *Resolver {
	return &Resolver{
		logger:   logger,
		provider: provider,
		cache:    NewCache[APICredentials](cacheTTL),
	}
}

// Resolve fetches the named secret and extracts the API credentials.
// Accepted keys: "api_secret" (or "secret") and optional "account_id".
func (r *Resolver) Resolve(ctx context.Context, name string) (APICredentials, error) {
	if creds, ok := r.cache.Get(name); ok {
		return creds, nil
	}

	secretMap, err := r.provider.GetSecret(ctx, name)
	if err != nil {
		r.logger.Warn("secrets.fetch_failed",
			zap.String("name", name),
			zap.Error(err))
		return APICredentials{}, fmt.Errorf("resolve credentials %q: %w", name, err)
	}

	creds := APICredentials{
		Secret:    secretMap["api_secret"],
		AccountID: secretMap["account_id"],
	}
	if creds.Secret == "" {
		creds.Secret = secretMap["secret"]
	}
	if creds.Secret == "" {
		return APICredentials{}, fmt.Errorf("secret %q has no api_secret key", name)
	}

	r.cache.Put(name, creds)
	r.logger.Info("secrets.credentials_resolved", zap.String("name", name))
	return creds, nil
}

// Invalidate drops the cached credentials for a secret, forcing the next
// Resolve to re-fetch. Used after an auth failure that survives a token
// refresh, which usually means the secret was rotated.
func (r *Resolver) Invalidate(name string) {
	r.cache.Bust(name)
}
