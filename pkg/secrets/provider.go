package secrets

import "context"

// Provider fetches named secrets from an external secret store.
// Secrets are stored as JSON maps of string keys to string values.
type Provider interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}
