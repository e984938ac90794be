package stripe

import (
	"context"
	"errors"
	"strings"
)

// SigningSecretKey is the settings-store key holding the persisted secret.
const SigningSecretKey = "stripe_signing_secret"

// ErrNoSecret indicates no signing secret is configured anywhere.
var ErrNoSecret = errors.New("stripe: no signing secret configured")

// SettingsStore reads persisted gateway configuration values. Lookup reserves
// its error for store failures; an absent key is (_, false, nil).
type SettingsStore interface {
	Lookup(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
}

// SecretResolver resolves the webhook signing secret with deployment-constant
// precedence: an override wins over the persisted configuration value.
type SecretResolver struct {
	Override string
	Store    SettingsStore
}

// Resolve returns the effective signing secret. ErrNoSecret means no secret
// is configured; any other error is a store failure.
func (r SecretResolver) Resolve(ctx context.Context) (string, error) {
	if s := strings.TrimSpace(r.Override); s != "" {
		return s, nil
	}
	if r.Store == nil {
		return "", ErrNoSecret
	}
	stored, ok, err := r.Store.Lookup(ctx, SigningSecretKey)
	if err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(stored) == "" {
		return "", ErrNoSecret
	}
	return stored, nil
}
