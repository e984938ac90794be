// Package settings persists gateway configuration values such as the webhook
// signing secret and the connected-account state reported by the gateway.
package settings

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no value exists for the key.
var ErrNotFound = errors.New("settings: not found")

// PGStore is a Postgres-backed key/value store for gateway settings.
type PGStore struct {
	Pool *pgxpool.Pool
}

// NewPGStore constructs a settings store backed by the given pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{Pool: pool}
}

// Get returns the stored value for key, or ErrNotFound.
func (s *PGStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.Pool.QueryRow(ctx,
		`SELECT value FROM gateway_settings WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("settings: get %s: %w", key, err)
	}
	return value, nil
}

// Lookup returns the stored value and whether it exists, reserving the error
// for genuine store failures.
func (s *PGStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	value, err := s.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set upserts the value for key.
func (s *PGStore) Set(ctx context.Context, key, value string) error {
	_, err := s.Pool.Exec(ctx, `
INSERT INTO gateway_settings (key, value, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value)
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}
