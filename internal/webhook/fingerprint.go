package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/the-events-calendar/commerce-gateway/internal/common"
)

// Fingerprint records a hash of the currently configured signing secret on
// every authenticated request. Monitoring reads it to confirm the endpoint is
// reachable and holds the expected secret; the webhook pipeline never does.
type Fingerprint struct {
	R   *redis.Client
	Key string
	TTL time.Duration
}

// DefaultFingerprintKey is the redis key the health signal lives under.
const DefaultFingerprintKey = "gw:webhook:fingerprint"

// Record stores the secret fingerprint with a refresh of its TTL.
func (f Fingerprint) Record(ctx context.Context, secret string) error {
	if f.R == nil {
		return nil
	}
	key := f.Key
	if key == "" {
		key = DefaultFingerprintKey
	}
	ttl := f.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return f.R.Set(ctx, key, common.Sha256Hex(secret), ttl).Err()
}
