// Package limiter throttles outgoing email per client.
package limiter

import (
	"context"
	"time"
)

// Limiter enforces a send quota per client key within a fixed window.
type Limiter interface {
	// Take reserves n sends for keyHash. When the quota would be exceeded it
	// reserves nothing and reports how long until the window resets.
	Take(ctx context.Context, keyHash []byte, n int) (bool, time.Duration, error)
}
