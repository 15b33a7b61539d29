// Package ratelimit throttles redeem-code claim attempts per user.
package ratelimit

import "context"

// Limiter answers whether a caller may attempt another redeem claim right
// now. Implementations count attempts, successful or not.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
