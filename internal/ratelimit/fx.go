package ratelimit

import (
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/bulc-app/license-server/internal/clock"
	"github.com/bulc-app/license-server/internal/config"
)

var Module = fx.Module("rate.limit",
	fx.Provide(NewRedeemLimiter),
)

// NewRedeemLimiter selects the backend: Redis when an address is configured,
// otherwise the in-process window.
func NewRedeemLimiter(cfg config.Config, clk clock.Clock, log *zap.Logger) Limiter {
	limit := cfg.Redeem.RateLimitAttempts
	window := time.Duration(cfg.Redeem.RateWindowSeconds) * time.Second

	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		log.Info("redeem rate limiter using redis", zap.String("addr", cfg.RedisAddr))
		return NewRedisLimiter(client, "redeem:rate", limit, window)
	}

	log.Warn("redeem rate limiter using in-process window, limits are per instance")
	return NewMemoryLimiter(clk, limit, window)
}
