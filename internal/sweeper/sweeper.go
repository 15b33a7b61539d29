// Package sweeper expires device activations that stopped heartbeating long
// ago, freeing their seats.
package sweeper

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bulc-app/license-server/internal/clock"
	"github.com/bulc-app/license-server/internal/config"
	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
)

type Params struct {
	fx.In

	Config config.Config
	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   licensedomain.Repository
}

type Sweeper struct {
	cfg   config.SweeperConfig
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  licensedomain.Repository

	stop chan struct{}
	done chan struct{}
}

func New(p Params) *Sweeper {
	return &Sweeper{
		cfg:   p.Config.Sweeper,
		db:    p.DB,
		log:   p.Log.Named("sweeper"),
		clock: p.Clock,
		repo:  p.Repo,
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Sweep runs one pass: ACTIVE activations whose last heartbeat is older than
// the expiry horizon become EXPIRED.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	cutoff := now.Add(-time.Duration(s.cfg.ExpireAfterDays) * 24 * time.Hour)

	expired, err := s.repo.ExpireActivationsUnseenSince(ctx, s.db, cutoff, now)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		s.log.Info("stale activations expired", zap.Int64("count", expired))
	}
	return expired, nil
}

func (s *Sweeper) run() {
	defer close(s.done)
	interval := time.Duration(s.cfg.IntervalHours) * time.Hour
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := s.Sweep(context.Background()); err != nil {
				s.log.Error("sweep failed", zap.Error(err))
			}
		case <-s.stop:
			return
		}
	}
}

var Module = fx.Module("sweeper",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, s *Sweeper) {
		if !s.cfg.Enabled {
			s.log.Info("sweeper disabled")
			return
		}
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				go s.run()
				return nil
			},
			OnStop: func(ctx context.Context) error {
				close(s.stop)
				select {
				case <-s.done:
				case <-ctx.Done():
				}
				return nil
			},
		})
	}),
)
