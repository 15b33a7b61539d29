// Package service implements the redeem claim pipeline and campaign
// administration.
package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bulc-app/license-server/internal/clock"
	"github.com/bulc-app/license-server/internal/config"
	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
	plandomain "github.com/bulc-app/license-server/internal/plan/domain"
	productdomain "github.com/bulc-app/license-server/internal/product/domain"
	"github.com/bulc-app/license-server/internal/ratelimit"
	"github.com/bulc-app/license-server/internal/redeem/domain"
)

type Params struct {
	fx.In

	Config   config.Config
	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Limiter  ratelimit.Limiter
	Licenses licensedomain.Service
	Plans    plandomain.Service
	Products productdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	limiter  ratelimit.Limiter
	hasher   *domain.CodeHasher
	licenses licensedomain.Service
	plans    plandomain.Service
	products productdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("redeem.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		limiter:  p.Limiter,
		hasher:   domain.NewCodeHasher(p.Config.Redeem.CodePepper),
		licenses: p.Licenses,
		plans:    p.Plans,
		products: p.Products,
	}
}

// Claim runs the redeem pipeline. The seat and per-code counters are single
// conditional statements that commit independently: a failure in a later
// step does not return them, which loses at most one seat and is preferable
// to overselling.
func (s *Service) Claim(ctx context.Context, userID snowflake.ID, req domain.ClaimRequest) (*domain.ClaimResponse, error) {
	allowed, err := s.limiter.Allow(ctx, userID.String())
	if err != nil {
		return nil, err
	}
	if !allowed {
		s.log.Warn("redeem attempt rate limited", zap.String("user_id", userID.String()))
		return nil, domain.ErrRateLimited
	}

	normalized, err := s.hasher.Normalize(req.Code)
	if err != nil {
		return nil, err
	}
	hash := s.hasher.Hash(normalized)

	now := s.clock.Now()
	code, err := s.repo.FindCodeByHash(ctx, s.db, hash)
	if err != nil {
		return nil, err
	}
	if code.Status == domain.CodeStatusDisabled {
		return nil, domain.ErrCodeDisabled
	}
	if code.ExpiresAt != nil && now.After(*code.ExpiresAt) {
		return nil, domain.ErrCodeExpired
	}

	campaign, err := s.repo.FindCampaignByID(ctx, s.db, code.CampaignID)
	if err != nil {
		return nil, err
	}
	if !campaign.AcceptingClaims(now) {
		return nil, domain.ErrCampaignNotActive
	}

	affected, err := s.repo.IncrementRedemptions(ctx, s.db, code.ID, now)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrCodeDepleted
	}

	affected, err = s.repo.IncrementSeatsUsed(ctx, s.db, campaign.ID, now)
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, domain.ErrCampaignFull
	}

	counter, err := s.repo.FindUserCounter(ctx, s.db, userID, campaign.ID)
	if err != nil {
		return nil, err
	}
	if counter == nil {
		counter = &domain.UserCounter{UserID: userID, CampaignID: campaign.ID}
	}
	if counter.Count >= campaign.PerUserLimit {
		return nil, domain.ErrUserLimitExceeded
	}
	counter.Count++
	counter.UpdatedAt = now
	if err := s.repo.SaveUserCounter(ctx, s.db, counter); err != nil {
		return nil, err
	}

	// License and audit record commit together.
	var license *licensedomain.License
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		license, err = s.licenses.IssueFromPlanTx(ctx, tx, licensedomain.IssueFromPlanRequest{
			OwnerType:     licensedomain.OwnerTypeUser,
			OwnerID:       userID,
			PlanID:        campaign.PlanID,
			UsageCategory: campaign.UsageCategory,
		})
		if err != nil {
			return err
		}
		return s.repo.InsertRedemption(ctx, tx, &domain.Redemption{
			ID:         s.genID.Generate(),
			CodeID:     code.ID,
			CampaignID: campaign.ID,
			UserID:     userID,
			LicenseID:  license.ID,
			ClientIP:   req.ClientIP,
			UserAgent:  req.UserAgent,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("redeem code claimed",
		zap.String("user_id", userID.String()),
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("license_id", license.ID.String()),
	)

	resp := &domain.ClaimResponse{
		LicenseID:    license.ID.String(),
		LicenseKey:   license.LicenseKey,
		ValidUntil:   license.ValidUntil,
		Entitlements: license.Entitlements(),
	}
	if plan, err := s.plans.GetByID(ctx, campaign.PlanID); err == nil {
		resp.PlanName = plan.Name
		if product, err := s.products.GetByID(ctx, plan.ProductID); err == nil {
			resp.ProductName = product.Name
		}
	}
	return resp, nil
}
