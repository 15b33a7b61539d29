package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/bulc-app/license-server/internal/clock"
	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
	"github.com/bulc-app/license-server/internal/plan/domain"
	productdomain "github.com/bulc-app/license-server/internal/product/domain"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Products productdomain.Service
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	products productdomain.Service
}

func New(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("plan.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		products: p.Products,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Plan, error) {
	productID, err := snowflake.ParseString(strings.TrimSpace(req.ProductID))
	if err != nil {
		return nil, licensedomain.NewError("INVALID_REQUEST", "invalid product id")
	}
	if _, err := s.products.GetByID(ctx, productID); err != nil {
		return nil, err
	}
	if req.LicenseType == licensedomain.LicenseTypeSubscription && (req.DurationDays == nil || *req.DurationDays <= 0) {
		return nil, licensedomain.NewError("INVALID_REQUEST", "subscription plans require a positive durationDays")
	}

	now := s.clock.Now()
	plan := &domain.Plan{
		ID:                    s.genID.Generate(),
		Code:                  strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:                  strings.TrimSpace(req.Name),
		ProductID:             productID,
		LicenseType:           req.LicenseType,
		DurationDays:          req.DurationDays,
		MaxActivations:        req.MaxActivations,
		MaxConcurrentSessions: req.MaxConcurrentSessions,
		SessionTTLMinutes:     req.SessionTTLMinutes,
		GracePeriodDays:       req.GracePeriodDays,
		AllowOfflineDays:      req.AllowOfflineDays,
		Entitlements:          datatypes.NewJSONSlice(req.Entitlements),
		Active:                true,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if err := s.repo.Insert(ctx, s.db, plan); err != nil {
		return nil, err
	}

	s.log.Info("plan created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("code", plan.Code),
	)
	return plan, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Plan, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) GetAvailableByID(ctx context.Context, id snowflake.ID) (*domain.Plan, error) {
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, licensedomain.ErrPlanNotAvailable
	}
	return plan, nil
}

func (s *Service) GetAvailableByCode(ctx context.Context, code string) (*domain.Plan, error) {
	plan, err := s.repo.FindByCode(ctx, s.db, strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, licensedomain.ErrPlanNotAvailable
	}
	return plan, nil
}

func (s *Service) ListByProduct(ctx context.Context, productID snowflake.ID) ([]domain.Plan, error) {
	return s.repo.ListByProduct(ctx, s.db, productID)
}
