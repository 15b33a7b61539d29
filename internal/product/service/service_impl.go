package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bulc-app/license-server/internal/clock"
	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
	"github.com/bulc-app/license-server/internal/product/domain"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("product.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, code, name string) (*domain.Product, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	name = strings.TrimSpace(name)
	if code == "" || name == "" {
		return nil, licensedomain.NewError("INVALID_REQUEST", "product code and name are required")
	}

	now := s.clock.Now()
	product := &domain.Product{
		ID:        s.genID.Generate(),
		Code:      code,
		Name:      name,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, s.db, product); err != nil {
		return nil, err
	}

	s.log.Info("product created",
		zap.String("product_id", product.ID.String()),
		zap.String("code", code),
	)
	return product, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*domain.Product, error) {
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) GetByCode(ctx context.Context, code string) (*domain.Product, error) {
	return s.repo.FindByCode(ctx, s.db, strings.ToUpper(strings.TrimSpace(code)))
}

func (s *Service) List(ctx context.Context) ([]domain.Product, error) {
	return s.repo.List(ctx, s.db)
}
