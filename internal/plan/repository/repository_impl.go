package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
	"github.com/bulc-app/license-server/internal/plan/domain"
)

type repositoryImpl struct{}

// New constructs the gorm-backed plan repository.
func New() domain.Repository {
	return &repositoryImpl{}
}

func (r *repositoryImpl) Insert(ctx context.Context, db *gorm.DB, plan *domain.Plan) error {
	return db.WithContext(ctx).Create(plan).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).First(&plan, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, licensedomain.ErrPlanNotAvailable
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repositoryImpl) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Plan, error) {
	var plan domain.Plan
	err := db.WithContext(ctx).First(&plan, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, licensedomain.ErrPlanNotAvailable
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repositoryImpl) ListByProduct(ctx context.Context, db *gorm.DB, productID snowflake.ID) ([]domain.Plan, error) {
	var plans []domain.Plan
	err := db.WithContext(ctx).
		Where("product_id = ?", productID).
		Order("code ASC").
		Find(&plans).Error
	if err != nil {
		return nil, err
	}
	return plans, nil
}
