package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
	"github.com/bulc-app/license-server/internal/product/domain"
)

type repositoryImpl struct{}

// New constructs the gorm-backed product repository.
func New() domain.Repository {
	return &repositoryImpl{}
}

func (r *repositoryImpl) Insert(ctx context.Context, db *gorm.DB, product *domain.Product) error {
	return db.WithContext(ctx).Create(product).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Product, error) {
	var product domain.Product
	err := db.WithContext(ctx).First(&product, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, licensedomain.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repositoryImpl) FindByCode(ctx context.Context, db *gorm.DB, code string) (*domain.Product, error) {
	var product domain.Product
	err := db.WithContext(ctx).First(&product, "code = ?", code).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, licensedomain.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

func (r *repositoryImpl) List(ctx context.Context, db *gorm.DB) ([]domain.Product, error) {
	var products []domain.Product
	if err := db.WithContext(ctx).Order("code ASC").Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}
