// Package repository implements license persistence on top of gorm.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/bulc-app/license-server/internal/license/domain"
	pkgdb "github.com/bulc-app/license-server/pkg/db"
)

type repositoryImpl struct{}

// New constructs the gorm-backed license repository.
func New() domain.Repository {
	return &repositoryImpl{}
}

func (r *repositoryImpl) Insert(ctx context.Context, db *gorm.DB, license *domain.License) error {
	return db.WithContext(ctx).Create(license).Error
}

func (r *repositoryImpl) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.License, error) {
	var license domain.License
	err := db.WithContext(ctx).First(&license, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *repositoryImpl) FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.License, error) {
	var license domain.License
	err := pkgdb.ForUpdate(db.WithContext(ctx)).First(&license, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *repositoryImpl) FindByKey(ctx context.Context, db *gorm.DB, key string) (*domain.License, error) {
	var license domain.License
	err := db.WithContext(ctx).First(&license, "license_key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *repositoryImpl) FindBySourceOrderID(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*domain.License, error) {
	var license domain.License
	err := db.WithContext(ctx).First(&license, "source_order_id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *repositoryImpl) FindUsableByOwnerAndProduct(ctx context.Context, db *gorm.DB, ownerType domain.OwnerType, ownerID, productID snowflake.ID) (*domain.License, error) {
	var license domain.License
	err := db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ? AND product_id = ? AND status <> ?",
			ownerType, ownerID, productID, domain.LicenseStatusRevoked).
		First(&license).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &license, nil
}

func (r *repositoryImpl) FindCandidatesForUpdate(ctx context.Context, db *gorm.DB, ownerType domain.OwnerType, ownerID snowflake.ID, productID *snowflake.ID) ([]domain.License, error) {
	q := pkgdb.ForUpdate(db.WithContext(ctx)).
		Where("owner_type = ? AND owner_id = ? AND status = ?", ownerType, ownerID, domain.LicenseStatusActive)
	if productID != nil {
		q = q.Where("product_id = ?", *productID)
	}
	var licenses []domain.License
	if err := q.Order("id ASC").Find(&licenses).Error; err != nil {
		return nil, err
	}
	return licenses, nil
}

func (r *repositoryImpl) ListByOwner(ctx context.Context, db *gorm.DB, ownerType domain.OwnerType, ownerID snowflake.ID, productID *snowflake.ID) ([]domain.License, error) {
	q := db.WithContext(ctx).Where("owner_type = ? AND owner_id = ?", ownerType, ownerID)
	if productID != nil {
		q = q.Where("product_id = ?", *productID)
	}
	var licenses []domain.License
	if err := q.Order("created_at DESC").Find(&licenses).Error; err != nil {
		return nil, err
	}
	return licenses, nil
}

func (r *repositoryImpl) Save(ctx context.Context, db *gorm.DB, license *domain.License) error {
	return db.WithContext(ctx).Save(license).Error
}

func (r *repositoryImpl) FindActivation(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, fingerprint string) (*domain.Activation, error) {
	var activation domain.Activation
	err := db.WithContext(ctx).
		Where("license_id = ? AND device_fingerprint = ?", licenseID, fingerprint).
		First(&activation).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &activation, nil
}

func (r *repositoryImpl) FindActivationsByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]domain.Activation, error) {
	var activations []domain.Activation
	if err := db.WithContext(ctx).Where("id IN ?", ids).Find(&activations).Error; err != nil {
		return nil, err
	}
	return activations, nil
}

func (r *repositoryImpl) ListActivations(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) ([]domain.Activation, error) {
	var activations []domain.Activation
	err := db.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("last_seen_at DESC").
		Find(&activations).Error
	if err != nil {
		return nil, err
	}
	return activations, nil
}

func (r *repositoryImpl) CountSeatsUsed(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) (int64, error) {
	var count int64
	err := db.WithContext(ctx).Model(&domain.Activation{}).
		Where("license_id = ? AND status <> ?", licenseID, domain.ActivationStatusDeactivated).
		Count(&count).Error
	return count, err
}

func (r *repositoryImpl) FindActiveSessions(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, seenAfter time.Time) ([]domain.Activation, error) {
	var activations []domain.Activation
	err := db.WithContext(ctx).
		Where("license_id = ? AND status = ? AND last_seen_at >= ?",
			licenseID, domain.ActivationStatusActive, seenAfter).
		Order("last_seen_at DESC").
		Find(&activations).Error
	if err != nil {
		return nil, err
	}
	return activations, nil
}

func (r *repositoryImpl) FindStaleSessions(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, seenBefore time.Time) ([]domain.Activation, error) {
	var activations []domain.Activation
	err := db.WithContext(ctx).
		Where("license_id = ? AND status = ? AND last_seen_at < ?",
			licenseID, domain.ActivationStatusActive, seenBefore).
		Order("last_seen_at ASC").
		Find(&activations).Error
	if err != nil {
		return nil, err
	}
	return activations, nil
}

func (r *repositoryImpl) SaveActivation(ctx context.Context, db *gorm.DB, activation *domain.Activation) error {
	return db.WithContext(ctx).Save(activation).Error
}

func (r *repositoryImpl) ExpireActivationsUnseenSince(ctx context.Context, db *gorm.DB, cutoff, now time.Time) (int64, error) {
	reason := domain.DeactivateReasonSweeper
	res := db.WithContext(ctx).Model(&domain.Activation{}).
		Where("status = ? AND last_seen_at < ?", domain.ActivationStatusActive, cutoff).
		Updates(map[string]interface{}{
			"status":            domain.ActivationStatusExpired,
			"deactivated_at":    now,
			"deactivate_reason": reason,
			"updated_at":        now,
		})
	return res.RowsAffected, res.Error
}
