// Package repository implements redeem persistence. The seat and redemption
// counters use conditional single-statement updates so concurrent claims
// cannot oversell a campaign or a code.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/bulc-app/license-server/internal/redeem/domain"
)

type repositoryImpl struct{}

// New constructs the gorm-backed redeem repository.
func New() domain.Repository {
	return &repositoryImpl{}
}

func (r *repositoryImpl) InsertCampaign(ctx context.Context, db *gorm.DB, campaign *domain.Campaign) error {
	return db.WithContext(ctx).Create(campaign).Error
}

func (r *repositoryImpl) FindCampaignByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Campaign, error) {
	var campaign domain.Campaign
	err := db.WithContext(ctx).First(&campaign, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrCampaignNotFound
	}
	if err != nil {
		return nil, err
	}
	return &campaign, nil
}

func (r *repositoryImpl) ListCampaigns(ctx context.Context, db *gorm.DB) ([]domain.Campaign, error) {
	var campaigns []domain.Campaign
	if err := db.WithContext(ctx).Order("created_at DESC").Find(&campaigns).Error; err != nil {
		return nil, err
	}
	return campaigns, nil
}

func (r *repositoryImpl) SaveCampaign(ctx context.Context, db *gorm.DB, campaign *domain.Campaign) error {
	return db.WithContext(ctx).Save(campaign).Error
}

func (r *repositoryImpl) IncrementSeatsUsed(ctx context.Context, db *gorm.DB, campaignID snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE redeem_campaigns
		 SET seats_used = seats_used + 1, updated_at = ?
		 WHERE id = ? AND (max_seats = 0 OR seats_used < max_seats)`,
		now, campaignID,
	)
	return res.RowsAffected, res.Error
}

func (r *repositoryImpl) InsertCode(ctx context.Context, db *gorm.DB, code *domain.Code) error {
	return db.WithContext(ctx).Create(code).Error
}

func (r *repositoryImpl) FindCodeByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Code, error) {
	var code domain.Code
	err := db.WithContext(ctx).First(&code, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *repositoryImpl) FindCodeByHash(ctx context.Context, db *gorm.DB, hash string) (*domain.Code, error) {
	var code domain.Code
	err := db.WithContext(ctx).First(&code, "code_hash = ?", hash).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrCodeNotFound
	}
	if err != nil {
		return nil, err
	}
	return &code, nil
}

func (r *repositoryImpl) ListCodesByCampaign(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) ([]domain.Code, error) {
	var codes []domain.Code
	err := db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at ASC").
		Find(&codes).Error
	if err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *repositoryImpl) SaveCode(ctx context.Context, db *gorm.DB, code *domain.Code) error {
	return db.WithContext(ctx).Save(code).Error
}

func (r *repositoryImpl) DeleteCode(ctx context.Context, db *gorm.DB, id snowflake.ID) error {
	return db.WithContext(ctx).Delete(&domain.Code{}, "id = ?", id).Error
}

func (r *repositoryImpl) IncrementRedemptions(ctx context.Context, db *gorm.DB, codeID snowflake.ID, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE redeem_codes
		 SET redemptions = redemptions + 1, updated_at = ?
		 WHERE id = ? AND status = ? AND redemptions < max_redemptions`,
		now, codeID, domain.CodeStatusActive,
	)
	return res.RowsAffected, res.Error
}

func (r *repositoryImpl) FindUserCounter(ctx context.Context, db *gorm.DB, userID, campaignID snowflake.ID) (*domain.UserCounter, error) {
	var counter domain.UserCounter
	err := db.WithContext(ctx).
		Where("user_id = ? AND campaign_id = ?", userID, campaignID).
		First(&counter).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &counter, nil
}

func (r *repositoryImpl) SaveUserCounter(ctx context.Context, db *gorm.DB, counter *domain.UserCounter) error {
	return db.WithContext(ctx).Save(counter).Error
}

func (r *repositoryImpl) InsertRedemption(ctx context.Context, db *gorm.DB, redemption *domain.Redemption) error {
	return db.WithContext(ctx).Create(redemption).Error
}

func (r *repositoryImpl) ListRedemptionsByCampaign(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) ([]domain.Redemption, error) {
	var redemptions []domain.Redemption
	err := db.WithContext(ctx).
		Where("campaign_id = ?", campaignID).
		Order("created_at DESC").
		Find(&redemptions).Error
	if err != nil {
		return nil, err
	}
	return redemptions, nil
}
