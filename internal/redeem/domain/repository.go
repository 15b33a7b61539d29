package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository defines persistence for campaigns, codes, per-user counters and
// the redemption audit trail.
type Repository interface {
	InsertCampaign(ctx context.Context, db *gorm.DB, campaign *Campaign) error
	FindCampaignByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Campaign, error)
	ListCampaigns(ctx context.Context, db *gorm.DB) ([]Campaign, error)
	SaveCampaign(ctx context.Context, db *gorm.DB, campaign *Campaign) error
	// IncrementSeatsUsed consumes one campaign seat iff seats remain. The
	// returned count is zero when the campaign is full, which is the
	// depletion signal under concurrency.
	IncrementSeatsUsed(ctx context.Context, db *gorm.DB, campaignID snowflake.ID, now time.Time) (int64, error)

	InsertCode(ctx context.Context, db *gorm.DB, code *Code) error
	FindCodeByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Code, error)
	FindCodeByHash(ctx context.Context, db *gorm.DB, hash string) (*Code, error)
	ListCodesByCampaign(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) ([]Code, error)
	SaveCode(ctx context.Context, db *gorm.DB, code *Code) error
	DeleteCode(ctx context.Context, db *gorm.DB, id snowflake.ID) error
	// IncrementRedemptions consumes one use of the code iff it is ACTIVE and
	// has uses left, mirroring IncrementSeatsUsed.
	IncrementRedemptions(ctx context.Context, db *gorm.DB, codeID snowflake.ID, now time.Time) (int64, error)

	FindUserCounter(ctx context.Context, db *gorm.DB, userID, campaignID snowflake.ID) (*UserCounter, error)
	SaveUserCounter(ctx context.Context, db *gorm.DB, counter *UserCounter) error

	InsertRedemption(ctx context.Context, db *gorm.DB, redemption *Redemption) error
	ListRedemptionsByCampaign(ctx context.Context, db *gorm.DB, campaignID snowflake.ID) ([]Redemption, error)
}
