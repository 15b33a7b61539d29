package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository defines persistence operations for licenses and activations.
// Methods take the transaction handle explicitly so services control
// transaction boundaries.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, license *License) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*License, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*License, error)
	FindByKey(ctx context.Context, db *gorm.DB, key string) (*License, error)
	FindBySourceOrderID(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*License, error)
	// FindUsableByOwnerAndProduct returns the non-revoked license for the
	// owner/product pair, or nil when none exists.
	FindUsableByOwnerAndProduct(ctx context.Context, db *gorm.DB, ownerType OwnerType, ownerID, productID snowflake.ID) (*License, error)
	// FindCandidatesForUpdate locks and returns activated, non-suspended
	// licenses for the owner, ordered by ID so concurrent resolvers always
	// acquire row locks in the same order.
	FindCandidatesForUpdate(ctx context.Context, db *gorm.DB, ownerType OwnerType, ownerID snowflake.ID, productID *snowflake.ID) ([]License, error)
	ListByOwner(ctx context.Context, db *gorm.DB, ownerType OwnerType, ownerID snowflake.ID, productID *snowflake.ID) ([]License, error)
	Save(ctx context.Context, db *gorm.DB, license *License) error

	FindActivation(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, fingerprint string) (*Activation, error)
	FindActivationsByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]Activation, error)
	ListActivations(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) ([]Activation, error)
	// CountSeatsUsed counts non-deactivated activation rows, i.e. distinct
	// devices still holding a seat.
	CountSeatsUsed(ctx context.Context, db *gorm.DB, licenseID snowflake.ID) (int64, error)
	// FindActiveSessions returns ACTIVE activations last seen at or after
	// the cutoff, most recent first.
	FindActiveSessions(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, seenAfter time.Time) ([]Activation, error)
	// FindStaleSessions returns ACTIVE activations last seen before the
	// cutoff, oldest first.
	FindStaleSessions(ctx context.Context, db *gorm.DB, licenseID snowflake.ID, seenBefore time.Time) ([]Activation, error)
	SaveActivation(ctx context.Context, db *gorm.DB, activation *Activation) error
	// ExpireActivationsUnseenSince flips ACTIVE activations whose last
	// heartbeat predates the cutoff to EXPIRED. Used by the sweeper.
	ExpireActivationsUnseenSince(ctx context.Context, db *gorm.DB, cutoff, now time.Time) (int64, error)
}
