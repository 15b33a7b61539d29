// Package domain defines license plans, the catalog templates whose policy
// values are snapshotted onto licenses at issuance.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
)

// Plan is a purchasable license template. Editing a plan never changes
// already-issued licenses because issuance copies the policy values into the
// license's snapshot.
type Plan struct {
	ID                    snowflake.ID                `gorm:"primaryKey" json:"id"`
	Code                  string                      `gorm:"type:text;not null;uniqueIndex" json:"code"`
	Name                  string                      `gorm:"type:text;not null" json:"name"`
	ProductID             snowflake.ID                `gorm:"not null;index" json:"productId"`
	LicenseType           licensedomain.LicenseType   `gorm:"type:text;not null" json:"licenseType"`
	DurationDays          *int                        `json:"durationDays,omitempty"`
	MaxActivations        int                         `gorm:"not null" json:"maxActivations"`
	MaxConcurrentSessions int                         `gorm:"not null" json:"maxConcurrentSessions"`
	SessionTTLMinutes     int                         `gorm:"not null" json:"sessionTtlMinutes"`
	GracePeriodDays       int                         `gorm:"not null" json:"gracePeriodDays"`
	AllowOfflineDays      int                         `gorm:"not null" json:"allowOfflineDays"`
	Entitlements          datatypes.JSONSlice[string] `gorm:"type:jsonb" json:"entitlements"`
	Active                bool                        `gorm:"not null;default:true" json:"active"`
	CreatedAt             time.Time                   `gorm:"not null" json:"createdAt"`
	UpdatedAt             time.Time                   `gorm:"not null" json:"updatedAt"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "license_plans" }

// PolicySnapshot copies the plan's policy values into the map stored on a
// license at issuance time.
func (p *Plan) PolicySnapshot() map[string]interface{} {
	ents := make([]interface{}, len(p.Entitlements))
	for i, e := range p.Entitlements {
		ents[i] = e
	}
	return map[string]interface{}{
		licensedomain.PolicyMaxActivations:        p.MaxActivations,
		licensedomain.PolicyMaxConcurrentSessions: p.MaxConcurrentSessions,
		licensedomain.PolicySessionTTLMinutes:     p.SessionTTLMinutes,
		licensedomain.PolicyGracePeriodDays:       p.GracePeriodDays,
		licensedomain.PolicyAllowOfflineDays:      p.AllowOfflineDays,
		licensedomain.PolicyEntitlements:          ents,
	}
}

// ValidUntil computes the license expiry implied by this plan, nil for
// perpetual plans.
func (p *Plan) ValidUntil(from time.Time) *time.Time {
	if p.LicenseType == licensedomain.LicenseTypePerpetual || p.DurationDays == nil {
		return nil
	}
	until := from.Add(time.Duration(*p.DurationDays) * 24 * time.Hour)
	return &until
}

// CreateRequest carries the fields for a new plan.
type CreateRequest struct {
	Code                  string                    `json:"code" binding:"required"`
	Name                  string                    `json:"name" binding:"required"`
	ProductID             string                    `json:"productId" binding:"required"`
	LicenseType           licensedomain.LicenseType `json:"licenseType" binding:"required"`
	DurationDays          *int                      `json:"durationDays"`
	MaxActivations        int                       `json:"maxActivations"`
	MaxConcurrentSessions int                       `json:"maxConcurrentSessions"`
	SessionTTLMinutes     int                       `json:"sessionTtlMinutes"`
	GracePeriodDays       int                       `json:"gracePeriodDays"`
	AllowOfflineDays      int                       `json:"allowOfflineDays"`
	Entitlements          []string                  `json:"entitlements"`
}

// Repository defines plan persistence operations.
type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, plan *Plan) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Plan, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*Plan, error)
	ListByProduct(ctx context.Context, db *gorm.DB, productID snowflake.ID) ([]Plan, error)
}

// Service exposes plan catalog operations to other domains.
type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Plan, error)
	// GetByID returns the plan regardless of its active flag.
	GetByID(ctx context.Context, id snowflake.ID) (*Plan, error)
	// GetAvailableByID returns the plan only when it exists and is active.
	GetAvailableByID(ctx context.Context, id snowflake.ID) (*Plan, error)
	GetAvailableByCode(ctx context.Context, code string) (*Plan, error)
	ListByProduct(ctx context.Context, productID snowflake.ID) ([]Plan, error)
}
