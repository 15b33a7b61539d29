// Package domain defines redeem campaigns, codes and the claim audit trail.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"

	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
)

// CampaignStatus is the admin-controlled lifecycle of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft  CampaignStatus = "DRAFT"
	CampaignStatusActive CampaignStatus = "ACTIVE"
	CampaignStatusPaused CampaignStatus = "PAUSED"
	CampaignStatusEnded  CampaignStatus = "ENDED"
)

// CodeStatus is the lifecycle of an individual redeem code.
type CodeStatus string

const (
	CodeStatusActive   CodeStatus = "ACTIVE"
	CodeStatusDisabled CodeStatus = "DISABLED"
)

// Campaign groups redeem codes that all grant the same license plan.
// SeatsUsed counts successful claims across the whole campaign; MaxSeats of
// zero means unlimited.
type Campaign struct {
	ID            snowflake.ID                `gorm:"primaryKey" json:"id"`
	Name          string                      `gorm:"type:text;not null" json:"name"`
	PlanID        snowflake.ID                `gorm:"not null" json:"planId"`
	Status        CampaignStatus              `gorm:"type:text;not null" json:"status"`
	UsageCategory licensedomain.UsageCategory `gorm:"type:text;not null" json:"usageCategory"`
	MaxSeats      int                         `gorm:"not null;default:0" json:"maxSeats"`
	SeatsUsed     int                         `gorm:"not null;default:0" json:"seatsUsed"`
	PerUserLimit  int                         `gorm:"not null;default:1" json:"perUserLimit"`
	StartsAt      *time.Time                  `json:"startsAt,omitempty"`
	EndsAt        *time.Time                  `json:"endsAt,omitempty"`
	CreatedAt     time.Time                   `gorm:"not null" json:"createdAt"`
	UpdatedAt     time.Time                   `gorm:"not null" json:"updatedAt"`
}

// TableName sets the database table name.
func (Campaign) TableName() string { return "redeem_campaigns" }

// AcceptingClaims reports whether the campaign status and time window permit
// claims. Seat exhaustion is enforced separately by the conditional seat
// increment.
func (c *Campaign) AcceptingClaims(now time.Time) bool {
	if c.Status != CampaignStatusActive {
		return false
	}
	if c.StartsAt != nil && now.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && now.After(*c.EndsAt) {
		return false
	}
	return true
}

// Code is a single redeemable code. Only the peppered hash is stored; the
// plaintext exists once, in the admin response that created it.
type Code struct {
	ID             snowflake.ID `gorm:"primaryKey" json:"id"`
	CampaignID     snowflake.ID `gorm:"not null;index" json:"campaignId"`
	CodeHash       string       `gorm:"type:text;not null;uniqueIndex" json:"-"`
	Status         CodeStatus   `gorm:"type:text;not null" json:"status"`
	MaxRedemptions int          `gorm:"not null;default:1" json:"maxRedemptions"`
	Redemptions    int          `gorm:"not null;default:0" json:"redemptions"`
	ExpiresAt      *time.Time   `json:"expiresAt,omitempty"`
	CreatedAt      time.Time    `gorm:"not null" json:"createdAt"`
	UpdatedAt      time.Time    `gorm:"not null" json:"updatedAt"`
}

// TableName sets the database table name.
func (Code) TableName() string { return "redeem_codes" }

// UserCounter tracks per-user claims within one campaign. The read-check-
// write on Count is not atomic; concurrent claims by the same user can
// slightly exceed PerUserLimit.
type UserCounter struct {
	UserID     snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"userId"`
	CampaignID snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"campaignId"`
	Count      int          `gorm:"not null;default:0" json:"count"`
	UpdatedAt  time.Time    `gorm:"not null" json:"updatedAt"`
}

// TableName sets the database table name.
func (UserCounter) TableName() string { return "redeem_user_campaign_counters" }

// Redemption is the audit record of one successful claim.
type Redemption struct {
	ID         snowflake.ID `gorm:"primaryKey" json:"id"`
	CodeID     snowflake.ID `gorm:"not null;index" json:"codeId"`
	CampaignID snowflake.ID `gorm:"not null;index" json:"campaignId"`
	UserID     snowflake.ID `gorm:"not null;index" json:"userId"`
	LicenseID  snowflake.ID `gorm:"not null" json:"licenseId"`
	ClientIP   string       `gorm:"type:text" json:"clientIp,omitempty"`
	UserAgent  string       `gorm:"type:text" json:"userAgent,omitempty"`
	CreatedAt  time.Time    `gorm:"not null" json:"createdAt"`
}

// TableName sets the database table name.
func (Redemption) TableName() string { return "redeem_redemptions" }

var (
	ErrCodeInvalid       = licensedomain.NewError("REDEEM_CODE_INVALID", "redeem code format is invalid")
	ErrCodeNotFound      = licensedomain.NewError("REDEEM_CODE_NOT_FOUND", "redeem code not found")
	ErrCodeExpired       = licensedomain.NewError("REDEEM_CODE_EXPIRED", "redeem code has expired")
	ErrCodeDisabled      = licensedomain.NewError("REDEEM_CODE_DISABLED", "redeem code has been disabled")
	ErrCodeDepleted      = licensedomain.NewError("REDEEM_CODE_DEPLETED", "redeem code has no redemptions left")
	ErrCodeHashDuplicate = licensedomain.NewError("REDEEM_CODE_HASH_DUPLICATE", "a code with the same value already exists")
	ErrCampaignNotFound  = licensedomain.NewError("REDEEM_CAMPAIGN_NOT_FOUND", "redeem campaign not found")
	ErrCampaignNotActive = licensedomain.NewError("REDEEM_CAMPAIGN_NOT_ACTIVE", "redeem campaign is not accepting claims")
	ErrCampaignFull      = licensedomain.NewError("REDEEM_CAMPAIGN_FULL", "redeem campaign has no seats left")
	ErrUserLimitExceeded = licensedomain.NewError("REDEEM_USER_LIMIT_EXCEEDED", "per-user claim limit reached for this campaign")
	ErrRateLimited       = licensedomain.NewError("REDEEM_RATE_LIMITED", "too many redeem attempts, try again later")
)
