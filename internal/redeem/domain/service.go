package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"

	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
)

// ClaimRequest is the user-facing redeem call.
type ClaimRequest struct {
	Code      string `json:"code" binding:"required"`
	ClientIP  string `json:"-"`
	UserAgent string `json:"-"`
}

// ClaimResponse describes the license granted by a successful claim.
type ClaimResponse struct {
	LicenseID    string     `json:"licenseId"`
	LicenseKey   string     `json:"licenseKey"`
	ProductName  string     `json:"productName,omitempty"`
	PlanName     string     `json:"planName,omitempty"`
	ValidUntil   *time.Time `json:"validUntil,omitempty"`
	Entitlements []string   `json:"entitlements,omitempty"`
}

// Service is the user-facing claim pipeline.
type Service interface {
	Claim(ctx context.Context, userID snowflake.ID, req ClaimRequest) (*ClaimResponse, error)
}

// CreateCampaignRequest carries the fields for a new campaign.
type CreateCampaignRequest struct {
	Name          string                      `json:"name" binding:"required"`
	PlanID        string                      `json:"planId" binding:"required"`
	UsageCategory licensedomain.UsageCategory `json:"usageCategory"`
	MaxSeats      int                         `json:"maxSeats"`
	PerUserLimit  int                         `json:"perUserLimit"`
	StartsAt      *time.Time                  `json:"startsAt"`
	EndsAt        *time.Time                  `json:"endsAt"`
}

// UpdateCampaignRequest edits mutable campaign fields. Nil fields keep their
// current value.
type UpdateCampaignRequest struct {
	Name         *string    `json:"name"`
	MaxSeats     *int       `json:"maxSeats"`
	PerUserLimit *int       `json:"perUserLimit"`
	StartsAt     *time.Time `json:"startsAt"`
	EndsAt       *time.Time `json:"endsAt"`
}

// GenerateCodesRequest mints a batch of random codes for a campaign.
type GenerateCodesRequest struct {
	Count          int        `json:"count" binding:"required,min=1,max=1000"`
	MaxRedemptions int        `json:"maxRedemptions"`
	ExpiresAt      *time.Time `json:"expiresAt"`
}

// AddCodeRequest registers one explicit code, e.g. for a printed voucher.
type AddCodeRequest struct {
	Code           string     `json:"code" binding:"required"`
	MaxRedemptions int        `json:"maxRedemptions"`
	ExpiresAt      *time.Time `json:"expiresAt"`
}

// GeneratedCode pairs a new code's plaintext with its stored row. The
// plaintext is returned exactly once.
type GeneratedCode struct {
	Code
	Plaintext string `json:"code"`
}

// CampaignView is a campaign plus derived stats for the admin UI.
type CampaignView struct {
	Campaign
	PlanName    string `json:"planName,omitempty"`
	ProductName string `json:"productName,omitempty"`
	CodeCount   int    `json:"codeCount"`
	Redemptions int    `json:"redemptions"`
}

// AdminService manages campaigns and their codes.
type AdminService interface {
	CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*Campaign, error)
	UpdateCampaign(ctx context.Context, id snowflake.ID, req UpdateCampaignRequest) (*Campaign, error)
	GetCampaign(ctx context.Context, id snowflake.ID) (*CampaignView, error)
	ListCampaigns(ctx context.Context) ([]CampaignView, error)
	ResumeCampaign(ctx context.Context, id snowflake.ID) (*Campaign, error)
	PauseCampaign(ctx context.Context, id snowflake.ID) (*Campaign, error)
	EndCampaign(ctx context.Context, id snowflake.ID) (*Campaign, error)

	GenerateCodes(ctx context.Context, campaignID snowflake.ID, req GenerateCodesRequest) ([]GeneratedCode, error)
	AddCode(ctx context.Context, campaignID snowflake.ID, req AddCodeRequest) (*Code, error)
	ListCodes(ctx context.Context, campaignID snowflake.ID) ([]Code, error)
	DisableCode(ctx context.Context, codeID snowflake.ID) (*Code, error)
	DeleteCode(ctx context.Context, codeID snowflake.ID) error

	ListRedemptions(ctx context.Context, campaignID snowflake.ID) ([]Redemption, error)
}
