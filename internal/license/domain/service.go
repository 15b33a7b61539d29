package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Resolution explains how a successful validation got its slot.
type Resolution string

const (
	ResolutionOK                 Resolution = "OK"
	ResolutionAutoRecovered      Resolution = "AUTO_RECOVERED"
	ResolutionUserActionRequired Resolution = "USER_ACTION_REQUIRED"
)

// ActionRequired values returned on validation failures that the client can
// resolve interactively.
const ActionKickRequired = "KICK_REQUIRED"

// IssueRequest creates a license with an explicit policy snapshot.
type IssueRequest struct {
	OwnerType      OwnerType
	OwnerID        snowflake.ID
	ProductID      snowflake.ID
	PlanID         *snowflake.ID
	LicenseType    LicenseType
	UsageCategory  UsageCategory
	DurationDays   *int
	PolicySnapshot map[string]interface{}
	SourceOrderID  *snowflake.ID
}

// IssueFromPlanRequest creates a license whose policy is snapshotted from a
// catalog plan.
type IssueFromPlanRequest struct {
	OwnerType     OwnerType
	OwnerID       snowflake.ID
	PlanID        snowflake.ID
	UsageCategory UsageCategory
	SourceOrderID *snowflake.ID
}

// ValidateRequest carries the client identity for validate and heartbeat.
// Exactly one of LicenseID, ProductID or ProductCode selects the scope; when
// LicenseID is empty the resolver searches all of the caller's licenses.
type ValidateRequest struct {
	LicenseID         string `json:"licenseId"`
	ProductID         string `json:"productId"`
	ProductCode       string `json:"productCode"`
	DeviceFingerprint string `json:"deviceFingerprint" binding:"required"`
	DeviceDisplayName string `json:"deviceDisplayName"`
	ClientVersion     string `json:"clientVersion"`
	ClientOS          string `json:"clientOs"`
	ClientIP          string `json:"-"`
}

// ForceValidateRequest names the sessions the user chose to terminate.
type ForceValidateRequest struct {
	ValidateRequest
	ActivationIDsToDeactivate []string `json:"activationIdsToDeactivate" binding:"required,min=1"`
}

// SessionInfo is one row of the cross-license session listing shown to the
// user when every license is full. Fingerprints are masked.
type SessionInfo struct {
	ActivationID      string    `json:"activationId"`
	LicenseID         string    `json:"licenseId"`
	LicenseKey        string    `json:"licenseKey"`
	PlanName          string    `json:"planName,omitempty"`
	ProductName       string    `json:"productName,omitempty"`
	DeviceFingerprint string    `json:"deviceFingerprint"`
	DeviceDisplayName string    `json:"deviceDisplayName,omitempty"`
	ClientOS          string    `json:"clientOs,omitempty"`
	LastSeenAt        time.Time `json:"lastSeenAt"`
	Stale             bool      `json:"stale"`
}

// TerminatedSessionInfo describes the stale session reclaimed by
// auto-resolution.
type TerminatedSessionInfo struct {
	ActivationID      string    `json:"activationId"`
	DeviceFingerprint string    `json:"deviceFingerprint"`
	DeviceDisplayName string    `json:"deviceDisplayName,omitempty"`
	LastSeenAt        time.Time `json:"lastSeenAt"`
}

// OfflineTokenInfo is returned alongside a validation when the offline token
// was (re)issued.
type OfflineTokenInfo struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ValidationResponse is the uniform result of validate, heartbeat and
// force-validate. Failure modes that the client resolves interactively are
// reported here with Valid=false rather than as transport errors.
type ValidationResponse struct {
	Valid             bool                   `json:"valid"`
	LicenseID         string                 `json:"licenseId,omitempty"`
	LicenseKey        string                 `json:"licenseKey,omitempty"`
	Status            LicenseStatus          `json:"status,omitempty"`
	Resolution        Resolution             `json:"resolution,omitempty"`
	ErrorCode         string                 `json:"errorCode,omitempty"`
	Message           string                 `json:"message,omitempty"`
	ActionRequired    string                 `json:"actionRequired,omitempty"`
	Entitlements      []string               `json:"entitlements,omitempty"`
	SessionToken      string                 `json:"sessionToken,omitempty"`
	OfflineToken      *OfflineTokenInfo      `json:"offlineToken,omitempty"`
	ValidUntil        *time.Time             `json:"validUntil,omitempty"`
	ServerTime        time.Time              `json:"serverTime"`
	ActiveSessions    []SessionInfo          `json:"activeSessions,omitempty"`
	TerminatedSession *TerminatedSessionInfo `json:"terminatedSession,omitempty"`
}

// LicenseView is the owner-facing projection of a license.
type LicenseView struct {
	ID             string            `json:"id"`
	LicenseKey     string            `json:"licenseKey"`
	ProductID      string            `json:"productId"`
	ProductName    string            `json:"productName,omitempty"`
	PlanName       string            `json:"planName,omitempty"`
	LicenseType    LicenseType       `json:"licenseType"`
	UsageCategory  UsageCategory     `json:"usageCategory"`
	Status         LicenseStatus     `json:"status"`
	ValidFrom      time.Time         `json:"validFrom"`
	ValidUntil     *time.Time        `json:"validUntil,omitempty"`
	MaxActivations int               `json:"maxActivations"`
	ActiveDevices  int               `json:"activeDevices"`
	Activations    []ActivationView  `json:"activations,omitempty"`
}

// ActivationView is the owner-facing projection of a device binding.
type ActivationView struct {
	ID                string           `json:"id"`
	DeviceFingerprint string           `json:"deviceFingerprint"`
	DeviceDisplayName string           `json:"deviceDisplayName,omitempty"`
	ClientOS          string           `json:"clientOs,omitempty"`
	ClientVersion     string           `json:"clientVersion,omitempty"`
	Status            ActivationStatus `json:"status"`
	LastSeenAt        time.Time        `json:"lastSeenAt"`
}

// Service defines license lifecycle and session-concurrency operations.
type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*License, error)
	IssueFromPlan(ctx context.Context, req IssueFromPlanRequest) (*License, error)
	// IssueFromPlanTx is the issuance primitive for callers composing a
	// larger unit of work, such as redeem-code claims.
	IssueFromPlanTx(ctx context.Context, tx *gorm.DB, req IssueFromPlanRequest) (*License, error)

	Get(ctx context.Context, licenseID snowflake.ID) (*LicenseView, error)
	GetByKey(ctx context.Context, key string) (*LicenseView, error)
	GetOwned(ctx context.Context, userID, licenseID snowflake.ID) (*LicenseView, error)
	ListOwned(ctx context.Context, userID snowflake.ID, productID *snowflake.ID) ([]LicenseView, error)

	Validate(ctx context.Context, userID snowflake.ID, req ValidateRequest) (*ValidationResponse, error)
	Heartbeat(ctx context.Context, userID snowflake.ID, req ValidateRequest) (*ValidationResponse, error)
	ForceValidate(ctx context.Context, userID snowflake.ID, req ForceValidateRequest) (*ValidationResponse, error)
	Deactivate(ctx context.Context, userID, licenseID snowflake.ID, fingerprint string) error

	Suspend(ctx context.Context, licenseID snowflake.ID, reason string) error
	Unsuspend(ctx context.Context, licenseID snowflake.ID) error
	Revoke(ctx context.Context, licenseID snowflake.ID, reason string) error
	RevokeBySourceOrderID(ctx context.Context, orderID snowflake.ID, reason string) error
	Renew(ctx context.Context, licenseID snowflake.ID, additionalDays int) (*License, error)
}
