// Package domain contains persistence models and the status machine for
// licenses and device activations.
package domain

import (
	"encoding/json"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// LicenseStatus represents lifecycle states for a license.
//
// PENDING, ACTIVE, SUSPENDED and REVOKED are stored; EXPIRED_GRACE and
// EXPIRED_HARD are derived from the validity window at evaluation time.
type LicenseStatus string

const (
	LicenseStatusPending      LicenseStatus = "PENDING"
	LicenseStatusActive       LicenseStatus = "ACTIVE"
	LicenseStatusExpiredGrace LicenseStatus = "EXPIRED_GRACE"
	LicenseStatusExpiredHard  LicenseStatus = "EXPIRED_HARD"
	LicenseStatusSuspended    LicenseStatus = "SUSPENDED"
	LicenseStatusRevoked      LicenseStatus = "REVOKED"
)

// OwnerType distinguishes individual from organization ownership.
type OwnerType string

const (
	OwnerTypeUser         OwnerType = "USER"
	OwnerTypeOrganization OwnerType = "ORGANIZATION"
)

// LicenseType distinguishes time-bound from perpetual licenses.
type LicenseType string

const (
	LicenseTypeSubscription LicenseType = "SUBSCRIPTION"
	LicenseTypePerpetual    LicenseType = "PERPETUAL"
)

// UsageCategory tags what the license was issued for.
type UsageCategory string

const (
	UsageCategoryCommercial  UsageCategory = "COMMERCIAL"
	UsageCategoryEducational UsageCategory = "EDUCATIONAL"
	UsageCategoryPromotional UsageCategory = "PROMOTIONAL"
)

// Policy snapshot keys. The snapshot is captured from the plan at issuance
// time so later plan edits never change already-issued licenses.
const (
	PolicyMaxActivations        = "maxActivations"
	PolicyMaxConcurrentSessions = "maxConcurrentSessions"
	PolicySessionTTLMinutes     = "sessionTtlMinutes"
	PolicyGracePeriodDays       = "gracePeriodDays"
	PolicyAllowOfflineDays      = "allowOfflineDays"
	PolicyEntitlements          = "entitlements"
)

// License is the unit of entitlement for one (owner, product) pair.
type License struct {
	ID             snowflake.ID      `gorm:"primaryKey" json:"id"`
	LicenseKey     string            `gorm:"type:text;not null;uniqueIndex" json:"licenseKey"`
	OwnerType      OwnerType         `gorm:"type:text;not null;index:idx_licenses_owner" json:"ownerType"`
	OwnerID        snowflake.ID      `gorm:"not null;index:idx_licenses_owner" json:"ownerId"`
	ProductID      snowflake.ID      `gorm:"not null;index" json:"productId"`
	PlanID         *snowflake.ID     `gorm:"index" json:"planId,omitempty"`
	LicenseType    LicenseType       `gorm:"type:text;not null" json:"licenseType"`
	UsageCategory  UsageCategory     `gorm:"type:text;not null" json:"usageCategory"`
	Status         LicenseStatus     `gorm:"type:text;not null" json:"status"`
	SuspendReason  *string           `gorm:"type:text" json:"suspendReason,omitempty"`
	RevokeReason   *string           `gorm:"type:text" json:"revokeReason,omitempty"`
	ValidFrom      time.Time         `gorm:"not null" json:"validFrom"`
	ValidUntil     *time.Time        `json:"validUntil,omitempty"`
	PolicySnapshot datatypes.JSONMap `gorm:"type:jsonb" json:"policySnapshot"`
	SourceOrderID  *snowflake.ID     `gorm:"index" json:"sourceOrderId,omitempty"`
	CreatedAt      time.Time         `gorm:"not null" json:"createdAt"`
	UpdatedAt      time.Time         `gorm:"not null" json:"updatedAt"`

	Activations []Activation `gorm:"foreignKey:LicenseID" json:"-"`
}

// TableName sets the database table name.
func (License) TableName() string { return "licenses" }

// CalculateEffectiveStatus derives the status a caller must act on. It is a
// pure function of the stored flags, the validity window and now.
func (l *License) CalculateEffectiveStatus(now time.Time) LicenseStatus {
	switch {
	case l.Status == LicenseStatusRevoked:
		return LicenseStatusRevoked
	case l.Status == LicenseStatusSuspended:
		return LicenseStatusSuspended
	case l.Status == LicenseStatusPending || now.Before(l.ValidFrom):
		return LicenseStatusPending
	case l.ValidUntil == nil || !now.After(*l.ValidUntil):
		return LicenseStatusActive
	case !now.After(l.ValidUntil.Add(time.Duration(l.GracePeriodDays()) * 24 * time.Hour)):
		return LicenseStatusExpiredGrace
	default:
		return LicenseStatusExpiredHard
	}
}

// Usable reports whether validation and heartbeat may proceed.
func Usable(status LicenseStatus) bool {
	return status == LicenseStatusActive || status == LicenseStatusExpiredGrace
}

// IsOwnedBy reports whether the given user owns this license directly.
func (l *License) IsOwnedBy(userID snowflake.ID) bool {
	return l.OwnerType == OwnerTypeUser && l.OwnerID == userID
}

func (l *License) MaxActivations() int {
	return l.policyInt(PolicyMaxActivations, 3)
}

func (l *License) MaxConcurrentSessions() int {
	return l.policyInt(PolicyMaxConcurrentSessions, 2)
}

func (l *License) SessionTTLMinutes() int {
	return l.policyInt(PolicySessionTTLMinutes, 60)
}

func (l *License) GracePeriodDays() int {
	return l.policyInt(PolicyGracePeriodDays, 7)
}

func (l *License) AllowOfflineDays() int {
	return l.policyInt(PolicyAllowOfflineDays, 30)
}

// Entitlements returns the feature flags baked into the policy snapshot.
func (l *License) Entitlements() []string {
	if l.PolicySnapshot == nil {
		return nil
	}
	raw, ok := l.PolicySnapshot[PolicyEntitlements]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func (l *License) policyInt(key string, def int) int {
	if l.PolicySnapshot == nil {
		return def
	}
	switch v := l.PolicySnapshot[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		return def
	default:
		return def
	}
}

// ActivationStatus represents lifecycle states for a device binding.
type ActivationStatus string

const (
	ActivationStatusActive      ActivationStatus = "ACTIVE"
	ActivationStatusDeactivated ActivationStatus = "DEACTIVATED"
	ActivationStatusExpired     ActivationStatus = "EXPIRED"
)

// Deactivation reason tags recorded for auditability.
const (
	DeactivateReasonUserRequest      = "USER_REQUEST"
	DeactivateReasonForceValidate    = "FORCE_VALIDATE"
	DeactivateReasonAutoResolveStale = "AUTO_RESOLVE_STALE"
	DeactivateReasonSweeper          = "SWEEPER_EXPIRED"
)

// Activation binds one device fingerprint to a license. Slot occupancy and
// staleness are derived from LastSeenAt, never stored.
type Activation struct {
	ID                    snowflake.ID     `gorm:"primaryKey" json:"id"`
	LicenseID             snowflake.ID     `gorm:"not null;uniqueIndex:idx_activations_license_device" json:"licenseId"`
	DeviceFingerprint     string           `gorm:"type:text;not null;uniqueIndex:idx_activations_license_device" json:"-"`
	Status                ActivationStatus `gorm:"type:text;not null" json:"status"`
	DeviceDisplayName     *string          `gorm:"type:text" json:"deviceDisplayName,omitempty"`
	ClientVersion         *string          `gorm:"type:text" json:"clientVersion,omitempty"`
	ClientOS              *string          `gorm:"type:text" json:"clientOs,omitempty"`
	ClientIP              *string          `gorm:"type:text" json:"-"`
	LastSeenAt            time.Time        `gorm:"not null;index" json:"lastSeenAt"`
	DeactivatedAt         *time.Time       `json:"deactivatedAt,omitempty"`
	DeactivateReason      *string          `gorm:"type:text" json:"deactivateReason,omitempty"`
	OfflineToken          *string          `gorm:"type:text" json:"-"`
	OfflineTokenExpiresAt *time.Time       `json:"offlineTokenExpiresAt,omitempty"`
	CreatedAt             time.Time        `gorm:"not null" json:"createdAt"`
	UpdatedAt             time.Time        `gorm:"not null" json:"updatedAt"`
}

// TableName sets the database table name.
func (Activation) TableName() string { return "activations" }

// OccupiesSlot reports whether this activation currently consumes a
// concurrency slot: ACTIVE and seen within the session TTL.
func (a *Activation) OccupiesSlot(now time.Time, sessionTTL time.Duration) bool {
	return a.Status == ActivationStatusActive && !a.LastSeenAt.Before(now.Add(-sessionTTL))
}

// IsStale reports whether this activation is eligible for automatic reclaim.
func (a *Activation) IsStale(now time.Time, staleThreshold time.Duration) bool {
	return a.Status == ActivationStatusActive && a.LastSeenAt.Before(now.Add(-staleThreshold))
}

// Deactivate releases the seat with a reason tag.
func (a *Activation) Deactivate(reason string, now time.Time) {
	a.Status = ActivationStatusDeactivated
	a.DeactivatedAt = &now
	a.DeactivateReason = &reason
	a.UpdatedAt = now
}

// Touch refreshes the binding on a successful validate or heartbeat.
func (a *Activation) Touch(now time.Time, clientVersion, clientOS, clientIP, displayName string) {
	a.Status = ActivationStatusActive
	a.LastSeenAt = now
	a.DeactivatedAt = nil
	a.DeactivateReason = nil
	if clientVersion != "" {
		a.ClientVersion = &clientVersion
	}
	if clientOS != "" {
		a.ClientOS = &clientOS
	}
	if clientIP != "" {
		a.ClientIP = &clientIP
	}
	if displayName != "" {
		a.DeviceDisplayName = &displayName
	}
	a.UpdatedAt = now
}

// IssueOfflineToken caches the last issued offline token on the binding so
// subsequent heartbeats can skip re-signing until the renewal policy fires.
func (a *Activation) IssueOfflineToken(token string, expiresAt time.Time, now time.Time) {
	a.OfflineToken = &token
	a.OfflineTokenExpiresAt = &expiresAt
	a.UpdatedAt = now
}
