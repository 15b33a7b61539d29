package token

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/bulc-app/license-server/internal/config"
)

// TokenTypeOffline marks offline tokens in the typ claim.
const TokenTypeOffline = "offline"

// OfflineIssuer signs the long-lived tokens that let clients keep working
// without connectivity for up to the license's offline allowance.
type OfflineIssuer struct {
	provider     Provider
	log          *zap.Logger
	issuer       string
	renewalRatio float64
	renewalFloor time.Duration
}

func NewOfflineIssuer(cfg config.Config, provider Provider, log *zap.Logger) *OfflineIssuer {
	return &OfflineIssuer{
		provider:     provider,
		log:          log.Named("token.offline"),
		issuer:       cfg.Licensing.TokenIssuer,
		renewalRatio: cfg.Licensing.OfflineRenewalThresholdRatio,
		renewalFloor: time.Duration(cfg.Licensing.OfflineRenewalThresholdDays) * 24 * time.Hour,
	}
}

// ExpiresAt computes the offline token expiry: now plus the offline
// allowance, capped at the license's validUntil so an offline token can never
// outlive the license.
func ExpiresAt(now time.Time, allowOfflineDays int, validUntil *time.Time) time.Time {
	expiresAt := now.Add(time.Duration(allowOfflineDays) * 24 * time.Hour)
	if validUntil != nil && validUntil.Before(expiresAt) {
		expiresAt = *validUntil
	}
	return expiresAt
}

// ShouldRenew reports whether the cached offline token needs re-signing: when
// none exists, or when its remaining lifetime has fallen below half of the
// nominal allowance or below the fixed floor.
func (i *OfflineIssuer) ShouldRenew(expiresAt *time.Time, allowOfflineDays int, now time.Time) bool {
	if !i.provider.Enabled() {
		return false
	}
	if expiresAt == nil {
		return true
	}
	remaining := expiresAt.Sub(now)
	if remaining <= 0 {
		return true
	}
	nominal := time.Duration(allowOfflineDays) * 24 * time.Hour
	threshold := time.Duration(float64(nominal) * i.renewalRatio)
	if threshold < i.renewalFloor {
		threshold = i.renewalFloor
	}
	return remaining < threshold
}

// Issue returns a signed offline token, or nil when signing is disabled.
func (i *OfflineIssuer) Issue(licenseID, productCode, fingerprint string, entitlements []string, allowOfflineDays int, validUntil *time.Time, now time.Time) (*Signed, error) {
	if !i.provider.Enabled() {
		return nil, nil
	}

	expiresAt := ExpiresAt(now, allowOfflineDays, validUntil)
	if !expiresAt.After(now) {
		return nil, nil
	}

	claims := Claims{
		DeviceFingerprint: fingerprint,
		Entitlements:      entitlements,
		TokenType:         TokenTypeOffline,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{productCode},
			Subject:   licenseID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = i.provider.KeyID()
	signed, err := tok.SignedString(i.provider.SigningKey())
	if err != nil {
		return nil, fmt.Errorf("token: sign offline token: %w", err)
	}
	return &Signed{Token: signed, ExpiresAt: expiresAt}, nil
}
