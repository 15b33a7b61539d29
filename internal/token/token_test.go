package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bulc-app/license-server/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		Environment: "test",
		Licensing: config.LicensingConfig{
			TokenIssuer:                  "license-server-test",
			SessionTokenTTLMinutes:       15,
			OfflineRenewalThresholdRatio: 0.5,
			OfflineRenewalThresholdDays:  3,
		},
	}
}

func TestSessionTokenRoundTrip(t *testing.T) {
	provider, err := NewEphemeralProvider()
	require.NoError(t, err)
	issuer := NewSessionIssuer(testConfig(), provider, zap.NewNop())

	now := time.Now().UTC().Truncate(time.Second)
	signed, err := issuer.Issue("12345", "BULC-STUDIO", "machine-alpha-0001", []string{"core-simulation"}, now)
	require.NoError(t, err)
	require.NotNil(t, signed)
	assert.Equal(t, now.Add(15*time.Minute), signed.ExpiresAt)

	claims, err := Verify(provider, signed.Token)
	require.NoError(t, err)
	assert.Equal(t, "license-server-test", claims.Issuer)
	assert.Equal(t, "12345", claims.Subject)
	assert.Contains(t, claims.Audience, "BULC-STUDIO")
	assert.Equal(t, "machine-alpha-0001", claims.DeviceFingerprint)
	assert.Equal(t, []string{"core-simulation"}, claims.Entitlements)
	assert.Empty(t, claims.TokenType)
}

func TestVerifyRejectsForeignKey(t *testing.T) {
	signer, err := NewEphemeralProvider()
	require.NoError(t, err)
	other, err := NewEphemeralProvider()
	require.NoError(t, err)

	issuer := NewSessionIssuer(testConfig(), signer, zap.NewNop())
	signed, err := issuer.Issue("12345", "BULC-STUDIO", "fp", nil, time.Now())
	require.NoError(t, err)

	_, err = Verify(other, signed.Token)
	assert.Error(t, err)
}

func TestDisabledProviderIssuesNothing(t *testing.T) {
	provider, err := NewFileProvider(testConfig(), zap.NewNop())
	require.NoError(t, err)
	assert.False(t, provider.Enabled())

	session := NewSessionIssuer(testConfig(), provider, zap.NewNop())
	signed, err := session.Issue("12345", "BULC-STUDIO", "fp", nil, time.Now())
	require.NoError(t, err)
	assert.Nil(t, signed)

	offline := NewOfflineIssuer(testConfig(), provider, zap.NewNop())
	assert.False(t, offline.ShouldRenew(nil, 30, time.Now()))
	signed, err = offline.Issue("12345", "BULC-STUDIO", "fp", nil, 30, nil, time.Now())
	require.NoError(t, err)
	assert.Nil(t, signed)
}

func TestFileProviderRequiredInProduction(t *testing.T) {
	cfg := testConfig()
	cfg.Environment = "production"
	_, err := NewFileProvider(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestOfflineExpiresAtCappedByValidUntil(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, now.Add(30*24*time.Hour), ExpiresAt(now, 30, nil))

	until := now.Add(10 * 24 * time.Hour)
	assert.Equal(t, until, ExpiresAt(now, 30, &until))

	distant := now.Add(365 * 24 * time.Hour)
	assert.Equal(t, now.Add(30*24*time.Hour), ExpiresAt(now, 30, &distant))
}

func TestOfflineIssueSkipsExpiredLicenses(t *testing.T) {
	provider, err := NewEphemeralProvider()
	require.NoError(t, err)
	issuer := NewOfflineIssuer(testConfig(), provider, zap.NewNop())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	signed, err := issuer.Issue("12345", "BULC-STUDIO", "fp", nil, 30, &past, now)
	require.NoError(t, err)
	assert.Nil(t, signed)
}

func TestOfflineTokenClaims(t *testing.T) {
	provider, err := NewEphemeralProvider()
	require.NoError(t, err)
	issuer := NewOfflineIssuer(testConfig(), provider, zap.NewNop())

	now := time.Now().UTC().Truncate(time.Second)
	signed, err := issuer.Issue("12345", "BULC-STUDIO", "machine-alpha-0001", []string{"core-simulation"}, 30, nil, now)
	require.NoError(t, err)
	require.NotNil(t, signed)
	assert.Equal(t, now.Add(30*24*time.Hour), signed.ExpiresAt)

	claims, err := Verify(provider, signed.Token)
	require.NoError(t, err)
	assert.Equal(t, TokenTypeOffline, claims.TokenType)
	assert.Equal(t, "12345", claims.Subject)
}

func TestShouldRenewThresholds(t *testing.T) {
	provider, err := NewEphemeralProvider()
	require.NoError(t, err)
	issuer := NewOfflineIssuer(testConfig(), provider, zap.NewNop())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Missing or lapsed tokens always renew.
	assert.True(t, issuer.ShouldRenew(nil, 30, now))
	past := now.Add(-time.Minute)
	assert.True(t, issuer.ShouldRenew(&past, 30, now))

	// 30-day allowance: the ratio threshold is 15 days.
	comfortable := now.Add(20 * 24 * time.Hour)
	assert.False(t, issuer.ShouldRenew(&comfortable, 30, now))
	belowRatio := now.Add(14 * 24 * time.Hour)
	assert.True(t, issuer.ShouldRenew(&belowRatio, 30, now))

	// 4-day allowance: the ratio threshold would be 2 days, but the 3-day
	// floor wins.
	nearFloor := now.Add(60 * time.Hour)
	assert.True(t, issuer.ShouldRenew(&nearFloor, 4, now))
	aboveFloor := now.Add(80 * time.Hour)
	assert.False(t, issuer.ShouldRenew(&aboveFloor, 4, now))
}
