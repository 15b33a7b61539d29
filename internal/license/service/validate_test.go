package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulc-app/license-server/internal/license/domain"
	plandomain "github.com/bulc-app/license-server/internal/plan/domain"
	"github.com/bulc-app/license-server/internal/token"
)

const (
	deviceA = "machine-alpha-0001"
	deviceB = "machine-bravo-0002"
	deviceC = "machine-charlie-0003"
)

func TestValidateDirectIssuesTokens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()
	license := env.issueFromPlan(t, userID)

	resp, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{
		DeviceFingerprint: deviceA,
		DeviceDisplayName: "Workstation",
		ClientVersion:     "2.4.1",
		ClientOS:          "linux",
	})
	require.NoError(t, err)

	assert.True(t, resp.Valid)
	assert.Equal(t, domain.ResolutionOK, resp.Resolution)
	assert.Equal(t, license.ID.String(), resp.LicenseID)
	assert.Equal(t, license.LicenseKey, resp.LicenseKey)
	assert.Equal(t, domain.LicenseStatusActive, resp.Status)
	assert.Equal(t, []string{"core-simulation", "cloud-sync"}, resp.Entitlements)
	require.NotEmpty(t, resp.SessionToken)
	require.NotNil(t, resp.OfflineToken)

	claims, err := token.Verify(env.provider, resp.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, license.ID.String(), claims.Subject)
	assert.Equal(t, deviceA, claims.DeviceFingerprint)
	assert.Contains(t, claims.Audience, "BULC-STUDIO")
	assert.Empty(t, claims.TokenType)

	offline, err := token.Verify(env.provider, resp.OfflineToken.Token)
	require.NoError(t, err)
	assert.Equal(t, token.TokenTypeOffline, offline.TokenType)
	assert.WithinDuration(t, env.clock.Now().Add(30*24*time.Hour), resp.OfflineToken.ExpiresAt, time.Second)
}

func TestValidateSameDeviceIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()
	license := env.issueFromPlan(t, userID)

	for i := 0; i < 3; i++ {
		resp, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
		require.NoError(t, err)
		assert.True(t, resp.Valid)
		env.clock.Advance(time.Minute)
	}

	var seats int64
	require.NoError(t, env.db.Model(&domain.Activation{}).
		Where("license_id = ?", license.ID).Count(&seats).Error)
	assert.EqualValues(t, 1, seats)
}

func TestValidateFillsFreeSlots(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()
	env.issueFromPlan(t, userID)

	for _, fp := range []string{deviceA, deviceB} {
		resp, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: fp})
		require.NoError(t, err)
		assert.True(t, resp.Valid)
	}
}

func TestValidateAllLicensesFull(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()
	license := env.issueFromPlan(t, userID)

	_, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	require.NoError(t, err)
	env.clock.Advance(5 * time.Minute)
	_, err = env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceB})
	require.NoError(t, err)

	// Both sessions are fresh, so the third device gets the listing.
	resp, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceC})
	require.NoError(t, err)

	assert.False(t, resp.Valid)
	assert.Equal(t, domain.ErrAllLicensesFull.Code, resp.ErrorCode)
	assert.Equal(t, domain.ResolutionUserActionRequired, resp.Resolution)
	assert.Equal(t, domain.ActionKickRequired, resp.ActionRequired)
	require.Len(t, resp.ActiveSessions, 2)

	// Most recently seen first, fingerprints masked.
	assert.Equal(t, "mach****0002", resp.ActiveSessions[0].DeviceFingerprint)
	assert.Equal(t, "mach****0001", resp.ActiveSessions[1].DeviceFingerprint)
	assert.Equal(t, license.ID.String(), resp.ActiveSessions[0].LicenseID)
	assert.Equal(t, "Pro Annual", resp.ActiveSessions[0].PlanName)
	assert.Equal(t, "Bulc Studio", resp.ActiveSessions[0].ProductName)
	assert.False(t, resp.ActiveSessions[0].Stale)
}

func TestValidateReclaimsOldestStaleSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()
	license := env.issueFromPlan(t, userID)

	_, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	require.NoError(t, err)
	env.clock.Advance(35 * time.Minute)
	_, err = env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceB})
	require.NoError(t, err)

	// Device A was last seen 35 minutes ago: inside the 60-minute session
	// TTL, past the 30-minute stale threshold.
	resp, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceC})
	require.NoError(t, err)

	assert.True(t, resp.Valid)
	assert.Equal(t, domain.ResolutionAutoRecovered, resp.Resolution)
	require.NotNil(t, resp.TerminatedSession)
	assert.Equal(t, "mach****0001", resp.TerminatedSession.DeviceFingerprint)

	act := env.findActivation(t, license.ID, deviceA)
	assert.Equal(t, domain.ActivationStatusDeactivated, act.Status)
	require.NotNil(t, act.DeactivateReason)
	assert.Equal(t, domain.DeactivateReasonAutoResolveStale, *act.DeactivateReason)
}

func TestValidateRefreshesOwnLapsedSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()

	plan := env.shortSessionPlan(t, 20, 3)
	license, err := env.svc.IssueFromPlan(ctx, domain.IssueFromPlanRequest{
		OwnerType: domain.OwnerTypeUser,
		OwnerID:   userID,
		PlanID:    plan.ID,
	})
	require.NoError(t, err)

	_, err = env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	require.NoError(t, err)

	// Past the 20-minute TTL the slot is free again; the same device simply
	// refreshes its binding instead of reclaiming anything.
	env.clock.Advance(35 * time.Minute)
	resp, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	require.NoError(t, err)

	assert.True(t, resp.Valid)
	assert.Equal(t, domain.ResolutionOK, resp.Resolution)
	assert.Nil(t, resp.TerminatedSession)

	act := env.findActivation(t, license.ID, deviceA)
	assert.WithinDuration(t, env.clock.Now(), act.LastSeenAt, time.Second)
}

func TestValidateSeatLimitExceeded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()

	plan := env.shortSessionPlan(t, 20, 2)
	_, err := env.svc.IssueFromPlan(ctx, domain.IssueFromPlanRequest{
		OwnerType: domain.OwnerTypeUser,
		OwnerID:   userID,
		PlanID:    plan.ID,
	})
	require.NoError(t, err)

	_, err = env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	require.NoError(t, err)
	_, err = env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceB})
	require.NoError(t, err)

	// 25 minutes on: both sessions are outside the 20-minute TTL so a slot
	// is free, but neither is past the 30-minute stale threshold, and both
	// seats are taken.
	env.clock.Advance(25 * time.Minute)
	resp, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceC})
	require.NoError(t, err)

	assert.False(t, resp.Valid)
	assert.Equal(t, domain.ErrActivationLimitExceeded.Code, resp.ErrorCode)
}

func TestValidateExplicitLicenseFull(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()
	license := env.issueFromPlan(t, userID)

	_, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	require.NoError(t, err)
	_, err = env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceB})
	require.NoError(t, err)

	resp, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{
		LicenseID:         license.ID.String(),
		DeviceFingerprint: deviceC,
	})
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Equal(t, domain.ErrAllLicensesFull.Code, resp.ErrorCode)
	assert.Len(t, resp.ActiveSessions, 2)
}

func TestValidateExplicitLicenseOwnership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	owner := env.node.Generate()
	license := env.issueFromPlan(t, owner)

	_, err := env.svc.Validate(ctx, env.node.Generate(), domain.ValidateRequest{
		LicenseID:         license.ID.String(),
		DeviceFingerprint: deviceA,
	})
	assert.ErrorIs(t, err, domain.ErrAccessDenied)
}

func TestValidateProductScope(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()
	env.issueFromPlan(t, userID)

	resp, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{
		ProductCode:       "bulc-studio",
		DeviceFingerprint: deviceA,
	})
	require.NoError(t, err)
	assert.True(t, resp.Valid)

	other, err := env.products.Create(ctx, "bulc-render", "Bulc Render")
	require.NoError(t, err)
	_, err = env.svc.Validate(ctx, userID, domain.ValidateRequest{
		ProductID:         other.ID.String(),
		DeviceFingerprint: deviceA,
	})
	assert.ErrorIs(t, err, domain.ErrLicenseNotFoundForProduct)
}

func TestValidateInGracePeriod(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()

	thirty := 30
	license, err := env.svc.Issue(ctx, domain.IssueRequest{
		OwnerID:      userID,
		ProductID:    env.product.ID,
		DurationDays: &thirty,
	})
	require.NoError(t, err)

	// Two days past expiry, within the seven-day grace period.
	env.clock.Advance(32 * 24 * time.Hour)
	resp, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	require.NoError(t, err)

	assert.True(t, resp.Valid)
	assert.Equal(t, domain.LicenseStatusExpiredGrace, resp.Status)
	assert.Equal(t, license.ID.String(), resp.LicenseID)
	// An offline token would outlive the license, so none is issued.
	assert.Nil(t, resp.OfflineToken)
}

func TestValidateHardExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()

	thirty := 30
	license, err := env.svc.Issue(ctx, domain.IssueRequest{
		OwnerID:      userID,
		ProductID:    env.product.ID,
		DurationDays: &thirty,
	})
	require.NoError(t, err)

	env.clock.Advance(40 * 24 * time.Hour)

	resp, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{
		LicenseID:         license.ID.String(),
		DeviceFingerprint: deviceA,
	})
	require.NoError(t, err)
	assert.False(t, resp.Valid)
	assert.Equal(t, domain.ErrLicenseExpired.Code, resp.ErrorCode)
	assert.Equal(t, domain.LicenseStatusExpiredHard, resp.Status)

	// Without an explicit id the license is no longer a candidate at all.
	_, err = env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	assert.ErrorIs(t, err, domain.ErrLicenseNotFoundForProduct)
}

func TestHeartbeatNeverCreatesBindings(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()
	env.issueFromPlan(t, userID)

	_, err := env.svc.Heartbeat(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	assert.ErrorIs(t, err, domain.ErrActivationNotFound)
}

func TestHeartbeatUnknownUser(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.Heartbeat(context.Background(), env.node.Generate(), domain.ValidateRequest{DeviceFingerprint: deviceA})
	assert.ErrorIs(t, err, domain.ErrActivationNotFound)
}

func TestHeartbeatRefreshesSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()
	license := env.issueFromPlan(t, userID)

	_, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	require.NoError(t, err)

	env.clock.Advance(10 * time.Minute)
	resp, err := env.svc.Heartbeat(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	require.NoError(t, err)
	assert.True(t, resp.Valid)

	act := env.findActivation(t, license.ID, deviceA)
	assert.WithinDuration(t, env.clock.Now(), act.LastSeenAt, time.Second)
}

func TestHeartbeatDeadBinding(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()
	license := env.issueFromPlan(t, userID)

	_, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	require.NoError(t, err)
	require.NoError(t, env.svc.Deactivate(ctx, userID, license.ID, deviceA))

	_, err = env.svc.Heartbeat(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	assert.ErrorIs(t, err, domain.ErrSessionDeactivated)
}

func TestForceValidateTerminatesChosenSessions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()
	license := env.issueFromPlan(t, userID)

	_, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	require.NoError(t, err)
	env.clock.Advance(5 * time.Minute)
	_, err = env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceB})
	require.NoError(t, err)

	listing, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceC})
	require.NoError(t, err)
	require.Equal(t, domain.ErrAllLicensesFull.Code, listing.ErrorCode)
	require.Len(t, listing.ActiveSessions, 2)

	// Kick the oldest session, listed last.
	target := listing.ActiveSessions[1].ActivationID
	resp, err := env.svc.ForceValidate(ctx, userID, domain.ForceValidateRequest{
		ValidateRequest: domain.ValidateRequest{
			LicenseID:         license.ID.String(),
			DeviceFingerprint: deviceC,
		},
		ActivationIDsToDeactivate: []string{target},
	})
	require.NoError(t, err)
	assert.True(t, resp.Valid)

	act := env.findActivation(t, license.ID, deviceA)
	assert.Equal(t, domain.ActivationStatusDeactivated, act.Status)
	require.NotNil(t, act.DeactivateReason)
	assert.Equal(t, domain.DeactivateReasonForceValidate, *act.DeactivateReason)
}

func TestForceValidateRequiresLicenseID(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.svc.ForceValidate(context.Background(), env.node.Generate(), domain.ForceValidateRequest{
		ValidateRequest:           domain.ValidateRequest{DeviceFingerprint: deviceA},
		ActivationIDsToDeactivate: []string{"123"},
	})
	require.Error(t, err)
	var domainErr *domain.Error
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, "INVALID_REQUEST", domainErr.Code)
}

func TestValidatePrefersLatestExpiringLicense(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()

	other, err := env.products.Create(ctx, "bulc-render", "Bulc Render")
	require.NoError(t, err)
	thirty := 30
	short, err := env.svc.Issue(ctx, domain.IssueRequest{
		OwnerID:      userID,
		ProductID:    other.ID,
		DurationDays: &thirty,
	})
	require.NoError(t, err)
	long := env.issueFromPlan(t, userID)
	require.True(t, long.ValidUntil.After(*short.ValidUntil))

	resp, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	require.NoError(t, err)
	require.True(t, resp.Valid)
	assert.Equal(t, long.ID.String(), resp.LicenseID)
}

func TestValidatePrefersPerpetualLicense(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()

	env.issueFromPlan(t, userID)
	other, err := env.products.Create(ctx, "bulc-render", "Bulc Render")
	require.NoError(t, err)
	perpetual, err := env.svc.Issue(ctx, domain.IssueRequest{
		OwnerID:     userID,
		ProductID:   other.ID,
		LicenseType: domain.LicenseTypePerpetual,
	})
	require.NoError(t, err)
	require.Nil(t, perpetual.ValidUntil)

	resp, err := env.svc.Validate(ctx, userID, domain.ValidateRequest{DeviceFingerprint: deviceA})
	require.NoError(t, err)
	require.True(t, resp.Valid)
	assert.Equal(t, perpetual.ID.String(), resp.LicenseID)
}

func TestForceValidateRejectsCrossLicenseTargets(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()

	target := env.issueFromPlan(t, userID)
	other, err := env.products.Create(ctx, "bulc-render", "Bulc Render")
	require.NoError(t, err)
	second, err := env.svc.Issue(ctx, domain.IssueRequest{OwnerID: userID, ProductID: other.ID})
	require.NoError(t, err)

	_, err = env.svc.Validate(ctx, userID, domain.ValidateRequest{
		LicenseID:         second.ID.String(),
		DeviceFingerprint: deviceA,
	})
	require.NoError(t, err)
	secondAct := env.findActivation(t, second.ID, deviceA)

	// A session on the caller's other license is off limits.
	_, err = env.svc.ForceValidate(ctx, userID, domain.ForceValidateRequest{
		ValidateRequest: domain.ValidateRequest{
			LicenseID:         target.ID.String(),
			DeviceFingerprint: deviceB,
		},
		ActivationIDsToDeactivate: []string{secondAct.ID.String()},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidActivationOwner)

	untouched := env.findActivation(t, second.ID, deviceA)
	assert.Equal(t, domain.ActivationStatusActive, untouched.Status)
}

func TestForceValidateRejectsForeignActivations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	victim := env.node.Generate()
	victimLicense := env.issueFromPlan(t, victim)
	_, err := env.svc.Validate(ctx, victim, domain.ValidateRequest{DeviceFingerprint: deviceA})
	require.NoError(t, err)
	victimAct := env.findActivation(t, victimLicense.ID, deviceA)

	attacker := env.node.Generate()
	attackerLicense := env.issueFromPlan(t, attacker)

	_, err = env.svc.ForceValidate(ctx, attacker, domain.ForceValidateRequest{
		ValidateRequest: domain.ValidateRequest{
			LicenseID:         attackerLicense.ID.String(),
			DeviceFingerprint: deviceB,
		},
		ActivationIDsToDeactivate: []string{victimAct.ID.String()},
	})
	assert.ErrorIs(t, err, domain.ErrInvalidActivationOwner)
}

func TestForceValidateUnknownActivation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	userID := env.node.Generate()
	license := env.issueFromPlan(t, userID)

	_, err := env.svc.ForceValidate(ctx, userID, domain.ForceValidateRequest{
		ValidateRequest: domain.ValidateRequest{
			LicenseID:         license.ID.String(),
			DeviceFingerprint: deviceA,
		},
		ActivationIDsToDeactivate: []string{env.node.Generate().String()},
	})
	assert.ErrorIs(t, err, domain.ErrActivationNotFound)
}

// shortSessionPlan registers an extra product and plan with a session TTL
// shorter than the stale threshold.
func (e *testEnv) shortSessionPlan(t *testing.T, ttlMinutes, maxActivations int) *plandomain.Plan {
	t.Helper()
	ctx := context.Background()
	product, err := e.products.Create(ctx, "bulc-render", "Bulc Render")
	require.NoError(t, err)
	plan, err := e.plans.Create(ctx, plandomain.CreateRequest{
		Code:                  "RENDER-MONTHLY",
		Name:                  "Render Monthly",
		ProductID:             product.ID.String(),
		LicenseType:           domain.LicenseTypeSubscription,
		DurationDays:          intPtr(30),
		MaxActivations:        maxActivations,
		MaxConcurrentSessions: 2,
		SessionTTLMinutes:     ttlMinutes,
		GracePeriodDays:       7,
		AllowOfflineDays:      30,
		Entitlements:          []string{"render-farm"},
	})
	require.NoError(t, err)
	return plan
}
