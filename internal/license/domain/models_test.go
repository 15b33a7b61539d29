package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gorm.io/datatypes"
)

func TestCalculateEffectiveStatus(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := base.Add(30 * 24 * time.Hour)

	cases := []struct {
		name       string
		stored     LicenseStatus
		validFrom  time.Time
		validUntil *time.Time
		now        time.Time
		want       LicenseStatus
	}{
		{"revoked wins over everything", LicenseStatusRevoked, base, &until, until.Add(365 * 24 * time.Hour), LicenseStatusRevoked},
		{"suspended wins over expiry", LicenseStatusSuspended, base, &until, until.Add(365 * 24 * time.Hour), LicenseStatusSuspended},
		{"stored pending", LicenseStatusPending, base, &until, base.Add(time.Hour), LicenseStatusPending},
		{"before validFrom", LicenseStatusActive, base.Add(24 * time.Hour), &until, base, LicenseStatusPending},
		{"active inside window", LicenseStatusActive, base, &until, base.Add(15 * 24 * time.Hour), LicenseStatusActive},
		{"active at exact expiry", LicenseStatusActive, base, &until, until, LicenseStatusActive},
		{"perpetual never expires", LicenseStatusActive, base, nil, base.Add(100 * 365 * 24 * time.Hour), LicenseStatusActive},
		{"grace period", LicenseStatusActive, base, &until, until.Add(3 * 24 * time.Hour), LicenseStatusExpiredGrace},
		{"grace boundary inclusive", LicenseStatusActive, base, &until, until.Add(7 * 24 * time.Hour), LicenseStatusExpiredGrace},
		{"hard expired", LicenseStatusActive, base, &until, until.Add(8 * 24 * time.Hour), LicenseStatusExpiredHard},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := &License{
				Status:         tc.stored,
				ValidFrom:      tc.validFrom,
				ValidUntil:     tc.validUntil,
				PolicySnapshot: datatypes.JSONMap{PolicyGracePeriodDays: 7},
			}
			assert.Equal(t, tc.want, l.CalculateEffectiveStatus(tc.now))
		})
	}
}

func TestUsable(t *testing.T) {
	assert.True(t, Usable(LicenseStatusActive))
	assert.True(t, Usable(LicenseStatusExpiredGrace))
	assert.False(t, Usable(LicenseStatusPending))
	assert.False(t, Usable(LicenseStatusExpiredHard))
	assert.False(t, Usable(LicenseStatusSuspended))
	assert.False(t, Usable(LicenseStatusRevoked))
}

func TestPolicyAccessors(t *testing.T) {
	// JSON round trips store numbers as float64 and lists as []interface{}.
	l := &License{PolicySnapshot: datatypes.JSONMap{
		PolicyMaxActivations:        float64(5),
		PolicyMaxConcurrentSessions: 1,
		PolicyEntitlements:          []interface{}{"core-simulation", "cloud-sync"},
	}}
	assert.Equal(t, 5, l.MaxActivations())
	assert.Equal(t, 1, l.MaxConcurrentSessions())
	assert.Equal(t, []string{"core-simulation", "cloud-sync"}, l.Entitlements())

	// Missing keys fall back to defaults.
	empty := &License{}
	assert.Equal(t, 3, empty.MaxActivations())
	assert.Equal(t, 2, empty.MaxConcurrentSessions())
	assert.Equal(t, 60, empty.SessionTTLMinutes())
	assert.Equal(t, 7, empty.GracePeriodDays())
	assert.Equal(t, 30, empty.AllowOfflineDays())
	assert.Nil(t, empty.Entitlements())
}

func TestActivationSlotAndStaleness(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ttl := 60 * time.Minute
	stale := 30 * time.Minute

	fresh := &Activation{Status: ActivationStatusActive, LastSeenAt: now.Add(-10 * time.Minute)}
	assert.True(t, fresh.OccupiesSlot(now, ttl))
	assert.False(t, fresh.IsStale(now, stale))

	// Inside the TTL but past the stale threshold: occupies a slot and is
	// eligible for reclaim at the same time.
	lagging := &Activation{Status: ActivationStatusActive, LastSeenAt: now.Add(-35 * time.Minute)}
	assert.True(t, lagging.OccupiesSlot(now, ttl))
	assert.True(t, lagging.IsStale(now, stale))

	lapsed := &Activation{Status: ActivationStatusActive, LastSeenAt: now.Add(-90 * time.Minute)}
	assert.False(t, lapsed.OccupiesSlot(now, ttl))
	assert.True(t, lapsed.IsStale(now, stale))

	dead := &Activation{Status: ActivationStatusDeactivated, LastSeenAt: now}
	assert.False(t, dead.OccupiesSlot(now, ttl))
	assert.False(t, dead.IsStale(now, stale))
}

func TestActivationDeactivateAndTouch(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	act := &Activation{Status: ActivationStatusActive, LastSeenAt: now.Add(-time.Hour)}

	act.Deactivate(DeactivateReasonUserRequest, now)
	assert.Equal(t, ActivationStatusDeactivated, act.Status)
	assert.Equal(t, DeactivateReasonUserRequest, *act.DeactivateReason)
	assert.Equal(t, now, *act.DeactivatedAt)

	later := now.Add(time.Minute)
	act.Touch(later, "2.4.1", "linux", "203.0.113.7", "Workstation")
	assert.Equal(t, ActivationStatusActive, act.Status)
	assert.Equal(t, later, act.LastSeenAt)
	assert.Nil(t, act.DeactivatedAt)
	assert.Nil(t, act.DeactivateReason)
	assert.Equal(t, "linux", *act.ClientOS)

	// Touch leaves previously reported fields alone when omitted.
	act.Touch(later.Add(time.Minute), "", "", "", "")
	assert.Equal(t, "2.4.1", *act.ClientVersion)
	assert.Equal(t, "Workstation", *act.DeviceDisplayName)
}
