package sweeper

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/bulc-app/license-server/internal/clock"
	"github.com/bulc-app/license-server/internal/config"
	licensedomain "github.com/bulc-app/license-server/internal/license/domain"
	licenserepository "github.com/bulc-app/license-server/internal/license/repository"
)

func newSweeper(t *testing.T) (*Sweeper, *gorm.DB, *clock.FakeClock, *snowflake.Node) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&licensedomain.Activation{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	s := New(Params{
		Config: config.Config{Sweeper: config.SweeperConfig{Enabled: true, IntervalHours: 24, ExpireAfterDays: 30}},
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  clk,
		Repo:   licenserepository.New(),
	})
	return s, db, clk, node
}

func seedActivation(t *testing.T, db *gorm.DB, node *snowflake.Node, status licensedomain.ActivationStatus, lastSeen time.Time) *licensedomain.Activation {
	t.Helper()
	act := &licensedomain.Activation{
		ID:                node.Generate(),
		LicenseID:         node.Generate(),
		DeviceFingerprint: "machine-" + node.Generate().String(),
		Status:            status,
		LastSeenAt:        lastSeen,
		CreatedAt:         lastSeen,
		UpdatedAt:         lastSeen,
	}
	require.NoError(t, db.Create(act).Error)
	return act
}

func TestSweepExpiresLongUnseenActivations(t *testing.T) {
	s, db, clk, node := newSweeper(t)
	now := clk.Now()

	old := seedActivation(t, db, node, licensedomain.ActivationStatusActive, now.Add(-45*24*time.Hour))
	recent := seedActivation(t, db, node, licensedomain.ActivationStatusActive, now.Add(-2*24*time.Hour))

	count, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	var swept licensedomain.Activation
	require.NoError(t, db.First(&swept, "id = ?", old.ID).Error)
	assert.Equal(t, licensedomain.ActivationStatusExpired, swept.Status)
	require.NotNil(t, swept.DeactivateReason)
	assert.Equal(t, licensedomain.DeactivateReasonSweeper, *swept.DeactivateReason)
	require.NotNil(t, swept.DeactivatedAt)
	assert.WithinDuration(t, now, *swept.DeactivatedAt, time.Second)

	var untouched licensedomain.Activation
	require.NoError(t, db.First(&untouched, "id = ?", recent.ID).Error)
	assert.Equal(t, licensedomain.ActivationStatusActive, untouched.Status)
}

func TestSweepSkipsTerminalStatuses(t *testing.T) {
	s, db, clk, node := newSweeper(t)
	ancient := clk.Now().Add(-90 * 24 * time.Hour)

	dead := seedActivation(t, db, node, licensedomain.ActivationStatusDeactivated, ancient)
	expired := seedActivation(t, db, node, licensedomain.ActivationStatusExpired, ancient)

	count, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	var got licensedomain.Activation
	require.NoError(t, db.First(&got, "id = ?", dead.ID).Error)
	assert.Equal(t, licensedomain.ActivationStatusDeactivated, got.Status)
	var got2 licensedomain.Activation
	require.NoError(t, db.First(&got2, "id = ?", expired.ID).Error)
	assert.Equal(t, licensedomain.ActivationStatusExpired, got2.Status)
}

func TestSweepIsIdempotent(t *testing.T) {
	s, db, clk, node := newSweeper(t)
	seedActivation(t, db, node, licensedomain.ActivationStatusActive, clk.Now().Add(-60*24*time.Hour))

	count, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	count, err = s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}
