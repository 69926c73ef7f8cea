package services

import (
	"testing"
	"time"

	"wildlife-rewards/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsSnapshot_TypedLookups(t *testing.T) {
	snap := NewSettingsSnapshot([]models.SiteSetting{
		{Key: "limit", DataType: "int", Value: "250"},
		{Key: "ratio", DataType: "float", Value: "0.35"},
		{Key: "enabled", DataType: "bool", Value: "false"},
		{Key: "name", DataType: "str", Value: "owls"},
		{Key: "broken", DataType: "int", Value: "many"},
		{Key: "blob", DataType: "json", Value: `{"a":{"b":7}}`},
	}, testNow)

	assert.Equal(t, int64(250), snap.Int("limit", 1))
	assert.InDelta(t, 0.35, snap.Float("ratio", 0), 1e-9)
	assert.False(t, snap.Bool("enabled", true))
	assert.Equal(t, "owls", snap.String("name", ""))
	assert.Equal(t, int64(9), snap.Int("broken", 9), "malformed values fall back to the default")
	assert.Equal(t, int64(3), snap.Int("missing", 3))

	var blob map[string]map[string]int
	require.True(t, snap.JSON("blob", &blob))
	assert.Equal(t, 7, blob["a"]["b"])
	assert.Equal(t, testNow, snap.LoadedAt())
}

func TestSettingsSnapshot_NilAnswersDefaults(t *testing.T) {
	var snap *SettingsSnapshot
	assert.Equal(t, int64(5), snap.Int("x", 5))
	assert.True(t, snap.Bool("x", true))
	assert.Equal(t, "d", snap.String("x", "d"))
}

func TestSettingsSnapshot_CategoryBlobFallback(t *testing.T) {
	blob := `{"dailyLimits":{"maxPointsPerDay":150,"maxGamesPerDay":12},"gameParameters":{"timeBonusPercentage":0.5}}`
	snap := NewSettingsSnapshot([]models.SiteSetting{
		{Key: "mythsVsFacts_config", DataType: "json", Value: blob},
	}, testNow)

	assert.Equal(t, int64(150), snap.Int("myths_facts_daily_points_limit", 200))
	assert.Equal(t, int64(12), snap.Int(SettingMaxMythsFactsAttempts, 100))
	assert.InDelta(t, 0.5, snap.Float("myths_facts_time_bonus_pct", 0.4), 1e-9)
	assert.Equal(t, int64(50), snap.Int("myths_facts_daily_credits_limit", 50), "absent blob field keeps the default")

	explicit := NewSettingsSnapshot([]models.SiteSetting{
		{Key: "mythsVsFacts_config", DataType: "json", Value: blob},
		{Key: "myths_facts_daily_points_limit", DataType: "int", Value: "90"},
	}, testNow)
	assert.Equal(t, int64(90), explicit.Int("myths_facts_daily_points_limit", 200), "explicit rows beat the blob")
}

func TestSettingsResolver_RefreshesOnTTL(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.db.Create(&models.SiteSetting{Key: SettingDailyPointsLimit, DataType: "int", Value: "300"}).Error)

	assert.Equal(t, int64(300), f.settings.Snapshot(f.ctx).Int(SettingDailyPointsLimit, 0))

	require.NoError(t, f.db.Model(&models.SiteSetting{Key: SettingDailyPointsLimit}).Update("value", "400").Error)
	assert.Equal(t, int64(300), f.settings.Snapshot(f.ctx).Int(SettingDailyPointsLimit, 0), "served from the snapshot within TTL")

	f.clock.Advance(31 * time.Second)
	assert.Equal(t, int64(400), f.settings.Snapshot(f.ctx).Int(SettingDailyPointsLimit, 0))
}

func TestSettingsResolver_UpdateInvalidates(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, int64(500), f.settings.Snapshot(f.ctx).Int(SettingDailyPointsLimit, 500))

	f.set(t, SettingDailyPointsLimit, "int", "120")
	assert.Equal(t, int64(120), f.settings.Snapshot(f.ctx).Int(SettingDailyPointsLimit, 500))

	f.set(t, SettingDailyPointsLimit, "int", "130")
	assert.Equal(t, int64(130), f.settings.Snapshot(f.ctx).Int(SettingDailyPointsLimit, 500))
}

func TestSettingsResolver_UpdateRejectsBadValues(t *testing.T) {
	f := newFixture(t)
	cases := []models.SiteSetting{
		{Key: "", DataType: "int", Value: "1"},
		{Key: "a", DataType: "int", Value: "one"},
		{Key: "a", DataType: "bool", Value: "maybe"},
		{Key: "a", DataType: "json", Value: "{"},
		{Key: "a", DataType: "yaml", Value: "x: 1"},
	}
	for _, c := range cases {
		_, err := f.settings.Update(f.ctx, c)
		assert.True(t, IsValidation(err), "%+v should be rejected", c)
	}
}

func TestSettingsResolver_ServesPreviousSnapshotWhenStorageFails(t *testing.T) {
	f := newFixture(t)
	f.set(t, SettingDailyCreditsLimit, "int", "40")
	require.Equal(t, int64(40), f.settings.Snapshot(f.ctx).Int(SettingDailyCreditsLimit, 50))

	require.NoError(t, f.db.Migrator().DropTable(&models.SiteSetting{}))
	f.clock.Advance(time.Minute)
	assert.Equal(t, int64(40), f.settings.Snapshot(f.ctx).Int(SettingDailyCreditsLimit, 50))

	f.settings.Invalidate()
	assert.Equal(t, int64(50), f.settings.Snapshot(f.ctx).Int(SettingDailyCreditsLimit, 50), "no previous snapshot: compiled defaults")
}
