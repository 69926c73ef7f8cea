package services

import (
	"context"
	"testing"
	"time"

	"wildlife-rewards/models"

	"github.com/glebarez/sqlite"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Wednesday, ISO week 42.
var testNow = time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)

type fixture struct {
	ctx         context.Context
	db          *gorm.DB
	clock       *clockwork.FakeClock
	accounts    *AccountService
	settings    *SettingsResolver
	tracker     *DailyActivityTracker
	calculator  *RewardCalculator
	ledger      *CurrencyLedger
	risk        *AntiGamingRiskEngine
	completion  *CompletionService
	leaderboard *LeaderboardAggregator
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the in-memory database alive and serializes writers
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.UserAccount{},
		&models.UserBalance{},
		&models.Transaction{},
		&models.DailyActivity{},
		&models.DailyActivityCounter{},
		&models.RiskRecord{},
		&models.RewardTierConfig{},
		&models.RewardOverride{},
		&models.QuizResult{},
		&models.LeaderboardEntry{},
		&models.SiteSetting{},
	))
	return db
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	clock := clockwork.NewFakeClockAt(testNow)

	f := &fixture{ctx: context.Background(), db: db, clock: clock}
	f.accounts = NewAccountService(db)
	f.settings = NewSettingsResolver(db, clock, 30*time.Second)
	f.tracker = NewDailyActivityTracker(db, clock)
	f.calculator = NewRewardCalculator(db)
	f.ledger = NewCurrencyLedger(db, clock, f.settings, f.tracker)
	f.risk = NewAntiGamingRiskEngine(db, clock, f.ledger)
	f.completion = NewCompletionService(db, clock, f.accounts, f.settings, f.tracker, f.calculator, f.risk, f.ledger)
	f.leaderboard = NewLeaderboardAggregator(db, clock, 5*time.Minute, nil)
	require.NoError(t, f.calculator.SeedDefaultTiers(f.ctx))
	return f
}

func (f *fixture) set(t *testing.T, key, dataType, value string) {
	t.Helper()
	_, err := f.settings.Update(f.ctx, models.SiteSetting{Key: key, DataType: dataType, Value: value})
	require.NoError(t, err)
}

func (f *fixture) account(t *testing.T, id string, active bool, created time.Time) {
	t.Helper()
	acct := models.UserAccount{ID: id, Username: id, IsActive: active, Timestamps: models.Timestamps{CreatedAt: created, UpdatedAt: created}}
	require.NoError(t, f.db.Create(&acct).Error)
}

func (f *fixture) balance(t *testing.T, userID string) *models.UserBalance {
	t.Helper()
	bal, err := f.ledger.GetBalance(f.ctx, userID)
	require.NoError(t, err)
	return bal
}

func (f *fixture) countTransactions(t *testing.T, userID string) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(&models.Transaction{}).Where("user_id = ?", userID).Count(&n).Error)
	return n
}

func ptr[T any](v T) *T { return &v }
