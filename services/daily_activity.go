package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wildlife-rewards/models"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// StreakLookbackDays bounds how far back the login streak scan goes.
const StreakLookbackDays = 100

// Compiled daily limits.
const (
	defaultDailyPointsLimit        = 500
	defaultDailyCreditsLimit       = 50
	defaultMythsFactsPointsLimit   = 200
	defaultMythsFactsCreditsLimit  = 50
	defaultMaxQuizAttempts         = 50
	defaultMaxMythsFactsAttempts   = 100
	defaultDailyLoginAttemptsLimit = 1
)

// DailyActivityTracker owns the per-user per-UTC-day counters. Its mutating methods take the
// caller's transaction: they are meant to run inside the ledger's per-user locked unit.
type DailyActivityTracker struct {
	DB    *gorm.DB
	Clock clockwork.Clock
}

func NewDailyActivityTracker(db *gorm.DB, clock clockwork.Clock) *DailyActivityTracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &DailyActivityTracker{DB: db, Clock: clock}
}

// Today is the current UTC calendar day.
func (t *DailyActivityTracker) Today() string {
	return t.Clock.Now().UTC().Format(models.DayLayout)
}

// GetOrCreate returns the user's row for day, creating a zero row (with its login streak) when absent.
func (t *DailyActivityTracker) GetOrCreate(tx *gorm.DB, userID, day string) (*models.DailyActivity, error) {
	var row models.DailyActivity
	err := tx.Where("user_id = ? AND day = ?", userID, day).First(&row).Error
	if err == nil {
		return &row, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load daily activity: %w", err)
	}
	return t.createOrReload(tx, userID, day)
}

func (t *DailyActivityTracker) createOrReload(tx *gorm.DB, userID, day string) (*models.DailyActivity, error) {
	streak, err := t.streakEndingBefore(tx, userID, day)
	if err != nil {
		return nil, err
	}
	row := models.DailyActivity{
		ID:          uuid.NewString(),
		UserID:      userID,
		Day:         day,
		LoginStreak: streak + 1,
	}
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create daily activity: %w", err)
	}
	// a concurrent writer may have won the insert; reload by the natural key only
	var stored models.DailyActivity
	if err := tx.Where("user_id = ? AND day = ?", userID, day).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("reload daily activity: %w", err)
	}
	return &stored, nil
}

// streakEndingBefore counts consecutive days with activity immediately before day.
func (t *DailyActivityTracker) streakEndingBefore(tx *gorm.DB, userID, day string) (int, error) {
	current, err := time.Parse(models.DayLayout, day)
	if err != nil {
		return 0, &ValidationError{Field: "day", Reason: err.Error()}
	}
	from := current.AddDate(0, 0, -StreakLookbackDays).Format(models.DayLayout)

	var days []string
	if err := tx.Model(&models.DailyActivity{}).
		Where("user_id = ? AND day >= ? AND day < ?", userID, from, day).
		Pluck("day", &days).Error; err != nil {
		return 0, fmt.Errorf("scan activity history: %w", err)
	}
	active := make(map[string]bool, len(days))
	for _, d := range days {
		active[d] = true
	}

	streak := 0
	for i := 1; i <= StreakLookbackDays; i++ {
		if !active[current.AddDate(0, 0, -i).Format(models.DayLayout)] {
			break
		}
		streak++
	}
	return streak, nil
}

// EffectiveCap resolves the daily cap for a currency: an activity-specific setting first,
// then the tier table's cap (points only), then the global cap.
func (t *DailyActivityTracker) EffectiveCap(snap *SettingsSnapshot, activity models.ActivityType, currency models.Currency, tierCap *int64) int64 {
	key := fmt.Sprintf("%s_daily_%s_limit", activity, currency)
	if activity == models.ActivityMythsFacts {
		def := int64(defaultMythsFactsPointsLimit)
		if currency == models.CurrencyCredits {
			def = defaultMythsFactsCreditsLimit
		}
		return snap.Int(key, def)
	}
	if v := snap.Int(key, -1); v >= 0 {
		return v
	}
	if tierCap != nil && currency == models.CurrencyPoints {
		return *tierCap
	}
	return t.GlobalCap(snap, currency)
}

// GlobalCap is the cap shared by every activity without a dedicated one.
func (t *DailyActivityTracker) GlobalCap(snap *SettingsSnapshot, currency models.Currency) int64 {
	if currency == models.CurrencyCredits {
		return snap.Int(SettingDailyCreditsLimit, defaultDailyCreditsLimit)
	}
	return snap.Int(SettingDailyPointsLimit, defaultDailyPointsLimit)
}

// CheckCap reports whether amount more of currency fits under today's effective cap.
func (t *DailyActivityTracker) CheckCap(day *models.DailyActivity, snap *SettingsSnapshot, currency models.Currency, amount int64, activity models.ActivityType, tierCap *int64) bool {
	return day.Earned(currency)+amount <= t.EffectiveCap(snap, activity, currency, tierCap)
}

// ActivityLimit is the max submissions per day for an activity type; 0 means unlimited.
func (t *DailyActivityTracker) ActivityLimit(snap *SettingsSnapshot, activity models.ActivityType) int {
	switch activity {
	case models.ActivityQuiz:
		return int(snap.Int(SettingMaxQuizAttempts, defaultMaxQuizAttempts))
	case models.ActivityMythsFacts:
		return int(snap.Int(SettingMaxMythsFactsAttempts, defaultMaxMythsFactsAttempts))
	case models.ActivityDailyLogin:
		return defaultDailyLoginAttemptsLimit
	}
	return 0
}

// RecordAttempt atomically bumps the attempt counter for activity and returns the updated counter.
func (t *DailyActivityTracker) RecordAttempt(tx *gorm.DB, day *models.DailyActivity, activity models.ActivityType) (*models.DailyActivityCounter, error) {
	counter := models.DailyActivityCounter{
		ID:              uuid.NewString(),
		DailyActivityID: day.ID,
		ActivityType:    activity,
		Attempts:        1,
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "daily_activity_id"}, {Name: "activity_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"attempts": gorm.Expr("daily_activity_counters.attempts + 1"),
		}),
	}).Create(&counter).Error; err != nil {
		return nil, fmt.Errorf("record attempt: %w", err)
	}
	// on conflict the stored row keeps its own id, so reload by the unique pair
	var stored models.DailyActivityCounter
	if err := tx.Where("daily_activity_id = ? AND activity_type = ?", day.ID, activity).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("reload counter: %w", err)
	}
	return &stored, nil
}

// RecordEarned adds an earned amount to the day totals and to the activity's counter.
// completed marks the first currency of a rewarded completion so it is counted once.
func (t *DailyActivityTracker) RecordEarned(tx *gorm.DB, day *models.DailyActivity, activity models.ActivityType, currency models.Currency, amount int64, completed bool) error {
	dayColumn, counterColumn := "points_earned", "points_earned"
	if currency == models.CurrencyCredits {
		dayColumn, counterColumn = "credits_earned", "credits_earned"
	}
	dayUpdates := map[string]interface{}{
		dayColumn: gorm.Expr(dayColumn+" + ?", amount),
	}
	if activity == models.ActivityDailyLogin {
		dayUpdates["login_rewarded"] = true
	}
	if err := tx.Model(&models.DailyActivity{}).Where("id = ?", day.ID).Updates(dayUpdates).Error; err != nil {
		return fmt.Errorf("update daily totals: %w", err)
	}
	if currency == models.CurrencyCredits {
		day.CreditsEarned += amount
	} else {
		day.PointsEarned += amount
	}

	counter := models.DailyActivityCounter{
		ID:              uuid.NewString(),
		DailyActivityID: day.ID,
		ActivityType:    activity,
	}
	updates := map[string]interface{}{
		counterColumn: gorm.Expr("daily_activity_counters."+counterColumn+" + ?", amount),
	}
	if currency == models.CurrencyCredits {
		counter.CreditsEarned = amount
	} else {
		counter.PointsEarned = amount
	}
	if completed {
		counter.Completions = 1
		updates["completions"] = gorm.Expr("daily_activity_counters.completions + 1")
	}
	if err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "daily_activity_id"}, {Name: "activity_type"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&counter).Error; err != nil {
		return fmt.Errorf("update activity counter: %w", err)
	}
	return nil
}

// ActivityCount is one line of the daily summary.
type ActivityCount struct {
	ActivityType  models.ActivityType `json:"activity_type"`
	Attempts      int                 `json:"attempts"`
	Completions   int                 `json:"completions"`
	PointsEarned  int64               `json:"points_earned"`
	CreditsEarned int64               `json:"credits_earned"`
	Limit         int                 `json:"limit"`
	Remaining     int                 `json:"remaining"`
}

type DailySummary struct {
	UserID           string          `json:"user_id"`
	Day              string          `json:"day"`
	PointsEarned     int64           `json:"points_earned_today"`
	CreditsEarned    int64           `json:"credits_earned_today"`
	PointsCap        int64           `json:"points_cap"`
	CreditsCap       int64           `json:"credits_cap"`
	PointsRemaining  int64           `json:"points_remaining"`
	CreditsRemaining int64           `json:"credits_remaining"`
	LoginStreak      int             `json:"login_streak"`
	LoginRewarded    bool            `json:"login_rewarded"`
	Activities       []ActivityCount `json:"activities"`
}

// Summary reports today's progress against the global caps and per-activity allowances.
// It is read-only: a user with no row today gets a zero summary with the streak they would have.
func (t *DailyActivityTracker) Summary(ctx context.Context, snap *SettingsSnapshot, userID string) (*DailySummary, error) {
	day := t.Today()
	db := t.DB.WithContext(ctx)

	var row models.DailyActivity
	err := db.Preload("Counters").Where("user_id = ? AND day = ?", userID, day).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		streak, serr := t.streakEndingBefore(db, userID, day)
		if serr != nil {
			return nil, serr
		}
		row = models.DailyActivity{UserID: userID, Day: day, LoginStreak: streak + 1}
	} else if err != nil {
		return nil, fmt.Errorf("load daily activity: %w", err)
	}

	pointsCap := t.GlobalCap(snap, models.CurrencyPoints)
	creditsCap := t.GlobalCap(snap, models.CurrencyCredits)
	out := &DailySummary{
		UserID:           userID,
		Day:              day,
		PointsEarned:     row.PointsEarned,
		CreditsEarned:    row.CreditsEarned,
		PointsCap:        pointsCap,
		CreditsCap:       creditsCap,
		PointsRemaining:  max(0, pointsCap-row.PointsEarned),
		CreditsRemaining: max(0, creditsCap-row.CreditsEarned),
		LoginStreak:      row.LoginStreak,
		LoginRewarded:    row.LoginRewarded,
	}

	byType := map[models.ActivityType]models.DailyActivityCounter{}
	for _, c := range row.Counters {
		byType[c.ActivityType] = c
	}
	for _, activity := range []models.ActivityType{models.ActivityQuiz, models.ActivityMythsFacts, models.ActivityDailyLogin} {
		c := byType[activity]
		limit := t.ActivityLimit(snap, activity)
		out.Activities = append(out.Activities, ActivityCount{
			ActivityType:  activity,
			Attempts:      c.Attempts,
			Completions:   c.Completions,
			PointsEarned:  c.PointsEarned,
			CreditsEarned: c.CreditsEarned,
			Limit:         limit,
			Remaining:     max(0, limit-c.Attempts),
		})
	}
	return out, nil
}
