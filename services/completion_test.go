package services

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"wildlife-rewards/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func quizCompletion(user, ref string, score, seconds int) CompletionRequest {
	return CompletionRequest{
		UserID:              user,
		ActivityType:        models.ActivityQuiz,
		ScorePercentage:     &score,
		TimeTakenSeconds:    &seconds,
		ActivityReferenceID: ref,
	}
}

func TestComplete_RewardsFastPerfectQuiz(t *testing.T) {
	f := newFixture(t)

	res, err := f.completion.Complete(f.ctx, quizCompletion("u1", "quiz-1", 100, 60))
	require.NoError(t, err)
	assert.True(t, res.Rewarded)
	assert.Equal(t, models.TierPlatinum, res.Tier)
	assert.Equal(t, int64(54), res.PointsEarned)
	assert.Equal(t, int64(15), res.CreditsEarned)
	assert.Equal(t, int64(24), res.BonusPoints)
	assert.Equal(t, []string{BonusTime, BonusPerfect}, res.BonusesApplied)
	assert.Equal(t, "Platinum tier! +54 points, +15 credits", res.Message)
	require.NotNil(t, res.RiskSummary)
	assert.False(t, res.RiskSummary.Flagged)

	bal := f.balance(t, "u1")
	assert.Equal(t, int64(54), bal.PointsBalance)
	assert.Equal(t, int64(15), bal.CreditsBalance)

	var qr models.QuizResult
	require.NoError(t, f.db.First(&qr, "user_id = ? AND activity_reference = ?", "u1", "quiz-1").Error)
	assert.Equal(t, int64(54), qr.PointsEarned)
	assert.Equal(t, 100, qr.ScorePercentage)

	var acct models.UserAccount
	require.NoError(t, f.db.First(&acct, "id = ?", "u1").Error)
	assert.True(t, acct.IsActive, "unknown users get an active account on first completion")
}

func TestComplete_RejectsInvalidRequests(t *testing.T) {
	f := newFixture(t)
	cases := []CompletionRequest{
		{UserID: "u1", ActivityType: models.ActivityQuiz, ActivityReferenceID: "q"},
		{UserID: "u1", ActivityType: models.ActivityPurchase, ActivityReferenceID: "q", ScorePercentage: ptr(50)},
		{UserID: "u1", ActivityType: models.ActivityQuiz, ActivityReferenceID: " ", ScorePercentage: ptr(50)},
		{UserID: "", ActivityType: models.ActivityQuiz, ActivityReferenceID: "q", ScorePercentage: ptr(50)},
		quizCompletion("u1", "q", 120, 30),
	}
	for _, req := range cases {
		_, err := f.completion.Complete(f.ctx, req)
		assert.True(t, IsValidation(err), "%+v", req)
	}
	assert.Zero(t, f.countTransactions(t, "u1"))
}

func TestComplete_ReplayReturnsOriginalReward(t *testing.T) {
	f := newFixture(t)
	first, err := f.completion.Complete(f.ctx, quizCompletion("u1", "quiz-1", 85, 200))
	require.NoError(t, err)
	require.True(t, first.Rewarded)

	again, err := f.completion.Complete(f.ctx, quizCompletion("u1", "quiz-1", 100, 10))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, first.PointsEarned, again.PointsEarned)
	assert.Equal(t, first.CreditsEarned, again.CreditsEarned)
	assert.Equal(t, models.TierGold, again.Tier)

	assert.Equal(t, first.PointsEarned, f.balance(t, "u1").PointsBalance)
	summary, err := f.tracker.Summary(f.ctx, f.settings.Snapshot(f.ctx), "u1")
	require.NoError(t, err)
	for _, a := range summary.Activities {
		if a.ActivityType == models.ActivityQuiz {
			assert.Equal(t, 1, a.Attempts, "replays are not new attempts")
		}
	}
}

func TestComplete_FlaggedCompletionIsNotRewarded(t *testing.T) {
	f := newFixture(t)
	f.set(t, SettingDailyCreditsLimit, "int", "1000")

	for i := 1; i <= 5; i++ {
		res, err := f.completion.Complete(f.ctx, quizCompletion("u1", fmt.Sprintf("q%d", i), 100, 45))
		require.NoError(t, err)
		require.True(t, res.Rewarded, "completion %d", i)
		f.clock.Advance(5 * time.Minute)
	}
	before := f.balance(t, "u1")

	res, err := f.completion.Complete(f.ctx, quizCompletion("u1", "q6", 100, 45))
	require.NoError(t, err)
	assert.False(t, res.Rewarded)
	assert.Equal(t, ReasonFlagged, res.Reason)
	assert.True(t, res.RiskSummary.Flagged)
	assert.Zero(t, res.PointsEarned)

	after := f.balance(t, "u1")
	assert.Equal(t, before.PointsBalance, after.PointsBalance)
	assert.Equal(t, before.CreditsBalance, after.CreditsBalance)

	flagged, total, err := f.risk.ListFlagged(f.ctx, nil, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, "q6", flagged[0].ActivityReference)
}

func TestComplete_BlockReasons(t *testing.T) {
	t.Run("rewards disabled", func(t *testing.T) {
		f := newFixture(t)
		f.set(t, SettingRewardsEnabled, "bool", "false")
		res, err := f.completion.Complete(f.ctx, quizCompletion("u1", "q1", 90, 60))
		require.NoError(t, err)
		assert.Equal(t, ReasonRewardsDisabled, res.Reason)

		var records int64
		require.NoError(t, f.db.Model(&models.RiskRecord{}).Count(&records).Error)
		assert.Equal(t, int64(1), records, "the completion is still analyzed")
	})

	t.Run("activity limit", func(t *testing.T) {
		f := newFixture(t)
		f.set(t, SettingMaxQuizAttempts, "int", "2")
		for i := 1; i <= 2; i++ {
			res, err := f.completion.Complete(f.ctx, quizCompletion("u1", fmt.Sprintf("q%d", i), 70, 60))
			require.NoError(t, err)
			require.True(t, res.Rewarded)
		}
		res, err := f.completion.Complete(f.ctx, quizCompletion("u1", "q3", 70, 60))
		require.NoError(t, err)
		assert.Equal(t, ReasonActivityLimit, res.Reason)
	})

	t.Run("daily cap", func(t *testing.T) {
		f := newFixture(t)
		f.set(t, SettingDailyPointsLimit, "int", "50")
		res, err := f.completion.Complete(f.ctx, quizCompletion("u1", "q1", 100, 60))
		require.NoError(t, err)
		assert.Equal(t, ReasonDailyLimit, res.Reason)
		assert.Zero(t, f.countTransactions(t, "u1"))
	})

	t.Run("inactive account", func(t *testing.T) {
		f := newFixture(t)
		f.account(t, "u1", false, testNow)
		res, err := f.completion.Complete(f.ctx, quizCompletion("u1", "q1", 100, 60))
		require.NoError(t, err)
		assert.Equal(t, ReasonInactiveUser, res.Reason)
		assert.False(t, res.Rewarded)
	})

	t.Run("zero reward", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.calculator.UpsertOverride(f.ctx, models.RewardOverride{
			ActivityType: models.ActivityQuiz, Scope: models.OverrideItem, ScopeID: "practice", PointsReward: 0, CreditsReward: 0,
		})
		require.NoError(t, err)
		req := quizCompletion("u1", "q1", 90, 60)
		req.OverrideHints = &OverrideHints{ItemID: ptr("practice")}
		res, err := f.completion.Complete(f.ctx, req)
		require.NoError(t, err)
		assert.Equal(t, ReasonNoReward, res.Reason)
	})
}

func TestComplete_PureScoringModeSkipsBonuses(t *testing.T) {
	f := newFixture(t)
	f.set(t, SettingPureScoringMode, "bool", "true")
	res, err := f.completion.Complete(f.ctx, quizCompletion("u1", "q1", 100, 60))
	require.NoError(t, err)
	assert.Equal(t, int64(30), res.PointsEarned)
	assert.Equal(t, int64(10), res.CreditsEarned)
	assert.Empty(t, res.BonusesApplied)
}

func TestProcessDailyLogin_OncePerDay(t *testing.T) {
	f := newFixture(t)

	res, err := f.completion.ProcessDailyLogin(f.ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Rewarded)
	assert.Equal(t, 1, res.LoginStreak)
	assert.Equal(t, int64(5), res.PointsEarned)
	assert.Equal(t, int64(1), res.CreditsEarned)

	res, err = f.completion.ProcessDailyLogin(f.ctx, "u1")
	require.NoError(t, err)
	assert.False(t, res.Rewarded)
	assert.Equal(t, ReasonLoginAlreadyClaimed, res.Reason)
	assert.Equal(t, int64(5), f.balance(t, "u1").PointsBalance)

	f.clock.Advance(24 * time.Hour)
	res, err = f.completion.ProcessDailyLogin(f.ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Rewarded)
	assert.Equal(t, 2, res.LoginStreak)
}

func TestProcessDailyLogin_StreakBonus(t *testing.T) {
	f := newFixture(t)
	for i := 6; i >= 1; i-- {
		day := testNow.AddDate(0, 0, -i).Format(models.DayLayout)
		require.NoError(t, f.db.Create(&models.DailyActivity{ID: fmt.Sprintf("00000000-0000-0000-0000-00000000000%d", i), UserID: "u1", Day: day, LoginStreak: 7 - i}).Error)
	}

	res, err := f.completion.ProcessDailyLogin(f.ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Rewarded)
	assert.Equal(t, 7, res.LoginStreak)
	assert.True(t, res.StreakBonus)
	assert.Equal(t, int64(15), res.PointsEarned)
	assert.Equal(t, int64(3), res.CreditsEarned)
}

func TestComplete_SameActivityTwiceInADay(t *testing.T) {
	f := newFixture(t)

	first, err := f.completion.Complete(f.ctx, quizCompletion("u1", "qr-1", 70, 60))
	require.NoError(t, err)
	second, err := f.completion.Complete(f.ctx, quizCompletion("u1", "qr-2", 90, 60))
	require.NoError(t, err)
	assert.True(t, first.Rewarded)
	assert.True(t, second.Rewarded)
	assert.False(t, second.Replayed)

	summary, err := f.tracker.Summary(f.ctx, f.settings.Snapshot(f.ctx), "u1")
	require.NoError(t, err)
	for _, a := range summary.Activities {
		if a.ActivityType == models.ActivityQuiz {
			assert.Equal(t, 2, a.Attempts)
			assert.Equal(t, 2, a.Completions)
		}
	}
	assert.Equal(t, first.PointsEarned+second.PointsEarned, f.balance(t, "u1").PointsBalance)
}

func TestComplete_RetryAfterLedgerFailureIsRewarded(t *testing.T) {
	f := newFixture(t)
	failNext := true
	require.NoError(t, f.db.Callback().Create().Before("gorm:create").Register("test:fail_ledger_insert", func(db *gorm.DB) {
		if failNext && db.Statement.Table == "transactions" {
			failNext = false
			_ = db.AddError(errors.New("storage unavailable"))
		}
	}))

	_, err := f.completion.Complete(f.ctx, quizCompletion("u1", "quiz-1", 100, 60))
	require.Error(t, err, "a ledger failure must reach the caller")
	assert.Zero(t, f.countTransactions(t, "u1"))

	res, err := f.completion.Complete(f.ctx, quizCompletion("u1", "quiz-1", 100, 60))
	require.NoError(t, err)
	assert.True(t, res.Rewarded)
	assert.False(t, res.Replayed)
	assert.Equal(t, int64(54), res.PointsEarned)
	assert.Equal(t, int64(54), f.balance(t, "u1").PointsBalance)

	again, err := f.completion.Complete(f.ctx, quizCompletion("u1", "quiz-1", 100, 60))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, int64(54), again.PointsEarned)
	assert.Equal(t, int64(2), f.countTransactions(t, "u1"))
}

func TestComplete_ReplayKeepsBlockedReason(t *testing.T) {
	f := newFixture(t)
	f.set(t, SettingDailyPointsLimit, "int", "50")

	res, err := f.completion.Complete(f.ctx, quizCompletion("u1", "q1", 100, 60))
	require.NoError(t, err)
	require.Equal(t, ReasonDailyLimit, res.Reason)

	again, err := f.completion.Complete(f.ctx, quizCompletion("u1", "q1", 100, 60))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.False(t, again.Rewarded)
	assert.Equal(t, ReasonDailyLimit, again.Reason)

	var rec models.RiskRecord
	require.NoError(t, f.db.Where("activity_reference = ?", "q1").First(&rec).Error)
	require.NotNil(t, rec.Outcome)
	assert.Equal(t, ReasonDailyLimit, *rec.Outcome)
}

func TestComplete_SameReferenceFromTwoUsersKeepsBothQuizResults(t *testing.T) {
	f := newFixture(t)
	for _, user := range []string{"u1", "u2"} {
		res, err := f.completion.Complete(f.ctx, quizCompletion(user, "daily-quiz", 85, 200))
		require.NoError(t, err)
		require.True(t, res.Rewarded)
	}

	var rows []models.QuizResult
	require.NoError(t, f.db.Where("activity_reference = ?", "daily-quiz").Order("user_id").Find(&rows).Error)
	require.Len(t, rows, 2)
	assert.Equal(t, "u1", rows[0].UserID)
	assert.Equal(t, "u2", rows[1].UserID)
}
