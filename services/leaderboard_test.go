package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"wildlife-rewards/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryArchive struct {
	keys   []string
	bodies [][]byte
}

func (m *memoryArchive) Put(_ context.Context, key string, body []byte) (string, error) {
	m.keys = append(m.keys, key)
	m.bodies = append(m.bodies, body)
	return "https://cdn.test/" + key, nil
}

func (f *fixture) earned(t *testing.T, userID string, points int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.UserBalance{UserID: userID, PointsBalance: points, TotalPointsEarned: points}).Error)
}

func (f *fixture) pointsLine(t *testing.T, userID string, amount int64, currency models.Currency, at time.Time) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.Transaction{
		ID: uuid.NewString(), UserID: userID, Kind: models.KindEarn, Currency: currency,
		Amount: amount, ActivityType: models.ActivityQuiz, CreatedAt: at,
	}).Error)
}

func (f *fixture) quizResult(t *testing.T, userID, category string, score int, points int64) {
	t.Helper()
	require.NoError(t, f.db.Create(&models.QuizResult{
		ID: uuid.NewString(), UserID: userID, ActivityReference: uuid.NewString(), CategoryID: &category,
		ScorePercentage: score, PointsEarned: points, CompletedAt: testNow,
	}).Error)
}

func userIDs(entries []Standing) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.UserID
	}
	return out
}

func TestLeaderboard_GlobalOrderingAndTies(t *testing.T) {
	f := newFixture(t)
	f.account(t, "early", true, testNow.AddDate(0, -2, 0))
	f.account(t, "late", true, testNow.AddDate(0, -1, 0))
	f.account(t, "top", true, testNow)
	f.account(t, "banned", false, testNow.AddDate(-1, 0, 0))
	f.account(t, "idle", true, testNow)
	f.earned(t, "late", 100)
	f.earned(t, "early", 100)
	f.earned(t, "top", 300)
	f.earned(t, "banned", 900)
	f.earned(t, "idle", 0)

	view, err := f.leaderboard.GlobalPoints(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"top", "early", "late"}, userIDs(view.Entries))
	assert.Equal(t, []int{1, 2, 3}, []int{view.Entries[0].Rank, view.Entries[1].Rank, view.Entries[2].Rank})
	assert.Equal(t, "all", view.Period)
	assert.Equal(t, 3, view.Total)

	rank, err := f.leaderboard.UserRank(f.ctx, "late", models.LeaderboardGlobal, "")
	require.NoError(t, err)
	require.NotNil(t, rank)
	assert.Equal(t, 3, *rank)

	rank, err = f.leaderboard.UserRank(f.ctx, "idle", models.LeaderboardGlobal, "")
	require.NoError(t, err)
	assert.Nil(t, rank, "users without points are not ranked")
}

func TestLeaderboard_GetLimitsAndCallerRank(t *testing.T) {
	f := newFixture(t)
	for i, id := range []string{"a", "b", "c", "d"} {
		f.account(t, id, true, testNow.Add(time.Duration(i)*time.Second))
		f.earned(t, id, int64(100-i))
	}
	view, err := f.leaderboard.Get(f.ctx, models.LeaderboardGlobal, "", 2, "d")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, userIDs(view.Entries))
	require.NotNil(t, view.CallerRank)
	assert.Equal(t, 4, *view.CallerRank)

	_, err = f.leaderboard.Get(f.ctx, "alltime", "", 10, "")
	assert.True(t, IsValidation(err))
}

func TestLeaderboard_WindowsCountPositivePointsOnly(t *testing.T) {
	f := newFixture(t)
	f.account(t, "a", true, testNow)
	f.account(t, "b", true, testNow)

	monday := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC)
	f.pointsLine(t, "a", 50, models.CurrencyPoints, monday)
	f.pointsLine(t, "a", -40, models.CurrencyPoints, monday.Add(time.Hour))
	f.pointsLine(t, "b", 30, models.CurrencyPoints, testNow)
	f.pointsLine(t, "b", 500, models.CurrencyCredits, testNow)
	f.pointsLine(t, "b", 100, models.CurrencyPoints, monday.Add(-time.Second)) // previous week, same month

	weekly, err := f.leaderboard.Windowed(f.ctx, models.LeaderboardWeekly, 10)
	require.NoError(t, err)
	assert.Equal(t, "2026-W42", weekly.Period)
	require.Len(t, weekly.Entries, 2)
	assert.Equal(t, "a", weekly.Entries[0].UserID)
	assert.Equal(t, int64(50), weekly.Entries[0].Points, "penalties do not lower window totals")
	assert.Equal(t, int64(30), weekly.Entries[1].Points)

	monthly, err := f.leaderboard.Windowed(f.ctx, models.LeaderboardMonthly, 10)
	require.NoError(t, err)
	assert.Equal(t, "2026-10", monthly.Period)
	assert.Equal(t, []string{"b", "a"}, userIDs(monthly.Entries))
	assert.Equal(t, int64(130), monthly.Entries[0].Points)

	_, err = f.leaderboard.Windowed(f.ctx, models.LeaderboardGlobal, 10)
	assert.True(t, IsValidation(err))
}

func TestWindowBounds(t *testing.T) {
	start, end := windowBounds(models.LeaderboardWeekly, testNow)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), end)

	sunday := time.Date(2026, 10, 18, 23, 59, 59, 0, time.UTC)
	start, _ = windowBounds(models.LeaderboardWeekly, sunday)
	assert.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), start)

	start, end = windowBounds(models.LeaderboardMonthly, testNow)
	assert.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestLeaderboard_QuizPerformance(t *testing.T) {
	f := newFixture(t)
	f.account(t, "steady", true, testNow)
	f.account(t, "sharp", true, testNow)
	f.account(t, "newbie", true, testNow)
	for _, s := range []int{80, 80, 80} {
		f.quizResult(t, "steady", "birds", s, 20)
	}
	for _, s := range []int{90, 100, 95} {
		f.quizResult(t, "sharp", "mammals", s, 30)
	}
	f.quizResult(t, "newbie", "birds", 100, 30)
	f.quizResult(t, "newbie", "birds", 100, 30)

	view, err := f.leaderboard.QuizPerformance(f.ctx, 10, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"sharp", "steady"}, userIDs(view.Entries), "fewer than three results do not qualify")
	assert.InDelta(t, 95.0, view.Entries[0].AverageScore, 1e-9)
	assert.Equal(t, int64(3), view.Entries[0].Completions)

	birds, err := f.leaderboard.QuizPerformance(f.ctx, 10, "birds")
	require.NoError(t, err)
	assert.Equal(t, []string{"newbie", "steady"}, userIDs(birds.Entries), "two results qualify within a category")
	assert.Equal(t, "birds", birds.Scope)
}

func TestLeaderboard_CachesUntilTTL(t *testing.T) {
	f := newFixture(t)
	f.account(t, "a", true, testNow)
	f.earned(t, "a", 10)

	first, err := f.leaderboard.GlobalPoints(f.ctx, 10)
	require.NoError(t, err)
	require.Len(t, first.Entries, 1)

	f.account(t, "b", true, testNow)
	f.earned(t, "b", 20)
	cached, err := f.leaderboard.GlobalPoints(f.ctx, 10)
	require.NoError(t, err)
	assert.Len(t, cached.Entries, 1)

	f.clock.Advance(6 * time.Minute)
	fresh, err := f.leaderboard.GlobalPoints(f.ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, userIDs(fresh.Entries))
}

func TestLeaderboard_ServesStaleBoardOnFailure(t *testing.T) {
	f := newFixture(t)
	f.account(t, "a", true, testNow)
	f.earned(t, "a", 10)
	_, err := f.leaderboard.GlobalPoints(f.ctx, 10)
	require.NoError(t, err)

	require.NoError(t, f.db.Migrator().DropTable(&models.UserBalance{}))
	f.clock.Advance(6 * time.Minute)

	view, err := f.leaderboard.GlobalPoints(f.ctx, 10)
	require.NoError(t, err)
	assert.True(t, view.Stale)
	assert.Equal(t, []string{"a"}, userIDs(view.Entries))

	never, err := f.leaderboard.Windowed(f.ctx, models.LeaderboardWeekly, 10)
	require.NoError(t, err)
	assert.False(t, never.Stale, "transactions are still readable")

	require.NoError(t, f.db.Migrator().DropTable(&models.QuizResult{}))
	empty, err := f.leaderboard.QuizPerformance(f.ctx, 10, "")
	require.NoError(t, err)
	assert.True(t, empty.Stale)
	assert.Empty(t, empty.Entries)
}

func TestLeaderboard_RefreshMaterializesEntries(t *testing.T) {
	f := newFixture(t)
	f.account(t, "a", true, testNow)
	f.account(t, "b", true, testNow.Add(time.Second))
	f.earned(t, "a", 10)
	f.earned(t, "b", 20)

	require.NoError(t, f.leaderboard.Refresh(f.ctx))
	require.NoError(t, f.leaderboard.Refresh(f.ctx))

	var entries []models.LeaderboardEntry
	require.NoError(t, f.db.Where("board = ?", models.LeaderboardGlobal).Order("rank").Find(&entries).Error)
	require.Len(t, entries, 2, "a refresh replaces the previous rows")
	assert.Equal(t, "b", entries[0].UserID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "all", entries[0].Period)
}

func TestLeaderboard_ArchiveClosedPeriod(t *testing.T) {
	f := newFixture(t)
	archive := &memoryArchive{}
	f.leaderboard.Archive = archive
	f.account(t, "a", true, testNow)
	f.pointsLine(t, "a", 40, models.CurrencyPoints, time.Date(2026, 10, 7, 12, 0, 0, 0, time.UTC))
	f.pointsLine(t, "a", 99, models.CurrencyPoints, testNow)

	url, err := f.leaderboard.ArchiveClosedPeriod(f.ctx, models.LeaderboardWeekly)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.test/leaderboards/weekly/2026-w41.json", url)

	var board Board
	require.NoError(t, json.Unmarshal(archive.bodies[0], &board))
	assert.Equal(t, "2026-W41", board.Period)
	require.Len(t, board.Standings, 1)
	assert.Equal(t, int64(40), board.Standings[0].Points)

	_, err = f.leaderboard.ArchiveClosedPeriod(f.ctx, models.LeaderboardQuiz)
	assert.True(t, IsValidation(err))

	f.leaderboard.Archive = nil
	url, err = f.leaderboard.ArchiveClosedPeriod(f.ctx, models.LeaderboardMonthly)
	require.NoError(t, err)
	assert.Empty(t, url)
}
