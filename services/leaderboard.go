package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"wildlife-rewards/models"
	"wildlife-rewards/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const (
	minQuizSamples       = 3
	minQuizSamplesScoped = 2
	defaultBoardLimit    = 10
	maxBoardLimit        = 100
)

// SnapshotArchive receives closed-period standings. Implemented by utils.R2Archive.
type SnapshotArchive interface {
	Put(ctx context.Context, key string, body []byte) (string, error)
}

type Standing struct {
	Rank         int     `json:"rank"`
	UserID       string  `json:"user_id"`
	Username     string  `json:"username"`
	Points       int64   `json:"points"`
	AverageScore float64 `json:"average_score,omitempty"`
	Completions  int64   `json:"completions,omitempty"`
}

// Board is a full ordered ranking; rank i+1 belongs to Standings[i].
type Board struct {
	Type        models.LeaderboardType `json:"type"`
	Scope       string                 `json:"scope,omitempty"`
	Period      string                 `json:"period"`
	Standings   []Standing             `json:"standings"`
	GeneratedAt time.Time              `json:"generated_at"`
	Stale       bool                   `json:"stale,omitempty"`
}

func (b *Board) rankOf(userID string) *int {
	for i := range b.Standings {
		if b.Standings[i].UserID == userID {
			r := i + 1
			return &r
		}
	}
	return nil
}

type LeaderboardView struct {
	Type        models.LeaderboardType `json:"type"`
	Scope       string                 `json:"scope,omitempty"`
	Period      string                 `json:"period"`
	Entries     []Standing             `json:"entries"`
	Total       int                    `json:"total"`
	CallerRank  *int                   `json:"caller_rank"`
	GeneratedAt time.Time              `json:"generated_at"`
	Stale       bool                   `json:"stale,omitempty"`
}

// LeaderboardAggregator is a read projection over balances, transactions and quiz results.
// Its only state is a TTL cache of computed boards.
type LeaderboardAggregator struct {
	DB      *gorm.DB
	Clock   clockwork.Clock
	TTL     time.Duration
	Archive SnapshotArchive

	mu    sync.RWMutex
	cache map[string]*Board
	group singleflight.Group
}

func NewLeaderboardAggregator(db *gorm.DB, clock clockwork.Clock, ttl time.Duration, archive SnapshotArchive) *LeaderboardAggregator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &LeaderboardAggregator{DB: db, Clock: clock, TTL: ttl, Archive: archive, cache: map[string]*Board{}}
}

func (a *LeaderboardAggregator) GlobalPoints(ctx context.Context, limit int) (*LeaderboardView, error) {
	return a.Get(ctx, models.LeaderboardGlobal, "", limit, "")
}

// Windowed ranks positive points movements inside the current UTC week (Monday start) or month.
func (a *LeaderboardAggregator) Windowed(ctx context.Context, window models.LeaderboardType, limit int) (*LeaderboardView, error) {
	if window != models.LeaderboardWeekly && window != models.LeaderboardMonthly {
		return nil, &ValidationError{Field: "window", Reason: "must be weekly or monthly"}
	}
	return a.Get(ctx, window, "", limit, "")
}

// QuizPerformance ranks by average quiz score; categoryScope narrows to one category.
func (a *LeaderboardAggregator) QuizPerformance(ctx context.Context, limit int, categoryScope string) (*LeaderboardView, error) {
	return a.Get(ctx, models.LeaderboardQuiz, categoryScope, limit, "")
}

// UserRank is 1 + the number of users ahead in the same ordering as the listing, or nil when
// the user does not qualify for the board.
func (a *LeaderboardAggregator) UserRank(ctx context.Context, userID string, typ models.LeaderboardType, scope string) (*int, error) {
	board, err := a.board(ctx, typ, scope)
	if err != nil {
		return nil, err
	}
	return board.rankOf(userID), nil
}

// Get returns the top entries of a board plus the caller's rank.
func (a *LeaderboardAggregator) Get(ctx context.Context, typ models.LeaderboardType, scope string, limit int, callerID string) (*LeaderboardView, error) {
	board, err := a.board(ctx, typ, scope)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultBoardLimit
	}
	limit = min(limit, maxBoardLimit, len(board.Standings))
	view := &LeaderboardView{
		Type:        board.Type,
		Scope:       board.Scope,
		Period:      board.Period,
		Entries:     board.Standings[:limit],
		Total:       len(board.Standings),
		GeneratedAt: board.GeneratedAt,
		Stale:       board.Stale,
	}
	if callerID != "" {
		view.CallerRank = board.rankOf(callerID)
	}
	return view, nil
}

func boardKey(typ models.LeaderboardType, scope string) string {
	return string(typ) + "|" + scope
}

// board serves from cache while fresh. A failed recompute serves the stale board, or an empty
// one when nothing was ever cached.
func (a *LeaderboardAggregator) board(ctx context.Context, typ models.LeaderboardType, scope string) (*Board, error) {
	if !typ.Valid() {
		return nil, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown leaderboard %q", typ)}
	}
	if typ != models.LeaderboardQuiz {
		scope = ""
	}
	key := boardKey(typ, scope)
	a.mu.RLock()
	cached := a.cache[key]
	a.mu.RUnlock()
	if cached != nil && a.Clock.Since(cached.GeneratedAt) < a.TTL {
		return cached, nil
	}

	v, _, _ := a.group.Do(key, func() (interface{}, error) {
		fresh, err := a.compute(ctx, typ, scope)
		if err == nil {
			a.mu.Lock()
			a.cache[key] = fresh
			a.mu.Unlock()
			return fresh, nil
		}
		utils.LogWarn("⚠️ [LEADERBOARD] %s recompute failed, serving cached standings: %v", key, err)
		if cached != nil {
			stale := *cached
			stale.Stale = true
			return &stale, nil
		}
		now := a.Clock.Now().UTC()
		return &Board{Type: typ, Scope: scope, Period: periodLabel(typ, now), Standings: []Standing{}, GeneratedAt: now, Stale: true}, nil
	})
	return v.(*Board), nil
}

func (a *LeaderboardAggregator) compute(ctx context.Context, typ models.LeaderboardType, scope string) (*Board, error) {
	now := a.Clock.Now().UTC()
	var (
		standings []Standing
		err       error
	)
	switch typ {
	case models.LeaderboardGlobal:
		standings, err = a.globalStandings(ctx)
	case models.LeaderboardWeekly, models.LeaderboardMonthly:
		start, end := windowBounds(typ, now)
		standings, err = a.windowStandings(ctx, start, end)
	case models.LeaderboardQuiz:
		standings, err = a.quizStandings(ctx, scope)
	}
	if err != nil {
		return nil, err
	}
	for i := range standings {
		standings[i].Rank = i + 1
	}
	return &Board{Type: typ, Scope: scope, Period: periodLabel(typ, now), Standings: standings, GeneratedAt: now}, nil
}

// Ties are broken by account creation then id so ranks do not flap between refreshes.
func (a *LeaderboardAggregator) globalStandings(ctx context.Context) ([]Standing, error) {
	var rows []Standing
	err := a.DB.WithContext(ctx).Raw(`
		SELECT b.user_id, u.username, b.total_points_earned AS points
		FROM user_balances b
		INNER JOIN user_accounts u ON u.id = b.user_id
		WHERE b.total_points_earned > 0 AND u.is_active = ? AND b.deleted_at IS NULL AND u.deleted_at IS NULL
		ORDER BY b.total_points_earned DESC, u.created_at ASC, u.id ASC
	`, true).Scan(&rows).Error
	return rows, err
}

func (a *LeaderboardAggregator) windowStandings(ctx context.Context, start, end time.Time) ([]Standing, error) {
	var rows []Standing
	err := a.DB.WithContext(ctx).Raw(`
		SELECT t.user_id, u.username, SUM(t.amount) AS points
		FROM transactions t
		INNER JOIN user_accounts u ON u.id = t.user_id
		WHERE t.currency = ? AND t.amount > 0 AND t.created_at >= ? AND t.created_at < ?
			AND u.is_active = ? AND u.deleted_at IS NULL
		GROUP BY t.user_id, u.username, u.created_at, u.id
		ORDER BY points DESC, u.created_at ASC, u.id ASC
	`, models.CurrencyPoints, start, end, true).Scan(&rows).Error
	return rows, err
}

func (a *LeaderboardAggregator) quizStandings(ctx context.Context, categoryScope string) ([]Standing, error) {
	minSamples := minQuizSamples
	filter := ""
	args := []interface{}{true}
	if categoryScope != "" {
		minSamples = minQuizSamplesScoped
		filter = "AND q.category_id = ?"
		args = append(args, categoryScope)
	}
	args = append(args, minSamples)

	var rows []Standing
	err := a.DB.WithContext(ctx).Raw(`
		SELECT q.user_id, u.username,
			COUNT(*) AS completions,
			AVG(q.score_percentage) AS average_score,
			COALESCE(SUM(q.points_earned), 0) AS points
		FROM quiz_results q
		INNER JOIN user_accounts u ON u.id = q.user_id
		WHERE u.is_active = ? AND u.deleted_at IS NULL `+filter+`
		GROUP BY q.user_id, u.username, u.created_at
		HAVING COUNT(*) >= ?
		ORDER BY average_score DESC, completions DESC, points DESC, u.created_at ASC, q.user_id ASC
	`, args...).Scan(&rows).Error
	return rows, err
}

// windowBounds returns the UTC [start, end) of the week (Monday) or month containing now.
func windowBounds(typ models.LeaderboardType, now time.Time) (time.Time, time.Time) {
	now = now.UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if typ == models.LeaderboardMonthly {
		start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(0, 1, 0)
	}
	start := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
	return start, start.AddDate(0, 0, 7)
}

func periodLabel(typ models.LeaderboardType, t time.Time) string {
	switch typ {
	case models.LeaderboardWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case models.LeaderboardMonthly:
		return t.Format("2006-01")
	}
	return "all"
}

// Refresh recomputes every board, replaces the cache and materializes leaderboard_entries.
func (a *LeaderboardAggregator) Refresh(ctx context.Context) error {
	boards := []models.LeaderboardType{models.LeaderboardGlobal, models.LeaderboardWeekly, models.LeaderboardMonthly, models.LeaderboardQuiz}
	for _, typ := range boards {
		board, err := a.compute(ctx, typ, "")
		if err != nil {
			return fmt.Errorf("refresh %s: %w", typ, err)
		}
		a.mu.Lock()
		a.cache[boardKey(typ, "")] = board
		a.mu.Unlock()
		if err := a.persist(ctx, board); err != nil {
			return err
		}
	}
	utils.LogSuccess("🏆 [LEADERBOARD] refreshed %d boards", len(boards))
	return nil
}

func (a *LeaderboardAggregator) persist(ctx context.Context, board *Board) error {
	return a.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("board = ? AND scope = ?", board.Type, board.Scope).Delete(&models.LeaderboardEntry{}).Error; err != nil {
			return fmt.Errorf("clear %s entries: %w", board.Type, err)
		}
		if len(board.Standings) == 0 {
			return nil
		}
		entries := make([]models.LeaderboardEntry, len(board.Standings))
		for i, s := range board.Standings {
			entries[i] = models.LeaderboardEntry{
				ID:           uuid.NewString(),
				Board:        board.Type,
				Scope:        board.Scope,
				Period:       board.Period,
				Rank:         s.Rank,
				UserID:       s.UserID,
				Username:     s.Username,
				Points:       s.Points,
				AverageScore: s.AverageScore,
				Completions:  s.Completions,
				GeneratedAt:  board.GeneratedAt,
			}
		}
		if err := tx.CreateInBatches(entries, 200).Error; err != nil {
			return fmt.Errorf("store %s entries: %w", board.Type, err)
		}
		return nil
	})
}

// ArchiveClosedPeriod uploads the standings of the window that ended most recently before now.
// It is a no-op without an archive.
func (a *LeaderboardAggregator) ArchiveClosedPeriod(ctx context.Context, window models.LeaderboardType) (string, error) {
	if a.Archive == nil {
		return "", nil
	}
	if window != models.LeaderboardWeekly && window != models.LeaderboardMonthly {
		return "", &ValidationError{Field: "window", Reason: "must be weekly or monthly"}
	}
	currentStart, _ := windowBounds(window, a.Clock.Now())
	start, end := windowBounds(window, currentStart.Add(-time.Second))
	standings, err := a.windowStandings(ctx, start, end)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", window, err)
	}
	for i := range standings {
		standings[i].Rank = i + 1
	}
	board := Board{Type: window, Period: periodLabel(window, start), Standings: standings, GeneratedAt: a.Clock.Now().UTC()}
	body, err := json.Marshal(board)
	if err != nil {
		return "", err
	}
	url, err := a.Archive.Put(ctx, utils.SnapshotKey(string(window), "", board.Period), body)
	if err != nil {
		return "", err
	}
	utils.LogSuccess("📦 [LEADERBOARD] archived %s %s (%d standings) to %s", window, board.Period, len(standings), url)
	return url, nil
}
