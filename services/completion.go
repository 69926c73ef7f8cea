package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wildlife-rewards/models"
	"wildlife-rewards/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reasons a completion is acknowledged without a reward.
const (
	ReasonDailyLimit          = "daily_limit_reached"
	ReasonActivityLimit       = "daily_activity_limit"
	ReasonFlagged             = "flagged_for_review"
	ReasonInactiveUser        = "inactive_user"
	ReasonRewardsDisabled     = "rewards_disabled"
	ReasonAlreadyProcessed    = "already_processed"
	ReasonNoReward            = "no_reward_configured"
	ReasonLoginAlreadyClaimed = "already_claimed_today"

	// outcomeRewarded marks a settled RiskRecord whose reward reached the ledger.
	outcomeRewarded = "rewarded"
)

// Streak bonuses for the daily login reward; the longer streak replaces the shorter one.
var loginStreakBonuses = []struct {
	days    int
	points  int64
	credits int64
}{
	{days: 30, points: 50, credits: 10},
	{days: 7, points: 10, credits: 2},
}

type OverrideHints struct {
	ItemID     *string `json:"item_id,omitempty"`
	CategoryID *string `json:"category_id,omitempty"`
}

// CompletionRequest is the activity-completion event.
type CompletionRequest struct {
	UserID              string              `json:"-"`
	ActivityType        models.ActivityType `json:"activity_type"`
	ScorePercentage     *int                `json:"score_percentage"`
	TimeTakenSeconds    *int                `json:"time_taken_seconds,omitempty"`
	ActivityReferenceID string              `json:"activity_reference_id"`
	OverrideHints       *OverrideHints      `json:"override_hints,omitempty"`
	Extra               map[string]any      `json:"extra,omitempty"`
}

type CompletionResult struct {
	ActivityType      models.ActivityType `json:"activity_type"`
	ActivityReference string              `json:"activity_reference_id"`
	Tier              models.RewardTier   `json:"tier"`
	PointsEarned      int64               `json:"points_earned"`
	CreditsEarned     int64               `json:"credits_earned"`
	BasePoints        int64               `json:"base_points"`
	BaseCredits       int64               `json:"base_credits"`
	BonusPoints       int64               `json:"bonus_points"`
	BonusCredits      int64               `json:"bonus_credits"`
	BonusesApplied    []string            `json:"bonuses_applied"`
	Rewarded          bool                `json:"rewarded"`
	Reason            string              `json:"reason,omitempty"`
	Message           string              `json:"message"`
	Replayed          bool                `json:"replayed,omitempty"`
	RiskSummary       *RiskAssessment     `json:"risk_summary,omitempty"`
}

// CompletionService runs the reward pipeline for one completion: limits and tiers from settings,
// day counters, reward computation, risk scoring (which may veto), then the ledger.
type CompletionService struct {
	DB         *gorm.DB
	Clock      clockwork.Clock
	Accounts   *AccountService
	Settings   *SettingsResolver
	Tracker    *DailyActivityTracker
	Calculator *RewardCalculator
	Risk       *AntiGamingRiskEngine
	Ledger     *CurrencyLedger

	title cases.Caser
}

func NewCompletionService(db *gorm.DB, clock clockwork.Clock, accounts *AccountService, settings *SettingsResolver,
	tracker *DailyActivityTracker, calculator *RewardCalculator, risk *AntiGamingRiskEngine, ledger *CurrencyLedger) *CompletionService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CompletionService{
		DB: db, Clock: clock, Accounts: accounts, Settings: settings, Tracker: tracker,
		Calculator: calculator, Risk: risk, Ledger: ledger,
		title: cases.Title(language.English),
	}
}

func (req *CompletionRequest) validate() error {
	if strings.TrimSpace(req.UserID) == "" {
		return &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	if !req.ActivityType.IsGame() {
		return &ValidationError{Field: "activity_type", Reason: fmt.Sprintf("unsupported activity %q", req.ActivityType)}
	}
	req.ActivityReferenceID = strings.TrimSpace(req.ActivityReferenceID)
	if req.ActivityReferenceID == "" {
		return &ValidationError{Field: "activity_reference_id", Reason: "must not be empty"}
	}
	if req.ScorePercentage == nil {
		return &ValidationError{Field: "score_percentage", Reason: "is required"}
	}
	return ValidateOutcome(*req.ScorePercentage, req.TimeTakenSeconds)
}

// Complete processes one completion. Blocked rewards are not errors: they come back as a
// zero-amount result with a Reason. Storage failures on the ledger path are returned.
func (s *CompletionService) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	score := *req.ScorePercentage
	result := &CompletionResult{
		ActivityType:      req.ActivityType,
		ActivityReference: req.ActivityReferenceID,
		BonusesApplied:    []string{},
	}

	acct, err := s.Accounts.EnsureAccount(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !acct.IsActive {
		return s.blocked(result, ReasonInactiveUser), nil
	}

	if replay, err := s.replay(ctx, req, result); err != nil || replay != nil {
		return replay, err
	}

	snap := s.Settings.Snapshot(ctx)
	table, err := s.Calculator.TierTable(ctx, req.ActivityType)
	if err != nil {
		return nil, err
	}
	in := ComputeInput{
		ScorePercentage:  score,
		TimeTakenSeconds: req.TimeTakenSeconds,
		PureScoringMode:  snap.Bool(SettingPureScoringMode, false),
	}
	var itemID, categoryID *string
	if req.OverrideHints != nil {
		itemID, categoryID = req.OverrideHints.ItemID, req.OverrideHints.CategoryID
		if in.ItemOverride, in.CategoryOverride, err = s.Calculator.Overrides(ctx, req.ActivityType, itemID, categoryID); err != nil {
			return nil, err
		}
	}
	comp, err := Compute(table, BonusPolicyFor(snap, req.ActivityType), in)
	if err != nil {
		return nil, err
	}
	result.Tier = comp.Tier
	result.BasePoints, result.BaseCredits = comp.BasePoints, comp.BaseCredits
	result.BonusPoints, result.BonusCredits = comp.BonusPoints, comp.BonusCredits

	counter, err := s.recordAttempt(ctx, req.UserID, req.ActivityType)
	if err != nil {
		return nil, err
	}

	risk := s.Risk.Analyze(ctx, AnalyzeInput{
		UserID:                req.UserID,
		ActivityType:          req.ActivityType,
		ActivityReference:     req.ActivityReferenceID,
		CompletionTimeSeconds: req.TimeTakenSeconds,
		ScorePercentage:       score,
		Settings:              snap,
	})
	result.RiskSummary = &risk

	limit := s.Tracker.ActivityLimit(snap, req.ActivityType)
	switch {
	case !snap.Bool(SettingRewardsEnabled, true):
		s.blocked(result, ReasonRewardsDisabled)
	case limit > 0 && counter.Attempts > limit:
		s.blocked(result, ReasonActivityLimit)
	case risk.Flagged:
		s.blocked(result, ReasonFlagged)
	case comp.TotalPoints() == 0 && comp.TotalCredits() == 0:
		s.blocked(result, ReasonNoReward)
	default:
		ref := req.ActivityReferenceID
		_, err := s.Ledger.Earn(ctx, EarnRequest{
			UserID:            req.UserID,
			ActivityType:      req.ActivityType,
			ActivityReference: &ref,
			Points:            comp.TotalPoints(),
			Credits:           comp.TotalCredits(),
			TierCap:           comp.DailyCap,
			Settings:          snap,
			Context: models.ActivityContext{
				Kind: models.ContextCompletion,
				Completion: &models.CompletionContext{
					Tier:             comp.Tier,
					ScorePercentage:  score,
					TimeTakenSeconds: req.TimeTakenSeconds,
					BasePoints:       comp.BasePoints,
					BaseCredits:      comp.BaseCredits,
					BonusesApplied:   comp.BonusesApplied,
					CategoryID:       categoryID,
					ItemID:           itemID,
				},
				Extra: req.Extra,
			},
		})
		switch {
		case errors.Is(err, ErrCapExceeded):
			s.blocked(result, ReasonDailyLimit)
		case errors.Is(err, ErrDuplicateReward):
			// a concurrent duplicate (or an earlier try whose settle step failed) won the race
			replay, rerr := s.replayFromLedger(ctx, req, result)
			if rerr != nil {
				return nil, rerr
			}
			s.settle(ctx, risk.RecordID, outcomeRewarded)
			return replay, nil
		case err != nil:
			return nil, err
		default:
			result.Rewarded = true
			result.PointsEarned = comp.TotalPoints()
			result.CreditsEarned = comp.TotalCredits()
			result.BonusesApplied = comp.BonusesApplied
			result.Message = fmt.Sprintf("%s tier! +%d points, +%d credits", s.title.String(string(comp.Tier)), result.PointsEarned, result.CreditsEarned)
		}
	}

	outcome := result.Reason
	if result.Rewarded {
		outcome = outcomeRewarded
	}
	s.settle(ctx, risk.RecordID, outcome)

	if req.ActivityType == models.ActivityQuiz {
		s.recordQuizResult(ctx, req, itemID, categoryID, result.PointsEarned)
	}
	return result, nil
}

// settle stores the final decision on the completion's RiskRecord so retries replay it.
// The decision itself is already in effect, so a failure is only logged: an unsettled record
// is reprocessed on retry and the ledger key keeps the reward single.
func (s *CompletionService) settle(ctx context.Context, recordID, outcome string) {
	if recordID == "" {
		return
	}
	if err := s.DB.WithContext(ctx).Model(&models.RiskRecord{}).
		Where("id = ? AND outcome IS NULL", recordID).
		Update("outcome", outcome).Error; err != nil {
		utils.LogError("❌ [COMPLETION] failed to settle risk record %s as %s: %v", recordID, outcome, err)
	}
}

func (s *CompletionService) blocked(result *CompletionResult, reason string) *CompletionResult {
	result.Rewarded = false
	result.Reason = reason
	result.PointsEarned, result.CreditsEarned = 0, 0
	result.BonusesApplied = []string{}
	switch reason {
	case ReasonDailyLimit:
		result.Message = "Daily earning limit reached. Come back tomorrow!"
	case ReasonActivityLimit:
		result.Message = "You have reached today's limit for this activity."
	case ReasonFlagged:
		result.Message = "Completion recorded. Rewards are on hold pending review."
	case ReasonRewardsDisabled:
		result.Message = "Completion recorded. Rewards are currently paused."
	case ReasonInactiveUser:
		result.Message = "Completion recorded. This account cannot earn rewards."
	default:
		result.Message = "Completion recorded."
	}
	return result
}

// replay answers a completion whose decision was already settled with that same decision.
// Unsettled records (the ledger write failed) do not count, so the completion is processed again.
func (s *CompletionService) replay(ctx context.Context, req CompletionRequest, result *CompletionResult) (*CompletionResult, error) {
	var settled []models.RiskRecord
	if err := s.DB.WithContext(ctx).
		Where("user_id = ? AND activity_type = ? AND activity_reference = ? AND outcome IS NOT NULL",
			req.UserID, req.ActivityType, req.ActivityReferenceID).
		Order("created_at ASC").Limit(1).
		Find(&settled).Error; err != nil {
		return nil, fmt.Errorf("replay check: %w", err)
	}
	if len(settled) == 0 {
		return nil, nil
	}
	if outcome := *settled[0].Outcome; outcome != outcomeRewarded {
		out := *result
		out.Replayed = true
		return s.blocked(&out, outcome), nil
	}
	return s.replayFromLedger(ctx, req, result)
}

func (s *CompletionService) replayFromLedger(ctx context.Context, req CompletionRequest, result *CompletionResult) (*CompletionResult, error) {
	txs, err := s.Ledger.RewardTransactions(ctx, req.UserID, req.ActivityType, req.ActivityReferenceID)
	if err != nil {
		return nil, fmt.Errorf("load issued reward: %w", err)
	}
	out := *result
	out.Replayed = true
	out.BonusesApplied = []string{}
	if len(txs) == 0 {
		return s.blocked(&out, ReasonAlreadyProcessed), nil
	}
	for _, t := range txs {
		if t.Currency == models.CurrencyCredits {
			out.CreditsEarned = t.Amount
		} else {
			out.PointsEarned = t.Amount
		}
		if c := t.Context.Data().Completion; c != nil {
			out.Tier = c.Tier
			out.BasePoints, out.BaseCredits = c.BasePoints, c.BaseCredits
			out.BonusesApplied = c.BonusesApplied
		}
	}
	out.BonusPoints = out.PointsEarned - out.BasePoints
	out.BonusCredits = out.CreditsEarned - out.BaseCredits
	out.Rewarded = true
	out.Message = "Completion already rewarded."
	utils.LogInfo("♻️ [COMPLETION] replay of %s %s for %s", req.ActivityType, req.ActivityReferenceID, req.UserID)
	return &out, nil
}

func (s *CompletionService) recordAttempt(ctx context.Context, userID string, activity models.ActivityType) (*models.DailyActivityCounter, error) {
	var counter *models.DailyActivityCounter
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		day, err := s.Tracker.GetOrCreate(tx, userID, s.Tracker.Today())
		if err != nil {
			return err
		}
		counter, err = s.Tracker.RecordAttempt(tx, day, activity)
		return err
	})
	return counter, err
}

// recordQuizResult feeds the quiz leaderboard. The reward is already settled, so a failure
// here is logged rather than returned.
func (s *CompletionService) recordQuizResult(ctx context.Context, req CompletionRequest, itemID, categoryID *string, points int64) {
	row := models.QuizResult{
		ID:                uuid.NewString(),
		UserID:            req.UserID,
		ActivityReference: req.ActivityReferenceID,
		QuizID:            itemID,
		CategoryID:        categoryID,
		ScorePercentage:   *req.ScorePercentage,
		PointsEarned:      points,
		CompletedAt:       s.Clock.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "activity_reference"}},
		DoNothing: true,
	}).Create(&row).Error; err != nil {
		utils.LogError("❌ [COMPLETION] failed to store quiz result %s for %s: %v", row.ActivityReference, row.UserID, err)
	}
}

type LoginResult struct {
	Day           string `json:"day"`
	LoginStreak   int    `json:"login_streak"`
	PointsEarned  int64  `json:"points_earned"`
	CreditsEarned int64  `json:"credits_earned"`
	StreakBonus   bool   `json:"streak_bonus"`
	Rewarded      bool   `json:"rewarded"`
	Reason        string `json:"reason,omitempty"`
	Message       string `json:"message"`
}

// ProcessDailyLogin grants the login reward at most once per UTC day, with streak bonuses.
func (s *CompletionService) ProcessDailyLogin(ctx context.Context, userID string) (*LoginResult, error) {
	acct, err := s.Accounts.EnsureAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	today := s.Tracker.Today()
	out := &LoginResult{Day: today}

	var day *models.DailyActivity
	if err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		if day, err = s.Tracker.GetOrCreate(tx, userID, today); err != nil {
			return err
		}
		_, err = s.Tracker.RecordAttempt(tx, day, models.ActivityDailyLogin)
		return err
	}); err != nil {
		return nil, err
	}
	out.LoginStreak = day.LoginStreak

	snap := s.Settings.Snapshot(ctx)
	switch {
	case !acct.IsActive:
		out.Reason, out.Message = ReasonInactiveUser, "This account cannot earn rewards."
		return out, nil
	case !snap.Bool(SettingRewardsEnabled, true):
		out.Reason, out.Message = ReasonRewardsDisabled, "Rewards are currently paused."
		return out, nil
	case day.LoginRewarded:
		out.Reason, out.Message = ReasonLoginAlreadyClaimed, "Daily login reward already claimed."
		return out, nil
	}

	table, err := s.Calculator.TierTable(ctx, models.ActivityDailyLogin)
	if err != nil {
		return nil, err
	}
	rule, _ := table.Select(0)
	points, credits := rule.PointsReward, rule.CreditsReward
	for _, b := range loginStreakBonuses {
		if day.LoginStreak >= b.days {
			points += b.points
			credits += b.credits
			out.StreakBonus = true
			break
		}
	}

	_, err = s.Ledger.Earn(ctx, EarnRequest{
		UserID:            userID,
		ActivityType:      models.ActivityDailyLogin,
		ActivityReference: &today,
		Points:            points,
		Credits:           credits,
		Settings:          snap,
		Context: models.ActivityContext{
			Kind:  models.ContextLogin,
			Login: &models.LoginContext{Day: today, Streak: day.LoginStreak, StreakBonus: out.StreakBonus},
		},
	})
	switch {
	case errors.Is(err, ErrDuplicateReward):
		out.StreakBonus = false
		out.Reason, out.Message = ReasonLoginAlreadyClaimed, "Daily login reward already claimed."
		return out, nil
	case errors.Is(err, ErrCapExceeded):
		out.StreakBonus = false
		out.Reason, out.Message = ReasonDailyLimit, "Daily earning limit reached. Come back tomorrow!"
		return out, nil
	case err != nil:
		return nil, err
	}
	out.Rewarded = true
	out.PointsEarned, out.CreditsEarned = points, credits
	out.Message = fmt.Sprintf("Day %d streak! +%d points, +%d credits", day.LoginStreak, points, credits)
	return out, nil
}
