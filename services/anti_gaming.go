package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"wildlife-rewards/models"
	"wildlife-rewards/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Signal names stored in RiskRecord.Signals.
const (
	SignalTooFast          = "too_fast"
	SignalExcessivePerfect = "excessive_perfect_scores"
	SignalRapidFire        = "rapid_fire_attempts"
	SignalRepetitive       = "repetitive_scores"
	signalAnalysisFailed   = "analysis_failed"
)

const (
	minPatternSamples   = 5
	identicalShare      = 0.6
	monotonicRunLength  = 8
	defaultPatternDepth = 20
)

type SignalWeights struct {
	TooFast          float64 `json:"too_fast"`
	ExcessivePerfect float64 `json:"excessive_perfect"`
	RapidFire        float64 `json:"rapid_fire"`
	Repetitive       float64 `json:"repetitive"`
}

// RiskThresholds tunes the heuristics for one activity type.
type RiskThresholds struct {
	MinTimeSeconds     int           `json:"min_time_seconds"`
	MaxPerfectPerDay   int           `json:"max_perfect_per_day"`
	MaxAttemptsPerHour int           `json:"max_attempts_per_hour"`
	FlagThreshold      float64       `json:"flag_threshold"`
	PatternDepth       int           `json:"pattern_depth"`
	Weights            SignalWeights `json:"weights"`
}

var defaultRiskThresholds = map[models.ActivityType]RiskThresholds{
	models.ActivityQuiz: {
		MinTimeSeconds: 30, MaxPerfectPerDay: 5, MaxAttemptsPerHour: 10, FlagThreshold: 0.7, PatternDepth: defaultPatternDepth,
		Weights: SignalWeights{TooFast: 0.3, ExcessivePerfect: 0.4, RapidFire: 0.2, Repetitive: 0.3},
	},
	models.ActivityMythsFacts: {
		MinTimeSeconds: 20, MaxPerfectPerDay: 10, MaxAttemptsPerHour: 15, FlagThreshold: 0.8, PatternDepth: defaultPatternDepth,
		Weights: SignalWeights{TooFast: 0.25, ExcessivePerfect: 0.3, RapidFire: 0.2, Repetitive: 0.4},
	},
}

// RiskThresholdsFor reads anti_gaming_<activity>_* settings over the compiled defaults.
func RiskThresholdsFor(snap *SettingsSnapshot, activity models.ActivityType) (RiskThresholds, error) {
	def, ok := defaultRiskThresholds[activity]
	if !ok {
		return RiskThresholds{}, fmt.Errorf("no risk thresholds for activity %s", activity)
	}
	prefix := "anti_gaming_" + string(activity)
	def.MinTimeSeconds = int(snap.Int(prefix+"_min_time", int64(def.MinTimeSeconds)))
	def.MaxPerfectPerDay = int(snap.Int(prefix+"_max_perfect_per_day", int64(def.MaxPerfectPerDay)))
	def.MaxAttemptsPerHour = int(snap.Int(prefix+"_max_attempts_per_hour", int64(def.MaxAttemptsPerHour)))
	def.FlagThreshold = snap.Float(prefix+"_flag_threshold", def.FlagThreshold)
	return def, nil
}

// Observations is the history the heuristics look at. RecentScores runs oldest to newest and
// ends with the score being analyzed.
type Observations struct {
	CompletionTimeSeconds *int
	PriorPerfectToday     int
	PriorAttemptsLastHour int
	RecentScores          []int
}

// ScoreSignals returns the saturating sum of triggered weights (capped at 1) and the triggered signals.
func ScoreSignals(th RiskThresholds, obs Observations) (float64, map[string]interface{}) {
	signals := map[string]interface{}{}
	score := 0.0

	if obs.CompletionTimeSeconds != nil && *obs.CompletionTimeSeconds < th.MinTimeSeconds {
		score += th.Weights.TooFast
		signals[SignalTooFast] = map[string]interface{}{
			"seconds": *obs.CompletionTimeSeconds, "min_seconds": th.MinTimeSeconds, "weight": th.Weights.TooFast,
		}
	}
	if obs.PriorPerfectToday >= th.MaxPerfectPerDay {
		score += th.Weights.ExcessivePerfect
		signals[SignalExcessivePerfect] = map[string]interface{}{
			"perfect_today": obs.PriorPerfectToday, "max": th.MaxPerfectPerDay, "weight": th.Weights.ExcessivePerfect,
		}
	}
	if obs.PriorAttemptsLastHour >= th.MaxAttemptsPerHour {
		score += th.Weights.RapidFire
		signals[SignalRapidFire] = map[string]interface{}{
			"attempts_last_hour": obs.PriorAttemptsLastHour, "max": th.MaxAttemptsPerHour, "weight": th.Weights.RapidFire,
		}
	}
	if pattern := repetitivePattern(obs.RecentScores); pattern != "" {
		score += th.Weights.Repetitive
		signals[SignalRepetitive] = map[string]interface{}{
			"pattern": pattern, "samples": len(obs.RecentScores), "weight": th.Weights.Repetitive,
		}
	}
	return math.Round(math.Min(1.0, score)*10000) / 10000, signals
}

// repetitivePattern names the first pattern found in scores, or "" when none applies.
func repetitivePattern(scores []int) string {
	if len(scores) < minPatternSamples {
		return ""
	}
	counts := map[int]int{}
	allPerfect := true
	run, longest := 1, 1
	for i, s := range scores {
		counts[s]++
		if s != 100 {
			allPerfect = false
		}
		if i > 0 {
			if s >= scores[i-1] {
				run++
			} else {
				run = 1
			}
			longest = max(longest, run)
		}
	}
	if allPerfect {
		return "perfect_streak"
	}
	for _, c := range counts {
		if float64(c) >= identicalShare*float64(len(scores)) {
			return "identical_scores"
		}
	}
	if longest >= monotonicRunLength {
		return "monotonic_run"
	}
	return ""
}

// AnalyzeInput describes one completed activity.
type AnalyzeInput struct {
	UserID                string
	ActivityType          models.ActivityType
	ActivityReference     string
	CompletionTimeSeconds *int
	ScorePercentage       int
	Settings              *SettingsSnapshot
}

type RiskAssessment struct {
	RecordID   string                 `json:"record_id,omitempty"`
	RiskScore  float64                `json:"risk_score"`
	Flagged    bool                   `json:"flagged"`
	Signals    map[string]interface{} `json:"signals"`
	FailedOpen bool                   `json:"failed_open,omitempty"`
}

// AntiGamingRiskEngine scores completions and drives the admin review workflow.
type AntiGamingRiskEngine struct {
	DB     *gorm.DB
	Clock  clockwork.Clock
	Ledger *CurrencyLedger
}

func NewAntiGamingRiskEngine(db *gorm.DB, clock clockwork.Clock, ledger *CurrencyLedger) *AntiGamingRiskEngine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &AntiGamingRiskEngine{DB: db, Clock: clock, Ledger: ledger}
}

// Analyze scores a completion and persists its RiskRecord, flagged or not. It never fails:
// any internal error goes through failOpen.
func (e *AntiGamingRiskEngine) Analyze(ctx context.Context, in AnalyzeInput) RiskAssessment {
	out, err := e.assess(ctx, in)
	if err != nil {
		return e.failOpen(ctx, in, err)
	}
	return out
}

func (e *AntiGamingRiskEngine) assess(ctx context.Context, in AnalyzeInput) (RiskAssessment, error) {
	th, err := RiskThresholdsFor(in.Settings, in.ActivityType)
	if err != nil {
		return RiskAssessment{}, err
	}
	obs, err := e.observe(ctx, in, th)
	if err != nil {
		return RiskAssessment{}, err
	}
	score, signals := ScoreSignals(th, obs)
	rec := e.newRecord(in)
	rec.Signals = datatypes.JSONMap(signals)
	rec.RiskScore = score
	rec.IsFlagged = score >= th.FlagThreshold
	if err := e.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		return RiskAssessment{}, fmt.Errorf("persist risk record: %w", err)
	}
	if rec.IsFlagged {
		utils.LogWarn("🚩 [ANTI_GAMING] %s flagged on %s %s (risk=%.2f, signals=%d)",
			in.UserID, in.ActivityType, in.ActivityReference, score, len(signals))
	}
	return RiskAssessment{RecordID: rec.ID, RiskScore: score, Flagged: rec.IsFlagged, Signals: signals}, nil
}

func (e *AntiGamingRiskEngine) observe(ctx context.Context, in AnalyzeInput, th RiskThresholds) (Observations, error) {
	now := e.Clock.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	base := func() *gorm.DB {
		// earlier unfinished tries of this same completion are not history
		return e.DB.WithContext(ctx).Model(&models.RiskRecord{}).
			Where("user_id = ? AND activity_type = ? AND activity_reference <> ?", in.UserID, in.ActivityType, in.ActivityReference)
	}

	var perfect, recentAttempts int64
	if err := base().Where("score_percentage = 100 AND created_at >= ?", dayStart).Count(&perfect).Error; err != nil {
		return Observations{}, fmt.Errorf("count perfect scores: %w", err)
	}
	if err := base().Where("created_at >= ?", now.Add(-time.Hour)).Count(&recentAttempts).Error; err != nil {
		return Observations{}, fmt.Errorf("count recent attempts: %w", err)
	}
	var prior []int
	if err := base().Order("created_at DESC, id DESC").Limit(th.PatternDepth-1).
		Pluck("score_percentage", &prior).Error; err != nil {
		return Observations{}, fmt.Errorf("load recent scores: %w", err)
	}

	scores := make([]int, 0, len(prior)+1)
	for i := len(prior) - 1; i >= 0; i-- {
		scores = append(scores, prior[i])
	}
	scores = append(scores, in.ScorePercentage)
	return Observations{
		CompletionTimeSeconds: in.CompletionTimeSeconds,
		PriorPerfectToday:     int(perfect),
		PriorAttemptsLastHour: int(recentAttempts),
		RecentScores:          scores,
	}, nil
}

func (e *AntiGamingRiskEngine) newRecord(in AnalyzeInput) models.RiskRecord {
	return models.RiskRecord{
		ID:                    uuid.NewString(),
		UserID:                in.UserID,
		ActivityType:          in.ActivityType,
		ActivityReference:     in.ActivityReference,
		CompletionTimeSeconds: in.CompletionTimeSeconds,
		ScorePercentage:       in.ScorePercentage,
		CreatedAt:             e.Clock.Now().UTC(),
	}
}

// failOpen is the one place analysis errors end up: the completion is treated as clean so the
// reward path stays available. The fault is logged and, when storage allows, recorded.
func (e *AntiGamingRiskEngine) failOpen(ctx context.Context, in AnalyzeInput, cause error) RiskAssessment {
	utils.LogError("❌ [ANTI_GAMING] analysis failed for %s on %s %s, failing open: %v",
		in.UserID, in.ActivityType, in.ActivityReference, cause)
	rec := e.newRecord(in)
	rec.FailedOpen = true
	rec.Signals = datatypes.JSONMap{signalAnalysisFailed: cause.Error()}
	out := RiskAssessment{RiskScore: 0, Flagged: false, Signals: map[string]interface{}{}, FailedOpen: true}
	if err := e.DB.WithContext(ctx).Create(&rec).Error; err != nil {
		utils.LogError("❌ [ANTI_GAMING] could not record failed analysis: %v", err)
		return out
	}
	out.RecordID = rec.ID
	return out
}

// PenaltyFor scales the sanction with the risk score: up to 100 points and 20 credits.
func PenaltyFor(riskScore float64) (points, credits int64) {
	points = min(100, int64(math.Floor(riskScore*50+1e-9)))
	credits = min(20, int64(math.Floor(riskScore*10+1e-9)))
	return max(0, points), max(0, credits)
}

type ReviewRequest struct {
	RecordID string
	AdminID  string
	Action   models.ReviewAction
	Notes    *string
}

type ReviewResult struct {
	Record    models.RiskRecord    `json:"record"`
	Penalties []models.Transaction `json:"penalties,omitempty"`
}

// Review moves a record from pending to reviewed. Reviewed records are terminal.
// Penalize posts the penalties in the same transaction as the state change.
func (e *AntiGamingRiskEngine) Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	if !req.Action.Valid() {
		return nil, &ValidationError{Field: "action", Reason: "must be approve, warn or penalize"}
	}
	var out ReviewResult
	err := e.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec models.RiskRecord
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", req.RecordID).First(&rec).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRecordNotFound
		}
		if err != nil {
			return err
		}
		if rec.AdminReviewed {
			return ErrAlreadyReviewed
		}

		if req.Action == models.ReviewPenalize {
			points, credits := PenaltyFor(rec.RiskScore)
			ledger := e.Ledger.WithTx(tx)
			reason := fmt.Sprintf("anti-gaming review of %s %s", rec.ActivityType, rec.ActivityReference)
			for _, p := range []grant{{models.CurrencyPoints, points}, {models.CurrencyCredits, credits}} {
				if p.amount <= 0 {
					continue
				}
				t, err := ledger.Penalty(ctx, PenaltyRequest{
					UserID:       rec.UserID,
					Currency:     p.currency,
					Amount:       p.amount,
					Reason:       reason,
					AdminID:      req.AdminID,
					RiskRecordID: &rec.ID,
					RiskScore:    rec.RiskScore,
				})
				if err != nil {
					return err
				}
				out.Penalties = append(out.Penalties, *t)
				if p.currency == models.CurrencyPoints {
					rec.PenaltyPoints = -t.Amount
				} else {
					rec.PenaltyCredits = -t.Amount
				}
			}
		}

		now := e.Clock.Now().UTC()
		action := req.Action
		rec.AdminReviewed = true
		rec.ReviewAction = &action
		rec.ReviewedBy = &req.AdminID
		rec.ReviewedAt = &now
		rec.ReviewNotes = req.Notes
		if err := tx.Save(&rec).Error; err != nil {
			return fmt.Errorf("save review: %w", err)
		}
		out.Record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	utils.LogInfo("🛡️ [ANTI_GAMING] record %s reviewed by %s: %s", req.RecordID, req.AdminID, req.Action)
	return &out, nil
}

// ListFlagged returns flagged records, newest first, optionally filtered by review state.
func (e *AntiGamingRiskEngine) ListFlagged(ctx context.Context, reviewed *bool, page, size int) ([]models.RiskRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 50
	}
	q := e.DB.WithContext(ctx).Model(&models.RiskRecord{}).Where("is_flagged = ?", true)
	if reviewed != nil {
		q = q.Where("admin_reviewed = ?", *reviewed)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var records []models.RiskRecord
	err := q.Order("created_at DESC, id DESC").Offset((page - 1) * size).Limit(size).Find(&records).Error
	return records, total, err
}

type RiskSummary struct {
	UserID            string  `json:"user_id"`
	TotalActivities   int     `json:"total_activities"`
	FlaggedActivities int     `json:"flagged_activities"`
	PendingReview     int     `json:"pending_review"`
	AverageRiskScore  float64 `json:"average_risk_score"`
	MaxRiskScore      float64 `json:"max_risk_score"`
	RecentFlags       int     `json:"recent_flags"`
	FlagRate          float64 `json:"flag_rate"`
	Status            string  `json:"status"`
}

const riskSummaryDepth = 50

// UserRiskSummary classifies a user from their latest records.
func (e *AntiGamingRiskEngine) UserRiskSummary(ctx context.Context, userID string) (*RiskSummary, error) {
	var records []models.RiskRecord
	if err := e.DB.WithContext(ctx).Where("user_id = ?", userID).
		Order("created_at DESC").Limit(riskSummaryDepth).Find(&records).Error; err != nil {
		return nil, err
	}
	out := &RiskSummary{UserID: userID, TotalActivities: len(records), Status: "clean"}
	if len(records) == 0 {
		return out, nil
	}

	weekAgo := e.Clock.Now().UTC().AddDate(0, 0, -7)
	var sum float64
	for _, r := range records {
		sum += r.RiskScore
		out.MaxRiskScore = math.Max(out.MaxRiskScore, r.RiskScore)
		if !r.IsFlagged {
			continue
		}
		out.FlaggedActivities++
		if !r.AdminReviewed {
			out.PendingReview++
		}
		if !r.CreatedAt.Before(weekAgo) {
			out.RecentFlags++
		}
	}
	avg := sum / float64(len(records))
	out.AverageRiskScore = math.Round(avg*100) / 100
	out.FlagRate = math.Round(float64(out.FlaggedActivities)/float64(len(records))*1000) / 10

	switch {
	case out.RecentFlags >= 3:
		out.Status = "high_risk"
	case out.FlaggedActivities >= 5:
		out.Status = "moderate_risk"
	case avg > 0.5:
		out.Status = "low_risk"
	}
	return out, nil
}
