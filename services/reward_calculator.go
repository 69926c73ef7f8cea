package services

import (
	"context"
	"fmt"
	"sort"

	"wildlife-rewards/models"

	"gorm.io/gorm"
)

// Bonus names recorded on completions.
const (
	BonusTime    = "time_bonus"
	BonusPerfect = "perfect_score_bonus"
)

// TierRule is one bracket of a tier table: MinScore is an inclusive lower bound.
type TierRule struct {
	Tier                      models.RewardTier `json:"tier"`
	MinScore                  int               `json:"min_score"`
	PointsReward              int64             `json:"points_reward"`
	CreditsReward             int64             `json:"credits_reward"`
	TimeBonusThresholdSeconds *int              `json:"time_bonus_threshold_seconds,omitempty"`
	DailyCap                  *int64            `json:"daily_cap,omitempty"`
}

// TierTable is the ordered (highest cutoff first) set of brackets for one activity type.
type TierTable struct {
	ActivityType models.ActivityType `json:"activity_type"`
	Rules        []TierRule          `json:"rules"`
}

// Select returns the highest bracket whose cutoff the score reaches.
func (t TierTable) Select(score int) (TierRule, bool) {
	for _, r := range t.Rules {
		if score >= r.MinScore {
			return r, true
		}
	}
	return TierRule{}, false
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

// Compiled tier cutoffs and amounts, used when the tier table is empty and to seed it.
var defaultTierConfigs = map[models.ActivityType][]TierRule{
	models.ActivityQuiz: {
		{Tier: models.TierPlatinum, MinScore: 95, PointsReward: 30, CreditsReward: 10, TimeBonusThresholdSeconds: intPtr(180)},
		{Tier: models.TierGold, MinScore: 80, PointsReward: 20, CreditsReward: 5, TimeBonusThresholdSeconds: intPtr(300)},
		{Tier: models.TierSilver, MinScore: 60, PointsReward: 10, CreditsReward: 2},
		{Tier: models.TierBronze, MinScore: 0, PointsReward: 5, CreditsReward: 1},
	},
	models.ActivityMythsFacts: {
		{Tier: models.TierPlatinum, MinScore: 95, PointsReward: 25, CreditsReward: 5, TimeBonusThresholdSeconds: intPtr(90)},
		{Tier: models.TierGold, MinScore: 85, PointsReward: 15, CreditsReward: 3, TimeBonusThresholdSeconds: intPtr(120)},
		{Tier: models.TierSilver, MinScore: 70, PointsReward: 7, CreditsReward: 2},
		{Tier: models.TierBronze, MinScore: 0, PointsReward: 3, CreditsReward: 1},
	},
	models.ActivityDailyLogin: {
		{Tier: models.TierBronze, MinScore: 0, PointsReward: 5, CreditsReward: 1},
	},
}

// DefaultTierTable returns the compiled table for an activity type.
func DefaultTierTable(activity models.ActivityType) (TierTable, bool) {
	rules, ok := defaultTierConfigs[activity]
	if !ok {
		return TierTable{}, false
	}
	out := make([]TierRule, len(rules))
	copy(out, rules)
	return TierTable{ActivityType: activity, Rules: out}, true
}

func defaultCutoff(activity models.ActivityType, tier models.RewardTier) (int, bool) {
	for _, r := range defaultTierConfigs[activity] {
		if r.Tier == tier {
			return r.MinScore, true
		}
	}
	return 0, false
}

// BuildTierTable turns active config rows into an ordered table. Cutoffs must be distinct,
// and the lowest bracket always catches every score below the next one.
func BuildTierTable(activity models.ActivityType, configs []models.RewardTierConfig) (TierTable, error) {
	table := TierTable{ActivityType: activity}
	seen := map[int]models.RewardTier{}
	for _, cfg := range configs {
		if cfg.ActivityType != activity || !cfg.IsActive {
			continue
		}
		cutoff, ok := defaultCutoff(activity, cfg.Tier)
		if cfg.MinimumScorePercentage != nil {
			cutoff, ok = *cfg.MinimumScorePercentage, true
		}
		if !ok {
			return TierTable{}, fmt.Errorf("tier %s of %s has no score cutoff", cfg.Tier, activity)
		}
		if cutoff < 0 || cutoff > 100 {
			return TierTable{}, fmt.Errorf("tier %s of %s has cutoff %d outside [0,100]", cfg.Tier, activity, cutoff)
		}
		if other, dup := seen[cutoff]; dup {
			return TierTable{}, fmt.Errorf("tiers %s and %s of %s share cutoff %d", other, cfg.Tier, activity, cutoff)
		}
		seen[cutoff] = cfg.Tier
		table.Rules = append(table.Rules, TierRule{
			Tier:                      cfg.Tier,
			MinScore:                  cutoff,
			PointsReward:              cfg.PointsReward,
			CreditsReward:             cfg.CreditsReward,
			TimeBonusThresholdSeconds: cfg.TimeBonusThresholdSeconds,
			DailyCap:                  cfg.DailyCap,
		})
	}
	if len(table.Rules) == 0 {
		def, ok := DefaultTierTable(activity)
		if !ok {
			return TierTable{}, fmt.Errorf("no tier table for activity %s", activity)
		}
		return def, nil
	}
	sort.Slice(table.Rules, func(i, j int) bool { return table.Rules[i].MinScore > table.Rules[j].MinScore })
	table.Rules[len(table.Rules)-1].MinScore = 0
	return table, nil
}

// BonusPolicy holds the bonus fractions for one activity type.
type BonusPolicy struct {
	TimeBonusPointsPct  float64
	TimeBonusCreditsPct float64
	TimeBonusMinScore   int
	PerfectBonusPct     float64
}

var defaultBonusPolicies = map[models.ActivityType]BonusPolicy{
	models.ActivityQuiz:       {TimeBonusPointsPct: 0.5, TimeBonusCreditsPct: 0.3, TimeBonusMinScore: 80, PerfectBonusPct: 0.2},
	models.ActivityMythsFacts: {TimeBonusPointsPct: 0.4, TimeBonusCreditsPct: 0.3, TimeBonusMinScore: 70, PerfectBonusPct: 0.25},
}

// BonusPolicyFor resolves the bonus fractions from settings, e.g. quiz_time_bonus_pct.
func BonusPolicyFor(snap *SettingsSnapshot, activity models.ActivityType) BonusPolicy {
	def := defaultBonusPolicies[activity]
	prefix := string(activity)
	return BonusPolicy{
		TimeBonusPointsPct:  snap.Float(prefix+"_time_bonus_pct", def.TimeBonusPointsPct),
		TimeBonusCreditsPct: snap.Float(prefix+"_time_bonus_credits_pct", def.TimeBonusCreditsPct),
		TimeBonusMinScore:   int(snap.Int(prefix+"_time_bonus_min_score", int64(def.TimeBonusMinScore))),
		PerfectBonusPct:     snap.Float(prefix+"_perfect_bonus_pct", def.PerfectBonusPct),
	}
}

// Amounts is a points/credits pair.
type Amounts struct {
	Points  int64 `json:"points"`
	Credits int64 `json:"credits"`
}

// ComputeInput is one scored outcome. ItemOverride beats CategoryOverride beats the tier table.
type ComputeInput struct {
	ScorePercentage  int
	TimeTakenSeconds *int
	PureScoringMode  bool
	ItemOverride     *Amounts
	CategoryOverride *Amounts
}

type RewardComputation struct {
	Tier           models.RewardTier `json:"tier"`
	BasePoints     int64             `json:"base_points"`
	BaseCredits    int64             `json:"base_credits"`
	BonusPoints    int64             `json:"bonus_points"`
	BonusCredits   int64             `json:"bonus_credits"`
	BonusesApplied []string          `json:"bonuses_applied"`
	DailyCap       *int64            `json:"-"`
}

func (r RewardComputation) TotalPoints() int64  { return r.BasePoints + r.BonusPoints }
func (r RewardComputation) TotalCredits() int64 { return r.BaseCredits + r.BonusCredits }

// ValidateOutcome rejects scores outside [0,100] and negative durations. Nothing is clamped.
func ValidateOutcome(score int, timeTaken *int) error {
	if score < 0 || score > 100 {
		return &ValidationError{Field: "score_percentage", Reason: fmt.Sprintf("%d is outside [0,100]", score)}
	}
	if timeTaken != nil && *timeTaken < 0 {
		return &ValidationError{Field: "time_taken_seconds", Reason: "must not be negative"}
	}
	return nil
}

// Compute maps an outcome to reward amounts. It has no side effects.
func Compute(table TierTable, policy BonusPolicy, in ComputeInput) (RewardComputation, error) {
	if err := ValidateOutcome(in.ScorePercentage, in.TimeTakenSeconds); err != nil {
		return RewardComputation{}, err
	}
	rule, ok := table.Select(in.ScorePercentage)
	if !ok {
		return RewardComputation{}, fmt.Errorf("tier table for %s has no bracket for score %d", table.ActivityType, in.ScorePercentage)
	}

	out := RewardComputation{
		Tier:           rule.Tier,
		BasePoints:     rule.PointsReward,
		BaseCredits:    rule.CreditsReward,
		BonusesApplied: []string{},
		DailyCap:       rule.DailyCap,
	}
	switch {
	case in.ItemOverride != nil:
		out.BasePoints, out.BaseCredits = in.ItemOverride.Points, in.ItemOverride.Credits
	case in.CategoryOverride != nil:
		out.BasePoints, out.BaseCredits = in.CategoryOverride.Points, in.CategoryOverride.Credits
	}
	if in.PureScoringMode {
		return out, nil
	}

	points, credits := out.BasePoints, out.BaseCredits
	threshold := rule.TimeBonusThresholdSeconds
	if threshold != nil && in.TimeTakenSeconds != nil && *in.TimeTakenSeconds > 0 &&
		*in.TimeTakenSeconds <= *threshold && in.ScorePercentage >= policy.TimeBonusMinScore {
		points += int64(float64(out.BasePoints) * policy.TimeBonusPointsPct)
		credits += int64(float64(out.BaseCredits) * policy.TimeBonusCreditsPct)
		out.BonusesApplied = append(out.BonusesApplied, BonusTime)
	}
	// compounds on the time-bonused amount
	if in.ScorePercentage == 100 {
		points += int64(float64(points) * policy.PerfectBonusPct)
		credits += int64(float64(credits) * policy.PerfectBonusPct)
		out.BonusesApplied = append(out.BonusesApplied, BonusPerfect)
	}
	out.BonusPoints = points - out.BasePoints
	out.BonusCredits = credits - out.BaseCredits
	return out, nil
}

// RewardCalculator loads tier tables and overrides; the arithmetic itself is Compute.
type RewardCalculator struct {
	DB *gorm.DB
}

func NewRewardCalculator(db *gorm.DB) *RewardCalculator {
	return &RewardCalculator{DB: db}
}

// TierTable reads the active configs for an activity and orders them.
func (c *RewardCalculator) TierTable(ctx context.Context, activity models.ActivityType) (TierTable, error) {
	var configs []models.RewardTierConfig
	if err := c.DB.WithContext(ctx).
		Where("activity_type = ? AND is_active = ?", activity, true).
		Find(&configs).Error; err != nil {
		return TierTable{}, fmt.Errorf("load tier configs: %w", err)
	}
	return BuildTierTable(activity, configs)
}

// Overrides returns the item and category overrides that exist for the given ids.
func (c *RewardCalculator) Overrides(ctx context.Context, activity models.ActivityType, itemID, categoryID *string) (item, category *Amounts, err error) {
	lookup := func(scope models.OverrideScope, id *string) (*Amounts, error) {
		if id == nil || *id == "" {
			return nil, nil
		}
		var rows []models.RewardOverride
		if err := c.DB.WithContext(ctx).
			Where("activity_type = ? AND scope = ? AND scope_id = ?", activity, scope, *id).
			Limit(1).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("load %s override: %w", scope, err)
		}
		if len(rows) == 0 {
			return nil, nil
		}
		return &Amounts{Points: rows[0].PointsReward, Credits: rows[0].CreditsReward}, nil
	}
	if item, err = lookup(models.OverrideItem, itemID); err != nil {
		return nil, nil, err
	}
	if category, err = lookup(models.OverrideCategory, categoryID); err != nil {
		return nil, nil, err
	}
	return item, category, nil
}

// ListTierConfigs returns every configured row, grouped by activity in cutoff order.
func (c *RewardCalculator) ListTierConfigs(ctx context.Context) ([]models.RewardTierConfig, error) {
	var configs []models.RewardTierConfig
	err := c.DB.WithContext(ctx).
		Order("activity_type ASC, COALESCE(minimum_score_percentage, -1) DESC, tier ASC").
		Find(&configs).Error
	return configs, err
}
