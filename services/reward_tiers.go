package services

import (
	"context"
	"errors"
	"fmt"

	"wildlife-rewards/models"
	"wildlife-rewards/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SeedDefaultTiers inserts the compiled tier tables for any (activity, tier) not yet configured.
func (c *RewardCalculator) SeedDefaultTiers(ctx context.Context) error {
	var rows []models.RewardTierConfig
	for activity, rules := range defaultTierConfigs {
		for _, r := range rules {
			rows = append(rows, models.RewardTierConfig{
				ID:                        uuid.NewString(),
				ActivityType:              activity,
				Tier:                      r.Tier,
				PointsReward:              r.PointsReward,
				CreditsReward:             r.CreditsReward,
				MinimumScorePercentage:    intPtr(r.MinScore),
				TimeBonusThresholdSeconds: r.TimeBonusThresholdSeconds,
				IsActive:                  true,
			})
		}
	}
	res := c.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows)
	if res.Error != nil {
		return fmt.Errorf("seed reward tiers: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		utils.LogInfo("🌱 [TIERS] seeded %d default reward tier rows", res.RowsAffected)
	}
	return nil
}

// UpsertTierConfig writes one tier row and rejects the change if the resulting table
// would have overlapping cutoffs.
func (c *RewardCalculator) UpsertTierConfig(ctx context.Context, cfg models.RewardTierConfig) (*models.RewardTierConfig, error) {
	if _, ok := defaultTierConfigs[cfg.ActivityType]; !ok {
		return nil, &ValidationError{Field: "activity_type", Reason: fmt.Sprintf("unknown activity %q", cfg.ActivityType)}
	}
	switch cfg.Tier {
	case models.TierBronze, models.TierSilver, models.TierGold, models.TierPlatinum:
	default:
		return nil, &ValidationError{Field: "tier", Reason: fmt.Sprintf("unknown tier %q", cfg.Tier)}
	}
	if cfg.PointsReward < 0 || cfg.CreditsReward < 0 {
		return nil, &ValidationError{Field: "reward", Reason: "amounts must not be negative"}
	}
	if cfg.TimeBonusThresholdSeconds != nil && *cfg.TimeBonusThresholdSeconds <= 0 {
		return nil, &ValidationError{Field: "time_bonus_threshold_seconds", Reason: "must be positive"}
	}

	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.RewardTierConfig
		err := tx.Where("activity_type = ? AND tier = ?", cfg.ActivityType, cfg.Tier).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			cfg.ID = uuid.NewString()
			if err := tx.Create(&cfg).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			cfg.ID = existing.ID
			cfg.CreatedAt = existing.CreatedAt
			if err := tx.Save(&cfg).Error; err != nil {
				return err
			}
		}

		var all []models.RewardTierConfig
		if err := tx.Where("activity_type = ?", cfg.ActivityType).Find(&all).Error; err != nil {
			return err
		}
		if _, err := BuildTierTable(cfg.ActivityType, all); err != nil {
			return &ValidationError{Field: "minimum_score_percentage", Reason: err.Error()}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	utils.LogSuccess("✅ [TIERS] %s/%s set to %d points, %d credits", cfg.ActivityType, cfg.Tier, cfg.PointsReward, cfg.CreditsReward)
	return &cfg, nil
}

// UpsertOverride sets the base amounts for one item or category.
func (c *RewardCalculator) UpsertOverride(ctx context.Context, o models.RewardOverride) (*models.RewardOverride, error) {
	if o.Scope != models.OverrideItem && o.Scope != models.OverrideCategory {
		return nil, &ValidationError{Field: "scope", Reason: "must be item or category"}
	}
	if o.ScopeID == "" {
		return nil, &ValidationError{Field: "scope_id", Reason: "must not be empty"}
	}
	if o.PointsReward < 0 || o.CreditsReward < 0 {
		return nil, &ValidationError{Field: "reward", Reason: "amounts must not be negative"}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	err := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "activity_type"}, {Name: "scope"}, {Name: "scope_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"points_reward", "credits_reward", "updated_at"}),
	}).Create(&o).Error
	if err != nil {
		return nil, fmt.Errorf("save override: %w", err)
	}
	return &o, nil
}
