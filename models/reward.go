package models

// RewardTierConfig is one row of an activity's tier table. Admin-editable, read by every completion.
type RewardTierConfig struct {
	ID                        string       `gorm:"primaryKey;type:uuid" json:"id"`
	ActivityType              ActivityType `gorm:"type:varchar(32);not null;uniqueIndex:idx_tier_activity_tier,priority:1" json:"activity_type"`
	Tier                      RewardTier   `gorm:"type:varchar(16);not null;uniqueIndex:idx_tier_activity_tier,priority:2" json:"tier"`
	PointsReward              int64        `gorm:"not null;default:0" json:"points_reward"`
	CreditsReward             int64        `gorm:"not null;default:0" json:"credits_reward"`
	MinimumScorePercentage    *int         `json:"minimum_score_percentage,omitempty"`
	TimeBonusThresholdSeconds *int         `json:"time_bonus_threshold_seconds,omitempty"`
	DailyCap                  *int64       `json:"daily_cap,omitempty"` // points per day for this activity
	IsActive                  bool         `gorm:"not null;index" json:"is_active"`
	Timestamps
}

type OverrideScope string

const (
	OverrideItem     OverrideScope = "item"
	OverrideCategory OverrideScope = "category"
)

// RewardOverride replaces tier-table base amounts for one content item or a whole category.
type RewardOverride struct {
	ID            string        `gorm:"primaryKey;type:uuid" json:"id"`
	ActivityType  ActivityType  `gorm:"type:varchar(32);not null;uniqueIndex:idx_override_scope,priority:1" json:"activity_type"`
	Scope         OverrideScope `gorm:"type:varchar(16);not null;uniqueIndex:idx_override_scope,priority:2" json:"scope"`
	ScopeID       string        `gorm:"type:varchar(128);not null;uniqueIndex:idx_override_scope,priority:3" json:"scope_id"`
	PointsReward  int64         `gorm:"not null" json:"points_reward"`
	CreditsReward int64         `gorm:"not null" json:"credits_reward"`
	Timestamps
}
