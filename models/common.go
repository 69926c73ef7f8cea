package models

import (
	"time"

	"gorm.io/gorm"
)

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// ActivityType identifies what produced a ledger movement or a risk record.
type ActivityType string

const (
	ActivityQuiz       ActivityType = "quiz"
	ActivityMythsFacts ActivityType = "myths_facts"
	ActivityDailyLogin ActivityType = "daily_login"
	ActivityPurchase   ActivityType = "purchase"
	ActivityPenalty    ActivityType = "penalty"
	ActivityAdminGrant ActivityType = "admin_grant"
)

// IsGame reports whether the activity is a scored completion that goes through tiering and risk analysis.
func (a ActivityType) IsGame() bool {
	return a == ActivityQuiz || a == ActivityMythsFacts
}

// Currency is one of the two independently tracked balances.
type Currency string

const (
	CurrencyPoints  Currency = "points"
	CurrencyCredits Currency = "credits"
)

func (c Currency) Valid() bool {
	return c == CurrencyPoints || c == CurrencyCredits
}

// RewardTier is a performance bracket derived from score percentage
type RewardTier string

const (
	TierBronze   RewardTier = "bronze"
	TierSilver   RewardTier = "silver"
	TierGold     RewardTier = "gold"
	TierPlatinum RewardTier = "platinum"
)
