package models

import (
	"time"

	"gorm.io/datatypes"
)

type TransactionKind string

const (
	KindEarn            TransactionKind = "earn"
	KindSpend           TransactionKind = "spend"
	KindPenalty         TransactionKind = "penalty"
	KindAdminAdjustment TransactionKind = "admin_adjustment"
)

// Transaction is an append-only ledger line. Amount is signed; BalanceAfter is the running
// balance of that user and currency once this line is applied.
type Transaction struct {
	ID                string                              `gorm:"primaryKey;type:uuid" json:"id"`
	UserID            string                              `gorm:"type:varchar(64);not null;index:idx_tx_user_currency,priority:1" json:"user_id"`
	Kind              TransactionKind                     `gorm:"type:varchar(32);not null" json:"kind"`
	Currency          Currency                            `gorm:"type:varchar(16);not null;index:idx_tx_user_currency,priority:2" json:"currency"`
	Amount            int64                               `gorm:"not null" json:"amount"`
	BalanceAfter      int64                               `gorm:"not null" json:"balance_after"`
	ActivityType      ActivityType                        `gorm:"type:varchar(32);not null;index" json:"activity_type"`
	ActivityReference *string                             `gorm:"type:varchar(128);index" json:"activity_reference,omitempty"`
	IdempotencyKey    *string                             `gorm:"type:varchar(255);uniqueIndex" json:"-"`
	Context           datatypes.JSONType[ActivityContext] `json:"context"`
	CreatedAt         time.Time                           `gorm:"not null;index" json:"created_at"`
}

// Context kinds
const (
	ContextCompletion = "completion"
	ContextLogin      = "daily_login"
	ContextPurchase   = "purchase"
	ContextPenalty    = "penalty"
	ContextAdmin      = "admin"
)

// ActivityContext is a tagged variant: Kind says which of the typed parts is populated.
// Extra is kept for genuinely unstructured details supplied by callers.
type ActivityContext struct {
	Kind       string             `json:"kind"`
	Completion *CompletionContext `json:"completion,omitempty"`
	Login      *LoginContext      `json:"login,omitempty"`
	Purchase   *PurchaseContext   `json:"purchase,omitempty"`
	Penalty    *PenaltyContext    `json:"penalty,omitempty"`
	Admin      *AdminContext      `json:"admin,omitempty"`
	Extra      map[string]any     `json:"extra,omitempty"`
}

type CompletionContext struct {
	Tier             RewardTier `json:"tier"`
	ScorePercentage  int        `json:"score_percentage"`
	TimeTakenSeconds *int       `json:"time_taken_seconds,omitempty"`
	BasePoints       int64      `json:"base_points"`
	BaseCredits      int64      `json:"base_credits"`
	BonusesApplied   []string   `json:"bonuses_applied,omitempty"`
	CategoryID       *string    `json:"category_id,omitempty"`
	ItemID           *string    `json:"item_id,omitempty"`
}

type LoginContext struct {
	Day         string `json:"day"`
	Streak      int    `json:"streak"`
	StreakBonus bool   `json:"streak_bonus"`
}

type PurchaseContext struct {
	Item        string `json:"item"`
	Description string `json:"description,omitempty"`
}

type PenaltyContext struct {
	Reason          string  `json:"reason"`
	AdminID         string  `json:"admin_id"`
	RequestedAmount int64   `json:"requested_amount"`
	RiskRecordID    *string `json:"risk_record_id,omitempty"`
	RiskScore       float64 `json:"risk_score,omitempty"`
}

type AdminContext struct {
	Reason  string `json:"reason"`
	AdminID string `json:"admin_id"`
}
