package models

import (
	"time"

	"gorm.io/datatypes"
)

type ReviewAction string

const (
	ReviewApprove  ReviewAction = "approve"
	ReviewWarn     ReviewAction = "warn"
	ReviewPenalize ReviewAction = "penalize"
)

func (a ReviewAction) Valid() bool {
	return a == ReviewApprove || a == ReviewWarn || a == ReviewPenalize
}

// RiskRecord is written once per scored completion, before the reward decision. Outcome is set
// once the decision is settled ("rewarded" or the blocked reason); a record without one belongs
// to a completion that never finished and may be retried. Afterwards only an admin review
// mutates it. AdminReviewed=true is terminal.
type RiskRecord struct {
	ID                    string            `gorm:"primaryKey;type:uuid" json:"id"`
	UserID                string            `gorm:"type:varchar(64);not null;index:idx_risk_user_activity,priority:1" json:"user_id"`
	ActivityType          ActivityType      `gorm:"type:varchar(32);not null;index:idx_risk_user_activity,priority:2" json:"activity_type"`
	ActivityReference     string            `gorm:"type:varchar(128);not null;index" json:"activity_reference"`
	CompletionTimeSeconds *int              `json:"completion_time_seconds,omitempty"`
	ScorePercentage       int               `gorm:"not null" json:"score_percentage"`
	Signals               datatypes.JSONMap `json:"signals"`
	RiskScore             float64           `gorm:"not null;default:0" json:"risk_score"`
	IsFlagged             bool              `gorm:"not null;index" json:"is_flagged"`
	FailedOpen            bool              `gorm:"not null" json:"failed_open"`
	Outcome               *string           `gorm:"type:varchar(32)" json:"outcome,omitempty"`
	AdminReviewed         bool              `gorm:"not null;index" json:"admin_reviewed"`
	ReviewAction          *ReviewAction     `gorm:"type:varchar(16)" json:"review_action,omitempty"`
	ReviewedBy            *string           `gorm:"type:varchar(64)" json:"reviewed_by,omitempty"`
	ReviewedAt            *time.Time        `json:"reviewed_at,omitempty"`
	ReviewNotes           *string           `gorm:"type:text" json:"review_notes,omitempty"`
	PenaltyPoints         int64             `gorm:"not null;default:0" json:"penalty_points"`
	PenaltyCredits        int64             `gorm:"not null;default:0" json:"penalty_credits"`
	CreatedAt             time.Time         `gorm:"not null;index" json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`
}
