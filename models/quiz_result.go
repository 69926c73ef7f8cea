package models

import "time"

// QuizResult is the per-completion history that feeds the quiz performance leaderboard.
// One row per (user, activity reference), matching the ledger's idempotency scope.
type QuizResult struct {
	ID                string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID            string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_quiz_user_reference,priority:1" json:"user_id"`
	ActivityReference string    `gorm:"type:varchar(128);not null;uniqueIndex:idx_quiz_user_reference,priority:2" json:"activity_reference"`
	QuizID            *string   `gorm:"type:varchar(128)" json:"quiz_id,omitempty"`
	CategoryID        *string   `gorm:"type:varchar(128);index" json:"category_id,omitempty"`
	ScorePercentage   int       `gorm:"not null" json:"score_percentage"`
	PointsEarned      int64     `gorm:"not null;default:0" json:"points_earned"`
	CompletedAt       time.Time `gorm:"not null;index" json:"completed_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
