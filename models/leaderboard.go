package models

import "time"

type LeaderboardType string

const (
	LeaderboardGlobal  LeaderboardType = "global"
	LeaderboardWeekly  LeaderboardType = "weekly"
	LeaderboardMonthly LeaderboardType = "monthly"
	LeaderboardQuiz    LeaderboardType = "quiz"
)

func (t LeaderboardType) Valid() bool {
	switch t {
	case LeaderboardGlobal, LeaderboardWeekly, LeaderboardMonthly, LeaderboardQuiz:
		return true
	}
	return false
}

// LeaderboardEntry is a materialized ranking row. Derived data: always rebuildable from
// transactions and quiz results.
type LeaderboardEntry struct {
	ID           string          `gorm:"primaryKey;type:uuid" json:"id"`
	Board        LeaderboardType `gorm:"type:varchar(16);not null;index:idx_lb_board_scope,priority:1" json:"board"`
	Scope        string          `gorm:"type:varchar(128);not null;index:idx_lb_board_scope,priority:2" json:"scope"`
	Period       string          `gorm:"type:varchar(16);not null" json:"period"`
	Rank         int             `gorm:"not null" json:"rank"`
	UserID       string          `gorm:"type:varchar(64);not null;index" json:"user_id"`
	Username     string          `gorm:"type:varchar(150)" json:"username"`
	Points       int64           `gorm:"not null" json:"points"`
	AverageScore float64         `json:"average_score"`
	Completions  int64           `json:"completions"`
	GeneratedAt  time.Time       `gorm:"not null" json:"generated_at"`
}
