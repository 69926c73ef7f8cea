package models

import "time"

// DayLayout is the format of DailyActivity.Day (UTC calendar date).
const DayLayout = "2006-01-02"

// DailyActivity holds one user's counters for one UTC day. Created lazily on first touch.
type DailyActivity struct {
	ID            string                 `gorm:"primaryKey;type:uuid" json:"id"`
	UserID        string                 `gorm:"type:varchar(64);not null;uniqueIndex:idx_daily_user_day,priority:1" json:"user_id"`
	Day           string                 `gorm:"type:varchar(10);not null;uniqueIndex:idx_daily_user_day,priority:2" json:"day"`
	PointsEarned  int64                  `gorm:"not null;default:0" json:"points_earned"`
	CreditsEarned int64                  `gorm:"not null;default:0" json:"credits_earned"`
	LoginStreak   int                    `gorm:"not null;default:1" json:"login_streak"`
	LoginRewarded bool                   `gorm:"not null" json:"login_rewarded"`
	Counters      []DailyActivityCounter `gorm:"foreignKey:DailyActivityID" json:"counters,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Earned returns today's earned amount for the currency.
func (d *DailyActivity) Earned(c Currency) int64 {
	if c == CurrencyCredits {
		return d.CreditsEarned
	}
	return d.PointsEarned
}

// DailyActivityCounter is the per-activity-type breakdown of a DailyActivity row.
// Attempts counts every submitted completion; Completions only the ones that were rewarded.
type DailyActivityCounter struct {
	ID              string       `gorm:"primaryKey;type:uuid" json:"id"`
	DailyActivityID string       `gorm:"type:uuid;not null;uniqueIndex:idx_counter_day_activity,priority:1" json:"daily_activity_id"`
	ActivityType    ActivityType `gorm:"type:varchar(32);not null;uniqueIndex:idx_counter_day_activity,priority:2" json:"activity_type"`
	Attempts        int          `gorm:"not null;default:0" json:"attempts"`
	Completions     int          `gorm:"not null;default:0" json:"completions"`
	PointsEarned    int64        `gorm:"not null;default:0" json:"points_earned"`
	CreditsEarned   int64        `gorm:"not null;default:0" json:"credits_earned"`
}
