package models

// UserBalance is the authoritative per-user balance row. It is only written by the currency ledger,
// always together with the Transaction rows that explain the change.
type UserBalance struct {
	UserID             string `gorm:"primaryKey;type:varchar(64)" json:"user_id"`
	PointsBalance      int64  `gorm:"not null;default:0" json:"points_balance"`
	CreditsBalance     int64  `gorm:"not null;default:0" json:"credits_balance"`
	TotalPointsEarned  int64  `gorm:"not null;default:0" json:"total_points_earned"`
	TotalCreditsEarned int64  `gorm:"not null;default:0" json:"total_credits_earned"`
	Version            int64  `gorm:"not null;default:0" json:"-"`
	Timestamps
}

// Of returns the balance held in the given currency.
func (b *UserBalance) Of(c Currency) int64 {
	if c == CurrencyCredits {
		return b.CreditsBalance
	}
	return b.PointsBalance
}

func (b *UserBalance) set(c Currency, v int64) {
	if c == CurrencyCredits {
		b.CreditsBalance = v
		return
	}
	b.PointsBalance = v
}

// Apply moves the balance by a signed amount and returns the new balance.
func (b *UserBalance) Apply(c Currency, amount int64) int64 {
	next := b.Of(c) + amount
	b.set(c, next)
	return next
}

// AddEarned bumps the lifetime earned counter for the currency.
func (b *UserBalance) AddEarned(c Currency, amount int64) {
	if c == CurrencyCredits {
		b.TotalCreditsEarned += amount
		return
	}
	b.TotalPointsEarned += amount
}
