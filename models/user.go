package models

import "time"

// UserAccount mirrors the identity service: the ledger only needs a stable id and an active flag.
type UserAccount struct {
	ID       string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Username string `gorm:"type:varchar(150);index" json:"username"`
	IsActive bool   `gorm:"not null" json:"is_active"`
	Timestamps
}

// RemoteUser is the shape returned by the sync service profiles endpoint.
type RemoteUser struct {
	ExternalID    string    `json:"external_id"`
	Username      string    `json:"username"`
	AccountStatus string    `json:"account_status"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
