package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"wildlife-rewards/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type AccountService struct {
	DB *gorm.DB
}

func NewAccountService(db *gorm.DB) *AccountService {
	return &AccountService{DB: db}
}

// EnsureAccount returns the mirrored account, creating an active one for ids the sync
// worker has not delivered yet.
func (s *AccountService) EnsureAccount(ctx context.Context, userID string) (*models.UserAccount, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	db := s.DB.WithContext(ctx)
	var acct models.UserAccount
	err := db.Where("id = ?", userID).First(&acct).Error
	if err == nil {
		return &acct, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("load account: %w", err)
	}
	acct = models.UserAccount{ID: userID, Username: userID, IsActive: true}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&acct).Error; err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	if err := db.Where("id = ?", userID).First(&acct).Error; err != nil {
		return nil, fmt.Errorf("reload account: %w", err)
	}
	return &acct, nil
}

// SearchAccounts matches usernames for the admin panel.
func (s *AccountService) SearchAccounts(ctx context.Context, query string, limit int) ([]models.UserAccount, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	db := s.DB.WithContext(ctx).Model(&models.UserAccount{}).Order("username ASC").Limit(limit)
	if q := strings.TrimSpace(query); q != "" {
		db = db.Where("LOWER(username) LIKE ? OR id = ?", "%"+strings.ToLower(q)+"%", q)
	}
	var users []models.UserAccount
	err := db.Find(&users).Error
	return users, err
}
