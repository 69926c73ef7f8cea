package services

import (
	"context"
	"errors"
	"fmt"

	"wildlife-rewards/models"
	"wildlife-rewards/utils"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxLedgerAttempts = 3

// CurrencyLedger is the only writer of balances. Every mutation runs as one DB transaction that
// row-locks the user's balance and commits with a version compare-and-swap, so concurrent
// requests for one user are serialized while different users proceed in parallel.
type CurrencyLedger struct {
	DB       *gorm.DB
	Clock    clockwork.Clock
	Settings *SettingsResolver
	Tracker  *DailyActivityTracker
}

func NewCurrencyLedger(db *gorm.DB, clock clockwork.Clock, settings *SettingsResolver, tracker *DailyActivityTracker) *CurrencyLedger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CurrencyLedger{DB: db, Clock: clock, Settings: settings, Tracker: tracker}
}

// WithTx binds the ledger to an outer transaction; its units then run as savepoints.
func (l *CurrencyLedger) WithTx(tx *gorm.DB) *CurrencyLedger {
	cp := *l
	cp.DB = tx
	return &cp
}

// IdempotencyKey identifies the reward of one currency for one completion.
func IdempotencyKey(userID string, activity models.ActivityType, reference string, currency models.Currency) string {
	return fmt.Sprintf("%s:%s:%s:%s", userID, activity, reference, currency)
}

// EarnRequest grants points and/or credits for one activity in a single atomic unit.
type EarnRequest struct {
	UserID            string
	ActivityType      models.ActivityType
	ActivityReference *string
	Points            int64
	Credits           int64
	TierCap           *int64
	Context           models.ActivityContext
	Settings          *SettingsSnapshot
}

type grant struct {
	currency models.Currency
	amount   int64
}

func (r EarnRequest) grants() []grant {
	var out []grant
	if r.Points > 0 {
		out = append(out, grant{models.CurrencyPoints, r.Points})
	}
	if r.Credits > 0 {
		out = append(out, grant{models.CurrencyCredits, r.Credits})
	}
	return out
}

// Add grants amount of one currency. It is cap-checked: when today's cap would be exceeded it
// returns ErrCapExceeded and nothing at all is written.
func (l *CurrencyLedger) Add(ctx context.Context, userID string, currency models.Currency, amount int64, activity models.ActivityType, reference *string, actx models.ActivityContext) (*models.Transaction, error) {
	if !currency.Valid() {
		return nil, &ValidationError{Field: "currency", Reason: fmt.Sprintf("unknown currency %q", currency)}
	}
	if amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	req := EarnRequest{UserID: userID, ActivityType: activity, ActivityReference: reference, Context: actx}
	if currency == models.CurrencyPoints {
		req.Points = amount
	} else {
		req.Credits = amount
	}
	txs, err := l.Earn(ctx, req)
	if err != nil {
		return nil, err
	}
	return &txs[0], nil
}

// Earn is the multi-currency form of Add: either every grant fits under its cap and all are
// written, or none are.
func (l *CurrencyLedger) Earn(ctx context.Context, req EarnRequest) ([]models.Transaction, error) {
	if req.Points < 0 || req.Credits < 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must not be negative"}
	}
	grants := req.grants()
	if len(grants) == 0 {
		return nil, &ValidationError{Field: "amount", Reason: "nothing to grant"}
	}
	snap := req.Settings
	if snap == nil && l.Settings != nil {
		snap = l.Settings.Snapshot(ctx)
	}

	var written []models.Transaction
	err := l.locked(ctx, req.UserID, func(tx *gorm.DB, bal *models.UserBalance) error {
		written = written[:0]
		day, err := l.Tracker.GetOrCreate(tx, req.UserID, l.Tracker.Today())
		if err != nil {
			return err
		}

		keys := map[models.Currency]*string{}
		if req.ActivityReference != nil && *req.ActivityReference != "" {
			var lookup []string
			for _, g := range grants {
				k := IdempotencyKey(req.UserID, req.ActivityType, *req.ActivityReference, g.currency)
				keys[g.currency] = &k
				lookup = append(lookup, k)
			}
			var dup int64
			if err := tx.Model(&models.Transaction{}).Where("idempotency_key IN ?", lookup).Count(&dup).Error; err != nil {
				return fmt.Errorf("idempotency check: %w", err)
			}
			if dup > 0 {
				return ErrDuplicateReward
			}
		}

		for _, g := range grants {
			if !l.Tracker.CheckCap(day, snap, g.currency, g.amount, req.ActivityType, req.TierCap) {
				limit := l.Tracker.EffectiveCap(snap, req.ActivityType, g.currency, req.TierCap)
				utils.LogInfo("🚧 [LEDGER] %s cap hit for %s: earned %d + %d > %d", g.currency, req.UserID, day.Earned(g.currency), g.amount, limit)
				return fmt.Errorf("%w: %s (%d of %d earned today)", ErrCapExceeded, g.currency, day.Earned(g.currency), limit)
			}
		}

		for i, g := range grants {
			after := bal.Apply(g.currency, g.amount)
			bal.AddEarned(g.currency, g.amount)
			if err := l.Tracker.RecordEarned(tx, day, req.ActivityType, g.currency, g.amount, i == 0); err != nil {
				return err
			}
			t, err := l.append(tx, &models.Transaction{
				UserID:            req.UserID,
				Kind:              models.KindEarn,
				Currency:          g.currency,
				Amount:            g.amount,
				BalanceAfter:      after,
				ActivityType:      req.ActivityType,
				ActivityReference: req.ActivityReference,
				IdempotencyKey:    keys[g.currency],
				Context:           datatypes.NewJSONType(req.Context),
			})
			if err != nil {
				return err
			}
			written = append(written, *t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, t := range written {
		utils.LogSuccess("✅ [LEDGER] +%d %s to %s (%s) balance=%d", t.Amount, t.Currency, t.UserID, t.ActivityType, t.BalanceAfter)
	}
	return written, nil
}

// SpendRequest debits credits for a purchase.
type SpendRequest struct {
	UserID      string
	Amount      int64
	Item        string
	Description string
	Reference   *string
}

// Spend is balance-checked: credits below the amount returns ErrInsufficientFunds with no write.
func (l *CurrencyLedger) Spend(ctx context.Context, req SpendRequest) (*models.Transaction, error) {
	if req.Amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if req.Item == "" {
		return nil, &ValidationError{Field: "item", Reason: "must not be empty"}
	}
	var written *models.Transaction
	err := l.locked(ctx, req.UserID, func(tx *gorm.DB, bal *models.UserBalance) error {
		if bal.CreditsBalance < req.Amount {
			return fmt.Errorf("%w: have %d credits, need %d", ErrInsufficientFunds, bal.CreditsBalance, req.Amount)
		}
		after := bal.Apply(models.CurrencyCredits, -req.Amount)
		var err error
		written, err = l.append(tx, &models.Transaction{
			UserID:            req.UserID,
			Kind:              models.KindSpend,
			Currency:          models.CurrencyCredits,
			Amount:            -req.Amount,
			BalanceAfter:      after,
			ActivityType:      models.ActivityPurchase,
			ActivityReference: req.Reference,
			Context: datatypes.NewJSONType(models.ActivityContext{
				Kind:     models.ContextPurchase,
				Purchase: &models.PurchaseContext{Item: req.Item, Description: req.Description},
			}),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	utils.LogSuccess("💳 [LEDGER] %s spent %d credits on %s", req.UserID, req.Amount, req.Item)
	return written, nil
}

// PenaltyRequest removes currency as a sanction.
type PenaltyRequest struct {
	UserID       string
	Currency     models.Currency
	Amount       int64
	Reason       string
	AdminID      string
	RiskRecordID *string
	RiskScore    float64
}

// Penalty is floor-clamped: it removes at most the current balance, and the recorded amount is
// what was actually removed. A zero balance yields a zero-amount line for the audit trail.
func (l *CurrencyLedger) Penalty(ctx context.Context, req PenaltyRequest) (*models.Transaction, error) {
	if !req.Currency.Valid() {
		return nil, &ValidationError{Field: "currency", Reason: fmt.Sprintf("unknown currency %q", req.Currency)}
	}
	if req.Amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if req.Reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "must not be empty"}
	}
	var written *models.Transaction
	err := l.locked(ctx, req.UserID, func(tx *gorm.DB, bal *models.UserBalance) error {
		removed := min(req.Amount, bal.Of(req.Currency))
		after := bal.Apply(req.Currency, -removed)
		var err error
		written, err = l.append(tx, &models.Transaction{
			UserID:            req.UserID,
			Kind:              models.KindPenalty,
			Currency:          req.Currency,
			Amount:            -removed,
			BalanceAfter:      after,
			ActivityType:      models.ActivityPenalty,
			ActivityReference: req.RiskRecordID,
			Context: datatypes.NewJSONType(models.ActivityContext{
				Kind: models.ContextPenalty,
				Penalty: &models.PenaltyContext{
					Reason:          req.Reason,
					AdminID:         req.AdminID,
					RequestedAmount: req.Amount,
					RiskRecordID:    req.RiskRecordID,
					RiskScore:       req.RiskScore,
				},
			}),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	utils.LogWarn("⚖️ [LEDGER] penalty on %s: requested %d %s, removed %d (balance=%d)",
		req.UserID, req.Amount, req.Currency, -written.Amount, written.BalanceAfter)
	return written, nil
}

// AdminGrantRequest is a manual positive adjustment.
type AdminGrantRequest struct {
	UserID   string
	Currency models.Currency
	Amount   int64
	Reason   string
	AdminID  string
}

// AdminAdjust credits a user outside the daily caps. It does not count towards total earned.
func (l *CurrencyLedger) AdminAdjust(ctx context.Context, req AdminGrantRequest) (*models.Transaction, error) {
	if !req.Currency.Valid() {
		return nil, &ValidationError{Field: "currency", Reason: fmt.Sprintf("unknown currency %q", req.Currency)}
	}
	if req.Amount <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if req.Reason == "" {
		return nil, &ValidationError{Field: "reason", Reason: "must not be empty"}
	}
	var written *models.Transaction
	err := l.locked(ctx, req.UserID, func(tx *gorm.DB, bal *models.UserBalance) error {
		after := bal.Apply(req.Currency, req.Amount)
		var err error
		written, err = l.append(tx, &models.Transaction{
			UserID:       req.UserID,
			Kind:         models.KindAdminAdjustment,
			Currency:     req.Currency,
			Amount:       req.Amount,
			BalanceAfter: after,
			ActivityType: models.ActivityAdminGrant,
			Context: datatypes.NewJSONType(models.ActivityContext{
				Kind:  models.ContextAdmin,
				Admin: &models.AdminContext{Reason: req.Reason, AdminID: req.AdminID},
			}),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	utils.LogSuccess("🎁 [LEDGER] admin %s granted %d %s to %s", req.AdminID, req.Amount, req.Currency, req.UserID)
	return written, nil
}

// GetBalance reads the committed balance. Users without a row have a zero balance.
func (l *CurrencyLedger) GetBalance(ctx context.Context, userID string) (*models.UserBalance, error) {
	var bal models.UserBalance
	err := l.DB.WithContext(ctx).Where("user_id = ?", userID).First(&bal).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.UserBalance{UserID: userID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load balance: %w", err)
	}
	return &bal, nil
}

// History pages through a user's transactions, newest first.
func (l *CurrencyLedger) History(ctx context.Context, userID string, currency *models.Currency, page, size int) ([]models.Transaction, int64, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	q := l.DB.WithContext(ctx).Model(&models.Transaction{}).Where("user_id = ?", userID)
	if currency != nil {
		q = q.Where("currency = ?", *currency)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var txs []models.Transaction
	err := q.Order("created_at DESC, id DESC").Offset((page - 1) * size).Limit(size).Find(&txs).Error
	return txs, total, err
}

// RewardTransactions returns the earn lines already issued for one completion.
func (l *CurrencyLedger) RewardTransactions(ctx context.Context, userID string, activity models.ActivityType, reference string) ([]models.Transaction, error) {
	keys := []string{
		IdempotencyKey(userID, activity, reference, models.CurrencyPoints),
		IdempotencyKey(userID, activity, reference, models.CurrencyCredits),
	}
	var txs []models.Transaction
	err := l.DB.WithContext(ctx).Where("idempotency_key IN ?", keys).Order("currency DESC").Find(&txs).Error
	return txs, err
}

// locked runs fn against the row-locked balance and persists it with a version check.
// A lost compare-and-swap retries the whole unit.
func (l *CurrencyLedger) locked(ctx context.Context, userID string, fn func(tx *gorm.DB, bal *models.UserBalance) error) error {
	if userID == "" {
		return &ValidationError{Field: "user_id", Reason: "must not be empty"}
	}
	var err error
	for attempt := 1; attempt <= maxLedgerAttempts; attempt++ {
		err = l.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			bal, err := lockBalance(tx, userID)
			if err != nil {
				return err
			}
			version := bal.Version
			if err := fn(tx, bal); err != nil {
				return err
			}
			return saveBalance(tx, bal, version)
		})
		if !errors.Is(err, errVersionConflict) {
			return err
		}
		utils.LogWarn("🔁 [LEDGER] balance of %s changed concurrently, retrying (%d/%d)", userID, attempt, maxLedgerAttempts)
	}
	return err
}

func lockBalance(tx *gorm.DB, userID string) (*models.UserBalance, error) {
	if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&models.UserBalance{UserID: userID}).Error; err != nil {
		return nil, fmt.Errorf("ensure balance row: %w", err)
	}
	var bal models.UserBalance
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&bal).Error; err != nil {
		return nil, fmt.Errorf("lock balance: %w", err)
	}
	return &bal, nil
}

func saveBalance(tx *gorm.DB, bal *models.UserBalance, version int64) error {
	res := tx.Model(&models.UserBalance{}).
		Where("user_id = ? AND version = ?", bal.UserID, version).
		Updates(map[string]interface{}{
			"points_balance":       bal.PointsBalance,
			"credits_balance":      bal.CreditsBalance,
			"total_points_earned":  bal.TotalPointsEarned,
			"total_credits_earned": bal.TotalCreditsEarned,
			"version":              version + 1,
		})
	if res.Error != nil {
		return fmt.Errorf("save balance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return errVersionConflict
	}
	bal.Version = version + 1
	return nil
}

func (l *CurrencyLedger) append(tx *gorm.DB, t *models.Transaction) (*models.Transaction, error) {
	t.ID = uuid.NewString()
	t.CreatedAt = l.Clock.Now().UTC()
	if err := tx.Create(t).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateReward
		}
		return nil, fmt.Errorf("append transaction: %w", err)
	}
	return t, nil
}
