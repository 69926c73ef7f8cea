// workers/user_sync_worker.go
package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"wildlife-rewards/models"
	"wildlife-rewards/utils"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GetUserChangesResponse is the top-level structure of the sync service response.
type GetUserChangesResponse struct {
	Users []models.RemoteUser `json:"users"`
}

// UserSyncWorker mirrors identity-service accounts into user_accounts so the ledger can
// refuse rewards for deactivated users.
type UserSyncWorker struct {
	db           *gorm.DB
	clock        clockwork.Clock
	interval     time.Duration
	baseURL      string // e.g., "http://localhost:8500"
	endpointPath string // e.g., "/api/v1/public/profiles"
	serviceToken string
	httpClient   *http.Client

	cursor time.Time
}

func NewUserSyncWorker(db *gorm.DB, clock clockwork.Clock, syncServiceBaseURL, endpointPath, serviceToken string, interval time.Duration) *UserSyncWorker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &UserSyncWorker{
		db:           db,
		clock:        clock,
		interval:     interval,
		baseURL:      syncServiceBaseURL,
		endpointPath: endpointPath,
		serviceToken: serviceToken,
		httpClient:   utils.NewSyncHTTPClient(),
	}
}

func (w *UserSyncWorker) Start(ctx context.Context) {
	utils.LogInfo("🔁 Starting User Sync Worker (sync-service → user_accounts)…")
	go w.run(ctx)
}

func (w *UserSyncWorker) run(ctx context.Context) {
	// Initial sync backfills from the beginning of time.
	if _, err := w.SyncOnce(ctx); err != nil {
		utils.LogWarn("⚠️ [SYNC] initial user sync failed: %v", err)
	}

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if _, err := w.SyncOnce(ctx); err != nil {
				utils.LogError("❌ [SYNC] user sync batch failed: %v", err)
			}
		case <-ctx.Done():
			utils.LogInfo("⏹️ User Sync Worker stopped")
			return
		}
	}
}

// SyncOnce pulls changes since the last seen updated_at and upserts them. The cursor only
// advances when the whole batch was stored.
func (w *UserSyncWorker) SyncOnce(ctx context.Context) (int, error) {
	users, err := w.fetch(ctx, w.cursor)
	if err != nil {
		return 0, err
	}
	if len(users) == 0 {
		utils.LogDebug("[SYNC] ✅ No user changes received since %s", w.cursor.UTC().Format(time.RFC3339))
		return 0, nil
	}

	var upserted, failed int
	latest := w.cursor
	for _, remote := range users {
		if remote.ExternalID == "" {
			failed++
			continue
		}
		acct := models.UserAccount{
			ID:       remote.ExternalID,
			Username: remote.Username,
			IsActive: remote.AccountStatus == "active",
			Timestamps: models.Timestamps{
				CreatedAt: remote.CreatedAt,
				UpdatedAt: remote.UpdatedAt,
			},
		}
		err := w.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "is_active", "updated_at"}),
		}).Create(&acct).Error
		if err != nil {
			failed++
			utils.LogWarn("[SYNC] ⚠️ Failed to upsert user_account (external_id=%q): %v", remote.ExternalID, err)
			continue
		}
		upserted++
		if remote.UpdatedAt.After(latest) {
			latest = remote.UpdatedAt
		}
	}

	if failed == 0 {
		w.cursor = latest
	}
	utils.LogSuccess("[SYNC] ✅ Synced %d users (%d upserted, %d errors)", len(users), upserted, failed)
	return upserted, nil
}

func (w *UserSyncWorker) fetch(ctx context.Context, since time.Time) ([]models.RemoteUser, error) {
	base, err := url.Parse(w.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base sync service URL '%s': %w", w.baseURL, err)
	}
	endpointURL := base.JoinPath(w.endpointPath)
	q := endpointURL.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	endpointURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpointURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", w.serviceToken)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request to sync service failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service non-200 response: %d: %s", resp.StatusCode, string(body))
	}

	var response GetUserChangesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return response.Users, nil
}
