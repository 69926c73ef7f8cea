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

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RemoteQuizResult is one externally recorded quiz completion.
type RemoteQuizResult struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	QuizID          *string   `json:"quiz_id,omitempty"`
	CategoryID      *string   `json:"category_id,omitempty"`
	ScorePercentage int       `json:"score_percentage"`
	CompletedAt     time.Time `json:"completed_at"`
}

// QuizResultSyncClient pulls quiz results recorded by the content platform.
type QuizResultSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
	Clock      clockwork.Clock
}

func NewQuizResultSyncClient(db *gorm.DB, clock clockwork.Clock, baseURL, token string) *QuizResultSyncClient {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &QuizResultSyncClient{
		BaseURL:    baseURL,
		Token:      token,
		DB:         db,
		Clock:      clock,
		HTTPClient: utils.NewSyncHTTPClient(),
	}
}

func (c *QuizResultSyncClient) GetChangedResults(ctx context.Context, since time.Time) ([]RemoteQuizResult, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}
	u = u.JoinPath("/api/v1/public/quiz-results")
	q := u.Query()
	q.Set("since", since.UTC().Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call sync service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("sync service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		QuizResults []RemoteQuizResult `json:"quiz_results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode sync service response: %w", err)
	}
	return response.QuizResults, nil
}

// Upsert stores results keyed by (user, remote id). points_earned is owned by the ledger and never
// overwritten; malformed rows are skipped.
func (c *QuizResultSyncClient) Upsert(ctx context.Context, remote []RemoteQuizResult) (int, error) {
	rows := make([]models.QuizResult, 0, len(remote))
	for _, r := range remote {
		if r.ID == "" || r.UserID == "" || r.ScorePercentage < 0 || r.ScorePercentage > 100 {
			utils.LogWarn("⚠️ [QUIZ_SYNC] skipping malformed quiz result id=%q user=%q score=%d", r.ID, r.UserID, r.ScorePercentage)
			continue
		}
		completed := r.CompletedAt.UTC()
		if completed.IsZero() {
			completed = c.Clock.Now().UTC()
		}
		rows = append(rows, models.QuizResult{
			ID:                uuid.NewString(),
			UserID:            r.UserID,
			ActivityReference: r.ID,
			QuizID:            r.QuizID,
			CategoryID:        r.CategoryID,
			ScorePercentage:   r.ScorePercentage,
			CompletedAt:       completed,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	err := c.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "activity_reference"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"quiz_id", "category_id", "score_percentage", "completed_at", "updated_at",
		}),
	}).Create(&rows).Error
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// PollQuizResults mirrors quiz results until ctx is cancelled.
func PollQuizResults(ctx context.Context, client *QuizResultSyncClient, pollInterval time.Duration) {
	utils.LogInfo("Starting quiz result polling (DB-backed)...")
	lastSyncTime := client.Clock.Now().UTC().Add(-24 * time.Hour)

	ticker := client.Clock.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			utils.LogInfo("Quiz result polling stopped.")
			return
		case <-ticker.Chan():
			next, err := pollOnce(ctx, client, lastSyncTime)
			if err != nil {
				// Keep the window; the next tick retries it.
				utils.LogError("❌ Error polling quiz results: %v", err)
				continue
			}
			lastSyncTime = next
		}
	}
}

// pollOnce returns the cursor for the next poll: the time this poll started.
func pollOnce(ctx context.Context, client *QuizResultSyncClient, since time.Time) (time.Time, error) {
	started := client.Clock.Now().UTC()
	results, err := client.GetChangedResults(ctx, since)
	if err != nil {
		return since, err
	}
	if len(results) == 0 {
		return started, nil
	}
	n, err := client.Upsert(ctx, results)
	if err != nil {
		return since, fmt.Errorf("upsert %d quiz result(s): %w", len(results), err)
	}
	utils.LogSuccess("✅ Upserted %d quiz result(s) into quiz_results.", n)
	return started, nil
}
