package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"wildlife-rewards/models"
	"wildlife-rewards/utils"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Setting keys read by the rewards flow.
const (
	SettingRewardsEnabled    = "rewards_system_enabled"
	SettingPureScoringMode   = "pure_scoring_mode"
	SettingDailyPointsLimit  = "daily_points_limit"
	SettingDailyCreditsLimit = "daily_credits_limit"

	SettingMaxQuizAttempts       = "max_quiz_attempts_per_day"
	SettingMaxMythsFactsAttempts = "max_myths_facts_games_per_day"

	mythsFactsBlob = "mythsVsFacts_config"
)

// blobField points at a value nested in a JSON-typed setting.
type blobField struct {
	key  string
	path []string
}

// Keys that fall back to a field of a category JSON blob when no explicit row exists.
var settingFallbacks = map[string]blobField{
	"myths_facts_daily_points_limit":  {mythsFactsBlob, []string{"dailyLimits", "maxPointsPerDay"}},
	"myths_facts_daily_credits_limit": {mythsFactsBlob, []string{"dailyLimits", "maxCreditsPerDay"}},
	SettingMaxMythsFactsAttempts:      {mythsFactsBlob, []string{"dailyLimits", "maxGamesPerDay"}},
	"myths_facts_time_bonus_pct":      {mythsFactsBlob, []string{"gameParameters", "timeBonusPercentage"}},
	"myths_facts_perfect_bonus_pct":   {mythsFactsBlob, []string{"gameParameters", "perfectScoreBonusPercentage"}},
}

// SettingsSnapshot is an immutable view of site_settings taken at one point in time.
// A nil snapshot answers every lookup with the caller's default.
type SettingsSnapshot struct {
	values   map[string]models.SiteSetting
	blobs    map[string]map[string]any
	loadedAt time.Time
}

// NewSettingsSnapshot builds a snapshot from raw rows.
func NewSettingsSnapshot(rows []models.SiteSetting, at time.Time) *SettingsSnapshot {
	s := &SettingsSnapshot{
		values:   make(map[string]models.SiteSetting, len(rows)),
		blobs:    map[string]map[string]any{},
		loadedAt: at,
	}
	for _, row := range rows {
		s.values[row.Key] = row
		if row.DataType != "json" {
			continue
		}
		var blob map[string]any
		if err := json.Unmarshal([]byte(row.Value), &blob); err != nil {
			utils.LogWarn("⚠️ [SETTINGS] %s holds malformed JSON, ignoring: %v", row.Key, err)
			continue
		}
		s.blobs[row.Key] = blob
	}
	return s
}

func (s *SettingsSnapshot) LoadedAt() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.loadedAt
}

// lookup returns the raw value for key: explicit row first, then the JSON-blob fallback.
func (s *SettingsSnapshot) lookup(key string) (any, bool) {
	if s == nil {
		return nil, false
	}
	if row, ok := s.values[key]; ok {
		return row.Value, true
	}
	fb, ok := settingFallbacks[key]
	if !ok {
		return nil, false
	}
	var cur any = s.blobs[fb.key]
	for _, part := range fb.path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, cur != nil
}

func (s *SettingsSnapshot) Int(key string, def int64) int64 {
	raw, ok := s.lookup(key)
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case float64:
		return int64(v)
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err == nil {
			return n
		}
	}
	utils.LogWarn("⚠️ [SETTINGS] %s=%v is not an int, using default %d", key, raw, def)
	return def
}

func (s *SettingsSnapshot) Float(key string, def float64) float64 {
	raw, ok := s.lookup(key)
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err == nil {
			return f
		}
	}
	utils.LogWarn("⚠️ [SETTINGS] %s=%v is not a number, using default %v", key, raw, def)
	return def
}

func (s *SettingsSnapshot) Bool(key string, def bool) bool {
	raw, ok := s.lookup(key)
	if !ok {
		return def
	}
	switch v := raw.(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err == nil {
			return b
		}
	}
	utils.LogWarn("⚠️ [SETTINGS] %s=%v is not a bool, using default %t", key, raw, def)
	return def
}

func (s *SettingsSnapshot) String(key, def string) string {
	raw, ok := s.lookup(key)
	if !ok {
		return def
	}
	if v, ok := raw.(string); ok {
		return v
	}
	return fmt.Sprint(raw)
}

// JSON decodes a JSON-typed setting into out. It reports false (leaving out untouched) on any failure.
func (s *SettingsSnapshot) JSON(key string, out any) bool {
	raw, ok := s.lookup(key)
	if !ok {
		return false
	}
	var data []byte
	if str, isStr := raw.(string); isStr {
		data = []byte(str)
	} else {
		var err error
		if data, err = json.Marshal(raw); err != nil {
			return false
		}
	}
	if err := json.Unmarshal(data, out); err != nil {
		utils.LogWarn("⚠️ [SETTINGS] %s is not valid JSON for %T: %v", key, out, err)
		return false
	}
	return true
}

// SettingsResolver hands out TTL-bounded snapshots of the site_settings table.
// Load failures never surface: the previous snapshot (or an empty one) is served instead.
type SettingsResolver struct {
	DB    *gorm.DB
	Clock clockwork.Clock
	TTL   time.Duration

	mu      sync.RWMutex
	current *SettingsSnapshot
	loads   singleflight.Group
}

func NewSettingsResolver(db *gorm.DB, clock clockwork.Clock, ttl time.Duration) *SettingsResolver {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SettingsResolver{DB: db, Clock: clock, TTL: ttl}
}

// Snapshot returns the current snapshot, reloading it when older than TTL.
func (r *SettingsResolver) Snapshot(ctx context.Context) *SettingsSnapshot {
	r.mu.RLock()
	cur := r.current
	r.mu.RUnlock()
	if cur != nil && r.Clock.Since(cur.loadedAt) < r.TTL {
		return cur
	}

	v, _, _ := r.loads.Do("settings", func() (interface{}, error) {
		var rows []models.SiteSetting
		if err := r.DB.WithContext(ctx).Find(&rows).Error; err != nil {
			utils.LogWarn("⚠️ [SETTINGS] reload failed, serving previous values: %v", err)
			if cur != nil {
				return cur, nil
			}
			return NewSettingsSnapshot(nil, r.Clock.Now()), nil
		}
		snap := NewSettingsSnapshot(rows, r.Clock.Now())
		r.mu.Lock()
		r.current = snap
		r.mu.Unlock()
		return snap, nil
	})
	return v.(*SettingsSnapshot)
}

// Invalidate forces the next Snapshot call to reload.
func (r *SettingsResolver) Invalidate() {
	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()
}

var settingTypes = map[string]bool{"int": true, "float": true, "bool": true, "str": true, "json": true}

// Update is the admin write path: validates value against dataType, upserts, invalidates.
func (r *SettingsResolver) Update(ctx context.Context, setting models.SiteSetting) (*models.SiteSetting, error) {
	setting.Key = strings.TrimSpace(setting.Key)
	if setting.Key == "" {
		return nil, &ValidationError{Field: "key", Reason: "must not be empty"}
	}
	if setting.DataType == "" {
		setting.DataType = "str"
	}
	if !settingTypes[setting.DataType] {
		return nil, &ValidationError{Field: "data_type", Reason: "must be one of int, float, bool, str, json"}
	}
	if err := validateSettingValue(setting.DataType, setting.Value); err != nil {
		return nil, &ValidationError{Field: "value", Reason: err.Error()}
	}
	if setting.Category == "" {
		setting.Category = "general"
	}

	if err := r.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "data_type", "category", "description", "updated_at"}),
	}).Create(&setting).Error; err != nil {
		return nil, fmt.Errorf("save setting %s: %w", setting.Key, err)
	}
	r.Invalidate()
	utils.LogSuccess("✅ [SETTINGS] %s updated (%s)", setting.Key, setting.DataType)
	return &setting, nil
}

func validateSettingValue(dataType, value string) error {
	var err error
	switch dataType {
	case "int":
		_, err = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	case "float":
		_, err = strconv.ParseFloat(strings.TrimSpace(value), 64)
	case "bool":
		_, err = strconv.ParseBool(strings.TrimSpace(value))
	case "json":
		if !json.Valid([]byte(value)) {
			err = fmt.Errorf("invalid JSON")
		}
	}
	if err != nil {
		return fmt.Errorf("not a valid %s", dataType)
	}
	return nil
}
