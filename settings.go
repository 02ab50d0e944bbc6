package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

const (
	SettingMystPerUSD       = "myst_per_usd"
	SettingPredictionFeeBps = "prediction_fee_bps"
	SettingDailyPointsCap   = "daily_points_cap"
	SettingCheckinPoints    = "checkin_points"
)

type GlobalSettings struct {
	MystPerUSD       decimal.Decimal `json:"mystPerUsd"`
	PredictionFeeBps int             `json:"predictionFeeBps"`
	DailyPointsCap   int64           `json:"dailyPointsCap"`
	CheckinPoints    int64           `json:"checkinPoints"`
}

func defaultGlobalSettings() GlobalSettings {
	return GlobalSettings{
		MystPerUSD:       decimal.NewFromInt(10),
		PredictionFeeBps: 500,
		DailyPointsCap:   1000,
		CheckinPoints:    50,
	}
}

var (
	settingsMu     sync.RWMutex
	cachedSettings = defaultGlobalSettings()
)

// LoadGlobalSettings overlays persisted values on the defaults. Rows that fail to parse are skipped.
func LoadGlobalSettings(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, `
		SELECT key, value
		FROM global_settings
	`)
	if err != nil {
		return err
	}
	defer rows.Close()

	settingsMu.Lock()
	defer settingsMu.Unlock()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			continue
		}
		_ = applySetting(&cachedSettings, key, value)
	}
	return rows.Err()
}

func GetGlobalSettings() GlobalSettings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return cachedSettings
}

// UpdateGlobalSettings validates every update before persisting any of them. The audit
// row commits with the settings.
func UpdateGlobalSettings(ctx context.Context, db *sql.DB, actor string, updates map[string]string) (GlobalSettings, error) {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	next := cachedSettings
	for key, value := range updates {
		if err := applySetting(&next, key, value); err != nil {
			return cachedSettings, err
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return cachedSettings, err
	}
	defer tx.Rollback()
	for key, value := range updates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO global_settings (key, value, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
		`, strings.ToLower(strings.TrimSpace(key)), strings.TrimSpace(value)); err != nil {
			return cachedSettings, err
		}
	}
	if err := recordAdminAudit(ctx, tx, actor, "settings_update", "global_settings", "", updates); err != nil {
		return cachedSettings, err
	}
	if err := tx.Commit(); err != nil {
		return cachedSettings, err
	}
	cachedSettings = next
	return cachedSettings, nil
}

type settingError struct {
	key    string
	reason string
}

func (e *settingError) Error() string {
	return fmt.Sprintf("invalid setting %s: %s", e.key, e.reason)
}

func applySetting(target *GlobalSettings, key, value string) error {
	key = strings.ToLower(strings.TrimSpace(key))
	value = strings.TrimSpace(value)
	switch key {
	case SettingMystPerUSD:
		v, err := decimal.NewFromString(value)
		if err != nil || !v.IsPositive() {
			return &settingError{key, "must be a positive number"}
		}
		target.MystPerUSD = v
	case SettingPredictionFeeBps:
		v, err := strconv.Atoi(value)
		if err != nil || v < 0 || v > 10000 {
			return &settingError{key, "must be between 0 and 10000"}
		}
		target.PredictionFeeBps = v
	case SettingDailyPointsCap:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil || v < 0 {
			return &settingError{key, "must be zero or more"}
		}
		target.DailyPointsCap = v
	case SettingCheckinPoints:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil || v < 0 {
			return &settingError{key, "must be zero or more"}
		}
		target.CheckinPoints = v
	default:
		return &settingError{key, "unknown key"}
	}
	return nil
}
