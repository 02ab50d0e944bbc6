package main

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withSettings(t *testing.T, s GlobalSettings) {
	t.Helper()
	settingsMu.Lock()
	previous := cachedSettings
	cachedSettings = s
	settingsMu.Unlock()
	t.Cleanup(func() {
		settingsMu.Lock()
		cachedSettings = previous
		settingsMu.Unlock()
	})
}

func TestLoadGlobalSettingsOverlaysDefaults(t *testing.T) {
	withSettings(t, defaultGlobalSettings())
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("FROM global_settings").WillReturnRows(sqlmock.NewRows([]string{"key", "value"}).
		AddRow("daily_points_cap", "250").
		AddRow("prediction_fee_bps", "not-a-number").
		AddRow("myst_per_usd", "12.5"))

	require.NoError(t, LoadGlobalSettings(context.Background(), db))
	s := GetGlobalSettings()
	assert.Equal(t, int64(250), s.DailyPointsCap)
	assert.Equal(t, 500, s.PredictionFeeBps)
	assert.True(t, s.MystPerUSD.Equal(dec("12.5")))
	assert.Equal(t, int64(50), s.CheckinPoints)
}

func TestUpdateGlobalSettingsValidatesBeforeWriting(t *testing.T) {
	withSettings(t, defaultGlobalSettings())
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = UpdateGlobalSettings(context.Background(), db, "admin-token", map[string]string{
		"checkin_points":     "80",
		"prediction_fee_bps": "10001",
	})
	var settingErr *settingError
	require.True(t, errors.As(err, &settingErr))
	assert.Equal(t, "prediction_fee_bps", settingErr.key)
	assert.Equal(t, int64(50), GetGlobalSettings().CheckinPoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateGlobalSettingsPersists(t *testing.T) {
	withSettings(t, defaultGlobalSettings())
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO global_settings").WithArgs("checkin_points", "80").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO admin_audit_log").WithArgs("admin-token", "settings_update", "global_settings", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	s, err := UpdateGlobalSettings(context.Background(), db, "admin-token", map[string]string{" Checkin_Points ": " 80 "})
	require.NoError(t, err)
	assert.Equal(t, int64(80), s.CheckinPoints)
	assert.Equal(t, int64(80), GetGlobalSettings().CheckinPoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateGlobalSettingsKeepsCacheOnWriteFailure(t *testing.T) {
	withSettings(t, defaultGlobalSettings())
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO global_settings").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err = UpdateGlobalSettings(context.Background(), db, "admin-token", map[string]string{"daily_points_cap": "0"})
	assert.Error(t, err)
	assert.Equal(t, int64(1000), GetGlobalSettings().DailyPointsCap)
}

func TestUpdateGlobalSettingsRollsBackWhenAuditFails(t *testing.T) {
	withSettings(t, defaultGlobalSettings())
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO global_settings").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO admin_audit_log").WillReturnError(errors.New("audit table missing"))
	mock.ExpectRollback()

	_, err = UpdateGlobalSettings(context.Background(), db, "admin-token", map[string]string{"checkin_points": "80"})
	assert.Error(t, err)
	assert.Equal(t, int64(50), GetGlobalSettings().CheckinPoints)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplySettingRejectsUnknownKey(t *testing.T) {
	s := defaultGlobalSettings()
	assert.Error(t, applySetting(&s, "drip_enabled", "true"))
	assert.Error(t, applySetting(&s, "myst_per_usd", "0"))
	assert.NoError(t, applySetting(&s, "daily_points_cap", "0"))
}
