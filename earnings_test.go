package main

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCappedGrant(t *testing.T) {
	assert.Equal(t, int64(50), cappedGrant(50, 0, 1000))
	assert.Equal(t, int64(30), cappedGrant(50, 970, 1000))
	assert.Equal(t, int64(0), cappedGrant(50, 1000, 1000))
	assert.Equal(t, int64(0), cappedGrant(50, 1200, 1000))
	assert.Equal(t, int64(50), cappedGrant(50, 5000, 0))
	assert.Equal(t, int64(0), cappedGrant(-5, 0, 1000))
}

func TestUTCDay(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*3600)
	local := time.Date(2026, 1, 2, 3, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), utcDay(local))
}

func pointsRow(points, daily int64, lastReset time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"points", "daily_points_total", "last_points_reset_at"}).AddRow(points, daily, lastReset)
}

func TestAwardPointsCapsAtDailyLimit(t *testing.T) {
	withSettings(t, GlobalSettings{DailyPointsCap: 100, CheckinPoints: 50})
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 4, 10, 15, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM akari_users").WithArgs("u-1").WillReturnRows(pointsRow(400, 80, now.Add(-time.Hour)))
	mock.ExpectExec("UPDATE akari_users").WithArgs("u-1", int64(20), int64(100), now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO points_ledger").WithArgs("u-1", int64(20), PointsSourceTask, "task-1", now).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	granted, total, err := awardPoints(context.Background(), db, "u-1", 50, PointsSourceTask, "task-1", now)
	require.NoError(t, err)
	assert.Equal(t, int64(20), granted)
	assert.Equal(t, int64(420), total)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAwardPointsResetsOnNewDay(t *testing.T) {
	withSettings(t, GlobalSettings{DailyPointsCap: 100})
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 4, 10, 0, 5, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM akari_users").WillReturnRows(pointsRow(400, 100, now.Add(-10*time.Minute)))
	mock.ExpectExec("UPDATE akari_users").WithArgs("u-1", int64(50), int64(50), now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO points_ledger").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	granted, _, err := awardPoints(context.Background(), db, "u-1", 50, PointsSourceCheckin, "", now)
	require.NoError(t, err)
	assert.Equal(t, int64(50), granted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAwardPointsCapReached(t *testing.T) {
	withSettings(t, GlobalSettings{DailyPointsCap: 100})
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM akari_users").WillReturnRows(pointsRow(400, 100, now))
	mock.ExpectRollback()

	_, _, err = awardPoints(context.Background(), db, "u-1", 50, PointsSourceTask, "t", now)
	assert.ErrorIs(t, err, errDailyPointsCapReached)
	assert.NoError(t, mock.ExpectationsWereMet())
}
