package main

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var errDailyPointsCapReached = errors.New("daily points cap reached")

const (
	PointsSourceCheckin = "checkin"
	PointsSourceTask    = "campaign_task"
)

func utcDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// cappedGrant returns how much of amount fits under the daily cap given what was
// already earned today. A cap of zero or less disables the cap.
func cappedGrant(amount, earnedToday, dailyCap int64) int64 {
	if amount <= 0 {
		return 0
	}
	if dailyCap <= 0 {
		return amount
	}
	remaining := dailyCap - earnedToday
	if remaining <= 0 {
		return 0
	}
	if amount > remaining {
		return remaining
	}
	return amount
}

// awardPoints grants aXP under the per-user daily cap and writes the ledger row.
func awardPoints(ctx context.Context, db *sql.DB, userID string, amount int64, source, ref string, now time.Time) (int64, int64, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	granted, total, err := awardPointsTx(ctx, tx, userID, amount, source, ref, now)
	if err != nil {
		return 0, 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, 0, err
	}
	return granted, total, nil
}

// awardPointsTx returns the granted amount and the user's new point total.
func awardPointsTx(ctx context.Context, tx *sql.Tx, userID string, amount int64, source, ref string, now time.Time) (int64, int64, error) {
	var points, dailyTotal int64
	var lastReset time.Time
	if err := tx.QueryRowContext(ctx, `
		SELECT points, daily_points_total, last_points_reset_at
		FROM akari_users
		WHERE id = $1
		FOR UPDATE
	`, userID).Scan(&points, &dailyTotal, &lastReset); err != nil {
		return 0, 0, err
	}
	if amount <= 0 {
		return 0, points, nil
	}

	if !utcDay(lastReset).Equal(utcDay(now)) {
		dailyTotal = 0
	}
	granted := cappedGrant(amount, dailyTotal, GetGlobalSettings().DailyPointsCap)
	if granted == 0 {
		return 0, points, errDailyPointsCapReached
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE akari_users
		SET points = points + $2,
			daily_points_total = $3,
			last_points_reset_at = $4
		WHERE id = $1
	`, userID, granted, dailyTotal+granted, now); err != nil {
		return 0, 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO points_ledger (user_id, amount, source, ref, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, userID, granted, source, ref, now); err != nil {
		return 0, 0, err
	}
	return granted, points + granted, nil
}
