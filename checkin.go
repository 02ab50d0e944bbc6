package main

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const (
	claimDailyCheckin = "daily_checkin"
	checkinCooldown   = 20 * time.Hour
)

// canClaim reports whether the cooldown for claimKey has elapsed, and otherwise the wait left.
func canClaim(ctx context.Context, q queryer, userID, claimKey string, cooldown time.Duration, now time.Time) (bool, time.Duration, error) {
	var lastClaim time.Time
	err := q.QueryRowContext(ctx, `
		SELECT last_claim_at
		FROM user_claims
		WHERE user_id = $1 AND claim_key = $2
	`, userID, claimKey).Scan(&lastClaim)
	if errors.Is(err, sql.ErrNoRows) {
		return true, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	next := lastClaim.Add(cooldown)
	if !now.Before(next) {
		return true, 0, nil
	}
	return false, next.Sub(now), nil
}

func recordClaim(ctx context.Context, e execer, userID, claimKey string, now time.Time) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO user_claims (user_id, claim_key, last_claim_at, claim_count)
		VALUES ($1, $2, $3, 1)
		ON CONFLICT (user_id, claim_key)
		DO UPDATE SET
			last_claim_at = EXCLUDED.last_claim_at,
			claim_count = user_claims.claim_count + 1
	`, userID, claimKey, now)
	return err
}

type CheckinResult struct {
	Granted     int64
	Points      int64
	Capped      bool
	NextAllowed time.Duration
}

var errCheckinCooldown = errors.New("check-in on cooldown")

// performCheckin serializes on the user row so two concurrent check-ins cannot both pass the cooldown.
func performCheckin(ctx context.Context, db *sql.DB, userID string, now time.Time) (CheckinResult, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return CheckinResult{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT 1 FROM akari_users WHERE id = $1 FOR UPDATE`, userID); err != nil {
		return CheckinResult{}, err
	}
	ok, wait, err := canClaim(ctx, tx, userID, claimDailyCheckin, checkinCooldown, now)
	if err != nil {
		return CheckinResult{}, err
	}
	if !ok {
		return CheckinResult{NextAllowed: wait}, errCheckinCooldown
	}

	result := CheckinResult{NextAllowed: checkinCooldown}
	granted, total, err := awardPointsTx(ctx, tx, userID, GetGlobalSettings().CheckinPoints, PointsSourceCheckin, claimDailyCheckin, now)
	switch {
	case errors.Is(err, errDailyPointsCapReached):
		result.Capped = true
	case err != nil:
		return CheckinResult{}, err
	}
	result.Granted = granted
	result.Points = total
	if result.Granted < GetGlobalSettings().CheckinPoints {
		result.Capped = true
	}

	if err := recordClaim(ctx, tx, userID, claimDailyCheckin, now); err != nil {
		return CheckinResult{}, err
	}
	return result, tx.Commit()
}
