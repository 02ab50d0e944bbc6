package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"strings"
	"time"
)

const (
	miniAppAuthAction     = "miniapp_auth"
	miniAppAuthLimit      = 30
	miniAppAuthRateWindow = 10 * time.Minute
)

// checkAuthRateLimit counts attempts per ip and action in a fixed window.
// It reports whether the attempt is allowed and, if not, how long until the window resets.
func checkAuthRateLimit(ctx context.Context, db *sql.DB, ip, action string, limit int, window time.Duration, now time.Time) (bool, int, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" || limit <= 0 || window <= 0 {
		return true, 0, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	var windowStart time.Time
	var attempts int
	err = tx.QueryRowContext(ctx, `
		SELECT window_start, attempt_count
		FROM auth_rate_limits
		WHERE ip = $1 AND action = $2
		FOR UPDATE
	`, ip, action).Scan(&windowStart, &attempts)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx, `
			INSERT INTO auth_rate_limits (ip, action, window_start, attempt_count, updated_at)
			VALUES ($1, $2, $3, 1, $3)
			ON CONFLICT (ip, action) DO UPDATE
			SET attempt_count = auth_rate_limits.attempt_count + 1, updated_at = $3
		`, ip, action, now)
		if err != nil {
			return false, 0, err
		}
		return true, 0, tx.Commit()
	case err != nil:
		return false, 0, err
	}

	elapsed := now.Sub(windowStart)
	if elapsed >= window {
		if _, err := tx.ExecContext(ctx, `
			UPDATE auth_rate_limits
			SET window_start = $3, attempt_count = 1, updated_at = $3
			WHERE ip = $1 AND action = $2
		`, ip, action, now); err != nil {
			return false, 0, err
		}
		return true, 0, tx.Commit()
	}

	if attempts >= limit {
		retryAfter := int((window - elapsed).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return false, retryAfter, tx.Commit()
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE auth_rate_limits
		SET attempt_count = attempt_count + 1, updated_at = $3
		WHERE ip = $1 AND action = $2
	`, ip, action, now); err != nil {
		return false, 0, err
	}
	return true, 0, tx.Commit()
}

// clientIP relies on chi's RealIP middleware having rewritten RemoteAddr.
func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
