package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is a Mini App user keyed by Telegram id.
type User struct {
	ID          string          `json:"id"`
	TelegramID  int64           `json:"telegramId"`
	Username    string          `json:"username,omitempty"`
	FirstName   string          `json:"firstName,omitempty"`
	LastName    string          `json:"lastName,omitempty"`
	PhotoURL    string          `json:"photoUrl,omitempty"`
	XUsername   string          `json:"xUsername,omitempty"`
	Points      int64           `json:"points"`
	MystBalance decimal.Decimal `json:"mystBalance"`
	CreatedAt   time.Time       `json:"createdAt"`
}

const userColumns = `
	id,
	COALESCE(telegram_id, 0),
	COALESCE(username, ''),
	COALESCE(first_name, ''),
	COALESCE(last_name, ''),
	COALESCE(photo_url, ''),
	COALESCE(x_username, ''),
	points,
	myst_balance,
	created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*User, error) {
	var u User
	if err := row.Scan(
		&u.ID,
		&u.TelegramID,
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.PhotoURL,
		&u.XUsername,
		&u.Points,
		&u.MystBalance,
		&u.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &u, nil
}

func upsertTelegramUser(ctx context.Context, db *sql.DB, retries int, tg TelegramUser) (*User, error) {
	return withDBRetry(ctx, retries, func() (*User, error) {
		row := db.QueryRowContext(ctx, `
			INSERT INTO akari_users (
				id,
				telegram_id,
				username,
				first_name,
				last_name,
				photo_url,
				created_at,
				last_seen_at
			)
			VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NOW(), NOW())
			ON CONFLICT (telegram_id) DO UPDATE SET
				username = EXCLUDED.username,
				first_name = EXCLUDED.first_name,
				last_name = EXCLUDED.last_name,
				photo_url = EXCLUDED.photo_url,
				last_seen_at = NOW()
			RETURNING `+userColumns,
			uuid.NewString(),
			tg.ID,
			trimTo(tg.Username, 64),
			trimTo(tg.FirstName, 128),
			trimTo(tg.LastName, 128),
			trimTo(tg.PhotoURL, 512),
		)
		return scanUser(row)
	})
}

// loadUserByTelegramID returns nil without error when the user has not authenticated yet.
func loadUserByTelegramID(ctx context.Context, db *sql.DB, telegramID int64) (*User, error) {
	user, err := scanUser(db.QueryRowContext(ctx, `
		SELECT `+userColumns+`
		FROM akari_users
		WHERE telegram_id = $1
	`, telegramID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return user, err
}

func userAllTimeRank(ctx context.Context, db *sql.DB, user *User) (int64, error) {
	var rank int64
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) + 1
		FROM akari_users
		WHERE telegram_id IS NOT NULL
			AND (points > $1 OR (points = $1 AND (created_at < $2 OR (created_at = $2 AND id < $3))))
	`, user.Points, user.CreatedAt, user.ID).Scan(&rank)
	return rank, err
}
