package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

const (
	NotificationKindDeposit    = "deposit_confirmed"
	NotificationKindPrediction = "prediction_settled"
	NotificationKindMyst       = "myst_adjusted"
	NotificationKindProgram    = "program_decision"
)

const notificationRetention = 30 * 24 * time.Hour

type NotificationInput struct {
	UserID  string
	Kind    string
	Message string
	Payload interface{}
}

type NotificationItem struct {
	ID        int64           `json:"id"`
	Kind      string          `json:"kind"`
	Message   string          `json:"message"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	IsRead    bool            `json:"isRead"`
	CreatedAt time.Time       `json:"createdAt"`
}

func insertNotification(ctx context.Context, e execer, input NotificationInput) error {
	var payload []byte
	if input.Payload != nil {
		if encoded, err := json.Marshal(input.Payload); err == nil {
			payload = encoded
		}
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO notifications (user_id, kind, message, payload, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, input.UserID, strings.TrimSpace(input.Kind), strings.TrimSpace(input.Message), payload)
	return err
}

// emitNotifications is best effort; the triggering action has already committed.
func emitNotifications(ctx context.Context, db *sql.DB, inputs []NotificationInput) {
	for _, input := range inputs {
		if err := insertNotification(ctx, db, input); err != nil {
			log.Warn().Err(err).Str("userId", input.UserID).Str("kind", input.Kind).Msg("notification emit failed")
		}
	}
}

func fetchNotifications(ctx context.Context, db *sql.DB, userID string, limit int) ([]NotificationItem, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, kind, message, payload, is_read, created_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []NotificationItem{}
	for rows.Next() {
		var item NotificationItem
		var payload []byte
		if err := rows.Scan(&item.ID, &item.Kind, &item.Message, &payload, &item.IsRead, &item.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			item.Payload = json.RawMessage(payload)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func markNotificationsRead(ctx context.Context, db *sql.DB, userID string, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := db.ExecContext(ctx, `
		UPDATE notifications
		SET is_read = TRUE
		WHERE user_id = $1 AND id = ANY($2)
	`, userID, pq.Array(ids))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func pruneNotifications(ctx context.Context, db *sql.DB, now time.Time) {
	if _, err := db.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE is_read = TRUE AND created_at < $1
	`, now.Add(-notificationRetention)); err != nil {
		log.Warn().Err(err).Msg("notification prune failed")
	}
}

func startNotificationPruner(ctx context.Context, db *sql.DB) {
	go func() {
		ticker := time.NewTicker(6 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				pruneNotifications(ctx, db, t.UTC())
			}
		}
	}()
}
