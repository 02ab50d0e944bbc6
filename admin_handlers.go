package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/shopspring/decimal"
)

type AdminSettingsResponse struct {
	OK       bool           `json:"ok"`
	Error    string         `json:"error,omitempty"`
	Settings GlobalSettings `json:"settings"`
	Features FeatureFlags   `json:"features"`
}

type AdminMystAdjustRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type AuditLogEntry struct {
	ID         int64           `json:"id"`
	Actor      string          `json:"actor"`
	ActionType string          `json:"actionType"`
	ScopeType  string          `json:"scopeType"`
	ScopeID    string          `json:"scopeId,omitempty"`
	Details    json.RawMessage `json:"details,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
}

func recordAdminAudit(ctx context.Context, e execer, actor, actionType, scopeType, scopeID string, details interface{}) error {
	var encoded []byte
	if details != nil {
		raw, err := json.Marshal(details)
		if err != nil {
			return err
		}
		encoded = raw
	}
	_, err := e.ExecContext(ctx, `
		INSERT INTO admin_audit_log (actor, action_type, scope_type, scope_id, details, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, NOW())
	`, actor, actionType, scopeType, scopeID, encoded)
	return err
}

func adminSettingsHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireAdminToken(cfg, w, r) {
			return
		}

		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, AdminSettingsResponse{OK: true, Settings: GetGlobalSettings(), Features: cfg.Features()})
		case http.MethodPost:
			var updates map[string]string
			if err := decodeJSON(r, &updates); err != nil || len(updates) == 0 {
				writeError(w, http.StatusBadRequest, "Expected a JSON object of setting keys to string values")
				return
			}
			settings, err := UpdateGlobalSettings(r.Context(), db, "admin-token", updates)
			var invalid *settingError
			if errors.As(err, &invalid) {
				writeError(w, http.StatusBadRequest, invalid.Error())
				return
			}
			if err != nil {
				writeInternalError(w, err, "settings update failed")
				return
			}
			writeJSON(w, http.StatusOK, AdminSettingsResponse{OK: true, Settings: settings, Features: cfg.Features()})
		default:
			methodNotAllowed(w, r)
		}
	}
}

func adminAdjustMystHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireAdminToken(cfg, w, r) {
			return
		}
		userID := chi.URLParam(r, "id")
		if !isValidUUID(userID) {
			writeError(w, http.StatusBadRequest, "Invalid user id")
			return
		}
		var req AdminMystAdjustRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}
		req.Reason = strings.TrimSpace(req.Reason)
		if req.Amount.IsZero() {
			writeError(w, http.StatusBadRequest, "amount must be non-zero")
			return
		}
		if req.Reason == "" {
			writeError(w, http.StatusBadRequest, "reason is required")
			return
		}

		ctx := r.Context()
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			writeInternalError(w, err, "myst adjust failed")
			return
		}
		defer tx.Rollback()

		entry, err := adjustMystTx(ctx, tx, userID, req.Amount, MystKindAdminAdjust, req.Reason)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			writeError(w, http.StatusNotFound, "User not found")
			return
		case errors.Is(err, errInsufficientMyst):
			writeError(w, http.StatusBadRequest, "Adjustment would make the balance negative")
			return
		case err != nil:
			writeInternalError(w, err, "myst adjust failed")
			return
		}
		if err := recordAdminAudit(ctx, tx, "admin-token", "myst_adjust", "user", userID, map[string]interface{}{
			"amount": entry.Amount.String(),
			"reason": req.Reason,
		}); err != nil {
			writeInternalError(w, err, "myst adjust audit failed")
			return
		}
		if err := tx.Commit(); err != nil {
			writeInternalError(w, err, "myst adjust commit failed")
			return
		}
		emitNotifications(ctx, db, []NotificationInput{{
			UserID:  userID,
			Kind:    NotificationKindMyst,
			Message: "Your MYST balance was adjusted by " + entry.Amount.String(),
			Payload: map[string]string{"amount": entry.Amount.String(), "reason": req.Reason},
		}})
		writeOK(w, payload{"balance": entry.BalanceAfter, "amount": entry.Amount})
	}
}

func adminAuditLogHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireAdminToken(cfg, w, r) {
			return
		}
		limit := parsePositiveInt(r.URL.Query().Get("limit"), 100)
		if limit > 500 {
			limit = 500
		}
		rows, err := db.QueryContext(r.Context(), `
			SELECT id, actor, action_type, scope_type, COALESCE(scope_id, ''), details, created_at
			FROM admin_audit_log
			ORDER BY id DESC
			LIMIT $1
		`, limit)
		if err != nil {
			writeInternalError(w, err, "audit log query failed")
			return
		}
		defer rows.Close()

		entries := []AuditLogEntry{}
		for rows.Next() {
			var entry AuditLogEntry
			var details []byte
			if err := rows.Scan(&entry.ID, &entry.Actor, &entry.ActionType, &entry.ScopeType, &entry.ScopeID, &details, &entry.CreatedAt); err != nil {
				writeInternalError(w, err, "audit log scan failed")
				return
			}
			if len(details) > 0 {
				entry.Details = json.RawMessage(details)
			}
			entries = append(entries, entry)
		}
		if err := rows.Err(); err != nil {
			writeInternalError(w, err, "audit log rows failed")
			return
		}
		writeOK(w, payload{"entries": entries})
	}
}
