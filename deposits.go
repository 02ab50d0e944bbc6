package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	DepositStatusPending   = "pending"
	DepositStatusConfirmed = "confirmed"
)

var (
	errDepositNotFound   = errors.New("deposit not found")
	errDepositNotPending = errors.New("deposit is not pending")
)

var maxDepositUSD = decimal.NewFromInt(1_000_000)

type CreateDepositRequest struct {
	TxHash    string          `json:"txHash"`
	AmountUSD decimal.Decimal `json:"amountUsd"`
}

type ConfirmedDeposit struct {
	ID           string
	UserID       string
	AmountUSD    decimal.Decimal
	MystCredited decimal.Decimal
	Balance      decimal.Decimal
}

// mystForDeposit converts a USD amount at the given rate, rounded to MYST precision.
func mystForDeposit(amountUSD, mystPerUSD decimal.Decimal) decimal.Decimal {
	return amountUSD.Mul(mystPerUSD).Round(mystScale)
}

func miniAppCreateDepositHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireFeature(w, cfg.Features().Deposits, "Deposits") {
			return
		}
		user, ok := requireMiniAppUser(db, cfg, w, r)
		if !ok {
			return
		}
		var req CreateDepositRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}
		req.TxHash = strings.TrimSpace(req.TxHash)
		if !isValidTxHash(req.TxHash) {
			writeError(w, http.StatusBadRequest, "Invalid txHash")
			return
		}
		if !req.AmountUSD.IsPositive() || req.AmountUSD.GreaterThan(maxDepositUSD) {
			writeError(w, http.StatusBadRequest, "amountUsd must be positive")
			return
		}
		if req.AmountUSD.Exponent() < -2 {
			writeError(w, http.StatusBadRequest, "amountUsd supports at most 2 decimals")
			return
		}

		id := uuid.NewString()
		var createdID string
		err := db.QueryRowContext(r.Context(), `
			INSERT INTO deposits (id, user_id, tx_hash, amount_usd, status, created_at)
			VALUES ($1, $2, $3, $4, 'pending', NOW())
			ON CONFLICT (tx_hash) DO NOTHING
			RETURNING id
		`, id, user.ID, req.TxHash, req.AmountUSD).Scan(&createdID)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusBadRequest, "Deposit already submitted")
			return
		}
		if err != nil {
			writeInternalError(w, err, "deposit insert failed")
			return
		}
		log.Info().Str("depositId", createdID).Str("userId", user.ID).Str("amountUsd", req.AmountUSD.String()).Msg("deposit submitted")
		writeOK(w, payload{"id": createdID, "status": DepositStatusPending})
	}
}

func confirmDeposit(ctx context.Context, db *sql.DB, depositID string, rate decimal.Decimal) (ConfirmedDeposit, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ConfirmedDeposit{}, err
	}
	defer tx.Rollback()

	dep := ConfirmedDeposit{ID: depositID}
	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT user_id, amount_usd, status
		FROM deposits
		WHERE id = $1
		FOR UPDATE
	`, depositID).Scan(&dep.UserID, &dep.AmountUSD, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return dep, errDepositNotFound
	}
	if err != nil {
		return dep, err
	}
	if status != DepositStatusPending {
		return dep, errDepositNotPending
	}

	dep.MystCredited = mystForDeposit(dep.AmountUSD, rate)
	entry, err := adjustMystTx(ctx, tx, dep.UserID, dep.MystCredited, MystKindDeposit, depositID)
	if err != nil {
		return dep, err
	}
	dep.Balance = entry.BalanceAfter

	if _, err := tx.ExecContext(ctx, `
		UPDATE deposits
		SET status = 'confirmed', myst_credited = $2, confirmed_at = NOW()
		WHERE id = $1
	`, depositID, dep.MystCredited); err != nil {
		return dep, err
	}
	if err := recordAdminAudit(ctx, tx, "admin-token", "deposit_confirm", "deposit", depositID, map[string]string{
		"amountUsd":    dep.AmountUSD.String(),
		"mystCredited": dep.MystCredited.String(),
		"rate":         rate.String(),
	}); err != nil {
		return dep, err
	}
	return dep, tx.Commit()
}

func adminConfirmDepositHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireAdminToken(cfg, w, r) {
			return
		}
		depositID := chi.URLParam(r, "id")
		if !isValidUUID(depositID) {
			writeError(w, http.StatusBadRequest, "Invalid deposit id")
			return
		}
		dep, err := confirmDeposit(r.Context(), db, depositID, GetGlobalSettings().MystPerUSD)
		switch {
		case errors.Is(err, errDepositNotFound):
			writeError(w, http.StatusNotFound, "Deposit not found")
			return
		case errors.Is(err, errDepositNotPending):
			writeError(w, http.StatusBadRequest, "Deposit is not pending")
			return
		case err != nil:
			writeInternalError(w, err, "deposit confirm failed")
			return
		}
		emitNotifications(r.Context(), db, []NotificationInput{{
			UserID:  dep.UserID,
			Kind:    NotificationKindDeposit,
			Message: "Deposit confirmed: " + dep.MystCredited.String() + " MYST credited",
			Payload: map[string]string{"depositId": dep.ID, "mystCredited": dep.MystCredited.String()},
		}})
		writeOK(w, payload{"id": dep.ID, "mystCredited": dep.MystCredited, "balance": dep.Balance})
	}
}
