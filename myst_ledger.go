package main

import (
	"context"
	"database/sql"
	"errors"

	"github.com/shopspring/decimal"
)

var errInsufficientMyst = errors.New("insufficient MYST balance")

const (
	MystKindDeposit          = "deposit"
	MystKindPredictionBet    = "prediction_bet"
	MystKindPredictionPayout = "prediction_payout"
	MystKindPredictionRefund = "prediction_refund"
	MystKindAdminAdjust      = "admin_adjust"
)

// mystScale is the number of decimals MYST amounts carry.
const mystScale = 6

type MystLedgerEntry struct {
	UserID        string
	Amount        decimal.Decimal
	Kind          string
	Ref           string
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
}

// adjustMystTx applies a signed delta to the user's balance and logs it. The balance never goes negative.
func adjustMystTx(ctx context.Context, tx *sql.Tx, userID string, amount decimal.Decimal, kind, ref string) (MystLedgerEntry, error) {
	entry := MystLedgerEntry{UserID: userID, Amount: amount.Round(mystScale), Kind: kind, Ref: ref}

	if err := tx.QueryRowContext(ctx, `
		SELECT myst_balance
		FROM akari_users
		WHERE id = $1
		FOR UPDATE
	`, userID).Scan(&entry.BalanceBefore); err != nil {
		return entry, err
	}
	entry.BalanceAfter = entry.BalanceBefore.Add(entry.Amount)
	if entry.BalanceAfter.IsNegative() {
		return entry, errInsufficientMyst
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE akari_users
		SET myst_balance = $2
		WHERE id = $1
	`, userID, entry.BalanceAfter); err != nil {
		return entry, err
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO myst_ledger (
			user_id,
			amount,
			kind,
			ref,
			balance_before,
			balance_after,
			created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
	`, userID, entry.Amount, kind, ref, entry.BalanceBefore, entry.BalanceAfter)
	return entry, err
}

func adjustMyst(ctx context.Context, db *sql.DB, userID string, amount decimal.Decimal, kind, ref string) (MystLedgerEntry, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return MystLedgerEntry{}, err
	}
	defer tx.Rollback()

	entry, err := adjustMystTx(ctx, tx, userID, amount, kind, ref)
	if err != nil {
		return entry, err
	}
	return entry, tx.Commit()
}
