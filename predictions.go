package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	PredictionStatusOpen     = "open"
	PredictionStatusResolved = "resolved"

	predictionResolvedVisibility = 7 * 24 * time.Hour
)

var (
	errPredictionNotFound = errors.New("prediction not found")
	errPredictionClosed   = errors.New("prediction is closed")
	errPredictionResolved = errors.New("prediction already resolved")
	errInvalidOption      = errors.New("invalid option")
)

var bpsDenominator = decimal.NewFromInt(10000)

type Prediction struct {
	ID            string            `json:"id"`
	Title         string            `json:"title"`
	Description   string            `json:"description"`
	Options       []string          `json:"options"`
	Status        string            `json:"status"`
	ClosesAt      time.Time         `json:"closesAt"`
	WinningOption *int              `json:"winningOption,omitempty"`
	FeeBps        int               `json:"feeBps"`
	Pools         []decimal.Decimal `json:"pools"`
	TotalPool     decimal.Decimal   `json:"totalPool"`
}

type PredictionBet struct {
	ID     int64
	UserID string
	Option int
	Amount decimal.Decimal
}

type PredictionPayout struct {
	BetID  int64
	UserID string
	Amount decimal.Decimal
	Refund bool
}

type Settlement struct {
	Pool         decimal.Decimal
	Fee          decimal.Decimal
	WinningTotal decimal.Decimal
	Payouts      []PredictionPayout
	Losers       []string // distinct bettors without any payout
	RefundedAll  bool
}

// settlePrediction splits the pool parimutuel-style. With no winning stake every bet
// is refunded and no fee is kept.
func settlePrediction(bets []PredictionBet, winningOption, feeBps int) Settlement {
	var s Settlement
	for _, bet := range bets {
		s.Pool = s.Pool.Add(bet.Amount)
		if bet.Option == winningOption {
			s.WinningTotal = s.WinningTotal.Add(bet.Amount)
		}
	}

	if s.WinningTotal.IsZero() {
		s.RefundedAll = true
		for _, bet := range bets {
			s.Payouts = append(s.Payouts, PredictionPayout{BetID: bet.ID, UserID: bet.UserID, Amount: bet.Amount, Refund: true})
		}
		return s
	}

	s.Fee = s.Pool.Mul(decimal.NewFromInt(int64(feeBps))).Div(bpsDenominator).Truncate(mystScale)
	distributable := s.Pool.Sub(s.Fee)
	for _, bet := range bets {
		if bet.Option != winningOption {
			continue
		}
		share := bet.Amount.Mul(distributable).Div(s.WinningTotal).Truncate(mystScale)
		s.Payouts = append(s.Payouts, PredictionPayout{BetID: bet.ID, UserID: bet.UserID, Amount: share})
	}

	seen := make(map[string]bool, len(bets))
	for _, p := range s.Payouts {
		seen[p.UserID] = true
	}
	for _, bet := range bets {
		if seen[bet.UserID] {
			continue
		}
		seen[bet.UserID] = true
		s.Losers = append(s.Losers, bet.UserID)
	}
	return s
}

func scanPredictionOptions(raw []byte) ([]string, error) {
	var options []string
	if err := json.Unmarshal(raw, &options); err != nil {
		return nil, err
	}
	return options, nil
}

func listPredictions(ctx context.Context, db *sql.DB, now time.Time) ([]Prediction, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, title, description, options, status, closes_at, winning_option, fee_bps
		FROM predictions
		WHERE status = 'open' OR (status = 'resolved' AND resolved_at >= $1)
		ORDER BY status ASC, closes_at ASC
		LIMIT 100
	`, now.Add(-predictionResolvedVisibility))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	predictions := []Prediction{}
	byID := map[string]int{}
	for rows.Next() {
		var p Prediction
		var options []byte
		var winning sql.NullInt64
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &options, &p.Status, &p.ClosesAt, &winning, &p.FeeBps); err != nil {
			return nil, err
		}
		if p.Options, err = scanPredictionOptions(options); err != nil {
			return nil, fmt.Errorf("prediction %s options: %w", p.ID, err)
		}
		if winning.Valid {
			idx := int(winning.Int64)
			p.WinningOption = &idx
		}
		p.Pools = make([]decimal.Decimal, len(p.Options))
		for i := range p.Pools {
			p.Pools[i] = decimal.Zero
		}
		byID[p.ID] = len(predictions)
		predictions = append(predictions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(predictions) == 0 {
		return predictions, nil
	}

	poolRows, err := db.QueryContext(ctx, `
		SELECT b.prediction_id, b.option_index, SUM(b.amount)
		FROM prediction_bets b
		JOIN predictions p ON p.id = b.prediction_id
		WHERE p.status = 'open' OR (p.status = 'resolved' AND p.resolved_at >= $1)
		GROUP BY b.prediction_id, b.option_index
	`, now.Add(-predictionResolvedVisibility))
	if err != nil {
		return nil, err
	}
	defer poolRows.Close()
	for poolRows.Next() {
		var id string
		var option int
		var sum decimal.Decimal
		if err := poolRows.Scan(&id, &option, &sum); err != nil {
			return nil, err
		}
		idx, ok := byID[id]
		if !ok || option < 0 || option >= len(predictions[idx].Pools) {
			continue
		}
		predictions[idx].Pools[option] = sum
	}
	for i := range predictions {
		for _, pool := range predictions[i].Pools {
			predictions[i].TotalPool = predictions[i].TotalPool.Add(pool)
		}
	}
	return predictions, poolRows.Err()
}

func placeBet(ctx context.Context, db *sql.DB, predictionID, userID string, option int, amount decimal.Decimal, now time.Time) (MystLedgerEntry, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return MystLedgerEntry{}, err
	}
	defer tx.Rollback()

	var status string
	var closesAt time.Time
	var rawOptions []byte
	err = tx.QueryRowContext(ctx, `
		SELECT status, closes_at, options
		FROM predictions
		WHERE id = $1
		FOR SHARE
	`, predictionID).Scan(&status, &closesAt, &rawOptions)
	if errors.Is(err, sql.ErrNoRows) {
		return MystLedgerEntry{}, errPredictionNotFound
	}
	if err != nil {
		return MystLedgerEntry{}, err
	}
	if status != PredictionStatusOpen || !now.Before(closesAt) {
		return MystLedgerEntry{}, errPredictionClosed
	}
	options, err := scanPredictionOptions(rawOptions)
	if err != nil {
		return MystLedgerEntry{}, err
	}
	if option < 0 || option >= len(options) {
		return MystLedgerEntry{}, errInvalidOption
	}

	entry, err := adjustMystTx(ctx, tx, userID, amount.Neg(), MystKindPredictionBet, predictionID)
	if err != nil {
		return entry, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO prediction_bets (prediction_id, user_id, option_index, amount, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, predictionID, userID, option, amount, now); err != nil {
		return entry, err
	}
	return entry, tx.Commit()
}

func miniAppPredictionsHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireFeature(w, cfg.Features().Predictions, "Predictions") {
			return
		}
		if _, ok := requireMiniAppUser(db, cfg, w, r); !ok {
			return
		}
		predictions, err := listPredictions(r.Context(), db, time.Now().UTC())
		if err != nil {
			writeInternalError(w, err, "prediction list failed")
			return
		}
		writeOK(w, payload{"predictions": predictions})
	}
}

func miniAppBetHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireFeature(w, cfg.Features().Predictions, "Predictions") {
			return
		}
		user, ok := requireMiniAppUser(db, cfg, w, r)
		if !ok {
			return
		}
		predictionID := chi.URLParam(r, "id")
		if !isValidUUID(predictionID) {
			writeError(w, http.StatusBadRequest, "Invalid prediction id")
			return
		}
		var req struct {
			Option *int            `json:"option"`
			Amount decimal.Decimal `json:"amount"`
		}
		if err := decodeJSON(r, &req); err != nil || req.Option == nil {
			writeError(w, http.StatusBadRequest, "option and amount are required")
			return
		}
		if !req.Amount.IsPositive() || req.Amount.Exponent() < -mystScale {
			writeError(w, http.StatusBadRequest, "amount must be positive with at most 6 decimals")
			return
		}

		entry, err := placeBet(r.Context(), db, predictionID, user.ID, *req.Option, req.Amount, time.Now().UTC())
		switch {
		case errors.Is(err, errPredictionNotFound):
			writeError(w, http.StatusNotFound, "Prediction not found")
			return
		case errors.Is(err, errPredictionClosed):
			writeError(w, http.StatusBadRequest, "Prediction is closed")
			return
		case errors.Is(err, errInvalidOption):
			writeError(w, http.StatusBadRequest, "Invalid option")
			return
		case errors.Is(err, errInsufficientMyst):
			writeError(w, http.StatusBadRequest, "Insufficient MYST balance")
			return
		case err != nil:
			writeInternalError(w, err, "bet failed")
			return
		}
		writeOK(w, payload{"balance": entry.BalanceAfter, "amount": req.Amount, "option": *req.Option})
	}
}

type CreatePredictionRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Options     []string  `json:"options"`
	ClosesAt    time.Time `json:"closesAt"`
	FeeBps      *int      `json:"feeBps,omitempty"`
}

func adminCreatePredictionHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireAdminToken(cfg, w, r) {
			return
		}
		var req CreatePredictionRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		if req.Title == "" {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}
		if len(req.Options) < 2 || len(req.Options) > 10 {
			writeError(w, http.StatusBadRequest, "a prediction needs between 2 and 10 options")
			return
		}
		for i, option := range req.Options {
			req.Options[i] = strings.TrimSpace(option)
			if req.Options[i] == "" {
				writeError(w, http.StatusBadRequest, "options cannot be empty")
				return
			}
		}
		if !req.ClosesAt.After(time.Now().UTC()) {
			writeError(w, http.StatusBadRequest, "closesAt must be in the future")
			return
		}
		feeBps := GetGlobalSettings().PredictionFeeBps
		if req.FeeBps != nil {
			if *req.FeeBps < 0 || *req.FeeBps > 10000 {
				writeError(w, http.StatusBadRequest, "feeBps must be between 0 and 10000")
				return
			}
			feeBps = *req.FeeBps
		}
		options, err := json.Marshal(req.Options)
		if err != nil {
			writeInternalError(w, err, "prediction options encode failed")
			return
		}

		ctx := r.Context()
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			writeInternalError(w, err, "prediction create failed")
			return
		}
		defer tx.Rollback()

		id := uuid.NewString()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO predictions (id, title, description, options, status, closes_at, fee_bps, created_at)
			VALUES ($1, $2, $3, $4, 'open', $5, $6, NOW())
		`, id, req.Title, strings.TrimSpace(req.Description), options, req.ClosesAt.UTC(), feeBps); err != nil {
			writeInternalError(w, err, "prediction insert failed")
			return
		}
		if err := recordAdminAudit(ctx, tx, "admin-token", "prediction_create", "prediction", id, map[string]interface{}{
			"title":   req.Title,
			"options": req.Options,
			"feeBps":  feeBps,
		}); err != nil {
			writeInternalError(w, err, "prediction audit failed")
			return
		}
		if err := tx.Commit(); err != nil {
			writeInternalError(w, err, "prediction commit failed")
			return
		}
		writeOK(w, payload{"id": id})
	}
}

func resolvePrediction(ctx context.Context, db *sql.DB, predictionID string, winningOption int) (Settlement, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Settlement{}, err
	}
	defer tx.Rollback()

	var status string
	var rawOptions []byte
	var feeBps int
	err = tx.QueryRowContext(ctx, `
		SELECT status, options, fee_bps
		FROM predictions
		WHERE id = $1
		FOR UPDATE
	`, predictionID).Scan(&status, &rawOptions, &feeBps)
	if errors.Is(err, sql.ErrNoRows) {
		return Settlement{}, errPredictionNotFound
	}
	if err != nil {
		return Settlement{}, err
	}
	if status == PredictionStatusResolved {
		return Settlement{}, errPredictionResolved
	}
	options, err := scanPredictionOptions(rawOptions)
	if err != nil {
		return Settlement{}, err
	}
	if winningOption < 0 || winningOption >= len(options) {
		return Settlement{}, errInvalidOption
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, user_id, option_index, amount
		FROM prediction_bets
		WHERE prediction_id = $1
		ORDER BY id
	`, predictionID)
	if err != nil {
		return Settlement{}, err
	}
	var bets []PredictionBet
	for rows.Next() {
		var bet PredictionBet
		if err := rows.Scan(&bet.ID, &bet.UserID, &bet.Option, &bet.Amount); err != nil {
			rows.Close()
			return Settlement{}, err
		}
		bets = append(bets, bet)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Settlement{}, err
	}

	settlement := settlePrediction(bets, winningOption, feeBps)
	for _, p := range settlement.Payouts {
		kind := MystKindPredictionPayout
		if p.Refund {
			kind = MystKindPredictionRefund
		}
		if p.Amount.IsPositive() {
			if _, err := adjustMystTx(ctx, tx, p.UserID, p.Amount, kind, predictionID); err != nil {
				return Settlement{}, err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE prediction_bets
			SET payout = $2
			WHERE id = $1
		`, p.BetID, p.Amount); err != nil {
			return Settlement{}, err
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE prediction_bets
		SET payout = 0
		WHERE prediction_id = $1 AND payout IS NULL
	`, predictionID); err != nil {
		return Settlement{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE predictions
		SET status = 'resolved', winning_option = $2, fee_collected = $3, resolved_at = NOW()
		WHERE id = $1
	`, predictionID, winningOption, settlement.Fee); err != nil {
		return Settlement{}, err
	}
	if err := recordAdminAudit(ctx, tx, "admin-token", "prediction_resolve", "prediction", predictionID, map[string]interface{}{
		"winningOption": winningOption,
		"pool":          settlement.Pool.String(),
		"fee":           settlement.Fee.String(),
		"refunded":      settlement.RefundedAll,
	}); err != nil {
		return Settlement{}, err
	}
	return settlement, tx.Commit()
}

func adminResolvePredictionHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireAdminToken(cfg, w, r) {
			return
		}
		predictionID := chi.URLParam(r, "id")
		if !isValidUUID(predictionID) {
			writeError(w, http.StatusBadRequest, "Invalid prediction id")
			return
		}
		var req struct {
			WinningOption *int `json:"winningOption"`
		}
		if err := decodeJSON(r, &req); err != nil || req.WinningOption == nil {
			writeError(w, http.StatusBadRequest, "winningOption is required")
			return
		}

		settlement, err := resolvePrediction(r.Context(), db, predictionID, *req.WinningOption)
		switch {
		case errors.Is(err, errPredictionNotFound):
			writeError(w, http.StatusNotFound, "Prediction not found")
			return
		case errors.Is(err, errPredictionResolved):
			writeError(w, http.StatusBadRequest, "Prediction already resolved")
			return
		case errors.Is(err, errInvalidOption):
			writeError(w, http.StatusBadRequest, "Invalid option")
			return
		case err != nil:
			writeInternalError(w, err, "prediction resolve failed")
			return
		}

		notes := make([]NotificationInput, 0, len(settlement.Payouts)+len(settlement.Losers))
		for _, p := range settlement.Payouts {
			msg := "Your prediction won " + p.Amount.String() + " MYST"
			if p.Refund {
				msg = "Your prediction stake of " + p.Amount.String() + " MYST was refunded"
			}
			notes = append(notes, NotificationInput{
				UserID:  p.UserID,
				Kind:    NotificationKindPrediction,
				Message: msg,
				Payload: map[string]string{"predictionId": predictionID, "amount": p.Amount.String()},
			})
		}
		for _, userID := range settlement.Losers {
			notes = append(notes, NotificationInput{
				UserID:  userID,
				Kind:    NotificationKindPrediction,
				Message: "Your prediction lost",
				Payload: map[string]string{"predictionId": predictionID, "amount": "0"},
			})
		}
		emitNotifications(r.Context(), db, notes)
		log.Info().Str("predictionId", predictionID).Int("winningOption", *req.WinningOption).
			Str("pool", settlement.Pool.String()).Str("fee", settlement.Fee.String()).Int("payouts", len(settlement.Payouts)).
			Msg("prediction resolved")

		writeOK(w, payload{
			"pool":        settlement.Pool,
			"fee":         settlement.Fee,
			"payouts":     len(settlement.Payouts),
			"losers":      len(settlement.Losers),
			"refundedAll": settlement.RefundedAll,
		})
	}
}
