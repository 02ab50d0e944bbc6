package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go"
	"github.com/stripe/stripe-go/invoiceitem"
)

const (
	BillingStatusPending = "pending"
	BillingStatusPaid    = "paid"

	billingPeriodDays = 30
	maxBillingDays    = 366
)

var arcTierMonthlyUSD = map[string]decimal.Decimal{
	"basic":      decimal.NewFromInt(500),
	"pro":        decimal.NewFromInt(1500),
	"enterprise": decimal.NewFromInt(5000),
}

var (
	errUnknownTier     = errors.New("unknown access tier")
	errInvalidDays     = errors.New("days must be between 1 and 366")
	errInvalidDiscount = errors.New("discount must be between 0 and 100")
)

type BillingRecord struct {
	ID                  string          `json:"id"`
	ProjectID           string          `json:"projectId"`
	AccessTier          string          `json:"accessTier"`
	Days                int             `json:"days"`
	BaseAmount          decimal.Decimal `json:"baseAmount"`
	DiscountPct         decimal.Decimal `json:"discountPct"`
	FinalAmount         decimal.Decimal `json:"finalAmount"`
	Status              string          `json:"status"`
	StripeInvoiceItemID string          `json:"stripeInvoiceItemId,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
}

// computeBillingAmounts prorates the tier's 30-day price by days, then applies the discount.
func computeBillingAmounts(tier string, days int, discountPct decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	monthly, ok := arcTierMonthlyUSD[strings.ToLower(tier)]
	if !ok {
		return decimal.Zero, decimal.Zero, errUnknownTier
	}
	if days < 1 || days > maxBillingDays {
		return decimal.Zero, decimal.Zero, errInvalidDays
	}
	hundred := decimal.NewFromInt(100)
	if discountPct.IsNegative() || discountPct.GreaterThan(hundred) {
		return decimal.Zero, decimal.Zero, errInvalidDiscount
	}
	base := monthly.Mul(decimal.NewFromInt(int64(days))).Div(decimal.NewFromInt(billingPeriodDays)).Round(2)
	final := base.Mul(hundred.Sub(discountPct)).Div(hundred).Round(2)
	return base, final, nil
}

// billingPusher mirrors a billing record into an external invoicing system.
type billingPusher interface {
	PushInvoiceItem(ctx context.Context, customerID string, record BillingRecord) (string, error)
}

type stripeBillingPusher struct{}

func newStripeBillingPusher(key string) billingPusher {
	stripe.Key = key
	return stripeBillingPusher{}
}

func (stripeBillingPusher) PushInvoiceItem(ctx context.Context, customerID string, record BillingRecord) (string, error) {
	params := &stripe.InvoiceItemParams{
		Customer:    stripe.String(customerID),
		Amount:      stripe.Int64(record.FinalAmount.Shift(2).IntPart()),
		Currency:    stripe.String(string(stripe.CurrencyUSD)),
		Description: stripe.String(fmt.Sprintf("ARC %s access, %d days", record.AccessTier, record.Days)),
	}
	params.Context = ctx
	params.AddMetadata("billing_record_id", record.ID)
	params.AddMetadata("project_id", record.ProjectID)
	item, err := invoiceitem.New(params)
	if err != nil {
		return "", err
	}
	return item.ID, nil
}

type CreateBillingRequest struct {
	ProjectID   string          `json:"projectId"`
	AccessTier  string          `json:"accessTier"`
	Days        int             `json:"days"`
	DiscountPct decimal.Decimal `json:"discountPct"`
}

func adminCreateBillingHandler(db *sql.DB, cfg *Config, pusher billingPusher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := requirePortalAdmin(db, cfg, w, r)
		if !ok {
			return
		}
		var req CreateBillingRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request")
			return
		}
		if !isValidUUID(req.ProjectID) {
			writeError(w, http.StatusBadRequest, "projectId must be a uuid")
			return
		}
		req.AccessTier = strings.ToLower(strings.TrimSpace(req.AccessTier))
		base, final, err := computeBillingAmounts(req.AccessTier, req.Days, req.DiscountPct)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		ctx := r.Context()
		project, err := loadProjectByID(ctx, db, req.ProjectID)
		if err != nil {
			writeInternalError(w, err, "project lookup failed")
			return
		}
		if project == nil {
			writeError(w, http.StatusNotFound, "Project not found")
			return
		}

		record := BillingRecord{
			ID:          uuid.NewString(),
			ProjectID:   project.ID,
			AccessTier:  req.AccessTier,
			Days:        req.Days,
			BaseAmount:  base,
			DiscountPct: req.DiscountPct,
			FinalAmount: final,
			Status:      BillingStatusPending,
			CreatedAt:   time.Now().UTC(),
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			writeInternalError(w, err, "billing create failed")
			return
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO arc_billing_records (id, project_id, access_tier, days, base_amount, discount_pct, final_amount, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 'pending', $8)
		`, record.ID, record.ProjectID, record.AccessTier, record.Days, record.BaseAmount, record.DiscountPct, record.FinalAmount, record.CreatedAt); err != nil {
			writeInternalError(w, err, "billing insert failed")
			return
		}
		if err := recordAdminAudit(ctx, tx, admin.Actor(), "billing_create", "project", project.ID, map[string]string{
			"recordId": record.ID,
			"tier":     record.AccessTier,
			"final":    record.FinalAmount.StringFixed(2),
		}); err != nil {
			writeInternalError(w, err, "billing audit failed")
			return
		}
		if err := tx.Commit(); err != nil {
			writeInternalError(w, err, "billing commit failed")
			return
		}

		// The record stands even when the invoicing push fails.
		if pusher != nil && project.StripeCustomerID != "" && record.FinalAmount.IsPositive() {
			itemID, err := pusher.PushInvoiceItem(ctx, project.StripeCustomerID, record)
			if err != nil {
				log.Warn().Err(err).Str("recordId", record.ID).Str("project", project.Slug).Msg("stripe invoice push failed")
			} else {
				record.StripeInvoiceItemID = itemID
				if _, err := db.ExecContext(ctx, `
					UPDATE arc_billing_records SET stripe_invoice_item_id = $2 WHERE id = $1
				`, record.ID, itemID); err != nil {
					log.Warn().Err(err).Str("recordId", record.ID).Msg("stripe invoice id save failed")
				}
			}
		}
		writeOK(w, payload{"record": record})
	}
}

func adminMarkBillingPaidHandler(db *sql.DB, cfg *Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		admin, ok := requirePortalAdmin(db, cfg, w, r)
		if !ok {
			return
		}
		recordID := chi.URLParam(r, "id")
		if !isValidUUID(recordID) {
			writeError(w, http.StatusBadRequest, "Invalid billing record id")
			return
		}

		ctx := r.Context()
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			writeInternalError(w, err, "billing paid failed")
			return
		}
		defer tx.Rollback()

		var status string
		err = tx.QueryRowContext(ctx, `SELECT status FROM arc_billing_records WHERE id = $1 FOR UPDATE`, recordID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "Billing record not found")
			return
		}
		if err != nil {
			writeInternalError(w, err, "billing lookup failed")
			return
		}
		if status != BillingStatusPending {
			writeError(w, http.StatusBadRequest, "Billing record is not pending")
			return
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE arc_billing_records SET status = 'paid', paid_at = NOW() WHERE id = $1
		`, recordID); err != nil {
			writeInternalError(w, err, "billing paid update failed")
			return
		}
		if err := recordAdminAudit(ctx, tx, admin.Actor(), "billing_paid", "billing_record", recordID, nil); err != nil {
			writeInternalError(w, err, "billing paid audit failed")
			return
		}
		if err := tx.Commit(); err != nil {
			writeInternalError(w, err, "billing paid commit failed")
			return
		}
		writeOK(w, payload{"id": recordID, "status": BillingStatusPaid})
	}
}
