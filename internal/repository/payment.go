package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"countryballs/internal/economy"
	"countryballs/internal/model"
	"countryballs/internal/pkg/db"
)

// Payment errors.
var (
	ErrDuplicatePayment = fmt.Errorf("payment already settled: %w", economy.ErrConflict)
	ErrDuplicateRefund  = fmt.Errorf("refund already recorded: %w", economy.ErrConflict)
)

// PaymentRepository handles Telegram Stars payments and refunds.
type PaymentRepository struct {
	db db.Querier
}

// NewPaymentRepository creates a new PaymentRepository instance.
func NewPaymentRepository(q db.Querier) *PaymentRepository {
	return &PaymentRepository{db: q}
}

// WithTx returns a copy bound to tx.
func (r *PaymentRepository) WithTx(tx pgx.Tx) *PaymentRepository {
	return &PaymentRepository{db: tx}
}

// Create records a payment. The charge id is the idempotency key:
// a second insert with the same id returns ErrDuplicatePayment.
func (r *PaymentRepository) Create(ctx context.Context, p model.Payment) (*model.PaymentRecord, error) {
	const query = `
		INSERT INTO stars_payments (
			id, telegram_id, currency, total_amount, provider_charge_id,
			product_type, product_id, payload, order_info, created_at
		)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, $8, $9, NOW())
		RETURNING id, telegram_id, currency, total_amount, provider_charge_id,
			product_type, product_id, payload, created_at
	`

	payload := p.RawPayload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var orderInfo any
	if len(p.OrderInfo) > 0 {
		orderInfo = p.OrderInfo
	}

	var rec model.PaymentRecord
	err := r.db.QueryRow(ctx, query,
		p.ChargeID,
		p.Payload.TelegramID,
		p.Currency,
		p.TotalAmount,
		p.ProviderChargeID,
		p.Payload.ProductType,
		p.Payload.ProductID,
		payload,
		orderInfo,
	).Scan(
		&rec.ID,
		&rec.TelegramID,
		&rec.Currency,
		&rec.TotalAmount,
		&rec.ProviderChargeID,
		&rec.ProductType,
		&rec.ProductID,
		&rec.Payload,
		&rec.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicatePayment
		}
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	return &rec, nil
}

// ListByUser returns a user's payments, newest first.
func (r *PaymentRepository) ListByUser(ctx context.Context, telegramID int64, offset, limit int) ([]model.PaymentRecord, error) {
	const query = `
		SELECT id, telegram_id, currency, total_amount, provider_charge_id,
			product_type, product_id, payload, created_at
		FROM stars_payments
		WHERE telegram_id = $1
		ORDER BY created_at DESC, id
		OFFSET $2 LIMIT $3
	`

	rows, err := r.db.Query(ctx, query, telegramID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	records := make([]model.PaymentRecord, 0, limit)
	for rows.Next() {
		var rec model.PaymentRecord
		err := rows.Scan(
			&rec.ID,
			&rec.TelegramID,
			&rec.Currency,
			&rec.TotalAmount,
			&rec.ProviderChargeID,
			&rec.ProductType,
			&rec.ProductID,
			&rec.Payload,
			&rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating payments: %w", err)
	}

	return records, nil
}

// CreateRefund records a refund as its own row; the payment stays untouched.
func (r *PaymentRepository) CreateRefund(ctx context.Context, refund model.RefundRecord) (*model.RefundRecord, error) {
	const query = `
		INSERT INTO stars_refunds (id, telegram_id, currency, total_amount, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING id, telegram_id, currency, total_amount, created_at
	`

	var rec model.RefundRecord
	err := r.db.QueryRow(ctx, query, refund.ID, refund.TelegramID, refund.Currency, refund.TotalAmount).Scan(
		&rec.ID,
		&rec.TelegramID,
		&rec.Currency,
		&rec.TotalAmount,
		&rec.CreatedAt,
	)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, ErrDuplicateRefund
		}
		return nil, fmt.Errorf("failed to record refund: %w", err)
	}

	return &rec, nil
}
