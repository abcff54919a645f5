package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const createSubscriptionPayment = `
INSERT INTO subscription_payments (
	id, subscription_id, amount_cents, currency, status, order_id,
	payment_key, error_code, error_message, paid_at, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now()
)
RETURNING id, subscription_id, amount_cents, currency, status, order_id,
          payment_key, error_code, error_message, paid_at, created_at
`

type CreateSubscriptionPaymentParams struct {
	ID             uuid.UUID          `json:"id"`
	SubscriptionID uuid.UUID          `json:"subscription_id"`
	AmountCents    int64              `json:"amount_cents"`
	Currency       string             `json:"currency"`
	Status         PaymentStatus      `json:"status"`
	OrderID        string             `json:"order_id"`
	PaymentKey     pgtype.Text        `json:"payment_key"`
	ErrorCode      pgtype.Text        `json:"error_code"`
	ErrorMessage   pgtype.Text        `json:"error_message"`
	PaidAt         pgtype.Timestamptz `json:"paid_at"`
}

// CreateSubscriptionPayment appends one row to the billing ledger.
func (q *Queries) CreateSubscriptionPayment(ctx context.Context, arg CreateSubscriptionPaymentParams) (SubscriptionPayment, error) {
	row := q.db.QueryRow(ctx, createSubscriptionPayment,
		arg.ID,
		arg.SubscriptionID,
		arg.AmountCents,
		arg.Currency,
		arg.Status,
		arg.OrderID,
		arg.PaymentKey,
		arg.ErrorCode,
		arg.ErrorMessage,
		arg.PaidAt,
	)
	var p SubscriptionPayment
	err := row.Scan(
		&p.ID,
		&p.SubscriptionID,
		&p.AmountCents,
		&p.Currency,
		&p.Status,
		&p.OrderID,
		&p.PaymentKey,
		&p.ErrorCode,
		&p.ErrorMessage,
		&p.PaidAt,
		&p.CreatedAt,
	)
	return p, err
}

const listRecentPaymentsBySubscription = `
SELECT id, subscription_id, amount_cents, currency, status, order_id,
       payment_key, error_code, error_message, paid_at, created_at
FROM subscription_payments
WHERE subscription_id = $1
ORDER BY created_at DESC
LIMIT $2
`

type ListRecentPaymentsBySubscriptionParams struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Limit          int32     `json:"limit"`
}

// ListRecentPaymentsBySubscription returns the newest ledger rows first.
func (q *Queries) ListRecentPaymentsBySubscription(ctx context.Context, arg ListRecentPaymentsBySubscriptionParams) ([]SubscriptionPayment, error) {
	rows, err := q.db.Query(ctx, listRecentPaymentsBySubscription, arg.SubscriptionID, arg.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SubscriptionPayment
	for rows.Next() {
		var p SubscriptionPayment
		if err := rows.Scan(
			&p.ID,
			&p.SubscriptionID,
			&p.AmountCents,
			&p.Currency,
			&p.Status,
			&p.OrderID,
			&p.PaymentKey,
			&p.ErrorCode,
			&p.ErrorMessage,
			&p.PaidAt,
			&p.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}
