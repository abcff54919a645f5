package db

import (
	"context"

	"github.com/google/uuid"
)

const getPlan = `
SELECT id, name, price_cents, currency, billing_cycle, created_at, updated_at
FROM plans
WHERE id = $1
`

func (q *Queries) GetPlan(ctx context.Context, id uuid.UUID) (Plan, error) {
	row := q.db.QueryRow(ctx, getPlan, id)
	var p Plan
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.PriceCents,
		&p.Currency,
		&p.BillingCycle,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

const updatePlan = `
UPDATE plans
SET name = $2,
    price_cents = $3,
    currency = $4,
    billing_cycle = $5,
    updated_at = now()
WHERE id = $1
RETURNING id, name, price_cents, currency, billing_cycle, created_at, updated_at
`

type UpdatePlanParams struct {
	ID           uuid.UUID    `json:"id"`
	Name         string       `json:"name"`
	PriceCents   int64        `json:"price_cents"`
	Currency     string       `json:"currency"`
	BillingCycle BillingCycle `json:"billing_cycle"`
}

func (q *Queries) UpdatePlan(ctx context.Context, arg UpdatePlanParams) (Plan, error) {
	row := q.db.QueryRow(ctx, updatePlan,
		arg.ID,
		arg.Name,
		arg.PriceCents,
		arg.Currency,
		arg.BillingCycle,
	)
	var p Plan
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.PriceCents,
		&p.Currency,
		&p.BillingCycle,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	return p, err
}

const listActiveWebhookEndpoints = `
SELECT id, url, secret, description, active, created_at
FROM webhook_endpoints
WHERE active = true
ORDER BY created_at
`

// ListActiveWebhookEndpoints returns the registered receivers billing events
// fan out to.
func (q *Queries) ListActiveWebhookEndpoints(ctx context.Context) ([]WebhookEndpoint, error) {
	rows, err := q.db.Query(ctx, listActiveWebhookEndpoints)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []WebhookEndpoint
	for rows.Next() {
		var w WebhookEndpoint
		if err := rows.Scan(
			&w.ID,
			&w.URL,
			&w.Secret,
			&w.Description,
			&w.Active,
			&w.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, w)
	}
	return items, rows.Err()
}
