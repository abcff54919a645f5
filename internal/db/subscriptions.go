package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const getSubscription = `
SELECT id, user_id, user_email, plan_id, status, cancel_at_period_end, consecutive_failures,
       current_period_start, current_period_end, next_billing_date, created_at, updated_at
FROM subscriptions
WHERE id = $1
`

func (q *Queries) GetSubscription(ctx context.Context, id uuid.UUID) (Subscription, error) {
	row := q.db.QueryRow(ctx, getSubscription, id)
	var s Subscription
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.UserEmail,
		&s.PlanID,
		&s.Status,
		&s.CancelAtPeriodEnd,
		&s.ConsecutiveFailures,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.NextBillingDate,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	return s, err
}

const getSubscriptionForUpdate = `
SELECT id, user_id, user_email, plan_id, status, cancel_at_period_end, consecutive_failures,
       current_period_start, current_period_end, next_billing_date, created_at, updated_at
FROM subscriptions
WHERE id = $1
FOR UPDATE
`

// GetSubscriptionForUpdate locks the subscription row for the duration of the
// surrounding transaction. Billing updates are read-modify-write and must be
// serialized per subscription.
func (q *Queries) GetSubscriptionForUpdate(ctx context.Context, id uuid.UUID) (Subscription, error) {
	row := q.db.QueryRow(ctx, getSubscriptionForUpdate, id)
	var s Subscription
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.UserEmail,
		&s.PlanID,
		&s.Status,
		&s.CancelAtPeriodEnd,
		&s.ConsecutiveFailures,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.NextBillingDate,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	return s, err
}

const listSubscriptionsDueForBilling = `
SELECT id, user_id, user_email, plan_id, status, cancel_at_period_end, consecutive_failures,
       current_period_start, current_period_end, next_billing_date, created_at, updated_at
FROM subscriptions
WHERE status IN ('active', 'trial')
  AND next_billing_date <= $1
  AND cancel_at_period_end = false
ORDER BY next_billing_date
`

func (q *Queries) ListSubscriptionsDueForBilling(ctx context.Context, dueBefore pgtype.Timestamptz) ([]Subscription, error) {
	rows, err := q.db.Query(ctx, listSubscriptionsDueForBilling, dueBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Subscription
	for rows.Next() {
		var s Subscription
		if err := rows.Scan(
			&s.ID,
			&s.UserID,
			&s.UserEmail,
			&s.PlanID,
			&s.Status,
			&s.CancelAtPeriodEnd,
			&s.ConsecutiveFailures,
			&s.CurrentPeriodStart,
			&s.CurrentPeriodEnd,
			&s.NextBillingDate,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

const advanceSubscriptionPeriod = `
UPDATE subscriptions
SET status = 'active',
    consecutive_failures = 0,
    current_period_start = $2,
    current_period_end = $3,
    next_billing_date = $4,
    updated_at = now()
WHERE id = $1
RETURNING id, user_id, user_email, plan_id, status, cancel_at_period_end, consecutive_failures,
          current_period_start, current_period_end, next_billing_date, created_at, updated_at
`

type AdvanceSubscriptionPeriodParams struct {
	ID                 uuid.UUID          `json:"id"`
	CurrentPeriodStart pgtype.Timestamptz `json:"current_period_start"`
	CurrentPeriodEnd   pgtype.Timestamptz `json:"current_period_end"`
	NextBillingDate    pgtype.Timestamptz `json:"next_billing_date"`
}

// AdvanceSubscriptionPeriod moves the subscription into its next billing
// period after a successful charge, resetting the failure counter.
func (q *Queries) AdvanceSubscriptionPeriod(ctx context.Context, arg AdvanceSubscriptionPeriodParams) (Subscription, error) {
	row := q.db.QueryRow(ctx, advanceSubscriptionPeriod,
		arg.ID,
		arg.CurrentPeriodStart,
		arg.CurrentPeriodEnd,
		arg.NextBillingDate,
	)
	var s Subscription
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.UserEmail,
		&s.PlanID,
		&s.Status,
		&s.CancelAtPeriodEnd,
		&s.ConsecutiveFailures,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.NextBillingDate,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	return s, err
}

const recordSubscriptionFailure = `
UPDATE subscriptions
SET status = $2,
    consecutive_failures = $3,
    updated_at = now()
WHERE id = $1
RETURNING id, user_id, user_email, plan_id, status, cancel_at_period_end, consecutive_failures,
          current_period_start, current_period_end, next_billing_date, created_at, updated_at
`

type RecordSubscriptionFailureParams struct {
	ID                  uuid.UUID          `json:"id"`
	Status              SubscriptionStatus `json:"status"`
	ConsecutiveFailures int32              `json:"consecutive_failures"`
}

// RecordSubscriptionFailure stores the new failure count and, when the
// suspension threshold was crossed, the suspended status.
func (q *Queries) RecordSubscriptionFailure(ctx context.Context, arg RecordSubscriptionFailureParams) (Subscription, error) {
	row := q.db.QueryRow(ctx, recordSubscriptionFailure, arg.ID, arg.Status, arg.ConsecutiveFailures)
	var s Subscription
	err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.UserEmail,
		&s.PlanID,
		&s.Status,
		&s.CancelAtPeriodEnd,
		&s.ConsecutiveFailures,
		&s.CurrentPeriodStart,
		&s.CurrentPeriodEnd,
		&s.NextBillingDate,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	return s, err
}

const expireCancelledSubscriptions = `
UPDATE subscriptions
SET status = 'expired',
    updated_at = now()
WHERE cancel_at_period_end = true
  AND current_period_end < $1
  AND status <> 'expired'
RETURNING id
`

// ExpireCancelledSubscriptions sweeps subscriptions whose final period has
// ended and returns the IDs that were expired.
func (q *Queries) ExpireCancelledSubscriptions(ctx context.Context, endedBefore pgtype.Timestamptz) ([]uuid.UUID, error) {
	rows, err := q.db.Query(ctx, expireCancelledSubscriptions, endedBefore)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
