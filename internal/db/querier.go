package db

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Querier is the query interface implemented by Queries. Services depend on
// this interface so tests can substitute mocks.
type Querier interface {
	GetSubscription(ctx context.Context, id uuid.UUID) (Subscription, error)
	GetSubscriptionForUpdate(ctx context.Context, id uuid.UUID) (Subscription, error)
	ListSubscriptionsDueForBilling(ctx context.Context, dueBefore pgtype.Timestamptz) ([]Subscription, error)
	AdvanceSubscriptionPeriod(ctx context.Context, arg AdvanceSubscriptionPeriodParams) (Subscription, error)
	RecordSubscriptionFailure(ctx context.Context, arg RecordSubscriptionFailureParams) (Subscription, error)
	ExpireCancelledSubscriptions(ctx context.Context, endedBefore pgtype.Timestamptz) ([]uuid.UUID, error)

	CreateSubscriptionPayment(ctx context.Context, arg CreateSubscriptionPaymentParams) (SubscriptionPayment, error)
	ListRecentPaymentsBySubscription(ctx context.Context, arg ListRecentPaymentsBySubscriptionParams) ([]SubscriptionPayment, error)

	CreateDeadLetterEntry(ctx context.Context, arg CreateDeadLetterEntryParams) error
	GetDeadLetterEntry(ctx context.Context, id uuid.UUID) (DeadLetterEntry, error)
	ListDeadLetterEntries(ctx context.Context, arg ListDeadLetterEntriesParams) ([]DeadLetterEntry, error)

	GetPlan(ctx context.Context, id uuid.UUID) (Plan, error)
	UpdatePlan(ctx context.Context, arg UpdatePlanParams) (Plan, error)
	ListActiveWebhookEndpoints(ctx context.Context) ([]WebhookEndpoint, error)
}

var _ Querier = (*Queries)(nil)
