package db

import (
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// SubscriptionStatus enumerates the subscription lifecycle states.
type SubscriptionStatus string

const (
	SubscriptionStatusTrial     SubscriptionStatus = "trial"
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusSuspended SubscriptionStatus = "suspended"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// BillingCycle enumerates the supported billing intervals.
type BillingCycle string

const (
	BillingCycleMonthly   BillingCycle = "monthly"
	BillingCycleQuarterly BillingCycle = "quarterly"
	BillingCycleYearly    BillingCycle = "yearly"
)

// PaymentStatus enumerates the terminal states of a billing attempt.
type PaymentStatus string

const (
	PaymentStatusSuccess PaymentStatus = "success"
	PaymentStatusFailed  PaymentStatus = "failed"
)

// Plan holds the pricing configuration a subscription bills against.
type Plan struct {
	ID           uuid.UUID          `json:"id"`
	Name         string             `json:"name"`
	PriceCents   int64              `json:"price_cents"`
	Currency     string             `json:"currency"`
	BillingCycle BillingCycle       `json:"billing_cycle"`
	CreatedAt    pgtype.Timestamptz `json:"created_at"`
	UpdatedAt    pgtype.Timestamptz `json:"updated_at"`
}

// Subscription is the billing subsystem's view of a customer subscription.
// ConsecutiveFailures is maintained transactionally alongside the payment
// ledger so the suspension rule never has to re-scan ledger rows. UserEmail
// is denormalized onto the row so billing notices need no user-service call.
type Subscription struct {
	ID                  uuid.UUID          `json:"id"`
	UserID              uuid.UUID          `json:"user_id"`
	UserEmail           string             `json:"user_email"`
	PlanID              uuid.UUID          `json:"plan_id"`
	Status              SubscriptionStatus `json:"status"`
	CancelAtPeriodEnd   bool               `json:"cancel_at_period_end"`
	ConsecutiveFailures int32              `json:"consecutive_failures"`
	CurrentPeriodStart  pgtype.Timestamptz `json:"current_period_start"`
	CurrentPeriodEnd    pgtype.Timestamptz `json:"current_period_end"`
	NextBillingDate     pgtype.Timestamptz `json:"next_billing_date"`
	CreatedAt           pgtype.Timestamptz `json:"created_at"`
	UpdatedAt           pgtype.Timestamptz `json:"updated_at"`
}

// SubscriptionPayment is one row of the append-only billing ledger.
// Rows are never updated after insert.
type SubscriptionPayment struct {
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
	CreatedAt      pgtype.Timestamptz `json:"created_at"`
}

// DeadLetterEntry records a delivery chain that exhausted its retries.
// Entries are immutable; replay re-submits a fresh event out of band.
type DeadLetterEntry struct {
	ID           uuid.UUID          `json:"id"`
	EventType    string             `json:"event_type"`
	Payload      []byte             `json:"payload"`
	TargetURL    string             `json:"target_url"`
	ErrorMessage string             `json:"error_message"`
	RetryCount   int32              `json:"retry_count"`
	RequestID    string             `json:"request_id"`
	CreatedAt    pgtype.Timestamptz `json:"created_at"`
}

// WebhookEndpoint is a registered receiver for outbound event notifications.
type WebhookEndpoint struct {
	ID          uuid.UUID          `json:"id"`
	URL         string             `json:"url"`
	Secret      string             `json:"-"`
	Description pgtype.Text        `json:"description"`
	Active      bool               `json:"active"`
	CreatedAt   pgtype.Timestamptz `json:"created_at"`
}
