package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/cache"
	"github.com/flowbill/flowbill-api/internal/db"
	"github.com/flowbill/flowbill-api/internal/email"
	"github.com/flowbill/flowbill-api/internal/gateway"
	"github.com/flowbill/flowbill-api/internal/webhook"
)

// Store is the persistence surface the processor needs: the query layer plus
// a transaction boundary for the read-modify-write subscription updates.
type Store interface {
	db.Querier
	ExecTx(ctx context.Context, fn func(db.Querier) error) error
}

// Charger obtains a payment verdict for one billing period.
type Charger interface {
	Charge(ctx context.Context, req gateway.ChargeRequest) (*gateway.ChargeResult, error)
}

// Publisher emits billing lifecycle events into the delivery subsystem.
type Publisher interface {
	Publish(ctx context.Context, eventType webhook.EventType, payload interface{}) error
}

// Outcome is the per-subscription verdict of one reconciliation pass.
type Outcome string

const (
	OutcomeExtendedFree Outcome = "extended_free"
	OutcomeSuccess      Outcome = "success"
	OutcomeFailed       Outcome = "failed"
	OutcomeError        Outcome = "error"

	// outcomeSkipped means an overlapping run already advanced the row
	// between selection and the locked re-check. Not surfaced in summaries.
	outcomeSkipped Outcome = "skipped"
)

// ItemResult is one subscription's outcome within a reconciliation pass.
type ItemResult struct {
	SubscriptionID uuid.UUID `json:"subscription_id"`
	Outcome        Outcome   `json:"outcome"`
	Suspended      bool      `json:"suspended,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// RunResult summarizes one reconciliation pass.
type RunResult struct {
	ProcessedCount    int          `json:"processed_count"`
	SucceededCount    int          `json:"succeeded_count"`
	FailedCount       int          `json:"failed_count"`
	ExtendedFreeCount int          `json:"extended_free_count"`
	ErrorCount        int          `json:"error_count"`
	ExpiredCount      int          `json:"expired_count"`
	Items             []ItemResult `json:"items"`
}

// BillingEventPayload is the body of billing.success / billing.failed events.
type BillingEventPayload struct {
	SubscriptionID string    `json:"subscription_id"`
	PlanID         string    `json:"plan_id"`
	AmountCents    int64     `json:"amount_cents"`
	Currency       string    `json:"currency"`
	Outcome        string    `json:"outcome"`
	ErrorCode      string    `json:"error_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// SubscriptionEventPayload is the body of subscription lifecycle events.
type SubscriptionEventPayload struct {
	SubscriptionID string    `json:"subscription_id"`
	Status         string    `json:"status"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// Processor runs the recurring-billing reconciliation pass: it charges due
// subscriptions, maintains the payment ledger and the subscription lifecycle,
// and feeds the outcomes back into event delivery.
type Processor struct {
	store   Store
	gateway Charger
	plans   *cache.PlanCache
	events  Publisher
	emails  email.Sender
	logger  *zap.Logger
	now     func() time.Time
}

func NewProcessor(store Store, charger Charger, plans *cache.PlanCache, events Publisher, emails email.Sender, logger *zap.Logger) *Processor {
	return &Processor{
		store:   store,
		gateway: charger,
		plans:   plans,
		events:  events,
		emails:  emails,
		logger:  logger,
		now:     time.Now,
	}
}

// ProcessDueSubscriptions charges every due subscription sequentially, then
// sweeps cancel-at-period-end subscriptions past their final period. One
// subscription's failure never aborts the pass: errors are recorded per item
// and the loop continues.
func (p *Processor) ProcessDueSubscriptions(ctx context.Context) (*RunResult, error) {
	now := p.now()
	result := &RunResult{}

	due, err := p.store.ListSubscriptionsDueForBilling(ctx, timestamptz(now))
	if err != nil {
		return nil, fmt.Errorf("failed to list due subscriptions: %w", err)
	}

	p.logger.Info("processing due subscriptions",
		zap.Int("count", len(due)),
		zap.Time("as_of", now))

	for _, sub := range due {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("reconciliation pass cancelled",
				zap.Int("processed", result.ProcessedCount),
				zap.Int("remaining", len(due)-result.ProcessedCount))
			return result, err
		}

		item := p.processSubscription(ctx, sub, now)
		if item.Outcome == outcomeSkipped {
			continue
		}

		result.ProcessedCount++
		result.Items = append(result.Items, item)
		switch item.Outcome {
		case OutcomeSuccess:
			result.SucceededCount++
		case OutcomeFailed:
			result.FailedCount++
		case OutcomeExtendedFree:
			result.ExtendedFreeCount++
		case OutcomeError:
			result.ErrorCount++
		}
	}

	expired, err := p.store.ExpireCancelledSubscriptions(ctx, timestamptz(now))
	if err != nil {
		p.logger.Error("failed to expire cancelled subscriptions", zap.Error(err))
	} else {
		result.ExpiredCount = len(expired)
		for _, id := range expired {
			p.publish(ctx, webhook.EventSubscriptionExpired, SubscriptionEventPayload{
				SubscriptionID: id.String(),
				Status:         string(db.SubscriptionStatusExpired),
				OccurredAt:     now,
			})
		}
	}

	p.logger.Info("reconciliation pass complete",
		zap.Int("processed", result.ProcessedCount),
		zap.Int("succeeded", result.SucceededCount),
		zap.Int("failed", result.FailedCount),
		zap.Int("extended_free", result.ExtendedFreeCount),
		zap.Int("errors", result.ErrorCount),
		zap.Int("expired", result.ExpiredCount))

	return result, nil
}

func (p *Processor) processSubscription(ctx context.Context, sub db.Subscription, now time.Time) ItemResult {
	item := ItemResult{SubscriptionID: sub.ID}

	plan, err := p.lookupPlan(ctx, sub.PlanID)
	if err != nil {
		p.logger.Error("failed to load plan",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("plan_id", sub.PlanID.String()),
			zap.Error(err))
		item.Outcome = OutcomeError
		item.Error = err.Error()
		return item
	}

	if plan.PriceCents == 0 {
		return p.extendFree(ctx, sub, plan, now)
	}

	// The order id is stable per subscription and billing date, so a
	// crashed-and-rerun pass presents the same idempotency key upstream.
	orderID := fmt.Sprintf("bill_%s_%s", sub.ID, sub.NextBillingDate.Time.UTC().Format("20060102"))

	charge, err := p.gateway.Charge(ctx, gateway.ChargeRequest{
		OrderID:        orderID,
		SubscriptionID: sub.ID.String(),
		CustomerID:     sub.UserID.String(),
		Amount:         plan.PriceCents,
		Currency:       plan.Currency,
	})
	if err != nil {
		// No verdict was obtained. State stays untouched and the
		// subscription is picked up again on the next run.
		p.logger.Error("charge produced no verdict",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("order_id", orderID),
			zap.Error(err))
		item.Outcome = OutcomeError
		item.Error = err.Error()
		return item
	}

	if charge.Success {
		return p.applySuccess(ctx, sub, plan, orderID, charge, now)
	}
	return p.applyFailure(ctx, sub, plan, orderID, charge, now)
}

func (p *Processor) lookupPlan(ctx context.Context, planID uuid.UUID) (db.Plan, error) {
	if plan, ok := p.plans.Get(planID); ok {
		return plan, nil
	}
	plan, err := p.store.GetPlan(ctx, planID)
	if err != nil {
		return db.Plan{}, fmt.Errorf("failed to get plan: %w", err)
	}
	p.plans.Set(plan)
	return plan, nil
}

// extendFree advances a zero-price subscription without a gateway call and
// without a ledger row.
func (p *Processor) extendFree(ctx context.Context, sub db.Subscription, plan db.Plan, now time.Time) ItemResult {
	item := ItemResult{SubscriptionID: sub.ID}
	skipped := false

	err := p.store.ExecTx(ctx, func(q db.Querier) error {
		current, err := q.GetSubscriptionForUpdate(ctx, sub.ID)
		if err != nil {
			return err
		}
		if !stillDue(current, now) {
			skipped = true
			return nil
		}
		start, end := AdvancePeriod(plan.BillingCycle, current.NextBillingDate.Time)
		_, err = q.AdvanceSubscriptionPeriod(ctx, db.AdvanceSubscriptionPeriodParams{
			ID:                 sub.ID,
			CurrentPeriodStart: timestamptz(start),
			CurrentPeriodEnd:   timestamptz(end),
			NextBillingDate:    timestamptz(end),
		})
		return err
	})
	if err != nil {
		p.logger.Error("failed to extend free subscription",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err))
		item.Outcome = OutcomeError
		item.Error = err.Error()
		return item
	}
	if skipped {
		item.Outcome = outcomeSkipped
		return item
	}

	item.Outcome = OutcomeExtendedFree
	p.publish(ctx, webhook.EventBillingSuccess, BillingEventPayload{
		SubscriptionID: sub.ID.String(),
		PlanID:         plan.ID.String(),
		AmountCents:    0,
		Currency:       plan.Currency,
		Outcome:        string(OutcomeExtendedFree),
		OccurredAt:     now,
	})
	return item
}

func (p *Processor) applySuccess(ctx context.Context, sub db.Subscription, plan db.Plan, orderID string, charge *gateway.ChargeResult, now time.Time) ItemResult {
	item := ItemResult{SubscriptionID: sub.ID}
	skipped := false

	err := p.store.ExecTx(ctx, func(q db.Querier) error {
		current, err := q.GetSubscriptionForUpdate(ctx, sub.ID)
		if err != nil {
			return err
		}
		if !stillDue(current, now) {
			skipped = true
			return nil
		}
		if _, err := q.CreateSubscriptionPayment(ctx, db.CreateSubscriptionPaymentParams{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			AmountCents:    plan.PriceCents,
			Currency:       plan.Currency,
			Status:         db.PaymentStatusSuccess,
			OrderID:        orderID,
			PaymentKey:     pgtype.Text{String: charge.PaymentKey, Valid: true},
			PaidAt:         timestamptz(charge.ApprovedAt),
		}); err != nil {
			return err
		}
		start, end := AdvancePeriod(plan.BillingCycle, current.NextBillingDate.Time)
		_, err = q.AdvanceSubscriptionPeriod(ctx, db.AdvanceSubscriptionPeriodParams{
			ID:                 sub.ID,
			CurrentPeriodStart: timestamptz(start),
			CurrentPeriodEnd:   timestamptz(end),
			NextBillingDate:    timestamptz(end),
		})
		return err
	})
	if err != nil {
		p.logger.Error("failed to record successful charge",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("order_id", orderID),
			zap.Error(err))
		item.Outcome = OutcomeError
		item.Error = err.Error()
		return item
	}
	if skipped {
		item.Outcome = outcomeSkipped
		return item
	}

	item.Outcome = OutcomeSuccess
	p.publish(ctx, webhook.EventBillingSuccess, BillingEventPayload{
		SubscriptionID: sub.ID.String(),
		PlanID:         plan.ID.String(),
		AmountCents:    plan.PriceCents,
		Currency:       plan.Currency,
		Outcome:        string(OutcomeSuccess),
		OccurredAt:     now,
	})
	return item
}

func (p *Processor) applyFailure(ctx context.Context, sub db.Subscription, plan db.Plan, orderID string, charge *gateway.ChargeResult, now time.Time) ItemResult {
	item := ItemResult{SubscriptionID: sub.ID}
	skipped := false
	var updated db.Subscription
	var newCount int32

	err := p.store.ExecTx(ctx, func(q db.Querier) error {
		current, err := q.GetSubscriptionForUpdate(ctx, sub.ID)
		if err != nil {
			return err
		}
		if !stillDue(current, now) {
			skipped = true
			return nil
		}
		if _, err := q.CreateSubscriptionPayment(ctx, db.CreateSubscriptionPaymentParams{
			ID:             uuid.New(),
			SubscriptionID: sub.ID,
			AmountCents:    plan.PriceCents,
			Currency:       plan.Currency,
			Status:         db.PaymentStatusFailed,
			OrderID:        orderID,
			ErrorCode:      pgtype.Text{String: charge.Code, Valid: charge.Code != ""},
			ErrorMessage:   pgtype.Text{String: charge.Message, Valid: charge.Message != ""},
		}); err != nil {
			return err
		}
		newStatus := StatusAfterFailure(current.Status, current.ConsecutiveFailures)
		newCount = current.ConsecutiveFailures + 1
		updated, err = q.RecordSubscriptionFailure(ctx, db.RecordSubscriptionFailureParams{
			ID:                  sub.ID,
			Status:              newStatus,
			ConsecutiveFailures: newCount,
		})
		return err
	})
	if err != nil {
		p.logger.Error("failed to record declined charge",
			zap.String("subscription_id", sub.ID.String()),
			zap.String("order_id", orderID),
			zap.Error(err))
		item.Outcome = OutcomeError
		item.Error = err.Error()
		return item
	}
	if skipped {
		item.Outcome = outcomeSkipped
		return item
	}

	item.Outcome = OutcomeFailed
	item.Error = charge.Message

	if updated.Status == db.SubscriptionStatusSuspended {
		item.Suspended = true
		p.logger.Warn("subscription suspended after repeated failures",
			zap.String("subscription_id", sub.ID.String()),
			zap.Int32("consecutive_failures", newCount))

		p.publish(ctx, webhook.EventSubscriptionSuspended, SubscriptionEventPayload{
			SubscriptionID: sub.ID.String(),
			Status:         string(db.SubscriptionStatusSuspended),
			OccurredAt:     now,
		})
		p.sendSuspensionNotice(ctx, updated, plan, newCount)
		return item
	}

	p.publish(ctx, webhook.EventBillingFailed, BillingEventPayload{
		SubscriptionID: sub.ID.String(),
		PlanID:         plan.ID.String(),
		AmountCents:    plan.PriceCents,
		Currency:       plan.Currency,
		Outcome:        string(OutcomeFailed),
		ErrorCode:      charge.Code,
		ErrorMessage:   charge.Message,
		OccurredAt:     now,
	})
	p.sendPaymentFailedNotice(ctx, updated, plan, charge, newCount)
	return item
}

func (p *Processor) publish(ctx context.Context, eventType webhook.EventType, payload interface{}) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(ctx, eventType, payload); err != nil {
		p.logger.Warn("failed to publish billing event",
			zap.String("event_type", string(eventType)),
			zap.Error(err))
	}
}

func (p *Processor) sendSuspensionNotice(ctx context.Context, sub db.Subscription, plan db.Plan, failures int32) {
	if p.emails == nil || sub.UserEmail == "" {
		return
	}
	err := p.emails.SendSuspensionNotice(ctx, sub.UserEmail, email.SuspensionData{
		PlanName:     plan.Name,
		Amount:       formatAmount(plan.PriceCents),
		Currency:     plan.Currency,
		FailureCount: int(failures),
	})
	if err != nil {
		p.logger.Warn("failed to send suspension notice",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err))
	}
}

func (p *Processor) sendPaymentFailedNotice(ctx context.Context, sub db.Subscription, plan db.Plan, charge *gateway.ChargeResult, failures int32) {
	if p.emails == nil || sub.UserEmail == "" {
		return
	}
	err := p.emails.SendPaymentFailedNotice(ctx, sub.UserEmail, email.PaymentFailedData{
		PlanName:          plan.Name,
		Amount:            formatAmount(plan.PriceCents),
		Currency:          plan.Currency,
		ErrorMessage:      charge.Message,
		AttemptsRemaining: int(SuspensionThreshold + 1 - failures),
	})
	if err != nil {
		p.logger.Warn("failed to send payment failed notice",
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err))
	}
}

// stillDue re-checks, under the row lock, that a subscription selected at the
// start of the pass has not been advanced by an overlapping run.
func stillDue(sub db.Subscription, now time.Time) bool {
	return Billable(sub.Status) &&
		!sub.CancelAtPeriodEnd &&
		!sub.NextBillingDate.Time.After(now)
}

func timestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
