package billing

import (
	"fmt"
	"time"

	"github.com/flowbill/flowbill-api/internal/db"
)

// SuspensionThreshold is the number of consecutive failed charges a
// subscription may accumulate before the next failure suspends it.
const SuspensionThreshold = 3

// allowedTransitions encodes the lifecycle edges the billing loop is allowed
// to take. A reconciliation pass applies at most one transition per
// subscription.
var allowedTransitions = map[db.SubscriptionStatus][]db.SubscriptionStatus{
	db.SubscriptionStatusTrial:     {db.SubscriptionStatusActive, db.SubscriptionStatusSuspended, db.SubscriptionStatusExpired},
	db.SubscriptionStatusActive:    {db.SubscriptionStatusActive, db.SubscriptionStatusSuspended, db.SubscriptionStatusExpired},
	db.SubscriptionStatusSuspended: {db.SubscriptionStatusExpired},
	db.SubscriptionStatusCancelled: {db.SubscriptionStatusExpired},
	db.SubscriptionStatusExpired:   {},
}

// CanTransition reports whether the billing loop may move a subscription
// from one status to another.
func CanTransition(from, to db.SubscriptionStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error describing a forbidden edge.
func ValidateTransition(from, to db.SubscriptionStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid subscription transition from %s to %s", from, to)
	}
	return nil
}

// StatusAfterFailure applies the failure rule: the status is unchanged while
// the subscription has fewer than SuspensionThreshold recorded consecutive
// failures; a failure on top of a full run suspends it.
func StatusAfterFailure(current db.SubscriptionStatus, priorFailures int32) db.SubscriptionStatus {
	if priorFailures >= SuspensionThreshold {
		return db.SubscriptionStatusSuspended
	}
	return current
}

// Billable reports whether the loop may charge a subscription in this status.
func Billable(status db.SubscriptionStatus) bool {
	return status == db.SubscriptionStatusActive || status == db.SubscriptionStatusTrial
}

// AdvancePeriod computes the next billing period starting at from, using
// calendar month/year arithmetic rather than fixed day counts. Overflow days
// normalize per time.AddDate.
func AdvancePeriod(cycle db.BillingCycle, from time.Time) (periodStart, periodEnd time.Time) {
	periodStart = from
	switch cycle {
	case db.BillingCycleMonthly:
		periodEnd = from.AddDate(0, 1, 0)
	case db.BillingCycleQuarterly:
		periodEnd = from.AddDate(0, 3, 0)
	case db.BillingCycleYearly:
		periodEnd = from.AddDate(1, 0, 0)
	default:
		periodEnd = from.AddDate(0, 1, 0)
	}
	return periodStart, periodEnd
}
