package webhook

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/db"
)

// Deliverer sends one event to a set of targets.
type Deliverer interface {
	Deliver(ctx context.Context, event Event, targets []Target) Result
}

// Notifier publishes domain events to every active registered endpoint.
type Notifier struct {
	queries    db.Querier
	dispatcher Deliverer
	logger     *zap.Logger
}

func NewNotifier(queries db.Querier, dispatcher Deliverer, logger *zap.Logger) *Notifier {
	return &Notifier{
		queries:    queries,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Publish marshals payload and delivers it to all active endpoints. A
// delivery failure is not an error here: failed chains are dead-lettered by
// the dispatcher, and the caller's own work must not roll back because a
// receiver was down.
func (n *Notifier) Publish(ctx context.Context, eventType EventType, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	endpoints, err := n.queries.ListActiveWebhookEndpoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to list webhook endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return nil
	}

	targets := make([]Target, len(endpoints))
	for i, endpoint := range endpoints {
		targets[i] = Target{URL: endpoint.URL, Secret: endpoint.Secret}
	}

	result := n.dispatcher.Deliver(ctx, NewEvent(eventType, body), targets)
	if result.FailedCount > 0 {
		n.logger.Warn("event delivery incomplete",
			zap.String("event_type", string(eventType)),
			zap.Int("sent", result.SentCount),
			zap.Int("failed", result.FailedCount))
	}
	return nil
}
