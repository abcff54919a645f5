package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AttemptExecutor performs one delivery attempt. Satisfied by *Executor.
type AttemptExecutor interface {
	Attempt(ctx context.Context, event Event, target Target, requestID string) Outcome
}

// Attempt is the record of one try within a delivery chain.
type Attempt struct {
	Number     int           `json:"attempt_number"`
	Status     OutcomeStatus `json:"status"`
	HTTPStatus int           `json:"http_status,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}

// TargetResult summarizes one delivery chain.
type TargetResult struct {
	TargetURL  string    `json:"target_url"`
	RequestID  string    `json:"request_id"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
	Error      string    `json:"error,omitempty"`
	RetryCount int       `json:"retry_count"`
	Attempts   []Attempt `json:"-"`
}

// Result is the delivery summary for one event across all targets.
type Result struct {
	Success     bool           `json:"success"`
	SentCount   int            `json:"sent_count"`
	FailedCount int            `json:"failed_count"`
	Results     []TargetResult `json:"results"`
}

// Dispatcher fans an event out to its targets and drives each chain through
// the retry policy. Chains for different targets run concurrently; attempts
// within one chain are strictly sequential.
type Dispatcher struct {
	executor AttemptExecutor
	policy   RetryPolicy
	sink     Sink
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(executor AttemptExecutor, policy RetryPolicy, sink Sink, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		executor: executor,
		policy:   policy,
		sink:     sink,
		logger:   logger,
	}
}

// Deliver sends the event to every target and blocks until all chains have
// resolved. One target's failure never blocks another's chain.
func (d *Dispatcher) Deliver(ctx context.Context, event Event, targets []Target) Result {
	results := make([]TargetResult, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target Target) {
			defer wg.Done()
			results[i] = d.deliverChain(ctx, event, target)
		}(i, target)
	}
	wg.Wait()

	result := Result{Results: results}
	for _, tr := range results {
		if tr.Success {
			result.SentCount++
		} else {
			result.FailedCount++
		}
	}
	result.Success = result.FailedCount == 0

	d.logger.Info("event delivery finished",
		zap.String("event_type", string(event.Type)),
		zap.Int("sent", result.SentCount),
		zap.Int("failed", result.FailedCount))

	return result
}

// deliverChain runs one (event, target) chain to resolution. The request ID
// is stable across the chain's attempts so the dead-letter write and receiver
// deduplication both key off it.
func (d *Dispatcher) deliverChain(ctx context.Context, event Event, target Target) TargetResult {
	requestID := uuid.NewString()
	result := TargetResult{
		TargetURL: target.URL,
		RequestID: requestID,
	}

	var last Outcome
	for attempt := 0; attempt < d.policy.MaxAttempts(); attempt++ {
		started := time.Now()
		last = d.executor.Attempt(ctx, event, target, requestID)
		result.Attempts = append(result.Attempts, Attempt{
			Number:     attempt,
			Status:     last.Status,
			HTTPStatus: last.HTTPStatus,
			Error:      last.Reason,
			StartedAt:  started,
			FinishedAt: time.Now(),
		})
		result.RetryCount = attempt
		result.StatusCode = last.HTTPStatus

		if last.Success() {
			result.Success = true
			return result
		}

		d.logger.Warn("delivery attempt failed",
			zap.String("event_type", string(event.Type)),
			zap.String("target_url", target.URL),
			zap.String("request_id", requestID),
			zap.Int("attempt", attempt),
			zap.String("status", string(last.Status)),
			zap.String("reason", last.Reason))

		if !last.Retryable() {
			break
		}

		// A cancelled context already surfaced as a recorded retryable
		// failure; stop the chain without dead-lettering so an external
		// retrigger can resume delivery.
		if ctx.Err() != nil {
			result.Error = last.Reason
			return result
		}

		if attempt == d.policy.MaxAttempts()-1 {
			break
		}
		select {
		case <-time.After(d.policy.Delay(attempt)):
		case <-ctx.Done():
			result.Error = "delivery cancelled during backoff"
			return result
		}
	}

	result.Error = last.Reason
	d.deadLetter(ctx, event, target, result)
	return result
}

func (d *Dispatcher) deadLetter(ctx context.Context, event Event, target Target, result TargetResult) {
	letter := DeadLetter{
		EventType:    event.Type,
		Payload:      event.Payload,
		TargetURL:    target.URL,
		ErrorMessage: result.Error,
		RetryCount:   result.RetryCount,
		RequestID:    result.RequestID,
	}
	if err := d.sink.Record(ctx, letter); err != nil {
		d.logger.Error("failed to record dead letter",
			zap.String("request_id", result.RequestID),
			zap.String("target_url", target.URL),
			zap.Error(err))
	}
}
