package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// UserAgent identifies outbound delivery requests.
const UserAgent = "flowbill/1.0"

// Outbound request headers.
const (
	HeaderSignature = "X-Signature"
	HeaderEventType = "X-Event-Type"
	HeaderRequestID = "X-Request-Id"
)

// DefaultAttemptTimeout is the hard ceiling on one delivery attempt.
const DefaultAttemptTimeout = 10 * time.Second

// OutcomeStatus classifies the result of a single delivery attempt.
type OutcomeStatus string

const (
	OutcomeSuccess          OutcomeStatus = "success"
	OutcomeRetryableFailure OutcomeStatus = "retryable_failure"
	OutcomePermanentFailure OutcomeStatus = "permanent_failure"
)

// Outcome is the classified result of one HTTP POST to one target.
type Outcome struct {
	Status     OutcomeStatus
	HTTPStatus int
	Reason     string
}

// Success reports whether the attempt delivered.
func (o Outcome) Success() bool {
	return o.Status == OutcomeSuccess
}

// Retryable reports whether a further attempt could help.
func (o Outcome) Retryable() bool {
	return o.Status == OutcomeRetryableFailure
}

// Signer produces the delivery signature header value for a payload.
type Signer func(payload, secret []byte) string

// Executor performs one signed HTTP POST to one target URL and classifies
// the result. It carries no local state beyond the shared HTTP client; all
// retry decisions live in the scheduler.
type Executor struct {
	client *http.Client
	sign   Signer
}

// NewExecutor creates an Executor with the given attempt timeout. A zero
// timeout uses DefaultAttemptTimeout.
func NewExecutor(timeout time.Duration, sign Signer) *Executor {
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return &Executor{
		client: &http.Client{Timeout: timeout},
		sign:   sign,
	}
}

// Attempt sends the event to the target once. Classification:
// 2xx is success; 5xx, 429 and transport errors are retryable; any other
// status is permanent. A context cancellation mid-flight is retryable so the
// attempt is recorded rather than silently dropped.
func (e *Executor) Attempt(ctx context.Context, event Event, target Target, requestID string) Outcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(event.Payload))
	if err != nil {
		return Outcome{
			Status: OutcomePermanentFailure,
			Reason: fmt.Sprintf("invalid request: %v", err),
		}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set(HeaderSignature, e.sign(event.Payload, []byte(target.Secret)))
	req.Header.Set(HeaderEventType, string(event.Type))
	req.Header.Set(HeaderRequestID, requestID)

	resp, err := e.client.Do(req)
	if err != nil {
		// Connection refused, DNS failure, timeout, cancelled context.
		return Outcome{
			Status: OutcomeRetryableFailure,
			Reason: fmt.Sprintf("request failed: %v", err),
		}
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Outcome{Status: OutcomeSuccess, HTTPStatus: resp.StatusCode}
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return Outcome{
			Status:     OutcomeRetryableFailure,
			HTTPStatus: resp.StatusCode,
			Reason:     fmt.Sprintf("received HTTP %d", resp.StatusCode),
		}
	default:
		// Remaining 4xx: the receiver rejected the request; retrying cannot help.
		return Outcome{
			Status:     OutcomePermanentFailure,
			HTTPStatus: resp.StatusCode,
			Reason:     fmt.Sprintf("received HTTP %d", resp.StatusCode),
		}
	}
}
