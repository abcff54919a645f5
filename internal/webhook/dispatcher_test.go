package webhook_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/webhook"
)

// scriptedExecutor returns canned outcomes per target URL, in order.
type scriptedExecutor struct {
	mu       sync.Mutex
	script   map[string][]webhook.Outcome
	attempts map[string]int
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		script:   make(map[string][]webhook.Outcome),
		attempts: make(map[string]int),
	}
}

func (s *scriptedExecutor) on(url string, outcomes ...webhook.Outcome) {
	s.script[url] = outcomes
}

func (s *scriptedExecutor) Attempt(_ context.Context, _ webhook.Event, target webhook.Target, _ string) webhook.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.attempts[target.URL]
	s.attempts[target.URL]++
	outcomes := s.script[target.URL]
	if i >= len(outcomes) {
		return outcomes[len(outcomes)-1]
	}
	return outcomes[i]
}

// memorySink collects dead letters in memory.
type memorySink struct {
	mu      sync.Mutex
	letters []webhook.DeadLetter
}

func (s *memorySink) Record(_ context.Context, letter webhook.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.letters = append(s.letters, letter)
	return nil
}

func zeroDelayPolicy() webhook.RetryPolicy {
	return webhook.RetryPolicy{Type: webhook.PolicyExponential, BaseDelay: 0, MaxRetries: 3}
}

func retryable(status int) webhook.Outcome {
	return webhook.Outcome{Status: webhook.OutcomeRetryableFailure, HTTPStatus: status, Reason: "received HTTP 500"}
}

func permanent(status int) webhook.Outcome {
	return webhook.Outcome{Status: webhook.OutcomePermanentFailure, HTTPStatus: status, Reason: "received HTTP 400"}
}

func success() webhook.Outcome {
	return webhook.Outcome{Status: webhook.OutcomeSuccess, HTTPStatus: 200}
}

func TestDispatcherExhaustionDeadLetters(t *testing.T) {
	executor := newScriptedExecutor()
	executor.on("https://a.example.com/hook", retryable(500))
	sink := &memorySink{}

	d := webhook.NewDispatcher(executor, zeroDelayPolicy(), sink, zap.NewNop())
	event := webhook.NewEvent(webhook.EventBillingFailed, json.RawMessage(`{"reason":"card_declined"}`))
	result := d.Deliver(context.Background(), event, []webhook.Target{{URL: "https://a.example.com/hook", Secret: "s"}})

	assert.False(t, result.Success)
	assert.Equal(t, 0, result.SentCount)
	assert.Equal(t, 1, result.FailedCount)

	require.Len(t, result.Results, 1)
	tr := result.Results[0]
	assert.Len(t, tr.Attempts, 4, "1 initial try + 3 retries")
	assert.Equal(t, 3, tr.RetryCount)

	require.Len(t, sink.letters, 1)
	letter := sink.letters[0]
	assert.Equal(t, webhook.EventBillingFailed, letter.EventType)
	assert.Equal(t, "https://a.example.com/hook", letter.TargetURL)
	assert.Equal(t, 3, letter.RetryCount)
	assert.Equal(t, tr.RequestID, letter.RequestID)
}

func TestDispatcherPermanentFailureShortCircuits(t *testing.T) {
	executor := newScriptedExecutor()
	executor.on("https://a.example.com/hook", permanent(400))
	sink := &memorySink{}

	d := webhook.NewDispatcher(executor, zeroDelayPolicy(), sink, zap.NewNop())
	result := d.Deliver(context.Background(), testEvent(), []webhook.Target{{URL: "https://a.example.com/hook", Secret: "s"}})

	require.Len(t, result.Results, 1)
	assert.Len(t, result.Results[0].Attempts, 1, "permanent failure must not be retried")

	require.Len(t, sink.letters, 1)
	assert.Equal(t, 0, sink.letters[0].RetryCount)
}

func TestDispatcherSucceedsMidChain(t *testing.T) {
	executor := newScriptedExecutor()
	executor.on("https://a.example.com/hook", retryable(503), retryable(503), success())
	sink := &memorySink{}

	d := webhook.NewDispatcher(executor, zeroDelayPolicy(), sink, zap.NewNop())
	result := d.Deliver(context.Background(), testEvent(), []webhook.Target{{URL: "https://a.example.com/hook", Secret: "s"}})

	assert.True(t, result.Success)
	require.Len(t, result.Results, 1)
	tr := result.Results[0]
	assert.True(t, tr.Success)
	assert.Len(t, tr.Attempts, 3)
	assert.Equal(t, 2, tr.RetryCount)
	assert.Equal(t, 200, tr.StatusCode)
	assert.Empty(t, sink.letters, "successful chain must not dead-letter")
}

func TestDispatcherTargetsAreIndependent(t *testing.T) {
	executor := newScriptedExecutor()
	executor.on("https://ok.example.com/hook", success())
	executor.on("https://down.example.com/hook", retryable(500))
	sink := &memorySink{}

	d := webhook.NewDispatcher(executor, zeroDelayPolicy(), sink, zap.NewNop())
	result := d.Deliver(context.Background(), testEvent(), []webhook.Target{
		{URL: "https://ok.example.com/hook", Secret: "s1"},
		{URL: "https://down.example.com/hook", Secret: "s2"},
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.SentCount)
	assert.Equal(t, 1, result.FailedCount)

	byURL := make(map[string]webhook.TargetResult)
	for _, tr := range result.Results {
		byURL[tr.TargetURL] = tr
	}
	assert.True(t, byURL["https://ok.example.com/hook"].Success)
	assert.False(t, byURL["https://down.example.com/hook"].Success)
	assert.NotEqual(t, byURL["https://ok.example.com/hook"].RequestID,
		byURL["https://down.example.com/hook"].RequestID,
		"each chain carries its own request id")

	require.Len(t, sink.letters, 1)
	assert.Equal(t, "https://down.example.com/hook", sink.letters[0].TargetURL)
}

func TestDispatcherCancelledDuringBackoff(t *testing.T) {
	executor := newScriptedExecutor()
	executor.on("https://a.example.com/hook", retryable(500))
	sink := &memorySink{}

	policy := webhook.RetryPolicy{Type: webhook.PolicyExponential, BaseDelay: time.Minute, MaxRetries: 3}
	d := webhook.NewDispatcher(executor, policy, sink, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	result := d.Deliver(ctx, testEvent(), []webhook.Target{{URL: "https://a.example.com/hook", Secret: "s"}})

	require.Len(t, result.Results, 1)
	tr := result.Results[0]
	assert.False(t, tr.Success)
	assert.Len(t, tr.Attempts, 1, "cancelled chain records the attempt it made")
	assert.Empty(t, sink.letters, "cancelled chains are not dead-lettered; retriggering resumes delivery")
}
