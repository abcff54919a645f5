package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

func testRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
		Multiplier:      2.0,
	}
}

func chargeRequest() ChargeRequest {
	return ChargeRequest{
		OrderID:        "ord_2024_0001",
		SubscriptionID: "sub_123",
		CustomerID:     "cus_456",
		Amount:         2900,
		Currency:       "USD",
	}
}

func TestChargeSuccess(t *testing.T) {
	var gotAuth, gotIdempotency string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotIdempotency = r.Header.Get("Idempotency-Key")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/charges", r.URL.Path)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"payment_key":"pay_abc123","approved_at":"2024-06-01T12:00:00Z"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_key", WithRetryConfig(testRetryConfig()))

	result, err := client.Charge(context.Background(), chargeRequest())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Success)
	assert.Equal(t, "pay_abc123", result.PaymentKey)
	assert.Equal(t, time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC), result.ApprovedAt)
	assert.Equal(t, "Bearer sk_test_key", gotAuth)
	assert.Equal(t, "ord_2024_0001", gotIdempotency)
}

func TestChargeDeclinedIsNotAnError(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = w.Write([]byte(`{"code":"card_declined","message":"insufficient funds"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_key", WithRetryConfig(testRetryConfig()))

	result, err := client.Charge(context.Background(), chargeRequest())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.False(t, result.Success)
	assert.Equal(t, "card_declined", result.Code)
	assert.Equal(t, "insufficient funds", result.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a decline must not be retried")
}

func TestChargeRetriesServerErrors(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n <= 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payment_key":"pay_retry","approved_at":"2024-06-01T12:00:00Z"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_key", WithRetryConfig(testRetryConfig()))

	result, err := client.Charge(context.Background(), chargeRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "pay_retry", result.PaymentKey)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestChargeRetriesRateLimit(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"payment_key":"pay_429","approved_at":"2024-06-01T12:00:00Z"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_key", WithRetryConfig(testRetryConfig()))

	result, err := client.Charge(context.Background(), chargeRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestChargeExhaustsRetries(t *testing.T) {
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, "sk_test_key", WithRetryConfig(testRetryConfig()))

	result, err := client.Charge(context.Background(), chargeRequest())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Equal(t, int32(4), atomic.LoadInt32(&calls), "initial attempt plus three retries")
}

func TestChargeNetworkErrorIsRetried(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(server.URL, "sk_test_key", WithRetryConfig(testRetryConfig()))

	result, err := client.Charge(context.Background(), chargeRequest())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), "failed to charge subscription")
}
