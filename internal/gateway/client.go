package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/logger"
)

// RetryConfig controls how charge requests are retried. Only transport
// errors and retryable status codes (5xx, 429) are retried; a declined
// charge is a final answer from the gateway and is never replayed.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultRetryConfig returns the retry configuration used in production.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      3,
		InitialInterval: 1000 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
	}
}

// Client talks to the upstream payment gateway.
type Client struct {
	baseURL     string
	apiKey      string
	httpClient  *http.Client
	retryConfig *RetryConfig
}

type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRetryConfig overrides the default retry configuration.
func WithRetryConfig(config *RetryConfig) ClientOption {
	return func(c *Client) {
		c.retryConfig = config
	}
}

func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		retryConfig: DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ChargeRequest describes one billing charge against a stored payment method.
type ChargeRequest struct {
	OrderID        string `json:"order_id"`
	SubscriptionID string `json:"subscription_id"`
	CustomerID     string `json:"customer_id"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

// ChargeResult is the gateway's verdict on a charge. Success carries the
// gateway payment key and approval time; a decline carries the gateway's
// error code and message instead.
type ChargeResult struct {
	Success    bool      `json:"success"`
	PaymentKey string    `json:"payment_key,omitempty"`
	ApprovedAt time.Time `json:"approved_at,omitempty"`
	Code       string    `json:"code,omitempty"`
	Message    string    `json:"message,omitempty"`
}

type chargeResponse struct {
	PaymentKey string    `json:"payment_key"`
	ApprovedAt time.Time `json:"approved_at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Charge submits a charge for one billing period. A declined charge is not
// an error: the result carries the decline code and Charge returns nil. An
// error is returned only when no verdict could be obtained from the gateway.
func (c *Client) Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal charge request")
	}

	var result *ChargeResult

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/charges", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "failed to create charge request"))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		httpReq.Header.Set("Idempotency-Key", req.OrderID)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return errors.Wrap(err, "charge request failed")
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return errors.Wrap(err, "failed to read charge response")
		}

		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("retryable status code: %d", resp.StatusCode)
		}

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			var ok chargeResponse
			if err := json.Unmarshal(respBody, &ok); err != nil {
				return backoff.Permanent(errors.Wrap(err, "failed to parse charge response"))
			}
			result = &ChargeResult{
				Success:    true,
				PaymentKey: ok.PaymentKey,
				ApprovedAt: ok.ApprovedAt,
			}
			return nil
		}

		// Any other 4xx is a decline with a structured reason.
		var declined errorResponse
		if err := json.Unmarshal(respBody, &declined); err != nil {
			return backoff.Permanent(fmt.Errorf("charge declined with status %d: %s", resp.StatusCode, string(respBody)))
		}
		result = &ChargeResult{
			Success: false,
			Code:    declined.Code,
			Message: declined.Message,
		}
		return nil
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.retryConfig.InitialInterval
	expBackoff.MaxInterval = c.retryConfig.MaxInterval
	expBackoff.Multiplier = c.retryConfig.Multiplier
	expBackoff.MaxElapsedTime = 0

	err = backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(expBackoff, uint64(c.retryConfig.MaxRetries)), ctx))
	if err != nil {
		logger.Error("charge failed after retries",
			zap.String("order_id", req.OrderID),
			zap.String("subscription_id", req.SubscriptionID),
			zap.Error(err))
		return nil, errors.Wrap(err, "failed to charge subscription")
	}

	return result, nil
}
