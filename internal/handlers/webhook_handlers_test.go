package handlers

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/logger"
	"github.com/flowbill/flowbill-api/internal/signature"
	"github.com/flowbill/flowbill-api/internal/webhook"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Log = zap.NewNop()
	os.Exit(m.Run())
}

type stubDeliverer struct {
	lastEvent   webhook.Event
	lastTargets []webhook.Target
	result      webhook.Result
}

func (d *stubDeliverer) Deliver(ctx context.Context, event webhook.Event, targets []webhook.Target) webhook.Result {
	d.lastEvent = event
	d.lastTargets = targets
	return d.result
}

func newWebhookRouter(deliverer webhook.Deliverer, secret string) *gin.Engine {
	router := gin.New()
	handler := NewWebhookHandler(NewCommonServices(nil, zap.NewNop()), deliverer, secret, zap.NewNop())
	router.POST("/webhooks/deliver", handler.DeliverEvent)
	router.POST("/webhooks/inbound", handler.ReceiveWebhook)
	return router
}

func TestDeliverEvent(t *testing.T) {
	deliverer := &stubDeliverer{result: webhook.Result{
		Success:   true,
		SentCount: 1,
		Results: []webhook.TargetResult{
			{TargetURL: "https://receiver.example.com/hooks", Success: true, StatusCode: 200, RetryCount: 0},
		},
	}}
	router := newWebhookRouter(deliverer, "secret")

	body := `{
		"event_type": "billing.success",
		"payload": {"subscription_id": "sub_1"},
		"targets": [{"url": "https://receiver.example.com/hooks", "secret": "tgt-secret"}]
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/deliver", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"success": true,
		"sent_count": 1,
		"failed_count": 0,
		"results": [{"target_url": "https://receiver.example.com/hooks", "request_id": "", "success": true, "status_code": 200, "retry_count": 0}]
	}`, w.Body.String())

	assert.Equal(t, webhook.EventBillingSuccess, deliverer.lastEvent.Type)
	require.Len(t, deliverer.lastTargets, 1)
	assert.Equal(t, "tgt-secret", deliverer.lastTargets[0].Secret)
}

func TestDeliverEventRejectsUnknownEventType(t *testing.T) {
	router := newWebhookRouter(&stubDeliverer{}, "secret")

	body := `{
		"event_type": "account.pwned",
		"payload": {},
		"targets": [{"url": "https://receiver.example.com/hooks", "secret": "s"}]
	}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/deliver", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeliverEventRequiresTargets(t *testing.T) {
	router := newWebhookRouter(&stubDeliverer{}, "secret")

	body := `{"event_type": "billing.success", "payload": {}, "targets": []}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/deliver", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReceiveWebhookAcceptsValidSignature(t *testing.T) {
	secret := "inbound-secret"
	router := newWebhookRouter(&stubDeliverer{}, secret)

	payload := []byte(`{"event":"external.update"}`)
	ts := time.Now().Unix()
	sig := signature.Sign(payload, []byte(secret), ts)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", bytes.NewBuffer(payload))
	req.Header.Set(HeaderWebhookSignature, sig)
	req.Header.Set(HeaderWebhookTimestamp, fmt.Sprintf("%d", ts))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReceiveWebhookHeaderNamesAreCaseInsensitive(t *testing.T) {
	secret := "inbound-secret"
	router := newWebhookRouter(&stubDeliverer{}, secret)

	payload := []byte(`{"event":"external.update"}`)
	ts := time.Now().Unix()
	sig := signature.Sign(payload, []byte(secret), ts)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", bytes.NewBuffer(payload))
	req.Header.Set("x-webhook-signature", sig)
	req.Header.Set("X-WEBHOOK-TIMESTAMP", fmt.Sprintf("%d", ts))
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReceiveWebhookRejections(t *testing.T) {
	secret := "inbound-secret"
	payload := []byte(`{"event":"external.update"}`)
	now := time.Now().Unix()

	tests := []struct {
		name      string
		signature string
		timestamp string
		wantCode  string
	}{
		{
			name:      "missing signature",
			signature: "",
			timestamp: fmt.Sprintf("%d", now),
			wantCode:  "missing_signature",
		},
		{
			name:      "stale timestamp",
			signature: signature.Sign(payload, []byte(secret), now-600),
			timestamp: fmt.Sprintf("%d", now-600),
			wantCode:  "timestamp_expired",
		},
		{
			name:      "wrong secret",
			signature: signature.Sign(payload, []byte("other-secret"), now),
			timestamp: fmt.Sprintf("%d", now),
			wantCode:  "invalid_signature",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newWebhookRouter(&stubDeliverer{}, secret)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/webhooks/inbound", bytes.NewBuffer(payload))
			if tt.signature != "" {
				req.Header.Set(HeaderWebhookSignature, tt.signature)
			}
			req.Header.Set(HeaderWebhookTimestamp, tt.timestamp)
			router.ServeHTTP(w, req)

			require.Equal(t, http.StatusUnauthorized, w.Code)
			assert.JSONEq(t, fmt.Sprintf(`{"error": %q}`, tt.wantCode), w.Body.String())
		})
	}
}
