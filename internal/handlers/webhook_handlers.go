package handlers

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/signature"
	"github.com/flowbill/flowbill-api/internal/webhook"
)

const (
	HeaderWebhookSignature = "X-Webhook-Signature"
	HeaderWebhookTimestamp = "X-Webhook-Timestamp"
)

// WebhookHandler exposes ad-hoc event delivery and inbound webhook
// verification.
type WebhookHandler struct {
	common     *CommonServices
	dispatcher webhook.Deliverer
	// inboundSecret verifies webhooks received from upstream providers.
	inboundSecret []byte
	logger        *zap.Logger
}

func NewWebhookHandler(common *CommonServices, dispatcher webhook.Deliverer, inboundSecret string, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &WebhookHandler{
		common:        common,
		dispatcher:    dispatcher,
		inboundSecret: []byte(inboundSecret),
		logger:        logger,
	}
}

// DeliverRequest is the body of POST /webhooks/deliver.
type DeliverRequest struct {
	EventType string           `json:"event_type" binding:"required"`
	Payload   json.RawMessage  `json:"payload" binding:"required"`
	Targets   []DeliveryTarget `json:"targets" binding:"required,min=1,dive"`
}

type DeliveryTarget struct {
	URL    string `json:"url" binding:"required,url"`
	Secret string `json:"secret" binding:"required"`
}

// DeliverEvent signs and delivers an event to the requested targets,
// blocking until every chain has resolved.
func (h *WebhookHandler) DeliverEvent(c *gin.Context) {
	var req DeliverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid delivery request", err)
		return
	}

	eventType, err := webhook.ParseEventType(req.EventType)
	if err != nil {
		sendError(c, http.StatusBadRequest, "Unknown event type", err)
		return
	}

	targets := make([]webhook.Target, len(req.Targets))
	for i, t := range req.Targets {
		targets[i] = webhook.Target{URL: t.URL, Secret: t.Secret}
	}

	result := h.dispatcher.Deliver(c.Request.Context(), webhook.NewEvent(eventType, req.Payload), targets)

	h.logger.Info("ad-hoc delivery finished",
		zap.String("event_type", req.EventType),
		zap.Int("sent", result.SentCount),
		zap.Int("failed", result.FailedCount))

	sendSuccess(c, http.StatusOK, result)
}

// ReceiveWebhook verifies an inbound signed webhook. Verification failures
// terminate the request with 401 and the error code; they are never retried
// here.
func (h *WebhookHandler) ReceiveWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		sendError(c, http.StatusBadRequest, "Failed to read request body", err)
		return
	}

	sig := c.GetHeader(HeaderWebhookSignature)
	timestamp := c.GetHeader(HeaderWebhookTimestamp)

	if err := signature.Verify(payload, sig, timestamp, h.inboundSecret); err != nil {
		code := signature.ErrorCode(err)
		h.logger.Warn("inbound webhook rejected",
			zap.String("code", code),
			zap.String("client_ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: code})
		return
	}

	sendSuccess(c, http.StatusOK, SuccessResponse{Message: "accepted"})
}
