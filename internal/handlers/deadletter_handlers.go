package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/db"
	"github.com/flowbill/flowbill-api/internal/webhook"
)

// DeadLetterHandler exposes the dead-letter queue for operator inspection
// and manual replay. There is no automatic re-queue: replay is always an
// explicit operator action.
type DeadLetterHandler struct {
	common     *CommonServices
	dispatcher webhook.Deliverer
	logger     *zap.Logger
}

func NewDeadLetterHandler(common *CommonServices, dispatcher webhook.Deliverer, logger *zap.Logger) *DeadLetterHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &DeadLetterHandler{
		common:     common,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// ListDeadLetters returns dead-letter entries, newest first.
func (h *DeadLetterHandler) ListDeadLetters(c *gin.Context) {
	limit, offset := validatePaginationParams(c)

	entries, err := h.common.GetDB().ListDeadLetterEntries(c.Request.Context(), db.ListDeadLetterEntriesParams{
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Failed to list dead letters", err)
		return
	}

	sendSuccess(c, http.StatusOK, gin.H{
		"object": "list",
		"data":   entries,
	})
}

// GetDeadLetter returns a single dead-letter entry.
func (h *DeadLetterHandler) GetDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		sendError(c, http.StatusBadRequest, "Invalid dead letter ID", err)
		return
	}

	entry, err := h.common.GetDB().GetDeadLetterEntry(c.Request.Context(), id)
	if err != nil {
		handleDBError(c, err, "Dead letter not found")
		return
	}

	sendSuccess(c, http.StatusOK, entry)
}

// ReplayDeadLetter re-submits a dead-lettered event to its original target
// as a fresh delivery chain with a new request ID. The entry itself is
// immutable; a replay that fails again produces a new entry.
func (h *DeadLetterHandler) ReplayDeadLetter(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		sendError(c, http.StatusBadRequest, "Invalid dead letter ID", err)
		return
	}
	ctx := c.Request.Context()

	entry, err := h.common.GetDB().GetDeadLetterEntry(ctx, id)
	if err != nil {
		handleDBError(c, err, "Dead letter not found")
		return
	}

	eventType, err := webhook.ParseEventType(entry.EventType)
	if err != nil {
		sendError(c, http.StatusUnprocessableEntity, "Dead letter has unknown event type", err)
		return
	}

	target, err := h.resolveTarget(c, entry.TargetURL)
	if err != nil {
		sendError(c, http.StatusUnprocessableEntity, "No registered endpoint for target URL", err)
		return
	}

	result := h.dispatcher.Deliver(ctx, webhook.NewEvent(eventType, entry.Payload), []webhook.Target{target})

	h.logger.Info("dead letter replayed",
		zap.String("dead_letter_id", id.String()),
		zap.String("target_url", entry.TargetURL),
		zap.Bool("success", result.Success))

	sendSuccess(c, http.StatusOK, result)
}

// resolveTarget finds the signing secret for a dead-lettered target URL
// among the registered endpoints.
func (h *DeadLetterHandler) resolveTarget(c *gin.Context, targetURL string) (webhook.Target, error) {
	endpoints, err := h.common.GetDB().ListActiveWebhookEndpoints(c.Request.Context())
	if err != nil {
		return webhook.Target{}, err
	}
	for _, endpoint := range endpoints {
		if endpoint.URL == targetURL {
			return webhook.Target{URL: endpoint.URL, Secret: endpoint.Secret}, nil
		}
	}
	return webhook.Target{}, fmt.Errorf("no active endpoint registered for %s", targetURL)
}
