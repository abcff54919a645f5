package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flowbill/flowbill-api/internal/billing"
	"github.com/flowbill/flowbill-api/internal/cache"
	"github.com/flowbill/flowbill-api/internal/db"
)

// ReconciliationRunner runs one billing pass. Satisfied by
// *billing.Processor.
type ReconciliationRunner interface {
	ProcessDueSubscriptions(ctx context.Context) (*billing.RunResult, error)
}

// BillingHandler triggers reconciliation passes and manages plans.
type BillingHandler struct {
	common    *CommonServices
	processor ReconciliationRunner
	plans     *cache.PlanCache
	logger    *zap.Logger
}

func NewBillingHandler(common *CommonServices, processor ReconciliationRunner, plans *cache.PlanCache, logger *zap.Logger) *BillingHandler {
	if logger == nil {
		logger = zap.L()
	}
	return &BillingHandler{
		common:    common,
		processor: processor,
		plans:     plans,
		logger:    logger,
	}
}

// ProcessDue runs one reconciliation pass and returns its summary. The cron
// binary uses the same processor; this endpoint exists for ad-hoc and
// catch-up runs.
func (h *BillingHandler) ProcessDue(c *gin.Context) {
	result, err := h.processor.ProcessDueSubscriptions(c.Request.Context())
	if err != nil {
		sendError(c, http.StatusInternalServerError, "Reconciliation pass failed", err)
		return
	}
	sendSuccess(c, http.StatusOK, result)
}

// GetPlan returns a plan by ID.
func (h *BillingHandler) GetPlan(c *gin.Context) {
	id, err := uuid.Parse(c.Param("plan_id"))
	if err != nil {
		sendError(c, http.StatusBadRequest, "Invalid plan ID", err)
		return
	}

	plan, err := h.common.GetDB().GetPlan(c.Request.Context(), id)
	if err != nil {
		handleDBError(c, err, "Plan not found")
		return
	}
	sendSuccess(c, http.StatusOK, plan)
}

// UpdatePlanRequest is the body of PUT /plans/:plan_id.
type UpdatePlanRequest struct {
	Name         string `json:"name" binding:"required"`
	PriceCents   int64  `json:"price_cents" binding:"min=0"`
	Currency     string `json:"currency" binding:"required,len=3"`
	BillingCycle string `json:"billing_cycle" binding:"required,oneof=monthly quarterly yearly"`
}

// UpdatePlan updates a plan and invalidates its cache entry so the next
// billing pass sees the new price.
func (h *BillingHandler) UpdatePlan(c *gin.Context) {
	id, err := uuid.Parse(c.Param("plan_id"))
	if err != nil {
		sendError(c, http.StatusBadRequest, "Invalid plan ID", err)
		return
	}

	var req UpdatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "Invalid plan update request", err)
		return
	}

	plan, err := h.common.GetDB().UpdatePlan(c.Request.Context(), db.UpdatePlanParams{
		ID:           id,
		Name:         req.Name,
		PriceCents:   req.PriceCents,
		Currency:     req.Currency,
		BillingCycle: db.BillingCycle(req.BillingCycle),
	})
	if err != nil {
		handleDBError(c, err, "Plan not found")
		return
	}

	h.plans.Invalidate(id)
	h.logger.Info("plan updated",
		zap.String("plan_id", id.String()),
		zap.Int64("price_cents", plan.PriceCents))

	sendSuccess(c, http.StatusOK, plan)
}
