package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sahel-market/api/internal/platform/httpx"
	"github.com/sahel-market/api/internal/services"
)

const maxInternalBodySize = 4 * 1024

// InternalHandlers exposes operator-only endpoints. The HMAC middleware is
// applied by the router on the whole /internal group.
type InternalHandlers struct {
	reconcile services.ReconciliationService
}

// NewInternalHandlers constructs the internal endpoint handlers.
func NewInternalHandlers(reconcile services.ReconciliationService) *InternalHandlers {
	return &InternalHandlers{reconcile: reconcile}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/reconcile", h.reconcileIntent)
}

type internalReconcileRequest struct {
	IntentID string `json:"intentId"`
}

// reconcileIntent replays reconciliation for one intent, for operators
// repairing a missed or dead-lettered webhook. Replays of settled intents
// are no-ops.
func (h *InternalHandlers) reconcileIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.reconcile == nil {
		httpx.WriteError(ctx, w, httpx.NewError("reconcile_unavailable", "reconciliation is unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxInternalBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req internalReconcileRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}
	intentID := strings.TrimSpace(req.IntentID)
	if intentID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "intentId is required", http.StatusBadRequest))
		return
	}

	result, err := h.reconcile.Reconcile(ctx, services.ReconcileCommand{
		IntentID: intentID,
		Source:   "internal",
	})
	if err != nil {
		writeReconcileError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, confirmPaymentResponse{
		IntentID:         result.IntentID,
		GatewayStatus:    result.GatewayStatus,
		Processed:        result.Processed,
		AlreadyProcessed: result.AlreadyProcessed,
		OrderIDs:         result.OrderIDs,
		OrderNumbers:     result.OrderNumbers,
	})
}
