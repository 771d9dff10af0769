package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/sahel-market/api/internal/platform/httpx"
	"github.com/sahel-market/api/internal/services"
)

// Stripe caps event payloads at 64KB; anything larger is not a Stripe event.
const maxWebhookBodySize = 64 * 1024

// WebhookHandlers receives payment gateway callbacks. Signature verification
// is mandatory: an unverifiable payload is rejected before any parsing.
type WebhookHandlers struct {
	signingSecret string
	reconcile     services.ReconciliationService
	logger        func(ctx context.Context, event string, fields map[string]any)
}

// NewWebhookHandlers constructs webhook handlers bound to the Stripe signing secret.
func NewWebhookHandlers(signingSecret string, reconcile services.ReconciliationService, logger func(ctx context.Context, event string, fields map[string]any)) (*WebhookHandlers, error) {
	if strings.TrimSpace(signingSecret) == "" {
		return nil, errors.New("webhook handlers: signing secret is required")
	}
	if reconcile == nil {
		return nil, errors.New("webhook handlers: reconciliation service is required")
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &WebhookHandlers{
		signingSecret: signingSecret,
		reconcile:     reconcile,
		logger:        logger,
	}, nil
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/stripe", h.handleStripe)
}

func (h *WebhookHandlers) handleStripe(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}
	if len(payload) > maxWebhookBodySize {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}

	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), h.signingSecret)
	if err != nil {
		h.logger(ctx, "webhook.signature_rejected", map[string]any{"error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusBadRequest))
		return
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
	default:
		// Unhandled event types are acknowledged so Stripe stops resending.
		h.logger(ctx, "webhook.ignored", map[string]any{"type": string(event.Type)})
		writeJSONResponse(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed payment intent payload", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(intent.ID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "payment intent id is missing", http.StatusBadRequest))
		return
	}

	result, err := h.reconcile.Reconcile(ctx, services.ReconcileCommand{
		IntentID:      intent.ID,
		GatewayStatus: string(intent.Status),
		Source:        "webhook",
	})
	if err != nil {
		// Unknown intents are acknowledged: this deployment is not the
		// destination for that event and a retry will never succeed.
		if errors.Is(err, services.ErrReconcileUnknownIntent) {
			h.logger(ctx, "webhook.unknown_intent", map[string]any{"intentId": intent.ID})
			writeJSONResponse(w, http.StatusOK, map[string]bool{"received": true})
			return
		}
		// Anything else returns 5xx so Stripe redelivers.
		h.logger(ctx, "webhook.reconcile_failed", map[string]any{
			"intentId": intent.ID,
			"type":     string(event.Type),
			"error":    err.Error(),
		})
		httpx.WriteError(ctx, w, httpx.NewError("reconcile_failed", "failed to process event; retry later", http.StatusInternalServerError))
		return
	}

	h.logger(ctx, "webhook.processed", map[string]any{
		"intentId":         intent.ID,
		"type":             string(event.Type),
		"processed":        result.Processed,
		"alreadyProcessed": result.AlreadyProcessed,
	})
	writeJSONResponse(w, http.StatusOK, map[string]bool{"received": true})
}
