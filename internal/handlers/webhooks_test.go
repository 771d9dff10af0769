package handlers

import (
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"

	"github.com/sahel-market/api/internal/services"
)

const testSigningSecret = "whsec_test_secret"

func newWebhookRouter(t *testing.T, reconcile services.ReconciliationService) http.Handler {
	t.Helper()
	handlers, err := NewWebhookHandlers(testSigningSecret, reconcile, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := chi.NewRouter()
	r.Route("/webhooks", handlers.Routes)
	return r
}

func stripeEventPayload(eventType, intentID, status string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": "evt_1",
		"object": "event",
		"api_version": %q,
		"type": %q,
		"data": {"object": {"id": %q, "object": "payment_intent", "status": %q}}
	}`, stripe.APIVersion, eventType, intentID, status))
}

func signedWebhookRequest(payload []byte) *http.Request {
	now := time.Now()
	signature := webhook.ComputeSignature(now, payload, testSigningSecret)
	req := authedRequest(http.MethodPost, "/webhooks/stripe", payload, "")
	req.Header.Set("Stripe-Signature", fmt.Sprintf("t=%d,v1=%s", now.Unix(), hex.EncodeToString(signature)))
	return req
}

func TestWebhookHandlersRejectUnsignedPayloads(t *testing.T) {
	reconcile := &fakeReconciliationService{}
	router := newWebhookRouter(t, reconcile)

	req := authedRequest(http.MethodPost, "/webhooks/stripe",
		stripeEventPayload("payment_intent.succeeded", "pi_1", "succeeded"), "")
	req.Header.Set("Stripe-Signature", "t=1,v1=deadbeef")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(reconcile.cmds) != 0 {
		t.Fatalf("an unverified payload must never reach reconciliation")
	}
}

func TestWebhookHandlersProcessSucceededIntent(t *testing.T) {
	reconcile := &fakeReconciliationService{result: services.ReconcileResult{IntentID: "pi_1", Processed: 2}}
	router := newWebhookRouter(t, reconcile)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedWebhookRequest(stripeEventPayload("payment_intent.succeeded", "pi_1", "succeeded")))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(reconcile.cmds) != 1 {
		t.Fatalf("expected one reconcile run, got %d", len(reconcile.cmds))
	}
	cmd := reconcile.cmds[0]
	if cmd.IntentID != "pi_1" || cmd.Source != "webhook" || cmd.GatewayStatus != "succeeded" {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestWebhookHandlersAcknowledgeUnhandledEventTypes(t *testing.T) {
	reconcile := &fakeReconciliationService{}
	router := newWebhookRouter(t, reconcile)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedWebhookRequest(stripeEventPayload("charge.refunded", "pi_1", "succeeded")))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(reconcile.cmds) != 0 {
		t.Fatalf("unhandled event types must not trigger reconciliation")
	}
}

func TestWebhookHandlersAcknowledgeUnknownIntents(t *testing.T) {
	reconcile := &fakeReconciliationService{err: services.ErrReconcileUnknownIntent}
	router := newWebhookRouter(t, reconcile)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedWebhookRequest(stripeEventPayload("payment_intent.succeeded", "pi_unknown", "succeeded")))

	// A retry would never succeed, so the event is acknowledged.
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestWebhookHandlersRetryableFailuresReturn5xx(t *testing.T) {
	reconcile := &fakeReconciliationService{err: services.ErrReconcileUnavailable}
	router := newWebhookRouter(t, reconcile)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, signedWebhookRequest(stripeEventPayload("payment_intent.succeeded", "pi_1", "succeeded")))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 so the gateway redelivers, got %d", rec.Code)
	}
}

func TestNewWebhookHandlersRequiresSecret(t *testing.T) {
	if _, err := NewWebhookHandlers("  ", &fakeReconciliationService{}, nil); err == nil {
		t.Fatalf("expected an error for a blank signing secret")
	}
	if _, err := NewWebhookHandlers(testSigningSecret, nil, nil); err == nil {
		t.Fatalf("expected an error for a missing reconciliation service")
	}
}
