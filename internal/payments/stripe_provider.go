package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"

	"github.com/sahel-market/api/internal/platform/textutil"
)

// StripeLogger defines the logging contract for Stripe provider operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	refunds stripeRefundAPI
}

// StripeProviderConfig configures the StripeProvider.
type StripeProviderConfig struct {
	APIKey    string
	AccountID string
	Backends  *stripe.Backends
	Logger    StripeLogger
	Clock     func() time.Time
	Clients   *stripeClients
}

// StripeProvider implements the Provider interface using Stripe Payment Intents.
type StripeProvider struct {
	api     stripeClients
	account string
	clock   func() time.Time
	logger  StripeLogger
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			refunds: sc.Refunds,
		}
	}

	if clients.intents == nil || clients.refunds == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &StripeProvider{
		api:     clients,
		account: strings.TrimSpace(cfg.AccountID),
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// CreateIntent creates a Stripe Payment Intent with the currency-correct
// amount encoding. Creation is never retried here; callers pass an
// idempotency key instead to guard against double-charging.
func (p *StripeProvider) CreateIntent(ctx context.Context, req CreateIntentRequest) (IntentHandle, error) {
	if p == nil {
		return IntentHandle{}, errors.New("stripe: provider is nil")
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if err := ValidateAmount(req.Amount, currency); err != nil {
		return IntentHandle{}, err
	}
	gatewayAmount, err := GatewayAmount(req.Amount, currency)
	if err != nil {
		return IntentHandle{}, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(gatewayAmount),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if md := textutil.NormalizeStringMap(req.Metadata); len(md) > 0 {
		params.Metadata = md
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		return IntentHandle{}, translateStripeError("create payment intent", err)
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"amount":        intent.Amount,
		"currency":      intent.Currency,
	})

	createdAt := p.clock()
	if intent.Created != 0 {
		createdAt = time.Unix(intent.Created, 0).UTC()
	}

	return IntentHandle{
		ID:            intent.ID,
		Provider:      "stripe",
		ClientSecret:  intent.ClientSecret,
		Status:        stripeIntentStatus(intent),
		GatewayAmount: intent.Amount,
		Currency:      currency,
		CreatedAt:     createdAt,
	}, nil
}

// ConfirmIntent confirms a Stripe Payment Intent server-side.
func (p *StripeProvider) ConfirmIntent(ctx context.Context, req ConfirmRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if method := strings.TrimSpace(req.PaymentMethodID); method != "" {
		params.PaymentMethod = stripe.String(method)
	}
	if md := textutil.NormalizeStringMap(req.Metadata); len(md) > 0 {
		params.Metadata = md
	}
	intent, err := p.api.intents.Confirm(req.IntentID, params)
	if err != nil {
		return PaymentDetails{}, translateStripeError("confirm payment intent", err)
	}
	p.logger(ctx, "payments.stripe.intent.confirmed", map[string]any{
		"paymentIntent": intent.ID,
		"status":        intent.Status,
	})
	return stripePaymentDetails(intent), nil
}

// RetrieveIntent fetches gateway ground truth for an intent. The read is
// idempotent, so a transient gateway failure is retried once.
func (p *StripeProvider) RetrieveIntent(ctx context.Context, req RetrieveRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	// Reconciliation needs the charge outcome: a declined payment leaves the
	// intent in requires_payment_method, and only the expanded charge (or the
	// last payment error) distinguishes that from an intent awaiting its
	// first confirmation.
	params.AddExpand("latest_charge")
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Get(req.IntentID, params)
	if err != nil {
		translated := translateStripeError("retrieve payment intent", err)
		if !errors.Is(translated, ErrGatewayUnavailable) {
			return PaymentDetails{}, translated
		}
		p.logger(ctx, "payments.stripe.intent.retrieve_retry", map[string]any{
			"paymentIntent": req.IntentID,
			"error":         err.Error(),
		})
		intent, err = p.api.intents.Get(req.IntentID, params)
		if err != nil {
			return PaymentDetails{}, translateStripeError("retrieve payment intent", err)
		}
	}
	return stripePaymentDetails(intent), nil
}

// CancelIntent cancels a Stripe Payment Intent before capture.
func (p *StripeProvider) CancelIntent(ctx context.Context, req CancelRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if reason := strings.TrimSpace(req.Reason); reason != "" {
		params.CancellationReason = stripe.String(reason)
	}
	intent, err := p.api.intents.Cancel(req.IntentID, params)
	if err != nil {
		return PaymentDetails{}, translateStripeError("cancel payment intent", err)
	}
	p.logger(ctx, "payments.stripe.intent.canceled", map[string]any{
		"paymentIntent": intent.ID,
	})
	return stripePaymentDetails(intent), nil
}

// Refund creates a refund for the provided Payment Intent.
func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Amount != nil {
		details, err := p.RetrieveIntent(ctx, RetrieveRequest{IntentID: req.IntentID})
		if err != nil {
			return PaymentDetails{}, err
		}
		gatewayAmount, err := GatewayAmount(*req.Amount, details.Currency)
		if err != nil {
			return PaymentDetails{}, err
		}
		params.Amount = stripe.Int64(gatewayAmount)
	}
	if reason := mapStripeRefundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	if md := textutil.NormalizeStringMap(req.Metadata); len(md) > 0 {
		params.Metadata = md
	}
	if _, err := p.api.refunds.New(params); err != nil {
		return PaymentDetails{}, translateStripeError("refund payment intent", err)
	}
	p.logger(ctx, "payments.stripe.intent.refunded", map[string]any{
		"paymentIntent": req.IntentID,
	})
	return p.RetrieveIntent(ctx, RetrieveRequest{IntentID: req.IntentID})
}

func stripeIntentStatus(intent *stripe.PaymentIntent) Status {
	if intent == nil {
		return StatusPending
	}
	switch intent.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusSucceeded
	case stripe.PaymentIntentStatusCanceled:
		return StatusCanceled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		if intent.LastPaymentError != nil {
			return StatusFailed
		}
		if charge := intent.LatestCharge; charge != nil && charge.Status == stripe.ChargeStatusFailed {
			return StatusFailed
		}
		return StatusPending
	default:
		return StatusPending
	}
}

func stripePaymentDetails(intent *stripe.PaymentIntent) PaymentDetails {
	if intent == nil {
		return PaymentDetails{}
	}

	status := stripeIntentStatus(intent)

	var capturedAt *time.Time
	var refundedAt *time.Time
	captured := intent.Status == stripe.PaymentIntentStatusSucceeded

	if charge := intent.LatestCharge; charge != nil {
		if charge.Paid || charge.Captured {
			t := time.Unix(charge.Created, 0).UTC()
			capturedAt = &t
			captured = true
		}
		if charge.Refunded || charge.AmountRefunded > 0 {
			t := time.Unix(charge.Created, 0).UTC()
			refundedAt = &t
			if charge.AmountRefunded >= charge.Amount && charge.Amount > 0 {
				status = StatusRefunded
			}
		}
		if charge.Status == stripe.ChargeStatusFailed {
			status = StatusFailed
		}
	}

	if intent.Status == stripe.PaymentIntentStatusSucceeded && status != StatusRefunded {
		status = StatusSucceeded
	}

	currency := strings.ToUpper(string(intent.Currency))
	if currency == "" && intent.LatestCharge != nil {
		currency = strings.ToUpper(string(intent.LatestCharge.Currency))
	}

	raw := map[string]any{}
	if data, err := json.Marshal(intent); err == nil {
		_ = json.Unmarshal(data, &raw)
	} else {
		raw["payment_intent"] = intent
	}

	return PaymentDetails{
		Provider:      "stripe",
		IntentID:      intent.ID,
		Status:        status,
		GatewayAmount: intent.Amount,
		Currency:      currency,
		Captured:      captured,
		CapturedAt:    capturedAt,
		RefundedAt:    refundedAt,
		Raw:           raw,
	}
}

func translateStripeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch {
		case stripeErr.HTTPStatusCode == http.StatusNotFound || stripeErr.Code == stripe.ErrorCodeResourceMissing:
			return fmt.Errorf("%w: %s", ErrIntentNotFound, op)
		case stripeErr.Type == stripe.ErrorTypeCard || stripeErr.Code == stripe.ErrorCodeCardDeclined:
			return fmt.Errorf("%w: %s", ErrDeclined, op)
		case stripeErr.Code == stripe.ErrorCodeAmountTooSmall || stripeErr.Code == stripe.ErrorCodeAmountTooLarge:
			return fmt.Errorf("%w: %s", ErrInvalidAmount, op)
		case stripeErr.Type == stripe.ErrorTypeInvalidRequest:
			return fmt.Errorf("%w: %s: %s", ErrInvalidAmount, op, stripeErr.Code)
		}
	}
	return fmt.Errorf("%w: %s", ErrGatewayUnavailable, op)
}

func mapStripeRefundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	case string(stripe.RefundReasonRequestedByCustomer):
		return string(stripe.RefundReasonRequestedByCustomer)
	default:
		return ""
	}
}
