package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusPending indicates the payment is awaiting customer action or gateway confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the gateway reports the payment as successfully captured.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the gateway reports a failure and no further action is possible.
	StatusFailed Status = "failed"
	// StatusCanceled indicates the intent was canceled before capture.
	StatusCanceled Status = "canceled"
	// StatusRefunded indicates the payment has been refunded (partially or fully).
	StatusRefunded Status = "refunded"
)

// Gateway failures are translated into this closed error set before they
// leave the package. Raw transport errors never reach callers.
var (
	// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
	ErrUnsupportedProvider = errors.New("payments: unsupported provider")
	// ErrInvalidAmount indicates the amount violates gateway bounds or the
	// currency's unit convention. Raised locally, before any gateway call.
	ErrInvalidAmount = errors.New("payments: invalid amount")
	// ErrDeclined indicates the gateway rejected the charge itself.
	ErrDeclined = errors.New("payments: declined")
	// ErrIntentNotFound indicates the gateway does not know the intent.
	ErrIntentNotFound = errors.New("payments: intent not found")
	// ErrGatewayUnavailable indicates a transport or gateway-side failure.
	ErrGatewayUnavailable = errors.New("payments: gateway unavailable")
)

// CreateIntentRequest captures the payload required to create a payment intent.
// Amount is in hundredths of the major unit; the provider performs the
// gateway unit conversion.
type CreateIntentRequest struct {
	Amount         int64
	Currency       string
	CustomerID     string
	Description    string
	Metadata       map[string]string
	IdempotencyKey string
}

// IntentHandle is the gateway-side intent reference returned to the client.
type IntentHandle struct {
	ID           string
	Provider     string
	ClientSecret string
	Status       Status
	// GatewayAmount is the amount in the gateway's unit convention, as sent.
	GatewayAmount int64
	Currency      string
	CreatedAt     time.Time
}

// ConfirmRequest contains the data required to confirm an intent server-side.
type ConfirmRequest struct {
	IntentID        string
	PaymentMethodID string
	IdempotencyKey  string
	Metadata        map[string]string
}

// RefundRequest defines a refund attempt, optionally partial. Amount is in
// hundredths of the major unit; nil refunds the full charge.
type RefundRequest struct {
	IntentID       string
	Amount         *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

// RetrieveRequest fetches gateway ground truth for reconciliation.
type RetrieveRequest struct {
	IntentID string
}

// CancelRequest cancels an intent before capture.
type CancelRequest struct {
	IntentID       string
	Reason         string
	IdempotencyKey string
}

// PaymentDetails normalises gateway specific fields for reconciliation.
type PaymentDetails struct {
	Provider      string
	IntentID      string
	Status        Status
	GatewayAmount int64
	Currency      string
	Captured      bool
	CapturedAt    *time.Time
	RefundedAt    *time.Time
	Raw           map[string]any
}

// Provider defines the contract for payment gateway adapters. Implementations
// are side-effect free with respect to local transaction and order state:
// the reconciliation service owns all local mutation.
type Provider interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (IntentHandle, error)
	ConfirmIntent(ctx context.Context, req ConfirmRequest) (PaymentDetails, error)
	RetrieveIntent(ctx context.Context, req RetrieveRequest) (PaymentDetails, error)
	CancelIntent(ctx context.Context, req CancelRequest) (PaymentDetails, error)
	Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error)
}

// Manager coordinates provider selection and exposes the aggregated interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
	currencyRoutes  map[string]string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the default provider for currencies without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithCurrencyRoutes configures static currency to provider mappings.
func WithCurrencyRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.currencyRoutes == nil {
			m.currencyRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.currencyRoutes[strings.ToUpper(strings.TrimSpace(k))] = strings.TrimSpace(v)
		}
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Provider, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// PaymentContext defines the hints available when selecting a provider.
type PaymentContext struct {
	PreferredProvider string
	Currency          string
	Metadata          map[string]string
}

func (m *Manager) resolveProvider(ctx PaymentContext) (string, Provider, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(ctx.PreferredProvider)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(ctx.Currency))
	if currency != "" && m.currencyRoutes != nil {
		if providerKey, ok := m.currencyRoutes[currency]; ok {
			provider := strings.TrimSpace(strings.ToLower(providerKey))
			if p, ok := m.providers[provider]; ok {
				return provider, p, nil
			}
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateIntent delegates to the resolved provider.
func (m *Manager) CreateIntent(ctx context.Context, paymentCtx PaymentContext, req CreateIntentRequest) (IntentHandle, error) {
	key, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return IntentHandle{}, err
	}
	handle, err := provider.CreateIntent(ctx, req)
	if err != nil {
		return IntentHandle{}, err
	}
	handle.Provider = key
	return handle, nil
}

// ConfirmIntent delegates to the resolved provider.
func (m *Manager) ConfirmIntent(ctx context.Context, paymentCtx PaymentContext, req ConfirmRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.ConfirmIntent(ctx, req)
}

// RetrieveIntent delegates to the resolved provider.
func (m *Manager) RetrieveIntent(ctx context.Context, paymentCtx PaymentContext, req RetrieveRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.RetrieveIntent(ctx, req)
}

// CancelIntent delegates to the resolved provider.
func (m *Manager) CancelIntent(ctx context.Context, paymentCtx PaymentContext, req CancelRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.CancelIntent(ctx, req)
}

// Refund delegates to the resolved provider.
func (m *Manager) Refund(ctx context.Context, paymentCtx PaymentContext, req RefundRequest) (PaymentDetails, error) {
	_, provider, err := m.resolveProvider(paymentCtx)
	if err != nil {
		return PaymentDetails{}, err
	}
	return provider.Refund(ctx, req)
}
