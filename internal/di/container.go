package di

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sahel-market/api/internal/platform/config"
	"github.com/sahel-market/api/internal/repositories"
	"github.com/sahel-market/api/internal/services"
)

// Services bundles the service-layer contracts that handlers rely upon. Concrete implementations
// are assembled via dependency injection in NewContainer.
type Services struct {
	Stock          services.StockService
	Listings       services.ListingService
	Cart           services.CartService
	Checkout       services.CheckoutService
	Reconciliation services.ReconciliationService
	Orders         services.OrderService
	System         services.SystemService
}

// ContainerDeps carries the collaborators the container cannot build from
// configuration alone: persistence, the payment gateway, and the notification
// fan-out. Logger returns a per-component event logger; nil disables logging.
type ContainerDeps struct {
	Registry      repositories.Registry
	Payments      services.PaymentGateway
	Notifications services.NotificationDispatcher
	Build         services.BuildInfo
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(component string) func(ctx context.Context, event string, fields map[string]any)
}

// Container wires repositories, services, and background infrastructure for runtime use.
type Container struct {
	Config       config.Config
	Repositories repositories.Registry
	Services     Services
}

// NewContainer constructs the runtime dependencies. Production wiring provides
// Firestore-backed repositories and the Stripe gateway, while tests can supply
// in-memory registries and stub gateways.
func NewContainer(ctx context.Context, cfg config.Config, deps ContainerDeps) (*Container, error) {
	if deps.Registry == nil {
		return nil, errors.New("repositories registry is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment gateway is required")
	}

	svc, err := buildServices(ctx, cfg, deps)
	if err != nil {
		return nil, err
	}

	return &Container{
		Config:       cfg,
		Repositories: deps.Registry,
		Services:     svc,
	}, nil
}

// Close releases resources such as repository clients, background workers, or caches.
func (c *Container) Close(ctx context.Context) error {
	if c == nil || c.Repositories == nil {
		return nil
	}
	return c.Repositories.Close(ctx)
}

func buildServices(_ context.Context, cfg config.Config, deps ContainerDeps) (Services, error) {
	var svc Services

	reg := deps.Registry
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logFor := deps.Logger
	if logFor == nil {
		logFor = func(string) func(context.Context, string, map[string]any) { return nil }
	}

	stockSvc, err := services.NewStockService(services.StockServiceDeps{
		Listings: reg.Listings(),
		Clock:    clock,
		Logger:   logFor("stock"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build stock service: %w", err)
	}
	svc.Stock = stockSvc

	cartSvc, err := services.NewCartService(services.CartServiceDeps{
		Repository:      reg.Carts(),
		Listings:        reg.Listings(),
		Clock:           clock,
		DefaultCurrency: cfg.Marketplace.DefaultCurrency,
		IDGenerator:     deps.IDGenerator,
		Logger:          logFor("cart"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build cart service: %w", err)
	}
	svc.Cart = cartSvc

	listingSvc, err := services.NewListingService(services.ListingServiceDeps{
		Listings:        reg.Listings(),
		Stock:           stockSvc,
		Clock:           clock,
		DefaultCurrency: cfg.Marketplace.DefaultCurrency,
		IDGenerator:     deps.IDGenerator,
		Logger:          logFor("listing"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build listing service: %w", err)
	}
	svc.Listings = listingSvc

	checkoutSvc, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Carts:             cartSvc,
		Stock:             stockSvc,
		Transactions:      reg.Transactions(),
		Payments:          deps.Payments,
		CommissionRateBps: int64(cfg.Marketplace.CommissionRateBps),
		Provider:          cfg.PSP.Provider,
		Clock:             clock,
		IDGenerator:       deps.IDGenerator,
		Logger:            logFor("checkout"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build checkout service: %w", err)
	}
	svc.Checkout = checkoutSvc

	reconcileSvc, err := services.NewReconciliationService(services.ReconciliationServiceDeps{
		Transactions:      reg.Transactions(),
		Counters:          reg.Counters(),
		Carts:             cartSvc,
		Payments:          deps.Payments,
		Notifications:     deps.Notifications,
		Provider:          cfg.PSP.Provider,
		OrderNumberPrefix: cfg.Marketplace.OrderNumberPrefix,
		Clock:             clock,
		IDGenerator:       deps.IDGenerator,
		Logger:            logFor("reconcile"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build reconciliation service: %w", err)
	}
	svc.Reconciliation = reconcileSvc

	orderSvc, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        reg.Orders(),
		Stock:         stockSvc,
		Notifications: deps.Notifications,
		Clock:         clock,
		Logger:        logFor("order"),
	})
	if err != nil {
		return Services{}, fmt.Errorf("build order service: %w", err)
	}
	svc.Orders = orderSvc

	if healthRepo := reg.Health(); healthRepo != nil {
		build := deps.Build
		if build.Environment == "" {
			build.Environment = cfg.Security.Environment
		}
		if build.StartedAt.IsZero() {
			build.StartedAt = clock().UTC()
		}
		systemSvc, err := services.NewSystemService(services.SystemServiceDeps{
			HealthRepository: healthRepo,
			Clock:            clock,
			Build:            build,
		})
		if err != nil {
			return Services{}, fmt.Errorf("build system service: %w", err)
		}
		svc.System = systemSvc
	}

	return svc, nil
}
