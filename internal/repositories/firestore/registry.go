package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/sahel-market/api/internal/platform/firestore"
	"github.com/sahel-market/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the repository
// registry interface for dependency injection.
type Registry struct {
	provider     *pfirestore.Provider
	listings     *ListingRepository
	carts        *CartRepository
	transactions *TransactionRepository
	orders       *OrderRepository
	counters     *CounterRepository
	health       repositories.HealthRepository
}

// RegistryDeps carries the external dependencies the registry cannot build itself.
type RegistryDeps struct {
	Provider *pfirestore.Provider
	Health   repositories.HealthRepository
}

// NewRegistry wires every Firestore repository against a shared provider.
func NewRegistry(deps RegistryDeps) (*Registry, error) {
	if deps.Provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}
	listings, err := NewListingRepository(deps.Provider)
	if err != nil {
		return nil, err
	}
	carts, err := NewCartRepository(deps.Provider)
	if err != nil {
		return nil, err
	}
	transactions, err := NewTransactionRepository(deps.Provider)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(deps.Provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(deps.Provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:     deps.Provider,
		listings:     listings,
		carts:        carts,
		transactions: transactions,
		orders:       orders,
		counters:     counters,
		health:       deps.Health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Listings() repositories.ListingRepository         { return r.listings }
func (r *Registry) Carts() repositories.CartRepository               { return r.carts }
func (r *Registry) Transactions() repositories.TransactionRepository { return r.transactions }
func (r *Registry) Orders() repositories.OrderRepository             { return r.orders }
func (r *Registry) Counters() repositories.CounterRepository         { return r.counters }
func (r *Registry) Health() repositories.HealthRepository            { return r.health }

// RunInTx invokes fn directly. The operations that need cross-document
// atomicity (reserve, complete, fail) already run as Firestore transactions
// inside the repository methods, so the registry does not open an outer one.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	return fn(ctx)
}

var _ repositories.Registry = (*Registry)(nil)
