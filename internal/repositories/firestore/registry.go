package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/platform/firestore"
	"github.com/henokworkuliyew/ai-powered-e-commerce-system-sub001/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the repositories.Registry interface.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	shipments *ShipmentRepository
	users     *UserRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// RegistryOption customises registry construction.
type RegistryOption func(*Registry)

// WithHealthRepository attaches a health repository evaluated by readiness probes.
func WithHealthRepository(health repositories.HealthRepository) RegistryOption {
	return func(r *Registry) {
		if health != nil {
			r.health = health
		}
	}
}

// NewRegistry wires all Firestore repositories against a shared provider.
func NewRegistry(provider *pfirestore.Provider, opts ...RegistryOption) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("registry: firestore provider is required")
	}

	orders, err := NewOrderRepository(provider)
	if err != nil {
		return nil, err
	}
	shipments, err := NewShipmentRepository(provider)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(provider)
	if err != nil {
		return nil, err
	}

	registry := &Registry{
		provider:  provider,
		orders:    orders,
		shipments: shipments,
		users:     users,
		counters:  counters,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(registry)
		}
	}
	return registry, nil
}

// Close releases the shared Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

// Orders returns the order repository.
func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

// Shipments returns the shipment repository.
func (r *Registry) Shipments() repositories.ShipmentRepository { return r.shipments }

// Users returns the user repository.
func (r *Registry) Users() repositories.UserRepository { return r.users }

// Counters returns the counter repository.
func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

// Health returns the health repository if one was attached.
func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx executes fn within a single Firestore transaction. Repository reads
// and writes made through the callback context are committed atomically.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is required")
	}
	if r == nil || r.provider == nil {
		return errors.New("registry: firestore provider is required")
	}
	return r.provider.RunInTx(ctx, fn)
}
