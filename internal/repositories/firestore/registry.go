package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/lumenmarket/api/internal/platform/firestore"
	"github.com/lumenmarket/api/internal/repositories"
)

// Registry bundles the Firestore-backed repositories behind the typed
// accessors services consume.
type Registry struct {
	provider  *pfirestore.Provider
	orders    *OrderRepository
	inventory *InventoryRepository
	auditLogs *AuditLogRepository
	counters  *CounterRepository
	health    repositories.HealthRepository
}

// RegistryDeps carries the inputs needed to build the registry.
type RegistryDeps struct {
	Provider *pfirestore.Provider
	Health   repositories.HealthRepository
}

// NewRegistry wires up every repository against the shared provider.
func NewRegistry(deps RegistryDeps) (*Registry, error) {
	if deps.Provider == nil {
		return nil, errors.New("registry requires firestore provider")
	}

	orders, err := NewOrderRepository(deps.Provider)
	if err != nil {
		return nil, err
	}
	inventory, err := NewInventoryRepository(deps.Provider)
	if err != nil {
		return nil, err
	}
	auditLogs, err := NewAuditLogRepository(deps.Provider)
	if err != nil {
		return nil, err
	}
	counters, err := NewCounterRepository(deps.Provider)
	if err != nil {
		return nil, err
	}

	return &Registry{
		provider:  deps.Provider,
		orders:    orders,
		inventory: inventory,
		auditLogs: auditLogs,
		counters:  counters,
		health:    deps.Health,
	}, nil
}

// Close releases the underlying Firestore client.
func (r *Registry) Close(ctx context.Context) error {
	if r == nil || r.provider == nil {
		return nil
	}
	return r.provider.Close(ctx)
}

func (r *Registry) Orders() repositories.OrderRepository { return r.orders }

func (r *Registry) Inventory() repositories.InventoryRepository { return r.inventory }

func (r *Registry) AuditLogs() repositories.AuditLogRepository { return r.auditLogs }

func (r *Registry) Counters() repositories.CounterRepository { return r.counters }

func (r *Registry) Health() repositories.HealthRepository { return r.health }

// RunInTx groups repository calls for callers that need a transactional
// boundary. Every Firestore repository write already runs in its own
// transaction, so the hook simply executes fn; swapping in a backend with
// cross-document transactions only needs this method to change.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if fn == nil {
		return errors.New("registry: transaction function is nil")
	}
	return fn(ctx)
}

var _ repositories.Registry = (*Registry)(nil)
