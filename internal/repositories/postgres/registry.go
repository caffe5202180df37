package postgres

import (
	"context"
	"errors"
	"fmt"

	ppostgres "github.com/myshop/api/internal/platform/postgres"
	"github.com/myshop/api/internal/repositories"
)

// Registry wires every Postgres repository around one connection pool.
type Registry struct {
	provider   *ppostgres.Provider
	tx         *ppostgres.TxRunner
	products   *ProductRepository
	orders     *OrderRepository
	orderItems *OrderItemRepository
	reviews    *ReviewRepository
	users      *UserRepository
	health     repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry constructs the repositories. probes are evaluated by the readiness endpoint in addition
// to the database ping.
func NewRegistry(provider *ppostgres.Provider, probes ...repositories.DependencyProbe) (*Registry, error) {
	if provider == nil || provider.DB() == nil {
		return nil, errors.New("registry requires postgres provider")
	}
	db := provider.DB()

	products, err := NewProductRepository(db)
	if err != nil {
		return nil, err
	}
	orders, err := NewOrderRepository(db)
	if err != nil {
		return nil, err
	}
	orderItems, err := NewOrderItemRepository(db)
	if err != nil {
		return nil, err
	}
	reviews, err := NewReviewRepository(db)
	if err != nil {
		return nil, err
	}
	users, err := NewUserRepository(db)
	if err != nil {
		return nil, err
	}

	checks := append([]repositories.DependencyProbe{{
		Name:     "database",
		Critical: true,
		Check:    provider.Ping,
	}}, probes...)
	health, err := repositories.NewProbeHealthRepository(checks)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}

	return &Registry{
		provider:   provider,
		tx:         ppostgres.NewTxRunner(db),
		products:   products,
		orders:     orders,
		orderItems: orderItems,
		reviews:    reviews,
		users:      users,
		health:     health,
	}, nil
}

func (r *Registry) Products() repositories.ProductRepository     { return r.products }
func (r *Registry) Orders() repositories.OrderRepository         { return r.orders }
func (r *Registry) OrderItems() repositories.OrderItemRepository { return r.orderItems }
func (r *Registry) Reviews() repositories.ReviewRepository       { return r.reviews }
func (r *Registry) Users() repositories.UserRepository           { return r.users }
func (r *Registry) Health() repositories.HealthRepository        { return r.health }

// RunInTx implements repositories.UnitOfWork.
func (r *Registry) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.tx.RunInTx(ctx, fn)
}

// Close releases the connection pool.
func (r *Registry) Close(context.Context) error {
	return r.provider.Close()
}
