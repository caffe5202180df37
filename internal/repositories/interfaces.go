package repositories

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/myshop/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Orders() OrderRepository
	OrderItems() OrderItemRepository
	Reviews() ReviewRepository
	Users() UserRepository
	Health() HealthRepository
	UnitOfWork
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// UnitOfWork groups repository operations in a transactional boundary. Repository calls made with
// the ctx passed to fn participate in the transaction.
type UnitOfWork interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ProductListFilter narrows catalog listings.
type ProductListFilter struct {
	Category   string
	Pagination domain.Pagination
}

// ProductRepository persists catalog entries.
type ProductRepository interface {
	Insert(ctx context.Context, product domain.Product) error
	Update(ctx context.Context, product domain.Product) error
	// Delete returns a conflict error when order lines still reference the product.
	Delete(ctx context.Context, productID string) error
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	List(ctx context.Context, filter ProductListFilter) (domain.CursorPage[domain.Product], error)
	// DecrementStock atomically subtracts quantity when enough stock remains and returns
	// *InsufficientStockError otherwise. It never drives stock negative.
	DecrementStock(ctx context.Context, productID string, quantity int) error
}

// OrderRepository persists order headers. Loaded orders always carry their items.
type OrderRepository interface {
	// Insert returns a conflict error when the user already has a pending order.
	Insert(ctx context.Context, order domain.Order) error
	// FindPendingByUser returns the user's cart. forUpdate locks the order row until the transaction ends.
	FindPendingByUser(ctx context.Context, userID string, forUpdate bool) (domain.Order, error)
	FindByID(ctx context.Context, orderID string, forUpdate bool) (domain.Order, error)
	UpdateTotal(ctx context.Context, orderID string, total decimal.Decimal, updatedAt time.Time) error
	// TransitionStatus moves the order from one status to another only when it is still in from.
	// A lost race or stale status yields a conflict error.
	TransitionStatus(ctx context.Context, change StatusChange) error
	// SetStatus overwrites the status without checking the current one.
	SetStatus(ctx context.Context, orderID string, status domain.OrderStatus, updatedAt time.Time) error
	Delete(ctx context.Context, orderID string) error
	ListByUser(ctx context.Context, userID string, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Order], error)
	// HasDeliveredProduct reports whether a delivered order of the user contains the product.
	HasDeliveredProduct(ctx context.Context, userID, productID string) (bool, error)
}

// StatusChange describes a conditional order status transition.
type StatusChange struct {
	OrderID    string
	From       domain.OrderStatus
	To         domain.OrderStatus
	TrackingID *string
	UpdatedAt  time.Time
}

// OrderItemRepository persists order lines.
type OrderItemRepository interface {
	Insert(ctx context.Context, item domain.OrderItem) error
	// FindForUser returns the item when it belongs to an order of userID, together with that order's status.
	FindForUser(ctx context.Context, itemID, userID string) (domain.OrderItem, domain.OrderStatus, error)
	UpdateQuantity(ctx context.Context, itemID string, quantity int) error
	Delete(ctx context.Context, itemID string) error
	// DeleteExcept removes every line of the order whose id is not in keep and returns the count removed.
	DeleteExcept(ctx context.Context, orderID string, keep []string) (int, error)
}

// ReviewRepository persists product reviews.
type ReviewRepository interface {
	// Insert returns a conflict error when the user already reviewed the product.
	Insert(ctx context.Context, review domain.Review) error
	FindByUserAndProduct(ctx context.Context, userID, productID string) (domain.Review, error)
	ListByProduct(ctx context.Context, productID string, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Review], error)
}

// UserRepository persists accounts.
type UserRepository interface {
	// Insert returns a conflict error when the email is taken.
	Insert(ctx context.Context, user domain.User) error
	Update(ctx context.Context, user domain.User) error
	FindByID(ctx context.Context, userID string) (domain.User, error)
	FindByEmail(ctx context.Context, email string) (domain.User, error)
	FindByVerificationToken(ctx context.Context, token string) (domain.User, error)
	FindByResetToken(ctx context.Context, token string) (domain.User, error)
	List(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.User], error)
}

// HealthRepository aggregates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
