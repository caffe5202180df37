package services

import (
	"context"
	"io"
	"time"

	"github.com/shopspring/decimal"

	"github.com/myshop/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Product            = domain.Product
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderStatus        = domain.OrderStatus
	Review             = domain.Review
	User               = domain.User
	Role               = domain.Role
	SystemHealthReport = domain.SystemHealthReport
)

// Actor identifies the caller of an operation that depends on ownership or role.
type Actor struct {
	UserID string
	Role   domain.Role
}

// IsAdmin reports whether the actor holds full administrative rights.
func (a Actor) IsAdmin() bool {
	return a.Role == domain.RoleAdmin
}

// CartService manages the user's single pending order.
type CartService interface {
	GetOrCreateCart(ctx context.Context, userID string) (Order, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Order, error)
	UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Order, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) error
}

// AddCartItemCommand adds quantity units of a product to the user's cart.
type AddCartItemCommand struct {
	UserID    string
	ProductID string
	Quantity  int
}

// UpdateCartItemCommand sets the quantity of a cart line. Zero or less removes it.
type UpdateCartItemCommand struct {
	UserID   string
	ItemID   string
	Quantity int
}

// RemoveCartItemCommand deletes a cart line.
type RemoveCartItemCommand struct {
	UserID string
	ItemID string
}

// CheckoutService turns the selected lines of a cart into a paid order.
type CheckoutService interface {
	Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error)
}

// CheckoutCommand selects the cart lines to purchase. Unselected lines are discarded.
type CheckoutCommand struct {
	UserID          string
	CartID          string
	SelectedItemIDs []string
}

// OrderService drives fulfillment and exposes order reads.
type OrderService interface {
	Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error)
	AcknowledgeDelivery(ctx context.Context, cmd AcknowledgeDeliveryCommand) (Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error)
	DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error
	GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error)
	ListUserOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error)
	ListOrders(ctx context.Context, pager Pagination) (domain.CursorPage[Order], error)
}

// ShipOrderCommand marks a paid order as shipped.
type ShipOrderCommand struct {
	OrderID    string
	TrackingID string
	ActorID    string
}

// AcknowledgeDeliveryCommand marks a shipped order as delivered.
type AcknowledgeDeliveryCommand struct {
	OrderID string
	Actor   Actor
}

// UpdateOrderStatusCommand overwrites an order status outside the lifecycle rules.
type UpdateOrderStatusCommand struct {
	OrderID string
	Status  OrderStatus
	ActorID string
}

// DeleteOrderCommand removes an order and its lines.
type DeleteOrderCommand struct {
	OrderID string
	ActorID string
}

// ReviewService gates review creation on delivered purchases.
type ReviewService interface {
	Create(ctx context.Context, cmd CreateReviewCommand) (Review, error)
	ListByProduct(ctx context.Context, productID string, pager Pagination) (domain.CursorPage[Review], error)
	ListAll(ctx context.Context, pager Pagination) (domain.CursorPage[Review], error)
}

// CreateReviewCommand carries a review submission.
type CreateReviewCommand struct {
	UserID    string
	ProductID string
	Rating    int
	Comment   string
}

// CatalogService manages products.
type CatalogService interface {
	ListProducts(ctx context.Context, filter ProductFilter) (domain.CursorPage[Product], error)
	GetProduct(ctx context.Context, productID string) (Product, error)
	CreateProduct(ctx context.Context, cmd CreateProductCommand) (Product, error)
	UpdateProduct(ctx context.Context, cmd UpdateProductCommand) (Product, error)
	DeleteProduct(ctx context.Context, productID string) error
}

// ProductFilter narrows product listings.
type ProductFilter struct {
	Category   string
	Pagination Pagination
}

// ImageUpload is an uploaded product image.
type ImageUpload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// CreateProductCommand describes a new catalog entry.
type CreateProductCommand struct {
	Name         string
	Description  string
	CostPrice    decimal.Decimal
	SellingPrice decimal.Decimal
	Stock        int
	Category     string
	Image        *ImageUpload
}

// UpdateProductCommand applies the non-nil fields to a product.
type UpdateProductCommand struct {
	ProductID    string
	Name         *string
	Description  *string
	CostPrice    *decimal.Decimal
	SellingPrice *decimal.Decimal
	Stock        *int
	Category     *string
	Image        *ImageUpload
}

// AccountService manages registration, login and password recovery.
type AccountService interface {
	Register(ctx context.Context, cmd RegisterCommand) (User, error)
	VerifyEmail(ctx context.Context, token string) (User, error)
	Login(ctx context.Context, email, password string) (LoginResult, error)
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
	Me(ctx context.Context, userID string) (User, error)
	ListUsers(ctx context.Context, pager Pagination) (domain.CursorPage[User], error)
}

// RegisterCommand carries sign-up details.
type RegisterCommand struct {
	Email    string
	Password string
	Name     string
	Address  *string
	Birthday *string
	Phone    *string
	Sex      *string
}

// LoginResult is returned by a successful login.
type LoginResult struct {
	AccessToken string
	TokenType   string
	ExpiresAt   time.Time
	User        User
}

// SystemService reports service health.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// Notifier sends account emails. Implementations must not block callers on delivery.
type Notifier interface {
	SendVerificationEmail(ctx context.Context, user User) error
	SendPasswordResetEmail(ctx context.Context, user User) error
}

// ImageStorage persists product images and returns the stored filename.
type ImageStorage interface {
	SaveImage(ctx context.Context, name, contentType string, body io.Reader) (string, error)
	DeleteImage(ctx context.Context, filename string) error
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string          `json:"type"`
	OrderID        string          `json:"orderId"`
	UserID         string          `json:"userId"`
	PreviousStatus OrderStatus     `json:"previousStatus,omitempty"`
	CurrentStatus  OrderStatus     `json:"currentStatus"`
	TotalAmount    decimal.Decimal `json:"totalAmount"`
	TrackingID     string          `json:"trackingId,omitempty"`
	ActorID        string          `json:"actorId,omitempty"`
	OccurredAt     time.Time       `json:"occurredAt"`
}
