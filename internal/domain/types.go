package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// Role is the single canonical representation of a user's privilege level.
type Role string

const (
	// RoleUser is assigned to every registered customer.
	RoleUser Role = "user"
	// RoleReadAdmin may read admin listings but cannot mutate orders or the catalog.
	RoleReadAdmin Role = "read_admin"
	// RoleAdmin has full write access.
	RoleAdmin Role = "admin"
)

// ParseRole accepts only the canonical lowercase role names.
func ParseRole(value string) (Role, error) {
	switch Role(value) {
	case RoleUser, RoleReadAdmin, RoleAdmin:
		return Role(value), nil
	}
	return "", fmt.Errorf("domain: unknown role %q", value)
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// CanReadAdmin reports whether the role may access read-only admin views.
func (r Role) CanReadAdmin() bool {
	return r == RoleAdmin || r == RoleReadAdmin
}

// OrderStatus enumerates lifecycle states. A pending order is the user's cart.
type OrderStatus string

const (
	// OrderStatusPending marks the cart; items may still change.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusPaid is set by checkout after stock has been committed.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusShipped is set once a tracking id has been assigned.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered is terminal and unlocks reviews.
	OrderStatusDelivered OrderStatus = "delivered"
)

var orderTransitions = map[OrderStatus]OrderStatus{
	OrderStatusPending: OrderStatusPaid,
	OrderStatusPaid:    OrderStatusShipped,
	OrderStatusShipped: OrderStatusDelivered,
}

// Valid reports whether the status is one of the known lifecycle states.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusShipped, OrderStatusDelivered:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is the single legal successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	successor, ok := orderTransitions[s]
	return ok && successor == next
}

// DefaultProductCategory is stored when a product is created without a category.
const DefaultProductCategory = "Uncategorized"

// Product is a catalog entry. Stock is only decremented by checkout.
type Product struct {
	ID                     string
	Name                   string
	Description            string
	CostPrice              decimal.Decimal
	SellingPrice           decimal.Decimal
	ProfitMarginPercentage decimal.Decimal
	Stock                  int
	Category               string
	ImageFilename          *string
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Order doubles as the cart while its status is pending.
type Order struct {
	ID          string
	UserID      string
	Status      OrderStatus
	TotalAmount decimal.Decimal
	TrackingID  *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	Items       []OrderItem
}

// IsCart reports whether the order is still the user's mutable cart.
func (o Order) IsCart() bool {
	return o.Status == OrderStatusPending
}

// Item returns the line item with the given id.
func (o Order) Item(itemID string) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return OrderItem{}, false
}

// ItemForProduct returns the line item referencing productID.
func (o Order) ItemForProduct(productID string) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ProductID == productID {
			return item, true
		}
	}
	return OrderItem{}, false
}

// OrderItem is a line item. Price is the product's selling price when the line was created.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	Quantity    int
	Price       decimal.Decimal
	CreatedAt   time.Time
}

// Review is immutable once created; at most one exists per user and product.
type Review struct {
	ID        string
	UserID    string
	ProductID string
	Rating    int
	Comment   *string
	CreatedAt time.Time
}

// User is a storefront account.
type User struct {
	ID                  string
	Email               string
	Name                string
	PasswordHash        string
	Role                Role
	IsVerified          bool
	VerificationToken   *string
	ResetToken          *string
	ResetTokenExpiresAt *time.Time
	Address             *string
	Birthday            *string
	Phone               *string
	Sex                 *string
	CreatedAt           time.Time
}
