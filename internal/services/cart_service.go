package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/myshop/api/internal/domain"
	"github.com/myshop/api/internal/repositories"
)

const (
	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "itm_"
)

var (
	// ErrCartInvalidInput indicates the caller supplied invalid input.
	ErrCartInvalidInput = newKindError(ErrInvalidArgument, "cart: invalid input")
	// ErrCartItemNotFound covers missing lines, lines of another user's order, and lines of an order
	// that is no longer pending.
	ErrCartItemNotFound = newKindError(ErrNotFound, "cart: item not found")
	// ErrCartProductNotFound indicates the product being added does not exist.
	ErrCartProductNotFound = newKindError(ErrNotFound, "cart: product not found")
	// ErrCartConflict indicates the cart changed concurrently in a way that could not be reconciled.
	ErrCartConflict = newKindError(ErrConflict, "cart: conflict")
)

// CartServiceDeps wires the repositories used for cart operations.
type CartServiceDeps struct {
	Products    repositories.ProductRepository
	Orders      repositories.OrderRepository
	OrderItems  repositories.OrderItemRepository
	UnitOfWork  repositories.UnitOfWork
	Clock       func() time.Time
	// IDGenerator returns the unique part of new ids. The service adds the type prefix.
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type cartService struct {
	products   repositories.ProductRepository
	orders     repositories.OrderRepository
	items      repositories.OrderItemRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	newID      func() string
	logger     func(context.Context, string, map[string]any)
}

// NewCartService constructs a CartService.
func NewCartService(deps CartServiceDeps) (CartService, error) {
	if deps.Products == nil {
		return nil, errors.New("cart service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("cart service: order repository is required")
	}
	if deps.OrderItems == nil {
		return nil, errors.New("cart service: order item repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &cartService{
		products:   deps.Products,
		orders:     deps.Orders,
		items:      deps.OrderItems,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		logger: logger,
	}, nil
}

func (s *cartService) GetOrCreateCart(ctx context.Context, userID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	}

	var cart Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		loaded, err := s.loadOrCreate(txCtx, userID, false)
		if err != nil {
			return err
		}
		cart = loaded
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return cart, nil
}

func (s *cartService) AddItem(ctx context.Context, cmd AddCartItemCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	productID := strings.TrimSpace(cmd.ProductID)
	switch {
	case userID == "":
		return Order{}, fmt.Errorf("%w: user id is required", ErrCartInvalidInput)
	case productID == "":
		return Order{}, fmt.Errorf("%w: product id is required", ErrCartInvalidInput)
	case cmd.Quantity <= 0:
		return Order{}, fmt.Errorf("%w: quantity must be positive", ErrCartInvalidInput)
	}

	var cart Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		product, err := s.products.FindByID(txCtx, productID)
		if err != nil {
			return mapRepoError(err, ErrCartProductNotFound, nil)
		}

		current, err := s.loadOrCreate(txCtx, userID, true)
		if err != nil {
			return err
		}

		now := s.now()
		if existing, ok := current.ItemForProduct(productID); ok {
			quantity := existing.Quantity + cmd.Quantity
			if err := s.items.UpdateQuantity(txCtx, existing.ID, quantity); err != nil {
				return mapRepoError(err, ErrCartItemNotFound, ErrCartConflict)
			}
			setItemQuantity(&current, existing.ID, quantity)
		} else {
			item := OrderItem{
				ID:          orderItemIDPrefix + s.newID(),
				OrderID:     current.ID,
				ProductID:   product.ID,
				ProductName: product.Name,
				Quantity:    cmd.Quantity,
				Price:       product.SellingPrice,
				CreatedAt:   now,
			}
			if err := s.items.Insert(txCtx, item); err != nil {
				return mapRepoError(err, ErrCartItemNotFound, ErrCartConflict)
			}
			current.Items = append(current.Items, item)
		}

		if err := s.persistTotal(txCtx, &current, now); err != nil {
			return err
		}
		cart = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "cart.item.added", map[string]any{
		"cartID":    cart.ID,
		"productID": productID,
		"quantity":  cmd.Quantity,
		"total":     cart.TotalAmount.StringFixed(2),
	})
	return cart, nil
}

func (s *cartService) UpdateItemQuantity(ctx context.Context, cmd UpdateCartItemCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if userID == "" || itemID == "" {
		return Order{}, fmt.Errorf("%w: user id and item id are required", ErrCartInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return s.removeItem(ctx, userID, itemID)
	}

	var cart Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.loadOwnedCart(txCtx, itemID, userID)
		if err != nil {
			return err
		}
		if err := s.items.UpdateQuantity(txCtx, itemID, cmd.Quantity); err != nil {
			return mapRepoError(err, ErrCartItemNotFound, ErrCartConflict)
		}
		setItemQuantity(&current, itemID, cmd.Quantity)

		if err := s.persistTotal(txCtx, &current, s.now()); err != nil {
			return err
		}
		cart = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "cart.item.updated", map[string]any{
		"cartID":   cart.ID,
		"itemID":   itemID,
		"quantity": cmd.Quantity,
		"total":    cart.TotalAmount.StringFixed(2),
	})
	return cart, nil
}

func (s *cartService) RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) error {
	userID := strings.TrimSpace(cmd.UserID)
	itemID := strings.TrimSpace(cmd.ItemID)
	if userID == "" || itemID == "" {
		return fmt.Errorf("%w: user id and item id are required", ErrCartInvalidInput)
	}
	_, err := s.removeItem(ctx, userID, itemID)
	return err
}

func (s *cartService) removeItem(ctx context.Context, userID, itemID string) (Order, error) {
	var cart Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.loadOwnedCart(txCtx, itemID, userID)
		if err != nil {
			return err
		}
		if err := s.items.Delete(txCtx, itemID); err != nil {
			return mapRepoError(err, ErrCartItemNotFound, ErrCartConflict)
		}
		kept := current.Items[:0:0]
		for _, item := range current.Items {
			if item.ID != itemID {
				kept = append(kept, item)
			}
		}
		current.Items = kept

		if err := s.persistTotal(txCtx, &current, s.now()); err != nil {
			return err
		}
		cart = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, "cart.item.removed", map[string]any{
		"cartID": cart.ID,
		"itemID": itemID,
		"total":  cart.TotalAmount.StringFixed(2),
	})
	return cart, nil
}

// loadOrCreate returns the user's pending order, inserting an empty one when none exists. A
// concurrent creation is detected through the insert conflict and resolved by re-reading.
func (s *cartService) loadOrCreate(ctx context.Context, userID string, lock bool) (Order, error) {
	cart, err := s.orders.FindPendingByUser(ctx, userID, lock)
	if err == nil {
		return cart, nil
	}
	if !isRepoNotFound(err) {
		return Order{}, mapRepoError(err, nil, ErrCartConflict)
	}

	now := s.now()
	cart = Order{
		ID:          orderIDPrefix + s.newID(),
		UserID:      userID,
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
		Items:       []OrderItem{},
	}
	if err := s.orders.Insert(ctx, cart); err != nil {
		if !isRepoConflict(err) {
			return Order{}, mapRepoError(err, nil, ErrCartConflict)
		}
		existing, findErr := s.orders.FindPendingByUser(ctx, userID, lock)
		if findErr != nil {
			return Order{}, mapRepoError(findErr, ErrCartConflict, ErrCartConflict)
		}
		return existing, nil
	}

	s.logger(ctx, "cart.created", map[string]any{
		"cartID": cart.ID,
		"userID": userID,
	})
	return cart, nil
}

// loadOwnedCart resolves the pending order containing itemID for userID, locked for update.
func (s *cartService) loadOwnedCart(ctx context.Context, itemID, userID string) (Order, error) {
	item, status, err := s.items.FindForUser(ctx, itemID, userID)
	if err != nil {
		return Order{}, mapRepoError(err, ErrCartItemNotFound, nil)
	}
	if status != domain.OrderStatusPending {
		return Order{}, fmt.Errorf("%w: order %s is %s", ErrCartItemNotFound, item.OrderID, status)
	}
	cart, err := s.orders.FindByID(ctx, item.OrderID, true)
	if err != nil {
		return Order{}, mapRepoError(err, ErrCartItemNotFound, nil)
	}
	if cart.UserID != userID || !cart.IsCart() {
		return Order{}, fmt.Errorf("%w: order %s changed", ErrCartItemNotFound, cart.ID)
	}
	return cart, nil
}

func (s *cartService) persistTotal(ctx context.Context, cart *Order, now time.Time) error {
	cart.Recalculate()
	cart.UpdatedAt = now
	if err := s.orders.UpdateTotal(ctx, cart.ID, cart.TotalAmount, now); err != nil {
		return mapRepoError(err, ErrCartItemNotFound, ErrCartConflict)
	}
	return nil
}

func (s *cartService) now() time.Time {
	return s.clock()
}

func setItemQuantity(order *Order, itemID string, quantity int) {
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			order.Items[i].Quantity = quantity
			return
		}
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
