package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/myshop/api/internal/domain"
	"github.com/myshop/api/internal/repositories"
)

const orderEventPaid = "order.paid"

var (
	// ErrCheckoutInvalidInput covers a missing cart id and empty or unmatched selections.
	ErrCheckoutInvalidInput = newKindError(ErrInvalidArgument, "checkout: invalid input")
	// ErrCheckoutCartNotFound indicates no pending order with the id is owned by the user.
	ErrCheckoutCartNotFound = newKindError(ErrNotFound, "checkout: cart not found")
	// ErrCheckoutInsufficientStock names a selected product whose stock cannot cover the line.
	ErrCheckoutInsufficientStock = newKindError(ErrInsufficientStock, "checkout: insufficient stock")
	// ErrCheckoutConflict indicates the cart changed status during checkout.
	ErrCheckoutConflict = newKindError(ErrConflict, "checkout: conflict")
)

// CheckoutServiceDeps bundles collaborators required by the checkout engine.
type CheckoutServiceDeps struct {
	Products   repositories.ProductRepository
	Orders     repositories.OrderRepository
	OrderItems repositories.OrderItemRepository
	UnitOfWork repositories.UnitOfWork
	Events     OrderEventPublisher
	Clock      func() time.Time
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type checkoutService struct {
	products   repositories.ProductRepository
	orders     repositories.OrderRepository
	items      repositories.OrderItemRepository
	unitOfWork repositories.UnitOfWork
	events     OrderEventPublisher
	clock      func() time.Time
	logger     func(context.Context, string, map[string]any)
}

// NewCheckoutService constructs the checkout engine. A unit of work is mandatory because checkout
// must never be partially applied.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order repository is required")
	}
	if deps.OrderItems == nil {
		return nil, errors.New("checkout service: order item repository is required")
	}
	if deps.UnitOfWork == nil {
		return nil, errors.New("checkout service: unit of work is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &checkoutService{
		products:   deps.Products,
		orders:     deps.Orders,
		items:      deps.OrderItems,
		unitOfWork: deps.UnitOfWork,
		events:     deps.Events,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *checkoutService) Checkout(ctx context.Context, cmd CheckoutCommand) (Order, error) {
	userID := strings.TrimSpace(cmd.UserID)
	cartID := strings.TrimSpace(cmd.CartID)
	if userID == "" || cartID == "" {
		return Order{}, fmt.Errorf("%w: user id and cart id are required", ErrCheckoutInvalidInput)
	}
	if len(cmd.SelectedItemIDs) == 0 {
		return Order{}, fmt.Errorf("%w: at least one item must be selected", ErrCheckoutInvalidInput)
	}

	var (
		order   Order
		removed int
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		cart, err := s.orders.FindByID(txCtx, cartID, true)
		if err != nil {
			return mapRepoError(err, ErrCheckoutCartNotFound, nil)
		}
		if cart.UserID != userID || !cart.IsCart() {
			return fmt.Errorf("%w: %s", ErrCheckoutCartNotFound, cartID)
		}

		selected := selectItems(cart.Items, cmd.SelectedItemIDs)
		if len(selected) == 0 {
			return fmt.Errorf("%w: no selected item belongs to the cart", ErrCheckoutInvalidInput)
		}

		// Ascending product order keeps row lock acquisition consistent across concurrent checkouts.
		byProduct := append([]OrderItem(nil), selected...)
		sort.Slice(byProduct, func(i, j int) bool { return byProduct[i].ProductID < byProduct[j].ProductID })
		for _, item := range byProduct {
			if err := s.products.DecrementStock(txCtx, item.ProductID, item.Quantity); err != nil {
				if stockErr, ok := repositories.AsInsufficientStock(err); ok {
					return fmt.Errorf("%w: %s (%s) requested %d",
						ErrCheckoutInsufficientStock, item.ProductName, stockErr.ProductID, item.Quantity)
				}
				return mapRepoError(err, ErrCheckoutCartNotFound, ErrCheckoutConflict)
			}
		}

		keep := make([]string, 0, len(selected))
		for _, item := range selected {
			keep = append(keep, item.ID)
		}
		removed, err = s.items.DeleteExcept(txCtx, cart.ID, keep)
		if err != nil {
			return mapRepoError(err, ErrCheckoutCartNotFound, ErrCheckoutConflict)
		}

		now := s.now()
		cart.Items = selected
		cart.Recalculate()
		if err := s.orders.UpdateTotal(txCtx, cart.ID, cart.TotalAmount, now); err != nil {
			return mapRepoError(err, ErrCheckoutCartNotFound, ErrCheckoutConflict)
		}
		if err := s.orders.TransitionStatus(txCtx, repositories.StatusChange{
			OrderID:   cart.ID,
			From:      domain.OrderStatusPending,
			To:        domain.OrderStatusPaid,
			UpdatedAt: now,
		}); err != nil {
			return mapRepoError(err, ErrCheckoutCartNotFound, ErrCheckoutConflict)
		}
		cart.Status = domain.OrderStatusPaid
		cart.UpdatedAt = now
		order = cart
		return nil
	})
	if err != nil {
		s.logger(ctx, "checkout.failed", map[string]any{
			"cartID": cartID,
			"userID": userID,
			"error":  err.Error(),
		})
		return Order{}, err
	}

	s.logger(ctx, "checkout.completed", map[string]any{
		"orderID":      order.ID,
		"userID":       userID,
		"items":        len(order.Items),
		"itemsRemoved": removed,
		"total":        order.TotalAmount.StringFixed(2),
	})
	s.publish(ctx, OrderEvent{
		Type:           orderEventPaid,
		OrderID:        order.ID,
		UserID:         order.UserID,
		PreviousStatus: domain.OrderStatusPending,
		CurrentStatus:  domain.OrderStatusPaid,
		TotalAmount:    order.TotalAmount,
		ActorID:        userID,
		OccurredAt:     order.UpdatedAt,
	})
	return order, nil
}

func (s *checkoutService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":  event.Type,
			"order": event.OrderID,
			"error": err.Error(),
		})
	}
}

func (s *checkoutService) now() time.Time {
	return s.clock()
}

// selectItems returns the cart lines named in ids, in cart order. Unknown and duplicate ids are ignored.
func selectItems(items []OrderItem, ids []string) []OrderItem {
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			wanted[id] = struct{}{}
		}
	}
	selected := make([]OrderItem, 0, len(wanted))
	for _, item := range items {
		if _, ok := wanted[item.ID]; ok {
			selected = append(selected, item)
		}
	}
	return selected
}
