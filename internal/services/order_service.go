package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/myshop/api/internal/domain"
	"github.com/myshop/api/internal/repositories"
)

const (
	orderEventShipped        = "order.shipped"
	orderEventDelivered      = "order.delivered"
	orderEventStatusOverride = "order.status.overridden"
	orderEventDeleted        = "order.deleted"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = newKindError(ErrInvalidArgument, "order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = newKindError(ErrNotFound, "order: not found")
	// ErrOrderForbidden indicates the actor may not act on the order.
	ErrOrderForbidden = newKindError(ErrForbidden, "order: forbidden")
	// ErrOrderInvalidState indicates the transition is not legal from the current status.
	ErrOrderInvalidState = newKindError(ErrInvalidState, "order: invalid status transition")
	// ErrOrderConflict indicates a constraint prevented an administrative change.
	ErrOrderConflict = newKindError(ErrConflict, "order: conflict")
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	UnitOfWork repositories.UnitOfWork
	Clock      func() time.Time
	Events     OrderEventPublisher
	Logger     func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	unitOfWork repositories.UnitOfWork
	clock      func() time.Time
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		unitOfWork: unit,
		clock: func() time.Time {
			return clock().UTC()
		},
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) Ship(ctx context.Context, cmd ShipOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	tracking := strings.TrimSpace(cmd.TrackingID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if tracking == "" {
		return Order{}, fmt.Errorf("%w: tracking id is required", ErrOrderInvalidInput)
	}

	order, err := s.transition(ctx, orderID, domain.OrderStatusShipped, &tracking, nil)
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventShipped,
		OrderID:        order.ID,
		UserID:         order.UserID,
		PreviousStatus: domain.OrderStatusPaid,
		CurrentStatus:  order.Status,
		TotalAmount:    order.TotalAmount,
		TrackingID:     tracking,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     order.UpdatedAt,
	})
	return order, nil
}

func (s *orderService) AcknowledgeDelivery(ctx context.Context, cmd AcknowledgeDeliveryCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	actor := cmd.Actor
	order, err := s.transition(ctx, orderID, domain.OrderStatusDelivered, nil, func(order Order) error {
		if order.UserID != actor.UserID && !actor.IsAdmin() {
			return fmt.Errorf("%w: only the owner or an admin may acknowledge delivery", ErrOrderForbidden)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventDelivered,
		OrderID:        order.ID,
		UserID:         order.UserID,
		PreviousStatus: domain.OrderStatusShipped,
		CurrentStatus:  order.Status,
		TotalAmount:    order.TotalAmount,
		ActorID:        actor.UserID,
		OccurredAt:     order.UpdatedAt,
	})
	return order, nil
}

// transition applies the single legal step into target. authorize runs before the status check.
func (s *orderService) transition(ctx context.Context, orderID string, target OrderStatus, tracking *string, authorize func(Order) error) (Order, error) {
	var order Order
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID, true)
		if err != nil {
			return mapRepoError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		if authorize != nil {
			if err := authorize(current); err != nil {
				return err
			}
		}
		if !current.Status.CanTransitionTo(target) {
			return fmt.Errorf("%w: cannot move order from %s to %s", ErrOrderInvalidState, current.Status, target)
		}

		now := s.now()
		err = s.orders.TransitionStatus(txCtx, repositories.StatusChange{
			OrderID:    current.ID,
			From:       current.Status,
			To:         target,
			TrackingID: tracking,
			UpdatedAt:  now,
		})
		if err != nil {
			// A concurrent transition already moved the order.
			return mapRepoError(err, ErrOrderNotFound, ErrOrderInvalidState)
		}

		current.Status = target
		current.UpdatedAt = now
		if tracking != nil {
			current.TrackingID = tracking
		}
		order = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateOrderStatusCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	status := OrderStatus(strings.TrimSpace(string(cmd.Status)))
	if !status.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, cmd.Status)
	}

	var (
		order    Order
		previous OrderStatus
	)
	err := s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		current, err := s.orders.FindByID(txCtx, orderID, true)
		if err != nil {
			return mapRepoError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		previous = current.Status
		now := s.now()
		if err := s.orders.SetStatus(txCtx, orderID, status, now); err != nil {
			return mapRepoError(err, ErrOrderNotFound, ErrOrderConflict)
		}
		current.Status = status
		current.UpdatedAt = now
		order = current
		return nil
	})
	if err != nil {
		return Order{}, err
	}

	s.logger(ctx, orderEventStatusOverride, map[string]any{
		"orderID":  orderID,
		"actorID":  cmd.ActorID,
		"previous": string(previous),
		"current":  string(status),
	})
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusOverride,
		OrderID:        order.ID,
		UserID:         order.UserID,
		PreviousStatus: previous,
		CurrentStatus:  status,
		TotalAmount:    order.TotalAmount,
		ActorID:        cmd.ActorID,
		OccurredAt:     order.UpdatedAt,
	})
	return order, nil
}

func (s *orderService) DeleteOrder(ctx context.Context, cmd DeleteOrderCommand) error {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if err := s.orders.Delete(ctx, orderID); err != nil {
		return mapRepoError(err, ErrOrderNotFound, ErrOrderConflict)
	}
	s.logger(ctx, orderEventDeleted, map[string]any{
		"orderID": orderID,
		"actorID": cmd.ActorID,
	})
	return nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string, actor Actor) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID, false)
	if err != nil {
		return Order{}, mapRepoError(err, ErrOrderNotFound, nil)
	}
	if order.UserID != actor.UserID && !actor.Role.CanReadAdmin() {
		return Order{}, fmt.Errorf("%w: order belongs to another user", ErrOrderForbidden)
	}
	return order, nil
}

func (s *orderService) ListUserOrders(ctx context.Context, userID string, pager Pagination) (domain.CursorPage[Order], error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.CursorPage[Order]{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	page, err := s.orders.ListByUser(ctx, userID, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepoError(err, ErrOrderNotFound, nil)
	}
	return page, nil
}

func (s *orderService) ListOrders(ctx context.Context, pager Pagination) (domain.CursorPage[Order], error) {
	page, err := s.orders.List(ctx, pager)
	if err != nil {
		return domain.CursorPage[Order]{}, mapRepoError(err, ErrOrderNotFound, nil)
	}
	return page, nil
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}
