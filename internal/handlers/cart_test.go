package handlers

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/myshop/api/internal/domain"
	"github.com/myshop/api/internal/platform/idempotency"
	"github.com/myshop/api/internal/services"
)

func sampleCart(userID string) services.Order {
	return services.Order{
		ID:          "ord_cart",
		UserID:      userID,
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.RequireFromString("30.00"),
		CreatedAt:   time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
		Items: []services.OrderItem{
			{ID: "itm_1", ProductID: "prd_1", ProductName: "Matcha", Quantity: 2, Price: decimal.RequireFromString("15")},
		},
	}
}

func newCartRouter(h *CartHandlers) chi.Router {
	router := chi.NewRouter()
	router.Route("/cart", h.Routes)
	return router
}

func TestCartHandlersGetCart(t *testing.T) {
	carts := &stubCartService{
		getFn: func(_ context.Context, userID string) (services.Order, error) {
			return sampleCart(userID), nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, carts, nil))

	rr := serve(router, withIdentity(jsonRequest(t, http.MethodGet, "/cart", nil), "usr_1", domain.RoleUser))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if cc := rr.Header().Get("Cache-Control"); cc == "" {
		t.Fatalf("expected cache-control header")
	}
	body := decodeJSON[orderPayload](t, rr)
	if body.UserID != "usr_1" || body.Status != "pending" {
		t.Fatalf("unexpected cart: %#v", body)
	}
	if body.TotalAmount != "30.00" {
		t.Fatalf("expected total 30.00, got %s", body.TotalAmount)
	}
	if len(body.Items) != 1 || body.Items[0].Subtotal != "30.00" || body.Items[0].Price != "15.00" {
		t.Fatalf("unexpected items: %#v", body.Items)
	}
}

func TestCartHandlersRequireIdentity(t *testing.T) {
	router := newCartRouter(NewCartHandlers(nil, &stubCartService{}, nil))
	rr := serve(router, jsonRequest(t, http.MethodGet, "/cart", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCartHandlersRejectMissingToken(t *testing.T) {
	router := newCartRouter(NewCartHandlers(newTestAuthenticator(), &stubCartService{}, nil))
	rr := serve(router, jsonRequest(t, http.MethodGet, "/cart", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
}

func TestCartHandlersAddItemDefaultsQuantity(t *testing.T) {
	var captured services.AddCartItemCommand
	carts := &stubCartService{
		addFn: func(_ context.Context, cmd services.AddCartItemCommand) (services.Order, error) {
			captured = cmd
			return sampleCart(cmd.UserID), nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, carts, nil))

	req := withIdentity(jsonRequest(t, http.MethodPost, "/cart/items", map[string]any{"product_id": " prd_1 "}), "usr_1", domain.RoleUser)
	rr := serve(router, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.UserID != "usr_1" || captured.ProductID != "prd_1" || captured.Quantity != 1 {
		t.Fatalf("unexpected command: %#v", captured)
	}
}

func TestCartHandlersAddItemValidation(t *testing.T) {
	router := newCartRouter(NewCartHandlers(nil, &stubCartService{}, nil))

	rr := serve(router, withIdentity(jsonRequest(t, http.MethodPost, "/cart/items", map[string]any{"quantity": 2}), "usr_1", domain.RoleUser))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "invalid_request" {
		t.Fatalf("expected invalid_request, got %s", code)
	}
}

func TestCartHandlersAddItemServiceErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing product", services.ErrCartProductNotFound, http.StatusNotFound, "not_found"},
		{"bad quantity", fmt.Errorf("%w: quantity must be positive", services.ErrCartInvalidInput), http.StatusBadRequest, "invalid_argument"},
		{"storage down", services.ErrStorageUnavailable, http.StatusServiceUnavailable, "storage_unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			carts := &stubCartService{
				addFn: func(context.Context, services.AddCartItemCommand) (services.Order, error) {
					return services.Order{}, tc.err
				},
			}
			router := newCartRouter(NewCartHandlers(nil, carts, nil))
			rr := serve(router, withIdentity(jsonRequest(t, http.MethodPost, "/cart/items", map[string]any{"product_id": "prd_1", "quantity": 3}), "usr_1", domain.RoleUser))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if code := errorCode(t, rr); code != tc.code {
				t.Fatalf("expected %s, got %s", tc.code, code)
			}
		})
	}
}

func TestCartHandlersUpdateItem(t *testing.T) {
	var captured services.UpdateCartItemCommand
	carts := &stubCartService{
		updateFn: func(_ context.Context, cmd services.UpdateCartItemCommand) (services.Order, error) {
			captured = cmd
			return sampleCart(cmd.UserID), nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, carts, nil))

	rr := serve(router, withIdentity(jsonRequest(t, http.MethodPut, "/cart/items/itm_1", map[string]any{"quantity": 0}), "usr_1", domain.RoleUser))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.ItemID != "itm_1" || captured.Quantity != 0 {
		t.Fatalf("unexpected command: %#v", captured)
	}

	rr = serve(router, withIdentity(jsonRequest(t, http.MethodPut, "/cart/items/itm_1", map[string]any{}), "usr_1", domain.RoleUser))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing quantity, got %d", rr.Code)
	}
}

func TestCartHandlersRemoveItemReturnsRefreshedCart(t *testing.T) {
	removed := ""
	carts := &stubCartService{
		removeFn: func(_ context.Context, cmd services.RemoveCartItemCommand) error {
			removed = cmd.ItemID
			return nil
		},
		getFn: func(_ context.Context, userID string) (services.Order, error) {
			cart := sampleCart(userID)
			cart.Items = nil
			cart.TotalAmount = decimal.Zero
			return cart, nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, carts, nil))

	rr := serve(router, withIdentity(jsonRequest(t, http.MethodDelete, "/cart/items/itm_1", nil), "usr_1", domain.RoleUser))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if removed != "itm_1" {
		t.Fatalf("expected itm_1 removed, got %q", removed)
	}
	body := decodeJSON[orderPayload](t, rr)
	if len(body.Items) != 0 || body.TotalAmount != "0.00" {
		t.Fatalf("unexpected cart after removal: %#v", body)
	}
}

func TestCartHandlersCheckout(t *testing.T) {
	var captured services.CheckoutCommand
	checkout := &stubCheckoutService{
		checkoutFn: func(_ context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			captured = cmd
			order := sampleCart(cmd.UserID)
			order.Status = domain.OrderStatusPaid
			return order, nil
		},
	}
	router := newCartRouter(NewCartHandlers(nil, &stubCartService{}, checkout))

	req := withIdentity(jsonRequest(t, http.MethodPost, "/cart/checkout", map[string]any{
		"cart_id":  "ord_cart",
		"item_ids": []string{"itm_1"},
	}), "usr_1", domain.RoleUser)
	rr := serve(router, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.CartID != "ord_cart" || len(captured.SelectedItemIDs) != 1 || captured.SelectedItemIDs[0] != "itm_1" {
		t.Fatalf("unexpected command: %#v", captured)
	}
	if body := decodeJSON[orderPayload](t, rr); body.Status != "paid" {
		t.Fatalf("expected paid order, got %s", body.Status)
	}
}

func TestCartHandlersCheckoutInsufficientStock(t *testing.T) {
	checkout := &stubCheckoutService{
		checkoutFn: func(context.Context, services.CheckoutCommand) (services.Order, error) {
			return services.Order{}, fmt.Errorf("%w: Matcha", services.ErrCheckoutInsufficientStock)
		},
	}
	router := newCartRouter(NewCartHandlers(nil, &stubCartService{}, checkout))

	rr := serve(router, withIdentity(jsonRequest(t, http.MethodPost, "/cart/checkout", map[string]any{"cart_id": "ord_cart"}), "usr_1", domain.RoleUser))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if code := errorCode(t, rr); code != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock, got %s", code)
	}
}

func TestCartHandlersCheckoutReplaysIdempotentRequest(t *testing.T) {
	calls := 0
	checkout := &stubCheckoutService{
		checkoutFn: func(_ context.Context, cmd services.CheckoutCommand) (services.Order, error) {
			calls++
			order := sampleCart(cmd.UserID)
			order.Status = domain.OrderStatusPaid
			return order, nil
		},
	}
	mw := idempotency.Middleware(idempotency.NewMemoryStore())
	router := newCartRouter(NewCartHandlers(nil, &stubCartService{}, checkout, WithCartIdempotency(mw)))

	for i := 0; i < 2; i++ {
		req := withIdentity(jsonRequest(t, http.MethodPost, "/cart/checkout", map[string]any{"cart_id": "ord_cart"}), "usr_1", domain.RoleUser)
		req.Header.Set("Idempotency-Key", "checkout-1")
		rr := serve(router, req)
		if rr.Code != http.StatusOK {
			t.Fatalf("attempt %d: expected 200, got %d", i, rr.Code)
		}
		if i == 1 && rr.Header().Get("X-Idempotent-Replay") != "true" {
			t.Fatalf("expected replay header on second attempt")
		}
	}
	if calls != 1 {
		t.Fatalf("expected checkout once, got %d", calls)
	}
}

func TestCartHandlersServiceUnavailable(t *testing.T) {
	router := newCartRouter(NewCartHandlers(nil, nil, nil))
	rr := serve(router, withIdentity(jsonRequest(t, http.MethodGet, "/cart", nil), "usr_1", domain.RoleUser))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
