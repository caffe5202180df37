package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/myshop/api/internal/platform/auth"
	"github.com/myshop/api/internal/platform/httpx"
	"github.com/myshop/api/internal/services"
)

const maxCartBodySize = 16 * 1024

// CartHandlers exposes the caller's cart and checkout.
type CartHandlers struct {
	authn       *auth.Authenticator
	carts       services.CartService
	checkout    services.CheckoutService
	idempotency func(http.Handler) http.Handler
}

// CartOption customises CartHandlers.
type CartOption func(*CartHandlers)

// WithCartIdempotency guards mutating cart routes with the supplied middleware.
func WithCartIdempotency(mw func(http.Handler) http.Handler) CartOption {
	return func(h *CartHandlers) {
		h.idempotency = mw
	}
}

// NewCartHandlers constructs handlers that require an authenticated user.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService, checkout services.CheckoutService, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{
		authn:    authn,
		carts:    carts,
		checkout: checkout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	if h.idempotency != nil {
		r.Use(h.idempotency)
	}
	r.Get("/", h.getCart)
	r.Post("/items", h.addItem)
	r.Put("/items/{itemID}", h.updateItem)
	r.Delete("/items/{itemID}", h.removeItem)
	r.Post("/checkout", h.checkoutCart)
}

type addCartItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  *int   `json:"quantity"`
}

type updateCartItemRequest struct {
	Quantity *int `json:"quantity"`
}

type checkoutRequest struct {
	CartID  string   `json:"cart_id"`
	ItemIDs []string `json:"item_ids"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	cart, err := h.carts.GetOrCreateCart(ctx, identity.UserID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(cart))
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req addCartItemRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	if strings.TrimSpace(req.ProductID) == "" {
		writeInvalidRequest(ctx, w, "product_id is required")
		return
	}
	quantity := 1
	if req.Quantity != nil {
		quantity = *req.Quantity
	}

	cart, err := h.carts.AddItem(ctx, services.AddCartItemCommand{
		UserID:    identity.UserID,
		ProductID: strings.TrimSpace(req.ProductID),
		Quantity:  quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusCreated, buildOrderPayload(cart))
}

func (h *CartHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req updateCartItemRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	if req.Quantity == nil {
		writeInvalidRequest(ctx, w, "quantity is required")
		return
	}

	cart, err := h.carts.UpdateItemQuantity(ctx, services.UpdateCartItemCommand{
		UserID:   identity.UserID,
		ItemID:   chi.URLParam(r, "itemID"),
		Quantity: *req.Quantity,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(cart))
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		writeServiceUnavailable(ctx, w, "cart")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	if err := h.carts.RemoveItem(ctx, services.RemoveCartItemCommand{
		UserID: identity.UserID,
		ItemID: chi.URLParam(r, "itemID"),
	}); err != nil {
		writeServiceError(ctx, w, err)
		return
	}

	cart, err := h.carts.GetOrCreateCart(ctx, identity.UserID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	setNoStore(w)
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(cart))
}

func (h *CartHandlers) checkoutCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		writeServiceUnavailable(ctx, w, "checkout")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req checkoutRequest
	if err := httpx.DecodeJSON(r, maxCartBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}

	order, err := h.checkout.Checkout(ctx, services.CheckoutCommand{
		UserID:          identity.UserID,
		CartID:          strings.TrimSpace(req.CartID),
		SelectedItemIDs: req.ItemIDs,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildOrderPayload(order))
}

func setNoStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store, no-cache, max-age=0, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
}
