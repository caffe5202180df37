package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/myshop/api/internal/platform/auth"
	"github.com/myshop/api/internal/services"
)

// UserHandlers exposes the caller's profile and the admin user listing.
type UserHandlers struct {
	authn    *auth.Authenticator
	accounts services.AccountService
}

// NewUserHandlers constructs UserHandlers.
func NewUserHandlers(authn *auth.Authenticator, accounts services.AccountService) *UserHandlers {
	return &UserHandlers{authn: authn, accounts: accounts}
}

// Routes registers the /users endpoints.
func (h *UserHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireAuth())
	}
	r.Get("/me", h.me)
	r.Group(func(admin chi.Router) {
		if h.authn != nil {
			admin.Use(h.authn.RequireReadAdmin())
		}
		admin.Get("/", h.list)
	})
}

func (h *UserHandlers) me(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		writeServiceUnavailable(ctx, w, "account")
		return
	}
	identity, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	user, err := h.accounts.Me(ctx, identity.UserID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

func (h *UserHandlers) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		writeServiceUnavailable(ctx, w, "account")
		return
	}
	pager, ok := pageFromRequest(w, r)
	if !ok {
		return
	}
	page, err := h.accounts.ListUsers(ctx, pager)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newListResponse(page, buildUserPayload))
}
