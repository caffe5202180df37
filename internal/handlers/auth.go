package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/myshop/api/internal/platform/httpx"
	"github.com/myshop/api/internal/services"
)

const maxAuthBodySize = 8 * 1024

// AuthHandlers exposes the public account endpoints under /auth.
type AuthHandlers struct {
	accounts services.AccountService
	limiter  rateLimiter
}

// AuthOption customises AuthHandlers.
type AuthOption func(*AuthHandlers)

// WithAuthRateLimit limits every /auth route to perMinute requests per client IP.
func WithAuthRateLimit(perMinute int, clock func() time.Time) AuthOption {
	return func(h *AuthHandlers) {
		h.limiter = newRateLimiter(perMinute, clock)
	}
}

// NewAuthHandlers constructs AuthHandlers.
func NewAuthHandlers(accounts services.AccountService, opts ...AuthOption) *AuthHandlers {
	h := &AuthHandlers{accounts: accounts}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /auth endpoints.
func (h *AuthHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(rateLimitMiddleware(h.limiter))
	r.Post("/register", h.register)
	r.Post("/token", h.token)
	r.Get("/verify-email", h.verifyEmail)
	r.Post("/verify-email", h.verifyEmail)
	r.Post("/forgot-password", h.forgotPassword)
	r.Post("/reset-password", h.resetPassword)
}

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     string  `json:"name"`
	Address  *string `json:"address"`
	Birthday *string `json:"birthday"`
	Phone    *string `json:"phone"`
	Sex      *string `json:"sex"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresAt   string      `json:"expires_at"`
	User        userPayload `json:"user"`
}

func (h *AuthHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		writeServiceUnavailable(ctx, w, "account")
		return
	}
	var req registerRequest
	if err := httpx.DecodeJSON(r, maxAuthBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}

	user, err := h.accounts.Register(ctx, services.RegisterCommand{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Address:  req.Address,
		Birthday: req.Birthday,
		Phone:    req.Phone,
		Sex:      req.Sex,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, buildUserPayload(user))
}

// token accepts a JSON body or an OAuth2 password-grant form (username/password).
func (h *AuthHandlers) token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		writeServiceUnavailable(ctx, w, "account")
		return
	}

	var req credentialsRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		r.Body = http.MaxBytesReader(w, r.Body, maxAuthBodySize)
		if err := r.ParseForm(); err != nil {
			writeInvalidRequest(ctx, w, "invalid form payload")
			return
		}
		req.Email = r.PostForm.Get("username")
		req.Password = r.PostForm.Get("password")
	} else if err := httpx.DecodeJSON(r, maxAuthBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}

	result, err := h.accounts.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, services.ErrUnauthorized) {
			w.Header().Set("WWW-Authenticate", "Bearer")
		}
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSONResponse(w, http.StatusOK, tokenResponse{
		AccessToken: result.AccessToken,
		TokenType:   result.TokenType,
		ExpiresAt:   formatTime(result.ExpiresAt),
		User:        buildUserPayload(result.User),
	})
}

func (h *AuthHandlers) verifyEmail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		writeServiceUnavailable(ctx, w, "account")
		return
	}
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if r.Method == http.MethodPost && token == "" {
		var req tokenRequest
		if err := httpx.DecodeJSON(r, maxAuthBodySize, &req); err != nil {
			httpx.WriteBodyError(w, r, err)
			return
		}
		token = strings.TrimSpace(req.Token)
	}

	user, err := h.accounts.VerifyEmail(ctx, token)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildUserPayload(user))
}

func (h *AuthHandlers) forgotPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		writeServiceUnavailable(ctx, w, "account")
		return
	}
	var req emailRequest
	if err := httpx.DecodeJSON(r, maxAuthBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	if err := h.accounts.ForgotPassword(ctx, req.Email); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "password reset email sent"})
}

func (h *AuthHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.accounts == nil {
		writeServiceUnavailable(ctx, w, "account")
		return
	}
	var req tokenRequest
	if err := httpx.DecodeJSON(r, maxAuthBodySize, &req); err != nil {
		httpx.WriteBodyError(w, r, err)
		return
	}
	if err := h.accounts.ResetPassword(ctx, req.Token, req.NewPassword); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]string{"message": "password updated"})
}
