package handlers

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/myshop/api/internal/platform/auth"
	"github.com/myshop/api/internal/platform/httpx"
	"github.com/myshop/api/internal/platform/requestctx"
	"github.com/myshop/api/internal/services"
)

// writeServiceError translates service error kinds into the JSON error envelope.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var status int
	var code, message string
	switch {
	case errors.Is(err, services.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, services.ErrForbidden):
		status, code = http.StatusForbidden, "forbidden"
	case errors.Is(err, services.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, services.ErrInsufficientStock):
		status, code = http.StatusBadRequest, "insufficient_stock"
	case errors.Is(err, services.ErrInvalidState):
		status, code = http.StatusBadRequest, "invalid_state"
	case errors.Is(err, services.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, services.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, services.ErrStorageUnavailable):
		status, code, message = http.StatusServiceUnavailable, "storage_unavailable", "storage temporarily unavailable"
	case errors.Is(err, services.ErrStorageFailure):
		status, code, message = http.StatusInternalServerError, "storage_failure", "storage operation failed"
	case errors.Is(err, context.DeadlineExceeded):
		status, code, message = http.StatusGatewayTimeout, "timeout", "request timed out"
	case errors.Is(err, context.Canceled):
		status, code, message = http.StatusServiceUnavailable, "canceled", "request canceled"
	default:
		status, code, message = http.StatusInternalServerError, "internal_error", "internal server error"
	}

	if status >= http.StatusInternalServerError {
		requestctx.Logger(ctx).Error("request failed", zap.String("code", code), zap.Error(err))
	} else {
		message = err.Error()
	}
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
}

func writeInvalidRequest(ctx context.Context, w http.ResponseWriter, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", message, http.StatusBadRequest))
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}

// requireIdentity returns the authenticated caller or writes a 401.
func requireIdentity(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok || identity.UserID == "" {
		writeUnauthenticated(r.Context(), w)
		return nil, false
	}
	return identity, true
}

func actorFrom(identity *auth.Identity) services.Actor {
	return services.Actor{UserID: identity.UserID, Role: identity.Role}
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	httpx.WriteJSON(w, status, payload)
}
