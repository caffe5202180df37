package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/myshop/api/internal/domain"
	"github.com/myshop/api/internal/platform/httpx"
	"github.com/myshop/api/internal/platform/requestctx"
)

const defaultLookupTimeout = 5 * time.Second

// ErrUnknownSubject is returned by a UserLookup when the token subject no longer exists.
var ErrUnknownSubject = errors.New("auth: unknown subject")

// TokenDecoder decodes bearer tokens into claims.
type TokenDecoder interface {
	DecodeToken(token string) (Claims, error)
}

// UserLookup refreshes identity details from the account store so that
// role changes and deleted accounts take effect before token expiry.
type UserLookup interface {
	LookupIdentity(ctx context.Context, userID string) (*Identity, error)
}

// Authenticator wires token verification into HTTP middleware.
type Authenticator struct {
	decoder TokenDecoder
	users   UserLookup
	timeout time.Duration
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithUserLookup enables per-request identity refresh from the account store.
func WithUserLookup(lookup UserLookup) Option {
	return func(a *Authenticator) {
		a.users = lookup
	}
}

// WithLookupTimeout bounds the identity refresh call.
func WithLookupTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(decoder TokenDecoder, opts ...Option) *Authenticator {
	a := &Authenticator{
		decoder: decoder,
		timeout: defaultLookupTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireAuth verifies the Authorization bearer token and ensures one of the allowed roles.
// With no roles supplied any authenticated identity passes.
func (a *Authenticator) RequireAuth(allowedRoles ...domain.Role) func(http.Handler) http.Handler {
	allowed := make([]domain.Role, 0, len(allowedRoles))
	for _, role := range allowedRoles {
		if role != "" {
			allowed = append(allowed, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := a.authenticate(w, r)
			if !ok {
				return
			}
			if len(allowed) > 0 && !identity.HasAnyRole(allowed...) {
				respondAuthError(r.Context(), w, http.StatusForbidden, "insufficient_role", "identity does not have required role")
				return
			}
			ctx := WithIdentity(r.Context(), identity)
			ctx = requestctx.WithLogger(ctx, requestctx.Logger(ctx).With(zap.String("user_id", identity.UserID)))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin admits only full administrators.
func (a *Authenticator) RequireAdmin() func(http.Handler) http.Handler {
	return a.RequireAuth(domain.RoleAdmin)
}

// RequireReadAdmin admits administrators and read-only administrators.
func (a *Authenticator) RequireReadAdmin() func(http.Handler) http.Handler {
	return a.RequireAuth(domain.RoleAdmin, domain.RoleReadAdmin)
}

func (a *Authenticator) authenticate(w http.ResponseWriter, r *http.Request) (*Identity, bool) {
	ctx := r.Context()
	tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
	if !ok {
		respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
		return nil, false
	}
	if a == nil || a.decoder == nil {
		respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
		return nil, false
	}

	claims, err := a.decoder.DecodeToken(tokenStr)
	if err != nil {
		respondVerificationError(ctx, w, err)
		return nil, false
	}

	identity := &Identity{
		UserID: claims.UserID,
		Email:  claims.Email,
		Role:   claims.Role,
	}

	if a.users != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, a.timeout)
		defer cancel()
		refreshed, err := a.users.LookupIdentity(lookupCtx, claims.UserID)
		switch {
		case errors.Is(err, ErrUnknownSubject):
			respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "account no longer exists")
			return nil, false
		case err != nil:
			respondAuthError(ctx, w, http.StatusServiceUnavailable, "auth_unavailable", "unable to load account")
			return nil, false
		case refreshed != nil:
			identity = refreshed
		}
	}

	if !identity.Role.Valid() {
		respondAuthError(ctx, w, http.StatusUnauthorized, "missing_role", "no role associated with identity")
		return nil, false
	}
	return identity, true
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}

func respondVerificationError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrTokenExpired):
		respondAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "access token expired")
	case errors.Is(err, ErrTokenInvalid):
		respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "access token invalid")
	default:
		respondAuthError(ctx, w, http.StatusUnauthorized, "invalid_token", "access token verification failed")
	}
}
