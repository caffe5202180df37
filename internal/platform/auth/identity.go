package auth

import (
	"context"

	"github.com/myshop/api/internal/domain"
)

// Role aliases keep handler code free of domain imports for role checks.
const (
	RoleUser      = domain.RoleUser
	RoleReadAdmin = domain.RoleReadAdmin
	RoleAdmin     = domain.RoleAdmin
)

// Identity captures the authenticated principal extracted from an access token.
type Identity struct {
	UserID string
	Email  string
	Role   domain.Role
}

// HasRole reports whether the identity holds exactly the requested role.
func (i *Identity) HasRole(role domain.Role) bool {
	return i != nil && i.Role == role
}

// HasAnyRole reports whether the identity holds any of the provided roles.
func (i *Identity) HasAnyRole(roles ...domain.Role) bool {
	for _, role := range roles {
		if i.HasRole(role) {
			return true
		}
	}
	return false
}

// IsAdmin reports full write privilege.
func (i *Identity) IsAdmin() bool {
	return i.HasRole(domain.RoleAdmin)
}

type contextKey string

const identityContextKey contextKey = "auth.identity"

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
