package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/apperr"
)

// Identity is the authenticated caller of an operation.
type Identity struct {
	UserID     uuid.UUID
	Role       model.Role
	HospitalID *uuid.UUID
	// IssuedAt is the token's issue time; zero for header identities.
	IssuedAt time.Time
}

// IsSuperAdmin reports whether the identity bypasses tenant scoping.
func (id Identity) IsSuperAdmin() bool { return id.Role == model.RoleSuperAdmin }

// Hospital returns the identity's hospital, or uuid.Nil when it has none.
func (id Identity) Hospital() uuid.UUID {
	if id.HospitalID == nil {
		return uuid.Nil
	}
	return *id.HospitalID
}

type contextKey string

const identityKey contextKey = "identity"

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity set by the auth middleware.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// Caller returns the identity of the request being handled, or an
// Unauthenticated error when the auth middleware did not run.
func Caller(c echo.Context) (Identity, error) {
	id, ok := IdentityFromContext(c.Request().Context())
	if !ok {
		return Identity{}, apperr.Unauthenticated("authentication required")
	}
	return id, nil
}
