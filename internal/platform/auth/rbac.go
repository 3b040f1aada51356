package auth

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/apperr"
)

// Authorize admits id when its role is one of roles. There is no implicit
// hierarchy: a SUPER_ADMIN passes only where it is listed.
func Authorize(id Identity, roles ...model.Role) error {
	if id.UserID == uuid.Nil || id.Role == "" {
		return apperr.Unauthenticated("authentication required")
	}
	for _, r := range roles {
		if id.Role == r {
			return nil
		}
	}
	return apperr.Forbidden("requires role %s", joinRoles(roles))
}

// ScopeCheck admits id when hospitalID is its own hospital. A mismatch is
// reported as NotFound so that existence does not leak across tenants.
func ScopeCheck(id Identity, hospitalID uuid.UUID, what string) error {
	if id.IsSuperAdmin() {
		return nil
	}
	if id.HospitalID == nil || *id.HospitalID != hospitalID {
		return apperr.NotFound("%s not found", what)
	}
	return nil
}

// ScopeCheckForbidden is ScopeCheck for targets the caller already knows
// about, where a Forbidden is not a disclosure.
func ScopeCheckForbidden(id Identity, hospitalID uuid.UUID) error {
	if id.IsSuperAdmin() {
		return nil
	}
	if id.HospitalID == nil || *id.HospitalID != hospitalID {
		return apperr.Forbidden("not permitted outside your hospital")
	}
	return nil
}

// RequireHospital rejects identities without a hospital, including
// SUPER_ADMIN, for operations that only make sense inside a tenant.
func RequireHospital(id Identity) (uuid.UUID, error) {
	if id.HospitalID == nil {
		return uuid.Nil, apperr.Forbidden("operation requires a hospital-scoped account")
	}
	return *id.HospitalID, nil
}

// creatable lists which roles each creator may provision.
var creatable = map[model.Role][]model.Role{
	model.RoleAdmin:  {model.RoleDoctor, model.RoleNurse, model.RoleMedicalShop},
	model.RoleDoctor: {model.RoleNurse, model.RoleMedicalShop},
}

// CanManageRole reports whether creator may create or manage staff of target.
func CanManageRole(creator, target model.Role) bool {
	for _, r := range creatable[creator] {
		if r == target {
			return true
		}
	}
	return false
}

// RequireRole is route-level middleware around Authorize.
func RequireRole(roles ...model.Role) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id, ok := IdentityFromContext(c.Request().Context())
			if !ok {
				return apperr.Unauthenticated("authentication required")
			}
			if err := Authorize(id, roles...); err != nil {
				return err
			}
			return next(c)
		}
	}
}

func joinRoles(roles []model.Role) string {
	s := make([]string, len(roles))
	for i, r := range roles {
		s[i] = string(r)
	}
	return strings.Join(s, " or ")
}
