package auth

import (
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/apperr"
)

// TokenParser turns a bearer token into an Identity.
type TokenParser interface {
	Parse(token string) (Identity, error)
}

// JWTMiddleware authenticates requests with a bearer token. The token may
// also be passed as the "token" query parameter, which browsers need for
// WebSocket upgrades.
func JWTMiddleware(parser TokenParser) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenStr, err := bearerToken(c)
			if err != nil {
				return err
			}

			id, err := parser.Parse(tokenStr)
			if err != nil {
				return err
			}

			setIdentity(c, id)
			return next(c)
		}
	}
}

func bearerToken(c echo.Context) (string, error) {
	authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
	if authHeader == "" {
		if q := c.QueryParam("token"); q != "" {
			return q, nil
		}
		return "", apperr.Unauthenticated("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", apperr.Unauthenticated("invalid authorization format")
	}
	return strings.TrimSpace(parts[1]), nil
}

func setIdentity(c echo.Context, id Identity) {
	c.Set("user_id", id.UserID.String())
	c.Set("user_role", string(id.Role))
	c.SetRequest(c.Request().WithContext(WithIdentity(c.Request().Context(), id)))
}

// Development header names read by DevHeaderMiddleware.
const (
	HeaderDevUserID     = "X-User-ID"
	HeaderDevUserRole   = "X-User-Role"
	HeaderDevHospitalID = "X-Hospital-ID"
)

// DevHeaderMiddleware trusts identity headers when no bearer token is sent.
// Requests carrying a token fall through to parser. Only for development.
func DevHeaderMiddleware(parser TokenParser) echo.MiddlewareFunc {
	jwtMW := JWTMiddleware(parser)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		withToken := jwtMW(next)
		return func(c echo.Context) error {
			h := c.Request().Header
			if h.Get(echo.HeaderAuthorization) != "" || h.Get(HeaderDevUserID) == "" {
				return withToken(c)
			}

			uid, err := uuid.Parse(h.Get(HeaderDevUserID))
			if err != nil {
				return apperr.Unauthenticated("invalid %s header", HeaderDevUserID)
			}
			role, err := model.ParseRole(h.Get(HeaderDevUserRole))
			if err != nil {
				return apperr.Unauthenticated("invalid %s header", HeaderDevUserRole)
			}
			id := Identity{UserID: uid, Role: role}
			if raw := h.Get(HeaderDevHospitalID); raw != "" {
				hid, err := uuid.Parse(raw)
				if err != nil {
					return apperr.Unauthenticated("invalid %s header", HeaderDevHospitalID)
				}
				id.HospitalID = &hid
			}

			setIdentity(c, id)
			return next(c)
		}
	}
}
