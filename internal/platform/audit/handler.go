package audit

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/apperr"
	"github.com/ehr/hospital/internal/platform/auth"
	"github.com/ehr/hospital/pkg/pagination"
)

type Handler struct {
	repo Repository
}

func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/audit-logs", auth.RequireRole(model.RoleAdmin, model.RoleSuperAdmin))
	g.GET("", h.List)
}

// List returns the caller's hospital trail. A SUPER_ADMIN sees every entry,
// or one hospital's with ?hospital_id=.
func (h *Handler) List(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}

	var scope *uuid.UUID
	if id.IsSuperAdmin() {
		if raw := c.QueryParam("hospital_id"); raw != "" {
			hid, err := uuid.Parse(raw)
			if err != nil {
				return apperr.Validation("invalid hospital_id")
			}
			scope = &hid
		}
	} else {
		hid, err := auth.RequireHospital(id)
		if err != nil {
			return err
		}
		scope = &hid
	}

	pg := pagination.FromContext(c)
	items, total, err := h.repo.List(c.Request().Context(), scope, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.FromDB(err, "audit log")
	}
	if items == nil {
		items = []*model.AuditLog{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}
