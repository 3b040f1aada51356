package pharmacy

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/domain/prescription"
	"github.com/ehr/hospital/internal/platform/apperr"
	"github.com/ehr/hospital/internal/platform/auth"
	"github.com/ehr/hospital/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/prescriptions")
	g.GET("/queue", h.Queue, auth.RequireRole(model.RoleMedicalShop, model.RoleAdmin))
	g.GET("/stats", h.Stats, auth.RequireRole(model.RoleMedicalShop))
	g.GET("/:id", h.Get)
	g.POST("/:id/dispense", h.Dispense, auth.RequireRole(model.RoleMedicalShop))
	g.PUT("/:id/dispense", h.Dispense, auth.RequireRole(model.RoleMedicalShop))
	g.POST("/:id/unavailable", h.MarkUnavailable, auth.RequireRole(model.RoleMedicalShop))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func (h *Handler) Queue(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.Queue(c.Request().Context(), id, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*prescription.QueueEntry{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Stats(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	st, err := h.svc.Stats(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	pid, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.Get(c.Request().Context(), id, pid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// Dispense accepts a JSON array of line item updates.
func (h *Handler) Dispense(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	pid, err := parseID(c)
	if err != nil {
		return err
	}
	var updates []model.LineUpdate
	if err := c.Bind(&updates); err != nil {
		return apperr.Validation("invalid request body")
	}
	p, err := h.svc.Dispense(c.Request().Context(), id, pid, updates)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) MarkUnavailable(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	pid, err := parseID(c)
	if err != nil {
		return err
	}
	p, err := h.svc.MarkUnavailable(c.Request().Context(), id, pid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}
