package patient

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
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts patient endpoints. The appointment history route
// is owned by the appointment package.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/patients", auth.RequireRole(model.RoleDoctor, model.RoleNurse, model.RoleAdmin))
	read.GET("", h.List)
	read.GET("/search", h.SearchByPhone)
	read.GET("/:id", h.Get)
	read.POST("", h.Create, auth.RequireRole(model.RoleNurse, model.RoleDoctor))
	read.PUT("/:id", h.Update, auth.RequireRole(model.RoleNurse, model.RoleDoctor))
	read.DELETE("/:id", h.Delete, auth.RequireRole(model.RoleAdmin, model.RoleDoctor))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func (h *Handler) Create(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	var in Input
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	p, err := h.svc.Create(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, p)
}

func (h *Handler) List(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), id, c.QueryParam("search"), c.QueryParam("appointment_date"), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*model.Patient{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) SearchByPhone(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	p, err := h.svc.SearchByPhone(c.Request().Context(), id, c.QueryParam("phone"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
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

func (h *Handler) Update(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	pid, err := parseID(c)
	if err != nil {
		return err
	}
	var in Update
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	p, err := h.svc.Update(c.Request().Context(), id, pid, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) Delete(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	pid, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Delete(c.Request().Context(), id, pid); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
