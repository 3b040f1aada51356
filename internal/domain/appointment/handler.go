package appointment

import (
	"context"
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

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/appointments")
	g.GET("", h.List, auth.RequireRole(model.RoleDoctor, model.RoleNurse, model.RoleAdmin))
	g.POST("", h.Create, auth.RequireRole(model.RoleNurse, model.RoleDoctor))
	g.GET("/all", h.ListAll, auth.RequireRole(model.RoleNurse))
	g.GET("/:id", h.Get)
	g.POST("/:id/start", h.Start, auth.RequireRole(model.RoleDoctor))
	g.POST("/:id/complete", h.Complete, auth.RequireRole(model.RoleDoctor))
	g.POST("/:id/cancel", h.Cancel, auth.RequireRole(model.RoleDoctor, model.RoleNurse))
	g.POST("/:id/no-show", h.NoShow, auth.RequireRole(model.RoleDoctor, model.RoleNurse))

	api.GET("/patients/:id/history", h.History, auth.RequireRole(model.RoleDoctor, model.RoleNurse))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

func queryOf(c echo.Context) Query {
	return Query{
		DoctorID:  c.QueryParam("doctor_id"),
		PatientID: c.QueryParam("patient_id"),
		Date:      c.QueryParam("date"),
		Sex:       c.QueryParam("sex"),
	}
}

func (h *Handler) Create(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	d, err := h.svc.Create(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, d)
}

func (h *Handler) List(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), id, queryOf(c), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Record{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) ListAll(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAll(c.Request().Context(), id, queryOf(c), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Record{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) Get(c echo.Context) error {
	return h.single(c, h.svc.Get)
}

func (h *Handler) Start(c echo.Context) error {
	return h.single(c, h.svc.Start)
}

func (h *Handler) Cancel(c echo.Context) error {
	return h.single(c, h.svc.Cancel)
}

func (h *Handler) NoShow(c echo.Context) error {
	return h.single(c, h.svc.NoShow)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	aid, err := parseID(c)
	if err != nil {
		return err
	}
	var in CompleteInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	d, err := h.svc.Complete(c.Request().Context(), id, aid, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}

func (h *Handler) History(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	pid, err := parseID(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.History(c.Request().Context(), id, pid, pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg))
}

func (h *Handler) single(c echo.Context, op func(ctx context.Context, actor auth.Identity, id uuid.UUID) (*Detail, error)) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	aid, err := parseID(c)
	if err != nil {
		return err
	}
	d, err := op(c.Request().Context(), id, aid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, d)
}
