package tenancy

import (
	"net/http"
	"strconv"

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

// RegisterPublicRoutes mounts the sign-in endpoint. mw is applied to it
// only, normally a rate limiter.
func (h *Handler) RegisterPublicRoutes(public *echo.Group, mw ...echo.MiddlewareFunc) {
	public.POST("/auth/login", h.Login, mw...)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/users/me", h.Me)

	staffRead := api.Group("", auth.RequireRole(model.RoleAdmin, model.RoleDoctor, model.RoleNurse))
	staffRead.GET("/users", h.ListStaff, auth.RequireRole(model.RoleAdmin, model.RoleNurse))
	staffRead.GET("/users/my-staff", h.MyStaff, auth.RequireRole(model.RoleDoctor))

	// Self lookups are allowed for every role, so no group guard here.
	api.GET("/users/:id", h.GetStaff)

	staffWrite := api.Group("", auth.RequireRole(model.RoleAdmin, model.RoleDoctor))
	staffWrite.POST("/users", h.CreateStaff)
	staffWrite.PUT("/users/:id", h.UpdateStaff)
	staffWrite.POST("/users/:id/reset-password", h.ResetPassword)

	hospitals := api.Group("/hospitals", auth.RequireRole(model.RoleSuperAdmin, model.RoleAdmin))
	hospitals.GET("", h.ListHospitals)
	hospitals.GET("/:id", h.GetHospital)
	hospitals.PUT("/:id", h.UpdateHospital)
	hospitals.POST("", h.CreateHospital, auth.RequireRole(model.RoleSuperAdmin))
	hospitals.DELETE("/:id", h.DeleteHospital, auth.RequireRole(model.RoleSuperAdmin))
}

func parseID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("invalid id")
	}
	return id, nil
}

type loginRequest struct {
	Email    string `json:"email" form:"username"`
	Password string `json:"password" form:"password"`
}

// Login accepts JSON, or the form-encoded username/password pair that
// OAuth2 password-flow clients send.
func (h *Handler) Login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return apperr.Validation("email and password are required")
	}
	tok, err := h.svc.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tok)
}

func (h *Handler) Me(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	u, err := h.svc.Me(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

// -- Hospitals --

type createHospitalResponse struct {
	Hospital *model.Hospital `json:"hospital"`
	Admin    *model.User     `json:"admin"`
}

func (h *Handler) CreateHospital(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	var in HospitalInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	hosp, admin, err := h.svc.CreateHospital(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, createHospitalResponse{Hospital: hosp, Admin: admin})
}

func (h *Handler) ListHospitals(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListHospitals(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*model.Hospital{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

func (h *Handler) GetHospital(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	hid, err := parseID(c)
	if err != nil {
		return err
	}
	hosp, err := h.svc.GetHospital(c.Request().Context(), id, hid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hosp)
}

func (h *Handler) UpdateHospital(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	hid, err := parseID(c)
	if err != nil {
		return err
	}
	var in HospitalUpdate
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	hosp, err := h.svc.UpdateHospital(c.Request().Context(), id, hid, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, hosp)
}

func (h *Handler) DeleteHospital(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	hid, err := parseID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteHospital(c.Request().Context(), id, hid); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Staff --

func (h *Handler) ListStaff(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	q := StaffQuery{Role: c.QueryParam("role")}
	if raw := c.QueryParam("is_active"); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			return apperr.Validation("is_active must be true or false")
		}
		q.IsActive = &active
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListStaff(c.Request().Context(), id, q, p.Limit, p.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*model.User{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

func (h *Handler) MyStaff(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.MyStaff(c.Request().Context(), id, c.QueryParam("role"), p.Limit, p.Offset)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*model.User{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p))
}

func (h *Handler) GetStaff(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	uid, err := parseID(c)
	if err != nil {
		return err
	}
	u, err := h.svc.GetStaff(c.Request().Context(), id, uid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

func (h *Handler) CreateStaff(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	var in StaffInput
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	u, err := h.svc.CreateStaff(c.Request().Context(), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, u)
}

func (h *Handler) UpdateStaff(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	uid, err := parseID(c)
	if err != nil {
		return err
	}
	var in StaffUpdate
	if err := c.Bind(&in); err != nil {
		return apperr.Validation("invalid request body")
	}
	u, err := h.svc.UpdateStaff(c.Request().Context(), id, uid, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u)
}

type resetPasswordRequest struct {
	NewPassword string `json:"new_password"`
}

func (h *Handler) ResetPassword(c echo.Context) error {
	id, err := auth.Caller(c)
	if err != nil {
		return err
	}
	uid, err := parseID(c)
	if err != nil {
		return err
	}
	var req resetPasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("invalid request body")
	}
	if err := h.svc.ResetPassword(c.Request().Context(), id, uid, req.NewPassword); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
