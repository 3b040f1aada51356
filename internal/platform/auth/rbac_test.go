package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/apperr"
)

func staff(role model.Role, hospital uuid.UUID) Identity {
	h := hospital
	return Identity{UserID: uuid.New(), Role: role, HospitalID: &h}
}

func TestAuthorize(t *testing.T) {
	h := uuid.New()
	if err := Authorize(staff(model.RoleDoctor, h), model.RoleDoctor, model.RoleNurse); err != nil {
		t.Errorf("doctor should be admitted: %v", err)
	}
	if err := Authorize(staff(model.RoleNurse, h), model.RoleMedicalShop); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("nurse should be forbidden from pharmacy operations, got %v", err)
	}
	superAdmin := Identity{UserID: uuid.New(), Role: model.RoleSuperAdmin}
	if err := Authorize(superAdmin, model.RoleDoctor); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("super admin passes only where listed, got %v", err)
	}
	if err := Authorize(Identity{}, model.RoleDoctor); apperr.KindOf(err) != apperr.KindUnauthenticated {
		t.Errorf("empty identity should be unauthenticated, got %v", err)
	}
}

func TestScopeCheck(t *testing.T) {
	h1, h2 := uuid.New(), uuid.New()
	doctor := staff(model.RoleDoctor, h1)

	if err := ScopeCheck(doctor, h1, "patient"); err != nil {
		t.Errorf("same hospital should pass: %v", err)
	}
	if err := ScopeCheck(doctor, h2, "patient"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Errorf("cross tenant read should be not found, got %v", err)
	}
	if err := ScopeCheck(Identity{UserID: uuid.New(), Role: model.RoleSuperAdmin}, h2, "patient"); err != nil {
		t.Errorf("super admin bypasses scope: %v", err)
	}
	if err := ScopeCheckForbidden(doctor, h2); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("expected forbidden, got %v", err)
	}
}

func TestRequireHospital(t *testing.T) {
	if _, err := RequireHospital(Identity{UserID: uuid.New(), Role: model.RoleSuperAdmin}); apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("expected forbidden, got %v", err)
	}
	h := uuid.New()
	got, err := RequireHospital(staff(model.RoleNurse, h))
	if err != nil || got != h {
		t.Errorf("got %s, %v", got, err)
	}
}

func TestCanManageRole(t *testing.T) {
	tests := []struct {
		creator, target model.Role
		want            bool
	}{
		{model.RoleAdmin, model.RoleDoctor, true},
		{model.RoleAdmin, model.RoleNurse, true},
		{model.RoleAdmin, model.RoleMedicalShop, true},
		{model.RoleAdmin, model.RoleAdmin, false},
		{model.RoleAdmin, model.RoleSuperAdmin, false},
		{model.RoleDoctor, model.RoleNurse, true},
		{model.RoleDoctor, model.RoleMedicalShop, true},
		{model.RoleDoctor, model.RoleDoctor, false},
		{model.RoleNurse, model.RoleMedicalShop, false},
		{model.RoleSuperAdmin, model.RoleDoctor, false},
	}
	for _, tt := range tests {
		if got := CanManageRole(tt.creator, tt.target); got != tt.want {
			t.Errorf("CanManageRole(%s, %s) = %v, want %v", tt.creator, tt.target, got, tt.want)
		}
	}
}

func TestRequireRole_Middleware(t *testing.T) {
	e := echo.New()
	handler := func(c echo.Context) error { return c.String(http.StatusOK, "ok") }
	mw := RequireRole(model.RoleMedicalShop)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), staff(model.RoleNurse, uuid.New())))
	rec := httptest.NewRecorder()
	err := mw(handler)(e.NewContext(req, rec))
	if apperr.KindOf(err) != apperr.KindForbidden {
		t.Errorf("expected forbidden, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req = req.WithContext(WithIdentity(req.Context(), staff(model.RoleMedicalShop, uuid.New())))
	rec = httptest.NewRecorder()
	if err := mw(handler)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	rec = httptest.NewRecorder()
	if err := mw(handler)(e.NewContext(req, rec)); apperr.KindOf(err) != apperr.KindUnauthenticated {
		t.Errorf("expected unauthenticated, got %v", err)
	}
}
