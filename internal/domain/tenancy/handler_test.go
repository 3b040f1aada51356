package tenancy

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/apperr"
	"github.com/ehr/hospital/internal/platform/auth"
)

func newRequest(method, target, body string, id *auth.Identity) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if id != nil {
		req = req.WithContext(auth.WithIdentity(req.Context(), *id))
	}
	return req
}

func TestHandler_Login(t *testing.T) {
	f := newFixture()
	hid := f.hospital("General")
	f.user(model.RoleNurse, hid, "nurse@example.com")
	h := NewHandler(f.svc)

	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, "/api/v1/auth/login", `{"email":"nurse@example.com","password":"secret123"}`, nil), rec)

	if err := h.Login(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var tok Token
	if err := json.Unmarshal(rec.Body.Bytes(), &tok); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tok.TokenType != "bearer" || tok.AccessToken == "" {
		t.Errorf("unexpected token response %s", rec.Body.String())
	}
}

func TestHandler_LoginForm(t *testing.T) {
	f := newFixture()
	hid := f.hospital("General")
	f.user(model.RoleNurse, hid, "nurse@example.com")
	h := NewHandler(f.svc)

	form := url.Values{"username": {"nurse@example.com"}, "password": {"secret123"}}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	rec := httptest.NewRecorder()

	if err := h.Login(echo.New().NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandler_LoginWrongPasswordRendersUnauthorized(t *testing.T) {
	f := newFixture()
	hid := f.hospital("General")
	f.user(model.RoleNurse, hid, "nurse@example.com")

	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	NewHandler(f.svc).RegisterPublicRoutes(e.Group("/api/v1"))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, newRequest(http.MethodPost, "/api/v1/auth/login", `{"email":"nurse@example.com","password":"nope-nope"}`, nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body apperr.Body
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Error != apperr.KindUnauthenticated {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_CreateStaff(t *testing.T) {
	f := newFixture()
	hid := f.hospital("General")
	_, admin := f.user(model.RoleAdmin, hid, "admin@example.com")
	h := NewHandler(f.svc)

	e := echo.New()
	rec := httptest.NewRecorder()
	body := `{"full_name":"Nina Nurse","email":"nina@example.com","password":"password1","role":"nurse"}`
	c := e.NewContext(newRequest(http.MethodPost, "/api/v1/users", body, &admin), rec)

	if err := h.CreateStaff(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "hashed") {
		t.Error("password hash must never be serialized")
	}
}

func TestHandler_RoutesEnforceRoles(t *testing.T) {
	f := newFixture()
	hid := f.hospital("General")
	_, nurse := f.user(model.RoleNurse, hid, "nurse@example.com")

	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop())
	api := e.Group("/api/v1")
	NewHandler(f.svc).RegisterRoutes(api)

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, newRequest(http.MethodDelete, "/api/v1/hospitals/"+hid.String(), "", &nurse))
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for nurse deleting a hospital, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, newRequest(http.MethodGet, "/api/v1/users/me", "", &nurse))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200 for /users/me, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, newRequest(http.MethodGet, "/api/v1/users/not-a-uuid", "", &nurse))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for malformed id, got %d", rec.Code)
	}
}
