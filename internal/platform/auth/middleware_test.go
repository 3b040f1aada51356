package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/hospital/internal/domain/model"
	"github.com/ehr/hospital/internal/platform/apperr"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func newTestIssuer() *TokenIssuer {
	return NewTokenIssuer(testSigningKey, 30*time.Minute)
}

func testUser(role model.Role) *model.User {
	h := uuid.New()
	return &model.User{ID: uuid.New(), Role: role, HospitalID: &h}
}

func okHandler(c echo.Context) error {
	id, _ := IdentityFromContext(c.Request().Context())
	return c.String(http.StatusOK, string(id.Role))
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := newTestIssuer()
	u := testUser(model.RoleDoctor)

	tok, err := issuer.Issue(u)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := issuer.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.UserID != u.ID || id.Role != model.RoleDoctor || id.HospitalID == nil || *id.HospitalID != *u.HospitalID {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestTokenIssuer_SuperAdminWithoutHospital(t *testing.T) {
	issuer := newTestIssuer()
	tok, err := issuer.Issue(&model.User{ID: uuid.New(), Role: model.RoleSuperAdmin})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	id, err := issuer.Parse(tok)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.HospitalID != nil || !id.IsSuperAdmin() {
		t.Errorf("unexpected identity %+v", id)
	}
}

func TestTokenIssuer_Expired(t *testing.T) {
	issuer := newTestIssuer()
	issuer.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, err := issuer.Issue(testUser(model.RoleNurse))
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	issuer.now = time.Now
	if _, err := issuer.Parse(tok); apperr.KindOf(err) != apperr.KindUnauthenticated {
		t.Errorf("expected unauthenticated for expired token, got %v", err)
	}
}

func TestTokenIssuer_RejectsForeignKeyAndMissingHospital(t *testing.T) {
	other := NewTokenIssuer([]byte("some-other-secret-entirely-different"), time.Minute)
	tok, _ := other.Issue(testUser(model.RoleNurse))
	if _, err := newTestIssuer().Parse(tok); err == nil {
		t.Error("expected error for token signed with another key")
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			Issuer:    "hospital-server",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "doctor",
	}
	signed, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	if _, err := newTestIssuer().Parse(signed); apperr.KindOf(err) != apperr.KindUnauthenticated {
		t.Errorf("expected doctor token without hospital to be rejected, got %v", err)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := JWTMiddleware(newTestIssuer())(okHandler)(c)
	if apperr.KindOf(err) != apperr.KindUnauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(echo.HeaderAuthorization, tt.header)
			rec := httptest.NewRecorder()
			err := JWTMiddleware(newTestIssuer())(okHandler)(e.NewContext(req, rec))
			if apperr.KindOf(err) != apperr.KindUnauthenticated {
				t.Errorf("expected unauthenticated, got %v", err)
			}
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	issuer := newTestIssuer()
	tok, _ := issuer.Issue(testUser(model.RoleMedicalShop))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := JWTMiddleware(issuer)(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "medical_shop" {
		t.Errorf("expected identity in context, got %q", rec.Body.String())
	}
	if c.Get("user_role") != "medical_shop" {
		t.Errorf("expected user_role on echo context, got %v", c.Get("user_role"))
	}
}

func TestJWTMiddleware_QueryToken(t *testing.T) {
	issuer := newTestIssuer()
	tok, _ := issuer.Issue(testUser(model.RoleDoctor))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil)
	rec := httptest.NewRecorder()
	if err := JWTMiddleware(issuer)(okHandler)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "doctor" {
		t.Errorf("got %q", rec.Body.String())
	}
}

func TestDevHeaderMiddleware(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderDevUserID, uuid.New().String())
	req.Header.Set(HeaderDevUserRole, "nurse")
	req.Header.Set(HeaderDevHospitalID, uuid.New().String())
	rec := httptest.NewRecorder()

	if err := DevHeaderMiddleware(newTestIssuer())(okHandler)(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Body.String() != "nurse" {
		t.Errorf("got %q", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderDevUserID, uuid.New().String())
	req.Header.Set(HeaderDevUserRole, "janitor")
	rec = httptest.NewRecorder()
	if err := DevHeaderMiddleware(newTestIssuer())(okHandler)(e.NewContext(req, rec)); apperr.KindOf(err) != apperr.KindUnauthenticated {
		t.Errorf("expected unauthenticated for unknown role, got %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	if err := DevHeaderMiddleware(newTestIssuer())(okHandler)(e.NewContext(req, rec)); apperr.KindOf(err) != apperr.KindUnauthenticated {
		t.Errorf("expected fallthrough to token auth, got %v", err)
	}
}

func TestBcryptHasher(t *testing.T) {
	h := NewBcryptHasher(4)
	hash, err := h.Hash("correct-horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !h.Verify(hash, "correct-horse") {
		t.Error("expected password to verify")
	}
	if h.Verify(hash, "wrong-horse") {
		t.Error("expected wrong password to fail")
	}
	if _, err := h.Hash("short"); apperr.KindOf(err) != apperr.KindValidation {
		t.Errorf("expected validation error for short password, got %v", err)
	}
}
