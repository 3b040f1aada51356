package apperr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{Forbidden("nope"), KindForbidden},
		{fmt.Errorf("wrapped: %w", Conflict("visit exists")), KindConflict},
		{errors.New("plain"), KindInternal},
		{Validation("bad role %q", "x"), KindValidation},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestErrorsIsSentinel(t *testing.T) {
	err := fmt.Errorf("start: %w", Conflict("visit already exists"))
	if !errors.Is(err, ErrConflict) {
		t.Error("expected errors.Is to match ErrConflict")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("did not expect errors.Is to match ErrNotFound")
	}
}

func TestFromDB(t *testing.T) {
	if got := KindOf(FromDB(pgx.ErrNoRows, "patient")); got != KindNotFound {
		t.Errorf("ErrNoRows: got %s", got)
	}
	fk := &pgconn.PgError{Code: "23503"}
	if got := KindOf(FromDB(fk, "appointment")); got != KindNotFound {
		t.Errorf("fk violation: got %s", got)
	}
	uq := &pgconn.PgError{Code: "23505"}
	if got := KindOf(FromDB(uq, "visit")); got != KindConflict {
		t.Errorf("unique violation: got %s", got)
	}
	if got := KindOf(FromDB(errors.New("conn reset"), "visit")); got != KindInternal {
		t.Errorf("other: got %s", got)
	}
	orig := Forbidden("x")
	if FromDB(orig, "visit") != orig {
		t.Error("taxonomy errors should pass through unchanged")
	}
	if FromDB(nil, "visit") != nil {
		t.Error("nil should stay nil")
	}
}

func TestHTTPErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		kind    Kind
		message string
	}{
		{"not found", NotFound("patient not found"), http.StatusNotFound, KindNotFound, "patient not found"},
		{"validation", Validation("unknown role"), http.StatusUnprocessableEntity, KindValidation, "unknown role"},
		{"internal hides cause", Internal(errors.New("pq: secret detail"), "storage failure"), http.StatusInternalServerError, KindInternal, "internal server error"},
		{"echo error", echo.NewHTTPError(http.StatusUnauthorized, "missing token"), http.StatusUnauthorized, KindUnauthenticated, "missing token"},
		{"unknown error", errors.New("boom"), http.StatusInternalServerError, KindInternal, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			HTTPErrorHandler(zerolog.Nop())(tt.err, c)

			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			var body Body
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body.Error != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, body.Error)
			}
			if body.Message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, body.Message)
			}
		})
	}
}
