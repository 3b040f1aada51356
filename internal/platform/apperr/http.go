package apperr

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Body is the JSON shape of every error response.
type Body struct {
	Error   Kind   `json:"error"`
	Message string `json:"message"`
}

// HTTPErrorHandler renders taxonomy errors and echo's own HTTP errors as Body.
// Internal causes are logged, never returned.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, body := render(err)
		if status >= http.StatusInternalServerError {
			rid, _ := c.Get("request_id").(string)
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

// StatusOf returns the status code HTTPErrorHandler will answer err with.
func StatusOf(err error) int {
	status, _ := render(err)
	return status
}

func render(err error) (int, Body) {
	var ae *Error
	if errors.As(err, &ae) {
		msg := ae.Message
		if ae.Kind == KindInternal {
			msg = "internal server error"
		}
		return HTTPStatus(ae.Kind), Body{Error: ae.Kind, Message: msg}
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return he.Code, Body{Error: kindForStatus(he.Code), Message: msg}
	}

	return http.StatusInternalServerError, Body{Error: KindInternal, Message: "internal server error"}
}

func kindForStatus(code int) Kind {
	switch code {
	case http.StatusUnauthorized:
		return KindUnauthenticated
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound, http.StatusMethodNotAllowed:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		return KindValidation
	case http.StatusTooManyRequests:
		return KindRateLimited
	default:
		return KindInternal
	}
}
