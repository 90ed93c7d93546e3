package middleware

import (
	"net/http"

	"github.com/getsentry/sentry-go"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorHandler renders every error as an apperr.Body. Internal errors are
// logged with their cause and sent to Sentry; the client only sees a generic
// message.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		he := apperr.HTTP(err)

		if he.Code >= http.StatusInternalServerError {
			cause := err
			if he.Internal != nil {
				cause = he.Internal
			}
			logger.Error().Err(cause).
				Interface("request_id", c.Get("request_id")).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
			sentry.CaptureException(cause)
		}

		body := he.Message
		if _, ok := body.(apperr.Body); !ok {
			body = apperr.Body{Category: categoryFor(he.Code), Message: http.StatusText(he.Code)}
			if msg, ok := he.Message.(string); ok && msg != "" {
				body = apperr.Body{Category: categoryFor(he.Code), Message: msg}
			}
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(he.Code)
		} else {
			err = c.JSON(he.Code, body)
		}
		if err != nil {
			logger.Error().Err(err).Msg("write error response")
		}
	}
}

func categoryFor(code int) apperr.Kind {
	switch code {
	case http.StatusNotFound:
		return apperr.KindNotFound
	case http.StatusConflict:
		return apperr.KindConflict
	case http.StatusForbidden, http.StatusUnauthorized:
		return apperr.KindForbidden
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusRequestEntityTooLarge:
		return apperr.KindValidation
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	return apperr.KindInternal
}
