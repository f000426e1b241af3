package middleware

import (
	"errors"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medilink/medilink/internal/platform/apperr"
)

// ErrorMapper turns classified errors returned by handlers into echo
// HTTP errors with the matching status and client message. Unclassified
// errors are logged in full and answered with a generic 500.
func ErrorMapper(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}
			var he *echo.HTTPError
			if errors.As(err, &he) {
				return err
			}

			status := apperr.HTTPStatus(err)
			if status >= 500 {
				rid, _ := c.Get("request_id").(string)
				logger.Error().Err(err).
					Str("request_id", rid).
					Str("kind", apperr.KindOf(err).String()).
					Msg("request failed")
			}
			return echo.NewHTTPError(status, apperr.Message(err)).SetInternal(err)
		}
	}
}
