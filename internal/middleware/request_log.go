package middleware

import (
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-checkin/internal/logger"
)

// RequestLogger logs one line per request, at warn for 4xx and error
// for 5xx.
func RequestLogger(log *logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			status := c.Response().Status
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			fields := []interface{}{
				"method", strings.ToUpper(c.Request().Method),
				"path", path,
				"status", status,
				"duration_ms", time.Since(start).Milliseconds(),
				"operator_id", OperatorID(c),
			}
			if rid := c.Response().Header().Get(echo.HeaderXRequestID); rid != "" {
				fields = append(fields, "request_id", rid)
			}
			switch {
			case status >= 500:
				log.Error("HTTP request", fields...)
			case status >= 400:
				log.Warn("HTTP request", fields...)
			default:
				log.Info("HTTP request", fields...)
			}
			return nil
		}
	}
}
