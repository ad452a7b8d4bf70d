// Package middleware holds the echo middleware shared by the API routes.
package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-checkin/internal/utils"
)

// Context keys set by JWTAuth.
const (
	CtxOperatorID = "user_id"
	CtxRole       = "role"
)

// JWTAuth validates a bearer device token and stores its subject and role
// in the context. Browsers' EventSource cannot send headers, so GET
// requests may pass the token as ?access_token= instead.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := ""
			if auth := c.Request().Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				raw = strings.TrimPrefix(auth, "Bearer ")
			} else if c.Request().Method == http.MethodGet {
				raw = c.QueryParam("access_token")
			}
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			claims, err := utils.ParseDeviceToken(secret, raw)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			c.Set(CtxOperatorID, claims.Subject)
			c.Set(CtxRole, claims.Role)
			return next(c)
		}
	}
}
