package middleware

import "github.com/labstack/echo/v4"

// OperatorID returns the authenticated device or operator id, or "anon".
func OperatorID(c echo.Context) string {
	if s, ok := c.Get(CtxOperatorID).(string); ok && s != "" {
		return s
	}
	return "anon"
}
