// Package handler exposes the check-in engine over HTTP.
package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-checkin/internal/model"
	"github.com/iliyamo/event-checkin/internal/mood"
	"github.com/iliyamo/event-checkin/internal/window"
)

type apiError struct {
	status int
	code   string
}

var errorTable = []struct {
	target error
	apiError
}{
	{model.ErrInvalidScan, apiError{http.StatusBadRequest, "invalid_scan"}},
	{model.ErrInvalidRole, apiError{http.StatusBadRequest, "invalid_role"}},
	{model.ErrInvalidScope, apiError{http.StatusBadRequest, "invalid_scope"}},
	{mood.ErrInvalidMood, apiError{http.StatusBadRequest, "invalid_mood"}},
	{window.ErrInvalidQuery, apiError{http.StatusBadRequest, "invalid_query"}},
	{model.ErrBadgeNotFound, apiError{http.StatusNotFound, "badge_not_found"}},
	{model.ErrParticipantNotFound, apiError{http.StatusNotFound, "participant_not_found"}},
	{model.ErrScopeNotFound, apiError{http.StatusNotFound, "scope_not_found"}},
	{model.ErrRoleConflict, apiError{http.StatusConflict, "role_conflict"}},
	{model.ErrVersionConflict, apiError{http.StatusConflict, "version_conflict"}},
}

func classify(err error) apiError {
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.apiError
		}
	}
	return apiError{http.StatusInternalServerError, "internal_error"}
}

// respondError writes err in the API error shape. Internal errors are not
// echoed to the client.
func respondError(c echo.Context, err error) error {
	ae := classify(err)
	if ae.status == http.StatusInternalServerError {
		return c.JSON(ae.status, echo.Map{"error": ae.code, "message": "internal error"})
	}
	return c.JSON(ae.status, echo.Map{"error": ae.code, "message": err.Error()})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_request", "message": msg})
}
