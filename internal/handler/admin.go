package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-checkin/internal/analytics"
)

// RebuildRunner is satisfied by *analytics.Rebuilder.
type RebuildRunner interface {
	Start(parent context.Context) <-chan error
	Status() analytics.Status
}

type AdminHandler struct {
	rebuilder RebuildRunner
}

func NewAdminHandler(r RebuildRunner) *AdminHandler { return &AdminHandler{rebuilder: r} }

// Rebuild handles POST /v1/admin/analytics/rebuild. The rebuild runs in
// the background; a running one is cancelled and replaced.
func (h *AdminHandler) Rebuild(c echo.Context) error {
	h.rebuilder.Start(c.Request().Context())
	return c.JSON(http.StatusAccepted, h.rebuilder.Status())
}

// RebuildStatus handles GET /v1/admin/analytics/rebuild.
func (h *AdminHandler) RebuildStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.rebuilder.Status())
}
