package handler

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-checkin/internal/model"
	"github.com/iliyamo/event-checkin/internal/registry"
)

// BadgeRegistry is satisfied by *registry.Registry.
type BadgeRegistry interface {
	Resolve(ctx context.Context, badgeID string) (registry.Identity, error)
	Bindings(ctx context.Context, badgeID string) ([]model.BadgeScopeBinding, error)
	BindBadgeToScope(ctx context.Context, badgeID, scopeID string, role model.Role, override bool) (model.BadgeScopeBinding, error)
}

type BadgeHandler struct {
	registry BadgeRegistry
	scopes   ScopeStore
}

func NewBadgeHandler(reg BadgeRegistry, scopes ScopeStore) *BadgeHandler {
	if reg == nil || scopes == nil {
		panic("nil dependency passed to NewBadgeHandler")
	}
	return &BadgeHandler{registry: reg, scopes: scopes}
}

// Resolve handles GET /v1/badges/:id.
func (h *BadgeHandler) Resolve(c echo.Context) error {
	ctx := c.Request().Context()
	id, err := h.registry.Resolve(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	bindings, err := h.registry.Bindings(ctx, id.Badge.ID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"badge":       id.Badge,
		"participant": id.Participant,
		"role_label":  id.Participant.RoleLabel(),
		"bindings":    bindings,
	})
}

// Bind handles PUT /v1/badges/:id/scopes/:scope_id with {"role", "override"}.
func (h *BadgeHandler) Bind(c echo.Context) error {
	var body struct {
		Role     string `json:"role"`
		Override bool   `json:"override"`
	}
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	role, err := model.ParseRole(body.Role)
	if err != nil {
		return respondError(c, err)
	}
	ctx := c.Request().Context()
	if _, err := h.scopes.GetScope(ctx, c.Param("scope_id")); err != nil {
		return respondError(c, err)
	}
	b, err := h.registry.BindBadgeToScope(ctx, c.Param("id"), c.Param("scope_id"), role, body.Override)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, b)
}
