package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/model"
	"github.com/iliyamo/event-checkin/internal/utils"
)

// ScopeStore is implemented by the MySQL and in-memory stores.
type ScopeStore interface {
	GetScope(ctx context.Context, scopeID string) (model.Scope, error)
	PutScope(ctx context.Context, s model.Scope) error
}

// EventIndex learns about event scopes; satisfied by *analytics.Engine.
type EventIndex interface {
	UpsertEvent(sc model.Scope)
}

type ScopeHandler struct {
	scopes     ScopeStore
	events     EventIndex
	bcryptCost int
	log        *logger.Logger
}

func NewScopeHandler(scopes ScopeStore, events EventIndex, bcryptCost int, log *logger.Logger) *ScopeHandler {
	if scopes == nil || events == nil {
		panic("nil dependency passed to NewScopeHandler")
	}
	return &ScopeHandler{scopes: scopes, events: events, bcryptCost: bcryptCost, log: log.With("component", "ScopeHandler")}
}

type scopeRequest struct {
	Kind         string     `json:"kind"`
	EventID      string     `json:"event_id"`
	Name         string     `json:"name"`
	MaxCapacity  *int       `json:"max_capacity"`
	OpensAt      *time.Time `json:"opens_at"`
	ClosesAt     *time.Time `json:"closes_at"`
	Closed       bool       `json:"closed"`
	OverrideCode string     `json:"override_code"`
}

// Upsert handles PUT /v1/scopes/:id. Sessions and areas must name an
// existing event. An empty override_code keeps the stored one.
func (h *ScopeHandler) Upsert(c echo.Context) error {
	var body scopeRequest
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	ctx := c.Request().Context()
	sc := model.Scope{
		ID:          strings.TrimSpace(c.Param("id")),
		Kind:        model.ScopeKind(strings.ToLower(strings.TrimSpace(body.Kind))),
		EventID:     strings.TrimSpace(body.EventID),
		Name:        body.Name,
		MaxCapacity: body.MaxCapacity,
		OpensAt:     body.OpensAt,
		ClosesAt:    body.ClosesAt,
		Closed:      body.Closed,
	}
	if sc.Kind == model.ScopeEvent {
		sc.EventID = sc.ID
	}
	if err := sc.Validate(); err != nil {
		return respondError(c, err)
	}
	if sc.Kind != model.ScopeEvent {
		parent, err := h.scopes.GetScope(ctx, sc.EventID)
		if err != nil {
			if errors.Is(err, model.ErrScopeNotFound) {
				return badRequest(c, "parent event "+sc.EventID+" does not exist")
			}
			return respondError(c, err)
		}
		if parent.Kind != model.ScopeEvent {
			return badRequest(c, "parent "+sc.EventID+" is not an event")
		}
	}
	if body.OverrideCode != "" {
		hash, err := utils.HashOverrideCode(body.OverrideCode, h.bcryptCost)
		if err != nil {
			h.log.Error("hash override code failed", "scope_id", sc.ID, "error", err)
			return respondError(c, err)
		}
		sc.OverrideCodeHash = hash
	}
	if err := h.scopes.PutScope(ctx, sc); err != nil {
		h.log.Error("store scope failed", "scope_id", sc.ID, "error", err)
		return respondError(c, err)
	}
	if sc.Kind == model.ScopeEvent {
		h.events.UpsertEvent(sc)
	}
	h.log.Info("scope saved", "scope_id", sc.ID, "kind", sc.Kind, "event_id", sc.EventID)
	return c.JSON(http.StatusOK, sc)
}

// Get handles GET /v1/scopes/:id.
func (h *ScopeHandler) Get(c echo.Context) error {
	sc, err := h.scopes.GetScope(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, sc)
}
