package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/singleflight"

	"github.com/iliyamo/event-checkin/internal/analytics"
	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/middleware"
	"github.com/iliyamo/event-checkin/internal/model"
	"github.com/iliyamo/event-checkin/internal/occupancy"
	"github.com/iliyamo/event-checkin/internal/realtime"
	"github.com/iliyamo/event-checkin/internal/window"
)

// OccupancyView is satisfied by *occupancy.Aggregator.
type OccupancyView interface {
	Snapshot(ctx context.Context, scope model.Scope) (model.Occupancy, error)
	Timeline(q window.Query) (window.Result, error)
}

// AttendanceView is satisfied by *analytics.Engine.
type AttendanceView interface {
	ForParticipant(participantID string) model.AttendanceAnalytics
	ForEvent(eventID string) model.AttendanceAnalytics
}

// MoodSeries is satisfied by *mood.Feed.
type MoodSeries interface {
	Query(sessionID string, now time.Time, width, lookback time.Duration) (window.Result, error)
}

// DashboardHandler serves the organizer read side. Concurrent identical
// reads are collapsed into one computation.
type DashboardHandler struct {
	scopes     ScopeStore
	scanner    Scanner
	occupancy  OccupancyView
	attendance AttendanceView
	moods      MoodSeries
	history    analytics.History
	hub        *realtime.Hub
	log        *logger.Logger
	group      singleflight.Group
	now        func() time.Time
}

type DashboardDeps struct {
	Scopes     ScopeStore
	Scanner    Scanner
	Occupancy  OccupancyView
	Attendance AttendanceView
	Moods      MoodSeries
	History    analytics.History
	Hub        *realtime.Hub
}

func NewDashboardHandler(d DashboardDeps, log *logger.Logger) *DashboardHandler {
	if d.Scopes == nil || d.Scanner == nil || d.Occupancy == nil || d.Attendance == nil || d.Moods == nil || d.History == nil || d.Hub == nil {
		panic("nil dependency passed to NewDashboardHandler")
	}
	return &DashboardHandler{
		scopes:     d.Scopes,
		scanner:    d.Scanner,
		occupancy:  d.Occupancy,
		attendance: d.Attendance,
		moods:      d.Moods,
		history:    d.History,
		hub:        d.Hub,
		log:        log.With("component", "DashboardHandler"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// sharedContext detaches collapsed work from the request that started it;
// waiters must not fail because the first caller went away.
func sharedContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

func (h *DashboardHandler) snapshot(ctx context.Context, scopeID string) (model.Occupancy, error) {
	v, err, _ := h.group.Do("occ:"+scopeID, func() (interface{}, error) {
		ctx, cancel := sharedContext(ctx)
		defer cancel()
		scope, err := h.scopes.GetScope(ctx, scopeID)
		if err != nil {
			return nil, err
		}
		return h.occupancy.Snapshot(ctx, scope)
	})
	if err != nil {
		return model.Occupancy{}, err
	}
	return v.(model.Occupancy), nil
}

// Occupancy handles GET /v1/scopes/:id/occupancy.
func (h *DashboardHandler) Occupancy(c echo.Context) error {
	snap, err := h.snapshot(c.Request().Context(), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, snap)
}

// Activity handles GET /v1/scopes/:id/activity?limit=.
func (h *DashboardHandler) Activity(c echo.Context) error {
	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			return badRequest(c, "limit must be between 1 and 500")
		}
		limit = n
	}
	items, err := h.scanner.RecentActivity(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"scope_id": c.Param("id"), "items": items})
}

// Stream handles GET /v1/scopes/:id/stream. The current snapshot is sent
// first so a fresh dashboard does not wait for the next scan.
func (h *DashboardHandler) Stream(c echo.Context) error {
	ctx := c.Request().Context()
	scopeID := c.Param("id")
	snap, err := h.snapshot(ctx, scopeID)
	if err != nil {
		return respondError(c, err)
	}
	client := h.hub.NewClient(middleware.OperatorID(c))
	defer h.hub.Close(client)
	channel := realtime.ScopeChannel(scopeID)
	h.hub.Subscribe(client, channel)
	client.Outbound <- realtime.Message{Channel: channel, Event: realtime.EventOccupancyChanged, Data: snap}

	h.hub.Serve(c.Response(), c.Request(), client)
	return nil
}

// ParticipantAnalytics handles GET /v1/analytics/participants/:id.
func (h *DashboardHandler) ParticipantAnalytics(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	v, _, _ := h.group.Do("ap:"+id, func() (interface{}, error) {
		return h.attendance.ForParticipant(id), nil
	})
	return c.JSON(http.StatusOK, v)
}

// EventAnalytics handles GET /v1/analytics/events/:id.
func (h *DashboardHandler) EventAnalytics(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	v, _, _ := h.group.Do("ae:"+id, func() (interface{}, error) {
		return h.attendance.ForEvent(id), nil
	})
	return c.JSON(http.StatusOK, v)
}

// NoShows handles GET /v1/analytics/events/:id/no-shows. It reads the full
// history and is meant for post-event reporting.
func (h *DashboardHandler) NoShows(c echo.Context) error {
	ctx := c.Request().Context()
	scope, err := h.scopes.GetScope(ctx, c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}
	if scope.Kind != model.ScopeEvent {
		return badRequest(c, "no-shows are reported per event")
	}
	v, err, _ := h.group.Do("ns:"+scope.ID, func() (interface{}, error) {
		ctx, cancel := sharedContext(ctx)
		defer cancel()
		regs, err := h.history.ListRegistrations(ctx)
		if err != nil {
			return nil, err
		}
		scans, err := h.history.ListScanEvents(ctx)
		if err != nil {
			return nil, err
		}
		return occupancy.NoShows(scope, regs, scans), nil
	})
	if err != nil {
		h.log.Error("no-show report failed", "event_id", scope.ID, "error", err)
		return respondError(c, err)
	}
	items := v.([]model.RegistrationRecord)
	return c.JSON(http.StatusOK, echo.Map{"event_id": scope.ID, "count": len(items), "items": items})
}

// TimeSeries handles GET /v1/timeseries/:feed?width=&lookback=. feed is
// scope:<id> for check-ins or mood:<session id> for sentiment.
func (h *DashboardHandler) TimeSeries(c echo.Context) error {
	width, err := durationParam(c, "width", 5*time.Minute)
	if err != nil {
		return badRequest(c, err.Error())
	}
	lookback, err := durationParam(c, "lookback", time.Hour)
	if err != nil {
		return badRequest(c, err.Error())
	}
	kind, id, ok := strings.Cut(c.Param("feed"), ":")
	if !ok || id == "" {
		return badRequest(c, "feed must be scope:<id> or mood:<session id>")
	}
	now := h.now()

	var res window.Result
	switch kind {
	case "scope":
		if _, err := h.scopes.GetScope(c.Request().Context(), id); err != nil {
			return respondError(c, err)
		}
		res, err = h.occupancy.Timeline(window.Query{Now: now, Lookback: lookback, BucketWidth: width, Categories: []string{id}})
	case "mood":
		res, err = h.moods.Query(id, now, width, lookback)
	default:
		return badRequest(c, fmt.Sprintf("unknown feed kind %q", kind))
	}
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func durationParam(c echo.Context, name string, def time.Duration) (time.Duration, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration like 5m", name)
	}
	return d, nil
}
