// Package router wires handlers and middleware onto the echo instance.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-checkin/internal/handler"
	"github.com/iliyamo/event-checkin/internal/middleware"
	"github.com/iliyamo/event-checkin/internal/utils"
)

// Handlers bundles everything the API serves.
type Handlers struct {
	Health    *handler.HealthHandler
	Scan      *handler.ScanHandler
	Dashboard *handler.DashboardHandler
	Scope     *handler.ScopeHandler
	Badge     *handler.BadgeHandler
	Mood      *handler.MoodHandler
	Admin     *handler.AdminHandler
}

// Options carries the cross-cutting middleware. Nil entries are skipped.
type Options struct {
	JWTSecret string
	RateLimit echo.MiddlewareFunc // scan submission
	Cache     echo.MiddlewareFunc // dashboard reads
}

func Register(e *echo.Echo, h Handlers, opt Options) {
	e.GET("/healthz", h.Health.Health)

	auth := middleware.JWTAuth(opt.JWTSecret)
	anyRole := middleware.RequireRole(utils.RoleScanner, utils.RoleOrganizer)
	organizer := middleware.RequireRole(utils.RoleOrganizer)

	v1 := e.Group("/v1", auth)

	scans := v1.Group("", anyRole)
	if opt.RateLimit != nil {
		scans.POST("/scans", h.Scan.Submit, opt.RateLimit)
	} else {
		scans.POST("/scans", h.Scan.Submit)
	}
	scans.POST("/sessions/:id/moods", h.Mood.Record)
	scans.GET("/scopes/:id/occupancy", h.Dashboard.Occupancy, cached(opt)...)

	org := v1.Group("", organizer)
	org.GET("/scopes/:id", h.Scope.Get)
	org.PUT("/scopes/:id", h.Scope.Upsert)
	org.GET("/scopes/:id/activity", h.Dashboard.Activity, cached(opt)...)
	// streams must never pass through the response cache
	org.GET("/scopes/:id/stream", h.Dashboard.Stream)
	org.GET("/analytics/participants/:id", h.Dashboard.ParticipantAnalytics, cached(opt)...)
	org.GET("/analytics/events/:id", h.Dashboard.EventAnalytics, cached(opt)...)
	org.GET("/analytics/events/:id/no-shows", h.Dashboard.NoShows, cached(opt)...)
	org.GET("/timeseries/:feed", h.Dashboard.TimeSeries, cached(opt)...)
	org.GET("/badges/:id", h.Badge.Resolve)
	org.PUT("/badges/:id/scopes/:scope_id", h.Badge.Bind)
	org.POST("/admin/analytics/rebuild", h.Admin.Rebuild)
	org.GET("/admin/analytics/rebuild", h.Admin.RebuildStatus)
}

func cached(opt Options) []echo.MiddlewareFunc {
	if opt.Cache == nil {
		return nil
	}
	return []echo.MiddlewareFunc{opt.Cache}
}
