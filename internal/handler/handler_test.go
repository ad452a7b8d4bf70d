package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/event-checkin/internal/analytics"
	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/memstore"
	"github.com/iliyamo/event-checkin/internal/middleware"
	"github.com/iliyamo/event-checkin/internal/model"
	"github.com/iliyamo/event-checkin/internal/mood"
	"github.com/iliyamo/event-checkin/internal/occupancy"
	"github.com/iliyamo/event-checkin/internal/realtime"
	"github.com/iliyamo/event-checkin/internal/registry"
	"github.com/iliyamo/event-checkin/internal/scan"
)

type testAPI struct {
	e     *echo.Echo
	store *memstore.Store
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ctx := context.Background()
	log := logger.NewNop()
	store := memstore.New()
	reg := registry.New(store, log)

	one := 1
	for _, sc := range []model.Scope{
		{ID: "ev", Kind: model.ScopeEvent, EventID: "ev", Name: "Expo"},
		{ID: "talk", Kind: model.ScopeSession, EventID: "ev", Name: "Keynote", MaxCapacity: &one},
	} {
		if err := store.PutScope(ctx, sc); err != nil {
			t.Fatalf("PutScope: %v", err)
		}
	}
	for _, id := range []string{"B1", "B2"} {
		p := model.Participant{ID: "p-" + id, DisplayName: id, Roles: model.MustRoleSet(model.RoleAttendee)}
		if err := reg.RegisterParticipant(ctx, p); err != nil {
			t.Fatalf("RegisterParticipant: %v", err)
		}
		if err := reg.IssueBadge(ctx, model.Badge{ID: id, ParticipantID: p.ID}); err != nil {
			t.Fatalf("IssueBadge: %v", err)
		}
	}

	occ := occupancy.New(occupancy.NewMemoryCounters(), 24*time.Hour, log)
	engine := analytics.NewEngine(5, log)
	proc := scan.NewProcessor(scan.Config{MaxClockSkew: 2 * time.Minute, CASRetries: 3, ActivityLimit: 20}, store, store, reg, occ, log, occ, engine)
	feed := mood.NewFeed(store, 24*time.Hour, log)
	hub := realtime.NewHub(log)

	scans := NewScanHandler(proc, log)
	dash := NewDashboardHandler(DashboardDeps{
		Scopes: store, Scanner: proc, Occupancy: occ, Attendance: engine, Moods: feed, History: store, Hub: hub,
	}, log)
	scopes := NewScopeHandler(store, engine, 4, log)
	badges := NewBadgeHandler(reg, store)
	moods := NewMoodHandler(feed, store)

	e := echo.New()
	g := e.Group("/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(middleware.CtxOperatorID, "gate-1")
			return next(c)
		}
	})
	g.POST("/scans", scans.Submit)
	g.GET("/scopes/:id/occupancy", dash.Occupancy)
	g.GET("/scopes/:id/activity", dash.Activity)
	g.GET("/analytics/events/:id", dash.EventAnalytics)
	g.GET("/analytics/events/:id/no-shows", dash.NoShows)
	g.GET("/timeseries/:feed", dash.TimeSeries)
	g.PUT("/scopes/:id", scopes.Upsert)
	g.GET("/badges/:id", badges.Resolve)
	g.PUT("/badges/:id/scopes/:scope_id", badges.Bind)
	g.POST("/sessions/:id/moods", moods.Record)
	return &testAPI{e: e, store: store}
}

func (a *testAPI) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	a.e.ServeHTTP(rec, req)
	out := map[string]any{}
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

func TestScanStatusCodes(t *testing.T) {
	api := newTestAPI(t)

	rec, body := api.do(t, http.MethodPost, "/v1/scans", `{"badge_id":"B1","scope_id":"talk","action":"check_in"}`)
	if rec.Code != http.StatusOK || body["resolved_action"] != "check_in" {
		t.Fatalf("first check-in: %d %s", rec.Code, rec.Body.String())
	}
	ev := body["event"].(map[string]any)
	if ev["operator_id"] != "gate-1" {
		t.Fatalf("operator from token: %v", ev["operator_id"])
	}

	rec, body = api.do(t, http.MethodPost, "/v1/scans", `{"badge_id":"B1","scope_id":"talk","action":"check_in"}`)
	if rec.Code != http.StatusOK || body["resolved_action"] != "no_op" || body["outcome"] != "duplicate" {
		t.Fatalf("duplicate: %d %s", rec.Code, rec.Body.String())
	}

	rec, body = api.do(t, http.MethodPost, "/v1/scans", `{"badge_id":"B2","scope_id":"talk","action":"check_in"}`)
	if rec.Code != http.StatusConflict || body["outcome"] != "capacity_exceeded" {
		t.Fatalf("full scope: %d %s", rec.Code, rec.Body.String())
	}

	rec, body = api.do(t, http.MethodPost, "/v1/scans", `{"badge_id":"nope","scope_id":"talk","action":"check_in"}`)
	if rec.Code != http.StatusNotFound || body["error"] != "badge_not_found" {
		t.Fatalf("unknown badge: %d %s", rec.Code, rec.Body.String())
	}
	rec, body = api.do(t, http.MethodPost, "/v1/scans", `{"badge_id":"B1","scope_id":"nowhere","action":"check_in"}`)
	if rec.Code != http.StatusNotFound || body["error"] != "scope_not_found" {
		t.Fatalf("unknown scope: %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = api.do(t, http.MethodPost, "/v1/scans", `{"badge_id":"B1","scope_id":"talk","action":"teleport"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad action: want=400 got=%d", rec.Code)
	}
}

func TestOccupancyAndActivity(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, http.MethodPost, "/v1/scans", `{"badge_id":"B1","scope_id":"talk","action":"check_in"}`)
	api.do(t, http.MethodPost, "/v1/scans", `{"badge_id":"B2","scope_id":"talk","action":"check_in"}`)

	rec, body := api.do(t, http.MethodGet, "/v1/scopes/talk/occupancy", "")
	if rec.Code != http.StatusOK || body["currently_inside"] != float64(1) || body["occupancy_rate"] != float64(1) {
		t.Fatalf("occupancy: %d %s", rec.Code, rec.Body.String())
	}

	rec, body = api.do(t, http.MethodGet, "/v1/scopes/talk/activity?limit=1", "")
	items, _ := body["items"].([]any)
	if rec.Code != http.StatusOK || len(items) != 1 {
		t.Fatalf("activity: %d %s", rec.Code, rec.Body.String())
	}
	if first := items[0].(map[string]any); first["badge_id"] != "B2" {
		t.Fatalf("activity should be newest first: %v", first)
	}
	if rec, _ := api.do(t, http.MethodGet, "/v1/scopes/talk/activity?limit=zero", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit: want=400 got=%d", rec.Code)
	}
	if rec, _ := api.do(t, http.MethodGet, "/v1/scopes/ghost/occupancy", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown scope occupancy: want=404 got=%d", rec.Code)
	}
}

func TestScopeUpsert(t *testing.T) {
	api := newTestAPI(t)

	rec, _ := api.do(t, http.MethodPut, "/v1/scopes/hall-b", `{"kind":"area","event_id":"missing"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing parent: want=400 got=%d", rec.Code)
	}
	rec, _ = api.do(t, http.MethodPut, "/v1/scopes/hall-b", `{"kind":"area","event_id":"talk"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("session parent: want=400 got=%d", rec.Code)
	}
	rec, body := api.do(t, http.MethodPut, "/v1/scopes/hall-b", `{"kind":"area","event_id":"ev","name":"Hall B","max_capacity":50,"override_code":"1234"}`)
	if rec.Code != http.StatusOK || body["name"] != "Hall B" {
		t.Fatalf("upsert: %d %s", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "1234") {
		t.Fatalf("override code leaked: %s", rec.Body.String())
	}
	sc, err := api.store.GetScope(context.Background(), "hall-b")
	if err != nil || sc.OverrideCodeHash == "" {
		t.Fatalf("override hash not stored: %+v %v", sc, err)
	}

	// a later update without a code keeps the hash
	api.do(t, http.MethodPut, "/v1/scopes/hall-b", `{"kind":"area","event_id":"ev","name":"Hall B2"}`)
	sc2, _ := api.store.GetScope(context.Background(), "hall-b")
	if sc2.OverrideCodeHash != sc.OverrideCodeHash || sc2.Name != "Hall B2" {
		t.Fatalf("update: %+v", sc2)
	}
	rec, _ = api.do(t, http.MethodPut, "/v1/scopes/x", `{"kind":"event","max_capacity":-1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("negative capacity: want=400 got=%d", rec.Code)
	}
}

func TestBadgeBindAndResolve(t *testing.T) {
	api := newTestAPI(t)

	rec, body := api.do(t, http.MethodPut, "/v1/badges/B1/scopes/talk", `{"role":"speaker"}`)
	if rec.Code != http.StatusOK || body["role"] != "speaker" {
		t.Fatalf("bind: %d %s", rec.Code, rec.Body.String())
	}
	rec, body = api.do(t, http.MethodPut, "/v1/badges/B1/scopes/talk", `{"role":"volunteer"}`)
	if rec.Code != http.StatusConflict || body["error"] != "role_conflict" {
		t.Fatalf("conflict: %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = api.do(t, http.MethodPut, "/v1/badges/B1/scopes/talk", `{"role":"volunteer","override":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("override: %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = api.do(t, http.MethodPut, "/v1/badges/B1/scopes/talk", `{"role":"astronaut"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad role: want=400 got=%d", rec.Code)
	}

	rec, body = api.do(t, http.MethodGet, "/v1/badges/B1", "")
	bindings, _ := body["bindings"].([]any)
	if rec.Code != http.StatusOK || len(bindings) != 1 || body["role_label"] != "attendee" {
		t.Fatalf("resolve: %d %s", rec.Code, rec.Body.String())
	}
	if rec, _ := api.do(t, http.MethodGet, "/v1/badges/none", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown badge: want=404 got=%d", rec.Code)
	}
}

func TestMoodAndTimeSeries(t *testing.T) {
	api := newTestAPI(t)

	rec, _ := api.do(t, http.MethodPost, "/v1/sessions/talk/moods", `{"mood":"excited","intensity":8}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("mood: %d %s", rec.Code, rec.Body.String())
	}
	rec, _ = api.do(t, http.MethodPost, "/v1/sessions/talk/moods", `{"mood":"excited","intensity":11}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("intensity 11: want=400 got=%d", rec.Code)
	}
	rec, _ = api.do(t, http.MethodPost, "/v1/sessions/talk/moods", `{"mood":"hangry","intensity":3}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown mood: want=400 got=%d", rec.Code)
	}

	rec, body := api.do(t, http.MethodGet, "/v1/timeseries/mood:talk?width=5m&lookback=1h", "")
	dist, _ := body["distribution"].([]any)
	if rec.Code != http.StatusOK || len(dist) != 1 {
		t.Fatalf("mood series: %d %s", rec.Code, rec.Body.String())
	}

	api.do(t, http.MethodPost, "/v1/scans", `{"badge_id":"B1","scope_id":"ev","action":"check_in"}`)
	rec, body = api.do(t, http.MethodGet, "/v1/timeseries/scope:ev", "")
	series, _ := body["series"].([]any)
	if rec.Code != http.StatusOK || len(series) != 1 {
		t.Fatalf("scope series: %d %s", rec.Code, rec.Body.String())
	}

	for _, path := range []string{"/v1/timeseries/ev", "/v1/timeseries/weather:x", "/v1/timeseries/scope:ev?width=-1m"} {
		if rec, _ := api.do(t, http.MethodGet, path, ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: want=400 got=%d", path, rec.Code)
		}
	}
}

func TestEventAnalyticsAndNoShows(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	at := time.Now().UTC().Add(-time.Hour)
	for _, pid := range []string{"p-B1", "p-B2"} {
		_ = api.store.PutRegistration(ctx, model.RegistrationRecord{ParticipantID: pid, EventID: "ev", Status: model.RegistrationConfirmed, RegisteredAt: at, UpdatedAt: at})
	}
	api.do(t, http.MethodPost, "/v1/scans", `{"badge_id":"B1","scope_id":"ev","action":"check_in"}`)

	rec, body := api.do(t, http.MethodGet, "/v1/analytics/events/ev/no-shows", "")
	items, _ := body["items"].([]any)
	if rec.Code != http.StatusOK || len(items) != 1 || items[0].(map[string]any)["participant_id"] != "p-B2" {
		t.Fatalf("no-shows: %d %s", rec.Code, rec.Body.String())
	}
	if rec, _ := api.do(t, http.MethodGet, "/v1/analytics/events/talk/no-shows", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("session no-shows: want=400 got=%d", rec.Code)
	}

	rec, body = api.do(t, http.MethodGet, "/v1/analytics/events/unknown", "")
	if rec.Code != http.StatusOK || body["attendance_rate"] != float64(0) {
		t.Fatalf("empty analytics: %d %s", rec.Code, rec.Body.String())
	}
}
