package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/memstore"
	"github.com/iliyamo/event-checkin/internal/model"
	"github.com/iliyamo/event-checkin/internal/occupancy"
	"github.com/iliyamo/event-checkin/internal/registry"
	"github.com/iliyamo/event-checkin/internal/utils"
)

var t0 = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store *memstore.Store
	occ   *occupancy.Aggregator
	proc  *Processor
	room  model.Scope
}

func newFixture(t *testing.T, capacity *int, badges ...string) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	log := logger.NewNop()
	reg := registry.New(store, log)

	event := model.Scope{ID: "ev", Kind: model.ScopeEvent, Name: "Expo"}
	room := model.Scope{ID: "room", Kind: model.ScopeSession, EventID: "ev", Name: "Hall A", MaxCapacity: capacity}
	for _, sc := range []model.Scope{event, room} {
		if err := store.PutScope(ctx, sc); err != nil {
			t.Fatalf("PutScope: %v", err)
		}
	}
	for _, b := range badges {
		p := model.Participant{ID: "p-" + b, DisplayName: b, Roles: model.MustRoleSet(model.RoleAttendee)}
		if err := reg.RegisterParticipant(ctx, p); err != nil {
			t.Fatalf("RegisterParticipant: %v", err)
		}
		if err := reg.IssueBadge(ctx, model.Badge{ID: b, ParticipantID: p.ID}); err != nil {
			t.Fatalf("IssueBadge: %v", err)
		}
	}
	occ := occupancy.New(occupancy.NewMemoryCounters(), time.Hour, log)
	proc := NewProcessor(Config{MaxClockSkew: 2 * time.Minute, CASRetries: 3}, store, store, reg, occ, log, occ)
	proc.now = func() time.Time { return t0 }
	return &fixture{store: store, occ: occ, proc: proc, room: room}
}

func (f *fixture) scan(t *testing.T, badge, action string) Result {
	t.Helper()
	res, err := f.proc.Submit(context.Background(), Request{BadgeID: badge, ScopeID: f.room.ID, Action: action, OperatorID: "gate-1"})
	if err != nil {
		t.Fatalf("Submit %s %s: %v", badge, action, err)
	}
	return res
}

func (f *fixture) snapshot(t *testing.T) model.Occupancy {
	t.Helper()
	snap, err := f.occ.Snapshot(context.Background(), f.room)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

func intp(n int) *int { return &n }

func TestResolveTable(t *testing.T) {
	cases := []struct {
		p        model.Presence
		a        model.Action
		resolved model.Resolution
		next     model.Presence
	}{
		{model.Outside, model.ActionCheckIn, model.ResolvedCheckIn, model.Inside},
		{model.Outside, model.ActionCheckOut, model.ResolvedNoOp, model.Outside},
		{model.Inside, model.ActionCheckIn, model.ResolvedNoOp, model.Inside},
		{model.Inside, model.ActionCheckOut, model.ResolvedCheckOut, model.Outside},
	}
	for _, c := range cases {
		r, n := Resolve(c.p, c.a)
		if r != c.resolved || n != c.next {
			t.Fatalf("Resolve(%s,%s): want=(%s,%s) got=(%s,%s)", c.p, c.a, c.resolved, c.next, r, n)
		}
	}
}

func TestToggleLaw(t *testing.T) {
	f := newFixture(t, nil, "A")
	f.scan(t, "A", "check_in")
	f.scan(t, "A", "check_out")
	last := f.scan(t, "A", "check_in")
	if last.State.Presence != model.Inside {
		t.Fatalf("presence: want=INSIDE got=%s", last.State.Presence)
	}
	snap := f.snapshot(t)
	if snap.TotalCheckIns != 2 || snap.TotalCheckOuts != 1 || snap.CurrentlyInside != 1 {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestRepeatedCheckInIsNoOp(t *testing.T) {
	f := newFixture(t, nil, "A")
	first := f.scan(t, "A", "check_in")
	second := f.scan(t, "A", "check_in")
	if first.Resolved != model.ResolvedCheckIn {
		t.Fatalf("first: %s", first.Resolved)
	}
	if second.Resolved != model.ResolvedNoOp || second.Outcome != model.OutcomeDuplicate {
		t.Fatalf("second: %s/%s", second.Resolved, second.Outcome)
	}
	if second.State.Version != first.State.Version {
		t.Fatalf("duplicate must not bump version: %d -> %d", first.State.Version, second.State.Version)
	}
	if snap := f.snapshot(t); snap.TotalCheckIns != 1 || snap.CurrentlyInside != 1 {
		t.Fatalf("snapshot: %+v", snap)
	}
	events, _ := f.store.ListScanEvents(context.Background())
	if len(events) != 2 {
		t.Fatalf("both scans should be recorded: got %d", len(events))
	}

	out := f.scan(t, "A", "check_out")
	again := f.scan(t, "A", "check_out")
	if out.Resolved != model.ResolvedCheckOut || again.Resolved != model.ResolvedNoOp {
		t.Fatalf("check-out pair: %s, %s", out.Resolved, again.Resolved)
	}
	if snap := f.snapshot(t); snap.CurrentlyInside != 0 || snap.TotalCheckOuts != 1 {
		t.Fatalf("snapshot after check-out: %+v", snap)
	}
}

func TestCheckOutWhileOutsideNeverGoesNegative(t *testing.T) {
	f := newFixture(t, nil, "A")
	res := f.scan(t, "A", "check_out")
	if res.Resolved != model.ResolvedNoOp {
		t.Fatalf("resolved: %s", res.Resolved)
	}
	if snap := f.snapshot(t); snap.CurrentlyInside != 0 || snap.TotalCheckOuts != 0 {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestCapacityScenario(t *testing.T) {
	f := newFixture(t, intp(2), "A", "B", "C")
	f.scan(t, "A", "in")
	f.scan(t, "B", "in")
	rejected := f.scan(t, "C", "in")
	if rejected.Resolved != model.ResolvedRejected || rejected.Outcome != model.OutcomeCapacityExceeded {
		t.Fatalf("C first attempt: %s/%s", rejected.Resolved, rejected.Outcome)
	}
	if rejected.State.Presence != model.Outside {
		t.Fatalf("rejected scan must not change state")
	}
	f.scan(t, "A", "out")
	accepted := f.scan(t, "C", "in")
	if accepted.Resolved != model.ResolvedCheckIn {
		t.Fatalf("C second attempt: %s/%s", accepted.Resolved, accepted.Outcome)
	}
	snap := f.snapshot(t)
	if snap.CurrentlyInside != 2 || snap.OccupancyRate != 1 {
		t.Fatalf("snapshot: %+v", snap)
	}
}

func TestConcurrentCheckInsRespectCapacity(t *testing.T) {
	const capacity = 5
	var badges []string
	for i := 0; i <= capacity; i++ {
		badges = append(badges, fmt.Sprintf("b%d", i))
	}
	f := newFixture(t, intp(capacity), badges...)

	var wg sync.WaitGroup
	results := make([]Result, len(badges))
	errs := make([]error, len(badges))
	for i, b := range badges {
		wg.Add(1)
		go func(i int, b string) {
			defer wg.Done()
			results[i], errs[i] = f.proc.Submit(context.Background(), Request{BadgeID: b, ScopeID: "room", Action: "check_in"})
		}(i, b)
	}
	wg.Wait()

	accepted, rejected := 0, 0
	for i, r := range results {
		if errs[i] != nil {
			t.Fatalf("Submit %s: %v", badges[i], errs[i])
		}
		switch r.Resolved {
		case model.ResolvedCheckIn:
			accepted++
		case model.ResolvedRejected:
			rejected++
		}
	}
	if accepted != capacity || rejected != 1 {
		t.Fatalf("accepted=%d rejected=%d", accepted, rejected)
	}
	if snap := f.snapshot(t); snap.CurrentlyInside != capacity {
		t.Fatalf("inside: want=%d got=%d", capacity, snap.CurrentlyInside)
	}
	if n := f.proc.locks.size(); n != 0 {
		t.Fatalf("key locks leaked: %d", n)
	}
}

func TestUnknownBadgeRecordsNothing(t *testing.T) {
	f := newFixture(t, nil, "A")
	_, err := f.proc.Submit(context.Background(), Request{BadgeID: "ghost", ScopeID: "room", Action: "check_in"})
	if !errors.Is(err, model.ErrBadgeNotFound) {
		t.Fatalf("want ErrBadgeNotFound, got %v", err)
	}
	_, err = f.proc.Submit(context.Background(), Request{BadgeID: "A", ScopeID: "nowhere", Action: "check_in"})
	if !errors.Is(err, model.ErrScopeNotFound) {
		t.Fatalf("want ErrScopeNotFound, got %v", err)
	}
	_, err = f.proc.Submit(context.Background(), Request{BadgeID: "A", ScopeID: "room", Action: "teleport"})
	if !errors.Is(err, model.ErrInvalidScan) {
		t.Fatalf("want ErrInvalidScan, got %v", err)
	}
	events, _ := f.store.ListScanEvents(context.Background())
	if len(events) != 0 {
		t.Fatalf("events recorded: %d", len(events))
	}
}

func TestClosedScopeRejectsEntryButAllowsExit(t *testing.T) {
	f := newFixture(t, nil, "A", "B")
	f.scan(t, "A", "in")

	closes := t0
	f.room.ClosesAt = &closes
	if err := f.store.PutScope(context.Background(), f.room); err != nil {
		t.Fatalf("PutScope: %v", err)
	}
	res := f.scan(t, "B", "in")
	if res.Resolved != model.ResolvedRejected || res.Outcome != model.OutcomeScopeClosed {
		t.Fatalf("entry after close: %s/%s", res.Resolved, res.Outcome)
	}
	out := f.scan(t, "A", "out")
	if out.Resolved != model.ResolvedCheckOut {
		t.Fatalf("exit after close: %s", out.Resolved)
	}
	if snap := f.snapshot(t); snap.CurrentlyInside != 0 {
		t.Fatalf("inside: %d", snap.CurrentlyInside)
	}
}

func TestOutOfOrderCheckOutStillResolves(t *testing.T) {
	f := newFixture(t, intp(1), "A", "B")
	ctx := context.Background()
	// A's entry device runs fast, its exit device runs slow
	in, err := f.proc.Submit(ctx, Request{BadgeID: "A", ScopeID: "room", Action: "in", ClientTimestamp: t0.Add(time.Minute)})
	if err != nil || in.Resolved != model.ResolvedCheckIn {
		t.Fatalf("check-in: res=%+v err=%v", in, err)
	}
	out, err := f.proc.Submit(ctx, Request{BadgeID: "A", ScopeID: "room", Action: "out", ClientTimestamp: t0.Add(-time.Minute)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if out.Resolved != model.ResolvedCheckOut || out.Outcome != model.OutcomeCommitted {
		t.Fatalf("check-out: want=check_out/committed got=%s/%s", out.Resolved, out.Outcome)
	}
	if out.State.Presence != model.Outside {
		t.Fatalf("presence: want=%s got=%s", model.Outside, out.State.Presence)
	}
	if snap := f.snapshot(t); snap.CurrentlyInside != 0 {
		t.Fatalf("inside: want=0 got=%d", snap.CurrentlyInside)
	}
	b, err := f.proc.Submit(ctx, Request{BadgeID: "B", ScopeID: "room", Action: "in", ClientTimestamp: t0})
	if err != nil || b.Resolved != model.ResolvedCheckIn {
		t.Fatalf("B check-in: res=%+v err=%v", b, err)
	}
}

func TestClockSkewFallsBackToServerTime(t *testing.T) {
	f := newFixture(t, nil, "A")
	res, err := f.proc.Submit(context.Background(), Request{BadgeID: "A", ScopeID: "room", Action: "in", ClientTimestamp: t0.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res.Event.Timestamp.Equal(t0) {
		t.Fatalf("effective time: want=%s got=%s", t0, res.Event.Timestamp)
	}
	if !res.Event.ClientTimestamp.Equal(t0.Add(-time.Hour)) {
		t.Fatalf("client timestamp should be kept")
	}
}

func TestOverrideCodeAdmitsOverCapacity(t *testing.T) {
	f := newFixture(t, intp(1), "A", "B")
	hash, err := utils.HashOverrideCode("4711", 4)
	if err != nil {
		t.Fatalf("HashOverrideCode: %v", err)
	}
	f.room.OverrideCodeHash = hash
	_ = f.store.PutScope(context.Background(), f.room)

	f.scan(t, "A", "in")
	res, err := f.proc.Submit(context.Background(), Request{BadgeID: "B", ScopeID: "room", Action: "in", OverrideCode: "wrong"})
	if err != nil || res.Outcome != model.OutcomeCapacityExceeded {
		t.Fatalf("wrong code: err=%v outcome=%s", err, res.Outcome)
	}
	res, err = f.proc.Submit(context.Background(), Request{BadgeID: "B", ScopeID: "room", Action: "in", OverrideCode: "4711"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Resolved != model.ResolvedCheckIn || res.Outcome != model.OutcomeOverride {
		t.Fatalf("override: %s/%s", res.Resolved, res.Outcome)
	}
	if snap := f.snapshot(t); snap.CurrentlyInside != 2 {
		t.Fatalf("inside: %d", snap.CurrentlyInside)
	}
}

type flakyLedger struct {
	Ledger
	failures int
}

func (l *flakyLedger) Commit(ctx context.Context, expected uint64, next *model.CheckState, ev model.ScanEvent) error {
	if l.failures > 0 {
		l.failures--
		return model.ErrVersionConflict
	}
	return l.Ledger.Commit(ctx, expected, next, ev)
}

func TestVersionConflictIsRetried(t *testing.T) {
	f := newFixture(t, intp(1), "A")
	f.proc.ledger = &flakyLedger{Ledger: f.store, failures: 2}
	res := f.scan(t, "A", "in")
	if res.Resolved != model.ResolvedCheckIn {
		t.Fatalf("resolved: %s", res.Resolved)
	}
	snap := f.snapshot(t)
	if snap.CurrentlyInside != 1 || *snap.Available != 0 {
		t.Fatalf("cancelled reservations leaked: %+v", snap)
	}

	f.proc.ledger = &flakyLedger{Ledger: f.store, failures: 10}
	if _, err := f.proc.Submit(context.Background(), Request{BadgeID: "A", ScopeID: "room", Action: "out"}); !errors.Is(err, model.ErrVersionConflict) {
		t.Fatalf("want ErrVersionConflict after retries, got %v", err)
	}
}

func TestRecentActivityNewestFirst(t *testing.T) {
	f := newFixture(t, nil, "A", "B")
	f.scan(t, "A", "in")
	f.scan(t, "B", "in")
	f.scan(t, "A", "out")
	got, err := f.proc.RecentActivity(context.Background(), "room", 2)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if len(got) != 2 || got[0].BadgeID != "A" || got[0].Resolved != model.ResolvedCheckOut || got[1].BadgeID != "B" {
		t.Fatalf("activity: %+v", got)
	}
	if _, err := f.proc.RecentActivity(context.Background(), "nowhere", 0); !errors.Is(err, model.ErrScopeNotFound) {
		t.Fatalf("unknown scope: %v", err)
	}
}

func TestSinksSeeEveryRecordedScan(t *testing.T) {
	f := newFixture(t, nil, "A")
	var seen []model.Outcome
	f.proc.AddSink(SinkFunc(func(_ context.Context, ev model.ScanEvent) { seen = append(seen, ev.Outcome) }))
	f.scan(t, "A", "in")
	f.scan(t, "A", "in")
	if len(seen) != 2 || seen[0] != model.OutcomeCommitted || seen[1] != model.OutcomeDuplicate {
		t.Fatalf("sink saw %v", seen)
	}
}
