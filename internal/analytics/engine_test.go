package analytics

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/model"
)

var day0 = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func eventScope(i int) model.Scope {
	opens := day0.Add(time.Duration(i) * 24 * time.Hour)
	closes := opens.Add(8 * time.Hour)
	return model.Scope{ID: fmt.Sprintf("ev%02d", i), Kind: model.ScopeEvent, OpensAt: &opens, ClosesAt: &closes}
}

func reg(pid string, ev model.Scope) model.RegistrationRecord {
	return model.RegistrationRecord{ParticipantID: pid, EventID: ev.ID, Status: model.RegistrationConfirmed, RegisteredAt: ev.OpensAt.Add(-72 * time.Hour), UpdatedAt: ev.OpensAt.Add(-72 * time.Hour)}
}

func checkIn(pid string, ev model.Scope, after time.Duration) model.ScanEvent {
	return model.ScanEvent{ID: pid + ev.ID, ParticipantID: pid, BadgeID: "b-" + pid, ScopeID: ev.ID, EventID: ev.ID, Resolved: model.ResolvedCheckIn, Timestamp: ev.OpensAt.Add(after)}
}

func TestEventAttendanceExample(t *testing.T) {
	e := NewEngine(5, logger.NewNop())
	ev := eventScope(0)
	e.UpsertEvent(ev)
	for i := 0; i < 10; i++ {
		pid := fmt.Sprintf("p%d", i)
		e.ApplyRegistration(reg(pid, ev))
		if i < 7 {
			e.Observe(context.Background(), checkIn(pid, ev, time.Hour))
		}
	}
	got := e.ForEvent(ev.ID)
	if got.TotalRegistered != 10 || got.TotalAttended != 7 || got.TotalNoShows != 3 {
		t.Fatalf("counts: %+v", got)
	}
	if got.AttendanceRate != 0.7 {
		t.Fatalf("rate: want=0.7 got=%v", got.AttendanceRate)
	}
}

func TestZeroRegistrationsIsNoData(t *testing.T) {
	e := NewEngine(5, logger.NewNop())
	got := e.ForParticipant("nobody")
	if got.AttendanceRate != 0 || got.Pattern != model.PatternNoData {
		t.Fatalf("empty participant: %+v", got)
	}
	if ev := e.ForEvent("nothing"); ev.AttendanceRate != 0 || ev.TotalNoShows != 0 {
		t.Fatalf("empty event: %+v", ev)
	}
}

func TestPatterns(t *testing.T) {
	cases := []struct {
		name     string
		attended []bool
		want     model.Pattern
	}{
		{"first", []bool{true}, model.PatternFirstTime},
		{"first no-show", []bool{false}, model.PatternFirstTime},
		{"regular", []bool{true, true, false, true, true}, model.PatternRegular},
		{"occasional", []bool{true, false, false, true, false}, model.PatternOccasional},
		{"lapsed", []bool{false, false, false, false, false}, model.PatternLapsed},
		// overall 0.5 but the trailing five are all missed
		{"trailing window", []bool{true, true, true, true, true, false, false, false, false, false}, model.PatternLapsed},
	}
	for _, c := range cases {
		e := NewEngine(5, logger.NewNop())
		for i, a := range c.attended {
			ev := eventScope(i)
			e.UpsertEvent(ev)
			e.ApplyRegistration(reg("p", ev))
			if a {
				e.Observe(context.Background(), checkIn("p", ev, time.Hour))
			}
		}
		got := e.ForParticipant("p")
		if got.Pattern != c.want {
			t.Fatalf("%s: want=%s got=%s (%+v)", c.name, c.want, got.Pattern, got)
		}
		if got.AttendanceRate < 0 || got.AttendanceRate > 1 {
			t.Fatalf("%s: rate out of range: %v", c.name, got.AttendanceRate)
		}
	}
}

func TestCheckInAfterEventEndDoesNotCount(t *testing.T) {
	e := NewEngine(5, logger.NewNop())
	ev := eventScope(0)
	e.ApplyRegistration(reg("p", ev))
	e.Observe(context.Background(), checkIn("p", ev, 9*time.Hour))
	// the event window arrives after the scan; the result must not depend on it
	e.UpsertEvent(ev)
	if got := e.ForEvent(ev.ID); got.TotalAttended != 0 || got.TotalNoShows != 1 {
		t.Fatalf("late check-in counted: %+v", got)
	}
}

func TestCancelledRegistrationIsNotCounted(t *testing.T) {
	e := NewEngine(5, logger.NewNop())
	ev := eventScope(0)
	r := reg("p", ev)
	cancelled := r
	cancelled.Status = model.RegistrationCancelled
	cancelled.UpdatedAt = r.UpdatedAt.Add(time.Hour)
	e.ApplyRegistration(cancelled)
	e.ApplyRegistration(r) // older, arrives late
	if got := e.ForEvent(ev.ID); got.TotalRegistered != 0 {
		t.Fatalf("cancelled registration counted: %+v", got)
	}
}

func TestMalformedRecordsAreSkipped(t *testing.T) {
	e := NewEngine(5, logger.NewNop())
	e.ApplyRegistration(model.RegistrationRecord{EventID: "ev", Status: model.RegistrationConfirmed})
	e.ApplyRegistration(model.RegistrationRecord{ParticipantID: "p", EventID: "ev", Status: "maybe"})
	e.Observe(context.Background(), model.ScanEvent{ScopeID: "ev", Resolved: model.ResolvedCheckIn})
	if got := e.ForEvent("ev"); got.SkippedRecords != 3 || got.TotalRegistered != 0 {
		t.Fatalf("skipped: %+v", got)
	}
}

func history(rng *rand.Rand) Dataset {
	var ds Dataset
	for i := 0; i < 8; i++ {
		ev := eventScope(i)
		ds.Scopes = append(ds.Scopes, ev)
		for p := 0; p < 12; p++ {
			pid := fmt.Sprintf("p%d", p)
			if rng.Intn(3) == 0 {
				continue
			}
			r := reg(pid, ev)
			ds.Registrations = append(ds.Registrations, r)
			if rng.Intn(5) == 0 {
				c := r
				c.Status = model.RegistrationCancelled
				c.UpdatedAt = r.UpdatedAt.Add(time.Duration(rng.Intn(3)-1) * time.Hour)
				ds.Registrations = append(ds.Registrations, c)
			}
			switch rng.Intn(4) {
			case 0:
			case 1:
				ds.Scans = append(ds.Scans, checkIn(pid, ev, 10*time.Hour))
			default:
				ds.Scans = append(ds.Scans, checkIn(pid, ev, time.Duration(rng.Intn(400))*time.Minute))
			}
		}
	}
	return ds
}

func TestIncrementalAndRebuildConverge(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	ds := history(rng)

	incremental := NewEngine(5, logger.NewNop())
	type op func()
	var ops []op
	for _, sc := range ds.Scopes {
		sc := sc
		ops = append(ops, func() { incremental.UpsertEvent(sc) })
	}
	for _, r := range ds.Registrations {
		r := r
		ops = append(ops, func() { incremental.ApplyRegistration(r) })
	}
	for _, ev := range ds.Scans {
		ev := ev
		ops = append(ops, func() { incremental.Observe(context.Background(), ev) })
	}
	rng.Shuffle(len(ops), func(i, j int) { ops[i], ops[j] = ops[j], ops[i] })
	for _, o := range ops {
		o()
	}

	rebuilt := NewEngine(5, logger.NewNop())
	if err := rebuilt.RebuildFrom(context.Background(), ds); err != nil {
		t.Fatalf("RebuildFrom: %v", err)
	}

	for p := 0; p < 12; p++ {
		pid := fmt.Sprintf("p%d", p)
		a, b := incremental.ForParticipant(pid), rebuilt.ForParticipant(pid)
		if a.TotalRegistered != b.TotalRegistered || a.TotalAttended != b.TotalAttended || a.Pattern != b.Pattern || a.AttendanceRate != b.AttendanceRate {
			t.Fatalf("participant %s diverged: incremental=%+v rebuilt=%+v", pid, a, b)
		}
	}
	for _, sc := range ds.Scopes {
		a, b := incremental.ForEvent(sc.ID), rebuilt.ForEvent(sc.ID)
		if a.TotalRegistered != b.TotalRegistered || a.TotalAttended != b.TotalAttended || a.TotalNoShows != b.TotalNoShows {
			t.Fatalf("event %s diverged: incremental=%+v rebuilt=%+v", sc.ID, a, b)
		}
	}
}

func TestCancelledRebuildKeepsState(t *testing.T) {
	e := NewEngine(5, logger.NewNop())
	ev := eventScope(0)
	e.ApplyRegistration(reg("p", ev))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.RebuildFrom(ctx, Dataset{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("want context.Canceled, got %v", err)
	}
	if got := e.ForEvent(ev.ID); got.TotalRegistered != 1 {
		t.Fatalf("state replaced by cancelled rebuild: %+v", got)
	}
}

// gatedHistory blocks its first ListScanEvents call until the context ends.
type gatedHistory struct {
	ds    Dataset
	calls atomic.Int32
}

func (h *gatedHistory) ListScopes(context.Context) ([]model.Scope, error) { return h.ds.Scopes, nil }
func (h *gatedHistory) ListRegistrations(context.Context) ([]model.RegistrationRecord, error) {
	return h.ds.Registrations, nil
}
func (h *gatedHistory) ListScanEvents(ctx context.Context) ([]model.ScanEvent, error) {
	if h.calls.Add(1) == 1 {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return h.ds.Scans, nil
}

func TestRebuilderSupersedesInFlightRun(t *testing.T) {
	ev := eventScope(0)
	h := &gatedHistory{ds: Dataset{
		Scopes:        []model.Scope{ev},
		Registrations: []model.RegistrationRecord{reg("p", ev)},
		Scans:         []model.ScanEvent{checkIn("p", ev, time.Hour)},
	}}
	e := NewEngine(5, logger.NewNop())
	var followed atomic.Int32
	r := NewRebuilder(e, h, logger.NewNop(), func(context.Context, Dataset) error {
		followed.Add(1)
		return nil
	})

	first := r.Start(context.Background())
	for h.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	second := r.Start(context.Background())

	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("first run: want context.Canceled, got %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second run: %v", err)
	}
	if got := e.ForEvent(ev.ID); got.TotalAttended != 1 {
		t.Fatalf("rebuilt state: %+v", got)
	}
	if followed.Load() != 1 {
		t.Fatalf("followers ran %d times", followed.Load())
	}
	if st := r.Status(); st.Running || st.Error != "" {
		t.Fatalf("status: %+v", st)
	}
}
