// Package occupancy maintains live per-scope counters derived from resolved
// scans and enforces capacity through reservations.
package occupancy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/model"
	"github.com/iliyamo/event-checkin/internal/window"
)

// Reservation is a capacity slot held between the capacity check and the
// ledger commit. Exactly one of Commit or Cancel must follow.
type Reservation struct {
	ScopeID  string
	Override bool

	once sync.Once
}

type Aggregator struct {
	store     CounterStore
	retention time.Duration
	timeline  atomic.Pointer[window.Log]
	log       *logger.Logger
}

// New returns an Aggregator. Committed check-ins are also kept in a
// window.Log with the given retention for occupancy-over-time queries.
func New(store CounterStore, retention time.Duration, log *logger.Logger) *Aggregator {
	a := &Aggregator{store: store, retention: retention, log: log.With("component", "OccupancyAggregator")}
	a.timeline.Store(window.NewLog(retention))
	return a
}

func limitOf(scope model.Scope) int {
	if scope.MaxCapacity == nil {
		return -1
	}
	return *scope.MaxCapacity
}

// Reserve admits one more badge into scope or returns ErrCapacityExceeded.
// With override the capacity check is skipped.
func (a *Aggregator) Reserve(ctx context.Context, scope model.Scope, override bool) (*Reservation, error) {
	limit := limitOf(scope)
	if override {
		limit = -1
	}
	ok, err := a.store.Reserve(ctx, scope.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("reserve %s: %w", scope.ID, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrCapacityExceeded, scope.ID)
	}
	return &Reservation{ScopeID: scope.ID, Override: override}, nil
}

// Commit turns the reservation into a counted check-in.
func (a *Aggregator) Commit(ctx context.Context, r *Reservation) error {
	var err error
	r.once.Do(func() { err = a.store.Commit(ctx, r.ScopeID) })
	return err
}

// Cancel returns the reserved slot.
func (a *Aggregator) Cancel(ctx context.Context, r *Reservation) {
	r.once.Do(func() {
		if err := a.store.Cancel(ctx, r.ScopeID); err != nil {
			a.log.Error("cancel reservation failed", "scope_id", r.ScopeID, "error", err)
		}
	})
}

// Release counts a check-out.
func (a *Aggregator) Release(ctx context.Context, scopeID string) error {
	ok, err := a.store.Release(ctx, scopeID)
	if err != nil {
		return fmt.Errorf("release %s: %w", scopeID, err)
	}
	if !ok {
		a.log.Error("check-out with nobody inside; counter held at zero", "scope_id", scopeID)
	}
	return nil
}

// Observe records committed check-ins on the occupancy timeline.
func (a *Aggregator) Observe(_ context.Context, ev model.ScanEvent) {
	if ev.Resolved != model.ResolvedCheckIn {
		return
	}
	a.timeline.Load().Append(window.Entry{At: ev.Timestamp, Category: ev.ScopeID, Weight: 1})
}

// Timeline aggregates check-ins over time; categories are scope IDs.
func (a *Aggregator) Timeline(q window.Query) (window.Result, error) {
	return a.timeline.Load().Query(q)
}

// Snapshot returns the dashboard view of scope.
func (a *Aggregator) Snapshot(ctx context.Context, scope model.Scope) (model.Occupancy, error) {
	c, err := a.store.Load(ctx, scope.ID)
	if err != nil {
		return model.Occupancy{}, fmt.Errorf("load counters %s: %w", scope.ID, err)
	}
	return snapshotOf(scope, c), nil
}

func snapshotOf(scope model.Scope, c Counters) model.Occupancy {
	inside := c.Inside
	if inside < 0 {
		inside = 0
	}
	o := model.Occupancy{
		ScopeID:         scope.ID,
		CurrentlyInside: inside,
		MaxCapacity:     scope.MaxCapacity,
		TotalCheckIns:   c.CheckIns,
		TotalCheckOuts:  c.CheckOuts,
	}
	if scope.MaxCapacity != nil {
		capacity := *scope.MaxCapacity
		avail := capacity - inside - c.Pending
		if avail < 0 {
			avail = 0
		}
		o.Available = &avail
		if capacity > 0 {
			o.OccupancyRate = float64(inside) / float64(capacity)
		}
	}
	return o
}

// Apply folds one committed event into c. Only check_in and check_out
// touch the counters.
func Apply(c Counters, ev model.ScanEvent) Counters {
	switch ev.Resolved {
	case model.ResolvedCheckIn:
		c.Inside++
		c.CheckIns++
	case model.ResolvedCheckOut:
		if c.Inside > 0 {
			c.Inside--
		}
		c.CheckOuts++
	}
	return c
}

// Rebuild recomputes the counters of every scope touched by events and
// replaces the stored values. Pending reservations are reset, which also
// clears slots leaked by a crashed process.
func (a *Aggregator) Rebuild(ctx context.Context, events []model.ScanEvent) error {
	sorted := make([]model.ScanEvent, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	counters := map[string]Counters{}
	for _, ev := range sorted {
		counters[ev.ScopeID] = Apply(counters[ev.ScopeID], ev)
	}
	for scopeID, c := range counters {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := a.store.Replace(ctx, scopeID, c); err != nil {
			return fmt.Errorf("replace counters %s: %w", scopeID, err)
		}
	}
	timeline := window.NewLog(a.retention)
	for _, ev := range sorted {
		if ev.Resolved == model.ResolvedCheckIn {
			timeline.Append(window.Entry{At: ev.Timestamp, Category: ev.ScopeID, Weight: 1})
		}
	}
	a.timeline.Store(timeline)
	a.log.Info("occupancy rebuilt", "scopes", len(counters), "events", len(events))
	return nil
}

// NoShows returns the confirmed registrations for event whose participant
// never checked into the event's root scope before the event ended. When a
// participant has several registration records the most recent one wins.
func NoShows(event model.Scope, regs []model.RegistrationRecord, events []model.ScanEvent) []model.RegistrationRecord {
	eventID := event.RootEventID()
	attended := map[string]bool{}
	for _, ev := range events {
		if ev.ScopeID != eventID || ev.Resolved != model.ResolvedCheckIn {
			continue
		}
		if event.EndedBy(ev.Timestamp) {
			continue
		}
		attended[ev.ParticipantID] = true
	}

	latest := map[string]model.RegistrationRecord{}
	for _, r := range regs {
		if r.EventID != eventID {
			continue
		}
		cur, ok := latest[r.ParticipantID]
		if !ok || newerRegistration(r, cur) {
			latest[r.ParticipantID] = r
		}
	}

	var out []model.RegistrationRecord
	for pid, r := range latest {
		if r.Status == model.RegistrationConfirmed && !attended[pid] {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

// newerRegistration orders records by UpdatedAt; on a tie cancelled wins so
// the result does not depend on arrival order.
func newerRegistration(a, b model.RegistrationRecord) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.Status == model.RegistrationCancelled && b.Status != model.RegistrationCancelled
}
