// Package analytics derives attendance statistics from registrations and
// committed scans. Every fold is commutative, so applying records one at a
// time and rebuilding from the full history give the same answer.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/model"
)

type pairKey struct {
	participantID string
	eventID       string
}

// state is the folded history. It is replaced wholesale on rebuild.
type state struct {
	regs    map[pairKey]model.RegistrationRecord
	firstIn map[pairKey]time.Time
	events  map[string]model.Scope
	byUser  map[string]map[string]bool
	byEvent map[string]map[string]bool
	skipped int
}

func newState() *state {
	return &state{
		regs:    map[pairKey]model.RegistrationRecord{},
		firstIn: map[pairKey]time.Time{},
		events:  map[string]model.Scope{},
		byUser:  map[string]map[string]bool{},
		byEvent: map[string]map[string]bool{},
	}
}

func (s *state) index(k pairKey) {
	if s.byUser[k.participantID] == nil {
		s.byUser[k.participantID] = map[string]bool{}
	}
	s.byUser[k.participantID][k.eventID] = true
	if s.byEvent[k.eventID] == nil {
		s.byEvent[k.eventID] = map[string]bool{}
	}
	s.byEvent[k.eventID][k.participantID] = true
}

// applyRegistration keeps the newest record per pair; on equal UpdatedAt a
// cancellation wins so the result is independent of arrival order.
func (s *state) applyRegistration(r model.RegistrationRecord) bool {
	if r.ParticipantID == "" || r.EventID == "" || !r.Status.Valid() {
		s.skipped++
		return false
	}
	k := pairKey{r.ParticipantID, r.EventID}
	if cur, ok := s.regs[k]; ok {
		if cur.UpdatedAt.After(r.UpdatedAt) {
			return true
		}
		if cur.UpdatedAt.Equal(r.UpdatedAt) && cur.Status == model.RegistrationCancelled {
			return true
		}
	}
	s.regs[k] = r
	s.index(k)
	return true
}

// applyScan keeps the earliest check-in on an event's root scope.
func (s *state) applyScan(ev model.ScanEvent) bool {
	if ev.Resolved != model.ResolvedCheckIn {
		return true
	}
	if ev.ParticipantID == "" || ev.ScopeID == "" || ev.Timestamp.IsZero() {
		s.skipped++
		return false
	}
	if ev.EventID != "" && ev.ScopeID != ev.EventID {
		return true
	}
	k := pairKey{ev.ParticipantID, ev.ScopeID}
	if cur, ok := s.firstIn[k]; !ok || ev.Timestamp.Before(cur) {
		s.firstIn[k] = ev.Timestamp
	}
	return true
}

func (s *state) applyEvent(sc model.Scope) {
	if sc.Kind != model.ScopeEvent {
		return
	}
	s.events[sc.ID] = sc
}

// attendedAt reports whether the pair reached INSIDE on the event's root
// scope before the event ended, and when.
func (s *state) attendedAt(k pairKey) (time.Time, bool) {
	at, ok := s.firstIn[k]
	if !ok {
		return time.Time{}, false
	}
	if ev, known := s.events[k.eventID]; known && ev.EndedBy(at) {
		return time.Time{}, false
	}
	return at, true
}

// startOf orders events for the trailing-window pattern: the scope's
// opening time when known, otherwise the registration time.
func (s *state) startOf(k pairKey) time.Time {
	if ev, ok := s.events[k.eventID]; ok && ev.OpensAt != nil {
		return *ev.OpensAt
	}
	return s.regs[k].RegisteredAt
}

type Engine struct {
	patternWindow int
	log           *logger.Logger

	mu sync.RWMutex
	st *state
}

// NewEngine returns an empty engine. patternWindow is the number of
// trailing registered events used to classify a participant.
func NewEngine(patternWindow int, log *logger.Logger) *Engine {
	if patternWindow <= 0 {
		patternWindow = 5
	}
	return &Engine{patternWindow: patternWindow, log: log.With("component", "AttendanceAnalytics"), st: newState()}
}

// ApplyRegistration folds one registration record.
func (e *Engine) ApplyRegistration(r model.RegistrationRecord) {
	e.mu.Lock()
	ok := e.st.applyRegistration(r)
	e.mu.Unlock()
	if !ok {
		e.log.Warn("skipping malformed registration", "participant_id", r.ParticipantID, "event_id", r.EventID, "status", r.Status)
	}
}

// UpsertEvent records the window of an event scope. Other kinds are ignored.
func (e *Engine) UpsertEvent(sc model.Scope) {
	e.mu.Lock()
	e.st.applyEvent(sc)
	e.mu.Unlock()
}

// Observe folds a recorded scan.
func (e *Engine) Observe(_ context.Context, ev model.ScanEvent) {
	e.mu.Lock()
	ok := e.st.applyScan(ev)
	e.mu.Unlock()
	if !ok {
		e.log.Warn("skipping malformed scan event", "scan_id", ev.ID)
	}
}

// Rate is attended/registered, 0 when nothing was registered.
func Rate(attended, registered int) float64 {
	if registered <= 0 {
		return 0
	}
	r := float64(attended) / float64(registered)
	if r > 1 {
		return 1
	}
	return r
}

// Classify applies the pattern rules. trailingRate is the attendance rate
// over the trailing window.
func Classify(totalRegistered int, trailingRate float64) model.Pattern {
	switch {
	case totalRegistered <= 0:
		return model.PatternNoData
	case totalRegistered == 1:
		return model.PatternFirstTime
	case trailingRate >= 0.75:
		return model.PatternRegular
	case trailingRate >= 0.25:
		return model.PatternOccasional
	default:
		return model.PatternLapsed
	}
}

// ForParticipant summarises one participant across every event they
// registered for.
func (e *Engine) ForParticipant(participantID string) model.AttendanceAnalytics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.st

	out := model.AttendanceAnalytics{SubjectKind: model.SubjectParticipant, SubjectID: participantID, SkippedRecords: st.skipped}
	type row struct {
		start    time.Time
		eventID  string
		attended bool
	}
	var rows []row
	for eventID := range st.byUser[participantID] {
		k := pairKey{participantID, eventID}
		if st.regs[k].Status != model.RegistrationConfirmed {
			continue
		}
		at, attended := st.attendedAt(k)
		rows = append(rows, row{start: st.startOf(k), eventID: eventID, attended: attended})
		if attended {
			out.TotalAttended++
			if out.LastAttendedAt == nil || at.After(*out.LastAttendedAt) {
				t := at
				out.LastAttendedAt = &t
			}
		}
	}
	out.TotalRegistered = len(rows)
	out.TotalNoShows = out.TotalRegistered - out.TotalAttended
	out.AttendanceRate = Rate(out.TotalAttended, out.TotalRegistered)

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].start.Equal(rows[j].start) {
			return rows[i].start.Before(rows[j].start)
		}
		return rows[i].eventID < rows[j].eventID
	})
	if len(rows) > e.patternWindow {
		rows = rows[len(rows)-e.patternWindow:]
	}
	trailing := 0
	for _, r := range rows {
		if r.attended {
			trailing++
		}
	}
	out.Pattern = Classify(out.TotalRegistered, Rate(trailing, len(rows)))
	return out
}

// ForEvent summarises one event: registered, attended and no-shows.
func (e *Engine) ForEvent(eventID string) model.AttendanceAnalytics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	st := e.st

	out := model.AttendanceAnalytics{SubjectKind: model.SubjectEvent, SubjectID: eventID, SkippedRecords: st.skipped}
	for participantID := range st.byEvent[eventID] {
		k := pairKey{participantID, eventID}
		if st.regs[k].Status != model.RegistrationConfirmed {
			continue
		}
		out.TotalRegistered++
		if at, ok := st.attendedAt(k); ok {
			out.TotalAttended++
			if out.LastAttendedAt == nil || at.After(*out.LastAttendedAt) {
				t := at
				out.LastAttendedAt = &t
			}
		}
	}
	out.TotalNoShows = out.TotalRegistered - out.TotalAttended
	out.AttendanceRate = Rate(out.TotalAttended, out.TotalRegistered)
	return out
}

// RebuildFrom folds ds into a fresh state and swaps it in. On error or
// cancellation the current state is left untouched.
func (e *Engine) RebuildFrom(ctx context.Context, ds Dataset) error {
	st := newState()
	for _, sc := range ds.Scopes {
		st.applyEvent(sc)
	}
	for i, r := range ds.Registrations {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("rebuild interrupted: %w", err)
			}
		}
		st.applyRegistration(r)
	}
	for i, ev := range ds.Scans {
		if i%256 == 0 {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("rebuild interrupted: %w", err)
			}
		}
		st.applyScan(ev)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("rebuild interrupted: %w", err)
	}
	e.mu.Lock()
	e.st = st
	e.mu.Unlock()
	e.log.Info("analytics rebuilt",
		"events", len(st.events), "registrations", len(st.regs), "attended_pairs", len(st.firstIn), "skipped", st.skipped)
	return nil
}
