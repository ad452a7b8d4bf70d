// Package memstore keeps every store in process memory. It backs the tests
// and APP_STORE=memory deployments.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/event-checkin/internal/model"
	"github.com/iliyamo/event-checkin/internal/mood"
)

type Store struct {
	mu            sync.RWMutex
	participants  map[string]model.Participant
	badges        map[string]model.Badge
	bindings      map[string]map[string]model.BadgeScopeBinding
	scopes        map[string]model.Scope
	states        map[string]model.CheckState
	events        []model.ScanEvent
	registrations map[string]model.RegistrationRecord
	moods         []mood.Entry
}

func New() *Store {
	return &Store{
		participants:  map[string]model.Participant{},
		badges:        map[string]model.Badge{},
		bindings:      map[string]map[string]model.BadgeScopeBinding{},
		scopes:        map[string]model.Scope{},
		states:        map[string]model.CheckState{},
		registrations: map[string]model.RegistrationRecord{},
	}
}

func stateKey(badgeID, scopeID string) string { return badgeID + "\x00" + scopeID }

// registry

func (s *Store) GetBadge(_ context.Context, badgeID string) (model.Badge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.badges[badgeID]
	if !ok {
		return model.Badge{}, model.ErrBadgeNotFound
	}
	return b, nil
}

func (s *Store) PutBadge(_ context.Context, b model.Badge) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badges[b.ID] = b
	return nil
}

func (s *Store) GetParticipant(_ context.Context, participantID string) (model.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[participantID]
	if !ok {
		return model.Participant{}, model.ErrParticipantNotFound
	}
	return p, nil
}

func (s *Store) PutParticipant(_ context.Context, p model.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[p.ID] = p
	return nil
}

func (s *Store) GetBinding(_ context.Context, badgeID, scopeID string) (model.BadgeScopeBinding, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bindings[badgeID][scopeID]
	return b, ok, nil
}

func (s *Store) PutBinding(_ context.Context, b model.BadgeScopeBinding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.bindings[b.BadgeID]
	if m == nil {
		m = map[string]model.BadgeScopeBinding{}
		s.bindings[b.BadgeID] = m
	}
	m[b.ScopeID] = b
	return nil
}

func (s *Store) ListBindings(_ context.Context, badgeID string) ([]model.BadgeScopeBinding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.BadgeScopeBinding, 0, len(s.bindings[badgeID]))
	for _, b := range s.bindings[badgeID] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScopeID < out[j].ScopeID })
	return out, nil
}

// scopes

func (s *Store) GetScope(_ context.Context, scopeID string) (model.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scopes[scopeID]
	if !ok {
		return model.Scope{}, model.ErrScopeNotFound
	}
	return sc, nil
}

func (s *Store) PutScope(_ context.Context, sc model.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.scopes[sc.ID]; ok && sc.OverrideCodeHash == "" {
		sc.OverrideCodeHash = prev.OverrideCodeHash
	}
	s.scopes[sc.ID] = sc
	return nil
}

func (s *Store) ListScopes(_ context.Context) ([]model.Scope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Scope, 0, len(s.scopes))
	for _, sc := range s.scopes {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ledger

func (s *Store) Load(_ context.Context, badgeID, scopeID string) (model.CheckState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.states[stateKey(badgeID, scopeID)]; ok {
		return st, nil
	}
	return model.CheckState{BadgeID: badgeID, ScopeID: scopeID, Presence: model.Outside}, nil
}

func (s *Store) Commit(_ context.Context, expected uint64, next *model.CheckState, ev model.ScanEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if next != nil {
		key := stateKey(next.BadgeID, next.ScopeID)
		if s.states[key].Version != expected {
			return model.ErrVersionConflict
		}
		s.states[key] = *next
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *Store) Recent(_ context.Context, scopeID string, limit int) ([]model.ScanEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.ScanEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if s.events[i].ScopeID == scopeID {
			out = append(out, s.events[i])
		}
	}
	return out, nil
}

func (s *Store) ListScanEvents(_ context.Context) ([]model.ScanEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ScanEvent, len(s.events))
	copy(out, s.events)
	return out, nil
}

// registrations

// PutRegistration keeps the newest record per (participant, event); on
// equal UpdatedAt a cancellation wins.
func (s *Store) PutRegistration(_ context.Context, r model.RegistrationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := r.ParticipantID + "\x00" + r.EventID
	if cur, ok := s.registrations[key]; ok {
		if cur.UpdatedAt.After(r.UpdatedAt) {
			return nil
		}
		if cur.UpdatedAt.Equal(r.UpdatedAt) && cur.Status == model.RegistrationCancelled {
			return nil
		}
	}
	s.registrations[key] = r
	return nil
}

func (s *Store) ListRegistrations(_ context.Context) ([]model.RegistrationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.RegistrationRecord, 0, len(s.registrations))
	for _, r := range s.registrations {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EventID != out[j].EventID {
			return out[i].EventID < out[j].EventID
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	return out, nil
}

// moods

func (s *Store) InsertMood(_ context.Context, e mood.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.moods = append(s.moods, e)
	return nil
}

func (s *Store) ListMoods(_ context.Context, since time.Time) ([]mood.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []mood.Entry
	for _, e := range s.moods {
		if !e.At.Before(since) {
			out = append(out, e)
		}
	}
	return out, nil
}
