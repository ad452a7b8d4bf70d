package model

import (
	"fmt"
	"time"
)

// ScopeKind distinguishes the three kinds of countable space.
type ScopeKind string

const (
	ScopeEvent   ScopeKind = "event"
	ScopeSession ScopeKind = "session"
	ScopeArea    ScopeKind = "area"
)

// Scope is any space with an occupancy: an event entrance, a session room or
// an exhibition area. Sessions and areas nest under exactly one event.
//
// Fields:
//  ID:               scopes.id.
//  Kind:             event, session or area.
//  EventID:          parent event; equal to ID for an event.
//  Name:             display name.
//  MaxCapacity:      nil means unlimited.
//  OpensAt/ClosesAt: accepting window; nil bounds are open.
//  Closed:           manual switch that stops entries regardless of window.
//  OverrideCodeHash: bcrypt hash of the supervisor override code, if any.
type Scope struct {
	ID               string     `json:"scope_id"`
	Kind             ScopeKind  `json:"kind"`
	EventID          string     `json:"event_id"`
	Name             string     `json:"name"`
	MaxCapacity      *int       `json:"max_capacity"`
	OpensAt          *time.Time `json:"opens_at,omitempty"`
	ClosesAt         *time.Time `json:"closes_at,omitempty"`
	Closed           bool       `json:"closed"`
	OverrideCodeHash string     `json:"-"`
}

// RootEventID returns the event the scope belongs to.
func (s Scope) RootEventID() string {
	if s.Kind == ScopeEvent {
		return s.ID
	}
	return s.EventID
}

// AcceptsEntryAt reports whether a check-in at t is inside the window.
func (s Scope) AcceptsEntryAt(t time.Time) bool {
	if s.Closed {
		return false
	}
	if s.OpensAt != nil && t.Before(*s.OpensAt) {
		return false
	}
	if s.ClosesAt != nil && !t.Before(*s.ClosesAt) {
		return false
	}
	return true
}

// EndedBy reports whether the scope window is over at t.
func (s Scope) EndedBy(t time.Time) bool {
	return s.ClosesAt != nil && !t.Before(*s.ClosesAt)
}

// Validate enforces the nesting rules.
func (s Scope) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidScope)
	}
	switch s.Kind {
	case ScopeEvent:
		if s.EventID != "" && s.EventID != s.ID {
			return fmt.Errorf("%w: event %s cannot have a parent", ErrInvalidScope, s.ID)
		}
	case ScopeSession, ScopeArea:
		if s.EventID == "" || s.EventID == s.ID {
			return fmt.Errorf("%w: %s %s needs a parent event", ErrInvalidScope, s.Kind, s.ID)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidScope, s.Kind)
	}
	if s.MaxCapacity != nil && *s.MaxCapacity < 0 {
		return fmt.Errorf("%w: negative capacity", ErrInvalidScope)
	}
	if s.OpensAt != nil && s.ClosesAt != nil && s.ClosesAt.Before(*s.OpensAt) {
		return fmt.Errorf("%w: closes before it opens", ErrInvalidScope)
	}
	return nil
}
