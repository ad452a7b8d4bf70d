package model

import (
	"strings"
	"time"
)

// Presence is the membership state of a badge in a scope.
type Presence string

const (
	Outside Presence = "OUTSIDE"
	Inside  Presence = "INSIDE"
)

// Action is what the operator asked for.
type Action string

const (
	ActionCheckIn  Action = "check_in"
	ActionCheckOut Action = "check_out"
)

// ParseAction accepts "check_in"/"check_out" and the common spellings
// "checkin", "check-in", "in" (and the out equivalents).
func ParseAction(s string) (Action, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "check_in", "checkin", "check-in", "in":
		return ActionCheckIn, true
	case "check_out", "checkout", "check-out", "out":
		return ActionCheckOut, true
	}
	return "", false
}

// Resolution is what the state machine committed.
type Resolution string

const (
	ResolvedCheckIn  Resolution = "check_in"
	ResolvedCheckOut Resolution = "check_out"
	ResolvedNoOp     Resolution = "no_op"
	ResolvedRejected Resolution = "rejected"
)

// Outcome explains a resolution; it is the idempotency outcome stored on
// every ScanEvent.
type Outcome string

const (
	OutcomeCommitted        Outcome = "committed"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeCapacityExceeded Outcome = "capacity_exceeded"
	OutcomeScopeClosed      Outcome = "scope_closed"
	OutcomeOverride         Outcome = "override"
)

// CheckState is the authoritative presence of one badge in one scope. It is
// created on the first scan and only ever transitioned. Version is the
// compare-and-swap token used by the ledger.
type CheckState struct {
	BadgeID                string    `json:"badge_id"`
	ScopeID                string    `json:"scope_id"`
	Presence               Presence  `json:"presence"`
	LastTransitionAt       time.Time `json:"last_transition_at"`
	LastTransitionLocation string    `json:"last_transition_location"`
	Version                uint64    `json:"version"`
}

// ScanEvent is the immutable record of one processed scan.
//
// Fields:
//  ID:              scan_events.id (uuid).
//  Requested:       operator request.
//  Resolved:        committed action.
//  Outcome:         why Resolved is what it is.
//  Timestamp:       effective time used by the state machine.
//  ClientTimestamp: device clock, zero when not sent.
//  ReceivedAt:      server receipt time.
type ScanEvent struct {
	ID              string     `json:"id"`
	BadgeID         string     `json:"badge_id"`
	ParticipantID   string     `json:"participant_id"`
	ScopeID         string     `json:"scope_id"`
	EventID         string     `json:"event_id"`
	Requested       Action     `json:"requested_action"`
	Resolved        Resolution `json:"resolved_action"`
	Outcome         Outcome    `json:"idempotency_outcome"`
	Timestamp       time.Time  `json:"timestamp"`
	ClientTimestamp time.Time  `json:"client_timestamp,omitempty"`
	ReceivedAt      time.Time  `json:"received_at"`
	Location        string     `json:"location"`
	OperatorID      string     `json:"operator_id"`
}

// Changed reports whether the event moved a badge across a boundary.
func (e ScanEvent) Changed() bool {
	return e.Resolved == ResolvedCheckIn || e.Resolved == ResolvedCheckOut
}

// ActivitySummary is the dashboard view of a ScanEvent.
type ActivitySummary struct {
	EventID       string     `json:"id"`
	BadgeID       string     `json:"badge_id"`
	ParticipantID string     `json:"participant_id"`
	Resolved      Resolution `json:"resolved_action"`
	Outcome       Outcome    `json:"outcome"`
	Timestamp     time.Time  `json:"timestamp"`
	Location      string     `json:"location"`
	OperatorID    string     `json:"operator_id"`
}

// Summary projects the event for activity feeds.
func (e ScanEvent) Summary() ActivitySummary {
	return ActivitySummary{
		EventID:       e.ID,
		BadgeID:       e.BadgeID,
		ParticipantID: e.ParticipantID,
		Resolved:      e.Resolved,
		Outcome:       e.Outcome,
		Timestamp:     e.Timestamp,
		Location:      e.Location,
		OperatorID:    e.OperatorID,
	}
}
