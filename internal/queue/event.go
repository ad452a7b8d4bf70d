// Package queue defines the payloads exchanged over RabbitMQ and the
// consumer and publisher that move them.
package queue

import (
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/event-checkin/internal/model"
)

const (
	QueueRegistrations = "registration.events"
	QueueBadgeIssued   = "badge.issued"
	QueueScanCommitted = "scan.committed"
)

// RegistrationEvent is produced by the registration subsystem whenever a
// participant registers for, or cancels, an event.
type RegistrationEvent struct {
	ParticipantID string    `json:"participant_id"`
	EventID       string    `json:"event_id"`
	BadgeID       string    `json:"badge_id,omitempty"`
	Status        string    `json:"status"`
	RegisteredAt  time.Time `json:"registered_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (e RegistrationEvent) Record() (model.RegistrationRecord, error) {
	status := model.RegistrationStatus(strings.ToLower(strings.TrimSpace(e.Status)))
	if !status.Valid() {
		return model.RegistrationRecord{}, fmt.Errorf("unknown registration status %q", e.Status)
	}
	if e.ParticipantID == "" || e.EventID == "" {
		return model.RegistrationRecord{}, fmt.Errorf("registration without participant or event")
	}
	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = e.RegisteredAt
	}
	return model.RegistrationRecord{
		ParticipantID: e.ParticipantID,
		EventID:       e.EventID,
		BadgeID:       e.BadgeID,
		Status:        status,
		RegisteredAt:  e.RegisteredAt.UTC(),
		UpdatedAt:     updated.UTC(),
	}, nil
}

// BadgeIssuedEvent carries a participant and the badge printed for them.
type BadgeIssuedEvent struct {
	Participant model.Participant `json:"participant"`
	BadgeID     string            `json:"badge_id"`
	Personal    bool              `json:"personal"`
	IssuedAt    time.Time         `json:"issued_at"`
}

func (e BadgeIssuedEvent) Badge() model.Badge {
	return model.Badge{
		ID:            e.BadgeID,
		ParticipantID: e.Participant.ID,
		Personal:      e.Personal,
		IssuedAt:      e.IssuedAt.UTC(),
	}
}

// ScanCommittedEvent is published for every recorded scan so downstream
// systems can follow the ledger without reading MySQL.
type ScanCommittedEvent struct {
	ScanID        string    `json:"scan_id"`
	BadgeID       string    `json:"badge_id"`
	ParticipantID string    `json:"participant_id"`
	ScopeID       string    `json:"scope_id"`
	EventID       string    `json:"event_id"`
	Requested     string    `json:"requested_action"`
	Resolved      string    `json:"resolved_action"`
	Outcome       string    `json:"outcome"`
	Timestamp     time.Time `json:"timestamp"`
	Location      string    `json:"location,omitempty"`
	OperatorID    string    `json:"operator_id,omitempty"`
}

func NewScanCommittedEvent(ev model.ScanEvent) ScanCommittedEvent {
	return ScanCommittedEvent{
		ScanID:        ev.ID,
		BadgeID:       ev.BadgeID,
		ParticipantID: ev.ParticipantID,
		ScopeID:       ev.ScopeID,
		EventID:       ev.EventID,
		Requested:     string(ev.Requested),
		Resolved:      string(ev.Resolved),
		Outcome:       string(ev.Outcome),
		Timestamp:     ev.Timestamp.UTC(),
		Location:      ev.Location,
		OperatorID:    ev.OperatorID,
	}
}
