package model

import "time"

// Participant is the identity behind one or more badges.
//
// Fields:
//  ID:              participants.id, supplied by the registration subsystem.
//  DisplayName:     name printed on the badge.
//  Email:           contact address (never logged in clear).
//  Roles:           ordered role tags with a primary role.
//  CustomRoleLabel: optional free text shown instead of the primary role.
type Participant struct {
	ID              string  `json:"participant_id"`
	DisplayName     string  `json:"display_name"`
	Email           string  `json:"email,omitempty"`
	Roles           RoleSet `json:"roles"`
	CustomRoleLabel string  `json:"custom_role_label,omitempty"`
}

// RoleLabel is what scanners display: the custom label if any, otherwise
// the primary role.
func (p Participant) RoleLabel() string {
	if p.CustomRoleLabel != "" {
		return p.CustomRoleLabel
	}
	return string(p.Roles.Primary())
}

// Badge is a durable scannable token bound to one participant. Personal
// badges are reused across events through BadgeScopeBindings.
type Badge struct {
	ID            string    `json:"badge_id"`       // badges.id (opaque QR payload)
	ParticipantID string    `json:"participant_id"` // badges.participant_id
	Personal      bool      `json:"personal"`       // badges.personal
	IssuedAt      time.Time `json:"issued_at"`      // badges.issued_at
}

// BadgeScopeBinding records the role a badge carries inside one scope.
type BadgeScopeBinding struct {
	BadgeID   string    `json:"badge_id"`
	ScopeID   string    `json:"scope_id"`
	Role      Role      `json:"role"`
	BoundAt   time.Time `json:"bound_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
