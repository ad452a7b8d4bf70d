package model

import "time"

// RegistrationStatus of a participant for an event.
type RegistrationStatus string

const (
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationCancelled RegistrationStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s RegistrationStatus) Valid() bool {
	return s == RegistrationConfirmed || s == RegistrationCancelled
}

// RegistrationRecord is the intent to attend, independent of any scan.
type RegistrationRecord struct {
	ParticipantID string             `json:"participant_id"`
	EventID       string             `json:"event_id"`
	BadgeID       string             `json:"badge_id,omitempty"`
	Status        RegistrationStatus `json:"status"`
	RegisteredAt  time.Time          `json:"registered_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

// Pattern is a coarse classification of historical attendance.
type Pattern string

const (
	PatternRegular    Pattern = "regular"
	PatternOccasional Pattern = "occasional"
	PatternLapsed     Pattern = "lapsed"
	PatternFirstTime  Pattern = "first_time"
	PatternNoData     Pattern = "no_data"
)

// SubjectKind tells whether analytics describe a participant or an event.
type SubjectKind string

const (
	SubjectParticipant SubjectKind = "participant"
	SubjectEvent       SubjectKind = "event"
)

// AttendanceAnalytics is a derived, recomputable aggregate.
type AttendanceAnalytics struct {
	SubjectKind     SubjectKind `json:"subject_kind"`
	SubjectID       string      `json:"subject_id"`
	TotalRegistered int         `json:"total_registered"`
	TotalAttended   int         `json:"total_attended"`
	TotalNoShows    int         `json:"total_no_shows"`
	AttendanceRate  float64     `json:"attendance_rate"`
	Pattern         Pattern     `json:"pattern,omitempty"`
	LastAttendedAt  *time.Time  `json:"last_attended_at,omitempty"`
	SkippedRecords  int         `json:"skipped_records"`
}

// Occupancy is the live counter view of one scope.
type Occupancy struct {
	ScopeID         string  `json:"scope_id"`
	CurrentlyInside int     `json:"currently_inside"`
	MaxCapacity     *int    `json:"max_capacity"`
	OccupancyRate   float64 `json:"occupancy_rate"`
	Available       *int    `json:"available,omitempty"`
	TotalCheckIns   int     `json:"total_check_ins"`
	TotalCheckOuts  int     `json:"total_check_outs"`
}
