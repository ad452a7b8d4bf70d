package model

import "errors"

// Error taxonomy shared by the registry, the scan processor and the stores.
// Handlers translate these into HTTP responses with errors.Is.
var (
	// ErrBadgeNotFound is fatal to a scan: nothing is recorded.
	ErrBadgeNotFound = errors.New("badge not found")
	// ErrParticipantNotFound means a badge points at an unknown participant.
	ErrParticipantNotFound = errors.New("participant not found")
	// ErrScopeNotFound is returned for scans against an unknown scope.
	ErrScopeNotFound = errors.New("scope not found")
	// ErrCapacityExceeded accompanies a rejected check-in on a full scope.
	ErrCapacityExceeded = errors.New("scope at capacity")
	// ErrScopeClosed accompanies a rejected check-in outside the scope window.
	ErrScopeClosed = errors.New("scope closed")
	// ErrRoleConflict is returned when a badge is re-bound to a scope with a
	// different role and no override was requested.
	ErrRoleConflict = errors.New("role conflict")
	// ErrVersionConflict signals a failed compare-and-swap on CheckState.
	ErrVersionConflict = errors.New("check state version conflict")
	// ErrInvalidScan covers malformed scan requests.
	ErrInvalidScan = errors.New("invalid scan")
	// ErrInvalidRole covers unknown role tags and broken role sets.
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidScope covers scopes that break the nesting rules.
	ErrInvalidScope = errors.New("invalid scope")
)
