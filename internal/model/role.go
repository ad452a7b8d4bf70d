package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is one of the fixed participant role tags.
type Role string

const (
	RoleAttendee     Role = "attendee"
	RoleExhibitor    Role = "exhibitor"
	RoleSpeaker      Role = "speaker"
	RoleOrganizer    Role = "organizer"
	RoleVolunteer    Role = "volunteer"
	RoleTeam         Role = "team"
	RoleSpecialGuest Role = "special_guest"
)

var knownRoles = map[Role]bool{
	RoleAttendee:     true,
	RoleExhibitor:    true,
	RoleSpeaker:      true,
	RoleOrganizer:    true,
	RoleVolunteer:    true,
	RoleTeam:         true,
	RoleSpecialGuest: true,
}

// ParseRole normalises case and surrounding whitespace and rejects values
// outside the enumeration. "special guest" and "special-guest" are accepted
// as spellings of special_guest.
func ParseRole(s string) (Role, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	r := Role(norm)
	if !knownRoles[r] {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// Valid reports whether r belongs to the enumeration.
func (r Role) Valid() bool { return knownRoles[r] }

// RoleSet is an ordered, duplicate-free, non-empty set of roles with one
// designated primary role. The zero value is not valid; build one with
// NewRoleSet.
type RoleSet struct {
	roles   []Role
	primary Role
}

// NewRoleSet validates roles and primary. Duplicates are dropped keeping the
// first occurrence. An empty primary defaults to the first role.
func NewRoleSet(roles []Role, primary Role) (RoleSet, error) {
	if len(roles) == 0 {
		return RoleSet{}, fmt.Errorf("%w: role set is empty", ErrInvalidRole)
	}
	out := make([]Role, 0, len(roles))
	seen := make(map[Role]bool, len(roles))
	for _, r := range roles {
		if !r.Valid() {
			return RoleSet{}, fmt.Errorf("%w: %q", ErrInvalidRole, string(r))
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	if len(out) == 1 || primary == "" {
		primary = out[0]
	}
	if !seen[primary] {
		return RoleSet{}, fmt.Errorf("%w: primary role %q not in set", ErrInvalidRole, string(primary))
	}
	return RoleSet{roles: out, primary: primary}, nil
}

// MustRoleSet is NewRoleSet for static inputs; it panics on invalid input.
func MustRoleSet(primary Role, others ...Role) RoleSet {
	rs, err := NewRoleSet(append([]Role{primary}, others...), primary)
	if err != nil {
		panic(err)
	}
	return rs
}

// Roles returns a copy of the ordered roles.
func (s RoleSet) Roles() []Role {
	out := make([]Role, len(s.roles))
	copy(out, s.roles)
	return out
}

func (s RoleSet) Primary() Role { return s.primary }

func (s RoleSet) IsZero() bool { return len(s.roles) == 0 }

func (s RoleSet) Has(r Role) bool {
	for _, x := range s.roles {
		if x == r {
			return true
		}
	}
	return false
}

// Add appends r when it is not already present.
func (s RoleSet) Add(r Role) (RoleSet, error) {
	if s.Has(r) {
		return s, nil
	}
	return NewRoleSet(append(s.Roles(), r), s.primary)
}

// Remove drops r. Removing the last role is refused; removing the primary
// promotes the first remaining role.
func (s RoleSet) Remove(r Role) (RoleSet, error) {
	if !s.Has(r) {
		return s, nil
	}
	if len(s.roles) == 1 {
		return s, fmt.Errorf("%w: cannot remove the only role", ErrInvalidRole)
	}
	rest := make([]Role, 0, len(s.roles)-1)
	for _, x := range s.roles {
		if x != r {
			rest = append(rest, x)
		}
	}
	primary := s.primary
	if primary == r {
		primary = rest[0]
	}
	return NewRoleSet(rest, primary)
}

// SetPrimary marks r as primary; r must already be in the set.
func (s RoleSet) SetPrimary(r Role) (RoleSet, error) {
	if !s.Has(r) {
		return s, fmt.Errorf("%w: primary role %q not in set", ErrInvalidRole, string(r))
	}
	return RoleSet{roles: s.Roles(), primary: r}, nil
}

type roleSetJSON struct {
	Roles       []Role `json:"roles"`
	PrimaryRole Role   `json:"primary_role"`
}

func (s RoleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(roleSetJSON{Roles: s.Roles(), PrimaryRole: s.primary})
}

// UnmarshalJSON accepts the canonical object form, a bare array of roles,
// or a string holding either a JSON array or a comma separated list.
func (s *RoleSet) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	switch {
	case strings.HasPrefix(trimmed, "{"):
		var obj struct {
			Roles       []string `json:"roles"`
			PrimaryRole string   `json:"primary_role"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		return s.assign(obj.Roles, obj.PrimaryRole)
	case strings.HasPrefix(trimmed, "["):
		var arr []string
		if err := json.Unmarshal(b, &arr); err != nil {
			return err
		}
		return s.assign(arr, "")
	case strings.HasPrefix(trimmed, `"`):
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
		if strings.HasPrefix(raw, "[") {
			return s.UnmarshalJSON([]byte(raw))
		}
		return s.assign(strings.Split(raw, ","), "")
	}
	return fmt.Errorf("%w: unsupported role payload", ErrInvalidRole)
}

func (s *RoleSet) assign(raw []string, primary string) error {
	roles := make([]Role, 0, len(raw))
	for _, r := range raw {
		if strings.TrimSpace(r) == "" {
			continue
		}
		parsed, err := ParseRole(r)
		if err != nil {
			return err
		}
		roles = append(roles, parsed)
	}
	var p Role
	if strings.TrimSpace(primary) != "" {
		parsed, err := ParseRole(primary)
		if err != nil {
			return err
		}
		p = parsed
	}
	rs, err := NewRoleSet(roles, p)
	if err != nil {
		return err
	}
	*s = rs
	return nil
}
