// Package registry maps scannable badge identifiers to participants and to
// the role a badge carries in each scope.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/event-checkin/internal/logger"
	"github.com/iliyamo/event-checkin/internal/model"
)

// Store persists participants, badges and bindings. Get methods return
// model.ErrBadgeNotFound / model.ErrParticipantNotFound when absent and
// (zero, false, nil) style lookups are not used.
type Store interface {
	GetBadge(ctx context.Context, badgeID string) (model.Badge, error)
	PutBadge(ctx context.Context, b model.Badge) error
	GetParticipant(ctx context.Context, participantID string) (model.Participant, error)
	PutParticipant(ctx context.Context, p model.Participant) error
	// GetBinding returns found=false when the badge is not bound to scopeID.
	GetBinding(ctx context.Context, badgeID, scopeID string) (model.BadgeScopeBinding, bool, error)
	PutBinding(ctx context.Context, b model.BadgeScopeBinding) error
	ListBindings(ctx context.Context, badgeID string) ([]model.BadgeScopeBinding, error)
}

// Identity is what a badge resolves to.
type Identity struct {
	Badge       model.Badge       `json:"badge"`
	Participant model.Participant `json:"participant"`
	RoleAtScope model.Role        `json:"role_at_scope,omitempty"`
}

type Registry struct {
	store Store
	log   *logger.Logger
	now   func() time.Time
}

func New(store Store, log *logger.Logger) *Registry {
	return &Registry{store: store, log: log.With("component", "BadgeRegistry"), now: func() time.Time { return time.Now().UTC() }}
}

// Resolve returns the participant behind badgeID.
func (r *Registry) Resolve(ctx context.Context, badgeID string) (Identity, error) {
	badgeID = strings.TrimSpace(badgeID)
	if badgeID == "" {
		return Identity{}, model.ErrBadgeNotFound
	}
	b, err := r.store.GetBadge(ctx, badgeID)
	if err != nil {
		return Identity{}, err
	}
	p, err := r.store.GetParticipant(ctx, b.ParticipantID)
	if err != nil {
		if errors.Is(err, model.ErrParticipantNotFound) {
			r.log.Warn("badge points at unknown participant", "badge_id", badgeID, "participant_id", b.ParticipantID)
			return Identity{}, fmt.Errorf("%w: participant %s missing", model.ErrBadgeNotFound, b.ParticipantID)
		}
		return Identity{}, err
	}
	return Identity{Badge: b, Participant: p, RoleAtScope: p.Roles.Primary()}, nil
}

// ResolveForScope is Resolve plus the role the badge carries in scopeID:
// the bound role if any, otherwise the participant's primary role.
func (r *Registry) ResolveForScope(ctx context.Context, badgeID, scopeID string) (Identity, error) {
	id, err := r.Resolve(ctx, badgeID)
	if err != nil {
		return Identity{}, err
	}
	binding, found, err := r.store.GetBinding(ctx, id.Badge.ID, scopeID)
	if err != nil {
		return Identity{}, err
	}
	if found {
		id.RoleAtScope = binding.Role
	}
	return id, nil
}

// BindBadgeToScope records the role of a badge inside a scope. Re-binding
// with the same role refreshes the binding and is not an error; a different
// role needs override.
func (r *Registry) BindBadgeToScope(ctx context.Context, badgeID, scopeID string, role model.Role, override bool) (model.BadgeScopeBinding, error) {
	if !role.Valid() {
		return model.BadgeScopeBinding{}, fmt.Errorf("%w: %q", model.ErrInvalidRole, string(role))
	}
	if _, err := r.store.GetBadge(ctx, badgeID); err != nil {
		return model.BadgeScopeBinding{}, err
	}
	now := r.now()
	existing, found, err := r.store.GetBinding(ctx, badgeID, scopeID)
	if err != nil {
		return model.BadgeScopeBinding{}, err
	}
	switch {
	case !found:
		b := model.BadgeScopeBinding{BadgeID: badgeID, ScopeID: scopeID, Role: role, BoundAt: now, UpdatedAt: now}
		if err := r.store.PutBinding(ctx, b); err != nil {
			return model.BadgeScopeBinding{}, err
		}
		r.log.Info("badge bound to scope", "badge_id", badgeID, "scope_id", scopeID, "role", role)
		return b, nil
	case existing.Role == role:
		existing.UpdatedAt = now
		if err := r.store.PutBinding(ctx, existing); err != nil {
			return model.BadgeScopeBinding{}, err
		}
		return existing, nil
	case !override:
		return existing, fmt.Errorf("%w: badge %s is %s in scope %s", model.ErrRoleConflict, badgeID, existing.Role, scopeID)
	default:
		r.log.Warn("badge role overridden", "badge_id", badgeID, "scope_id", scopeID, "from", existing.Role, "to", role)
		existing.Role = role
		existing.UpdatedAt = now
		if err := r.store.PutBinding(ctx, existing); err != nil {
			return model.BadgeScopeBinding{}, err
		}
		return existing, nil
	}
}

// RegisterParticipant creates or replaces a participant.
func (r *Registry) RegisterParticipant(ctx context.Context, p model.Participant) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("%w: missing participant id", model.ErrParticipantNotFound)
	}
	if p.Roles.IsZero() {
		return fmt.Errorf("%w: participant %s has no roles", model.ErrInvalidRole, p.ID)
	}
	return r.store.PutParticipant(ctx, p)
}

// IssueBadge binds a new badge to an existing participant.
func (r *Registry) IssueBadge(ctx context.Context, b model.Badge) error {
	if strings.TrimSpace(b.ID) == "" {
		return fmt.Errorf("%w: empty badge id", model.ErrBadgeNotFound)
	}
	if _, err := r.store.GetParticipant(ctx, b.ParticipantID); err != nil {
		return err
	}
	if b.IssuedAt.IsZero() {
		b.IssuedAt = r.now()
	}
	return r.store.PutBadge(ctx, b)
}

// Bindings lists the scope bindings of a badge.
func (r *Registry) Bindings(ctx context.Context, badgeID string) ([]model.BadgeScopeBinding, error) {
	if _, err := r.store.GetBadge(ctx, badgeID); err != nil {
		return nil, err
	}
	return r.store.ListBindings(ctx, badgeID)
}
