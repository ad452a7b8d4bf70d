package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iliyamo/event-checkin/internal/model"
)

// RegistryRepo stores participants, badges and badge/scope bindings.
type RegistryRepo struct {
	db *sql.DB
}

// NewRegistryRepo returns a RegistryRepo bound to db.
func NewRegistryRepo(db *sql.DB) *RegistryRepo { return &RegistryRepo{db: db} }

func (r *RegistryRepo) GetBadge(ctx context.Context, badgeID string) (model.Badge, error) {
	const q = `SELECT id, participant_id, personal, issued_at FROM badges WHERE id = ?`
	var b model.Badge
	err := r.db.QueryRowContext(ctx, q, badgeID).Scan(&b.ID, &b.ParticipantID, &b.Personal, &b.IssuedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Badge{}, model.ErrBadgeNotFound
	}
	if err != nil {
		return model.Badge{}, err
	}
	return b, nil
}

func (r *RegistryRepo) PutBadge(ctx context.Context, b model.Badge) error {
	const q = `INSERT INTO badges (id, participant_id, personal, issued_at) VALUES (?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE participant_id = VALUES(participant_id), personal = VALUES(personal)`
	_, err := r.db.ExecContext(ctx, q, b.ID, b.ParticipantID, b.Personal, b.IssuedAt.UTC())
	return err
}

func (r *RegistryRepo) GetParticipant(ctx context.Context, participantID string) (model.Participant, error) {
	const q = `SELECT id, display_name, email, roles, custom_role_label FROM participants WHERE id = ?`
	var (
		p     model.Participant
		roles string
	)
	err := r.db.QueryRowContext(ctx, q, participantID).Scan(&p.ID, &p.DisplayName, &p.Email, &roles, &p.CustomRoleLabel)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Participant{}, model.ErrParticipantNotFound
	}
	if err != nil {
		return model.Participant{}, err
	}
	// roles may still hold the legacy array or comma-separated forms
	if err := json.Unmarshal([]byte(roles), &p.Roles); err != nil {
		return model.Participant{}, fmt.Errorf("participant %s roles: %w", p.ID, err)
	}
	return p, nil
}

func (r *RegistryRepo) PutParticipant(ctx context.Context, p model.Participant) error {
	roles, err := json.Marshal(p.Roles)
	if err != nil {
		return err
	}
	const q = `INSERT INTO participants (id, display_name, email, roles, custom_role_label) VALUES (?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE display_name = VALUES(display_name), email = VALUES(email),
	                                   roles = VALUES(roles), custom_role_label = VALUES(custom_role_label)`
	_, err = r.db.ExecContext(ctx, q, p.ID, p.DisplayName, p.Email, string(roles), p.CustomRoleLabel)
	return err
}

func (r *RegistryRepo) GetBinding(ctx context.Context, badgeID, scopeID string) (model.BadgeScopeBinding, bool, error) {
	const q = `SELECT badge_id, scope_id, role, bound_at, updated_at
	           FROM badge_scope_bindings WHERE badge_id = ? AND scope_id = ?`
	var b model.BadgeScopeBinding
	err := r.db.QueryRowContext(ctx, q, badgeID, scopeID).Scan(&b.BadgeID, &b.ScopeID, &b.Role, &b.BoundAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.BadgeScopeBinding{}, false, nil
	}
	if err != nil {
		return model.BadgeScopeBinding{}, false, err
	}
	return b, true, nil
}

func (r *RegistryRepo) PutBinding(ctx context.Context, b model.BadgeScopeBinding) error {
	const q = `INSERT INTO badge_scope_bindings (badge_id, scope_id, role, bound_at, updated_at) VALUES (?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE role = VALUES(role), updated_at = VALUES(updated_at)`
	_, err := r.db.ExecContext(ctx, q, b.BadgeID, b.ScopeID, string(b.Role), b.BoundAt.UTC(), b.UpdatedAt.UTC())
	return err
}

func (r *RegistryRepo) ListBindings(ctx context.Context, badgeID string) ([]model.BadgeScopeBinding, error) {
	const q = `SELECT badge_id, scope_id, role, bound_at, updated_at
	           FROM badge_scope_bindings WHERE badge_id = ? ORDER BY scope_id`
	rows, err := r.db.QueryContext(ctx, q, badgeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []model.BadgeScopeBinding{}
	for rows.Next() {
		var b model.BadgeScopeBinding
		if err := rows.Scan(&b.BadgeID, &b.ScopeID, &b.Role, &b.BoundAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
